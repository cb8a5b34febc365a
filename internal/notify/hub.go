package notify

import (
	"context"
	"sync"

	"liveroom/internal/logger"
	"liveroom/pkg/types"
)

// Hub fans change events out to the subscribers of each room
// ARCHITECTURAL DISCOVERY: registration, removal and delivery all happen on
// the run goroutine, so the registry is never mutated mid-broadcast
type Hub struct {
	publishChannel    chan types.ChangeEvent
	registerChannel   chan *Connection
	unregisterChannel chan *Connection
	shutdownChannel   chan struct{}

	registry *Registry
	log      *logger.Logger

	running bool
	done    chan struct{}
	mu      sync.RWMutex
}

func NewHub(registry *Registry, log *logger.Logger) *Hub {
	return &Hub{
		publishChannel:    make(chan types.ChangeEvent, 1000),
		registerChannel:   make(chan *Connection, 100),
		unregisterChannel: make(chan *Connection, 100),
		registry:          registry,
		log:               logger.OrNop(log).With("component", "hub"),
	}
}

// Start launches the run loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(ctx, h.shutdownChannel, h.done)
	h.log.Info("hub started")
	return nil
}

// Stop ends the run loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info("hub stopped")
	return nil
}

// Publish queues evt for delivery to its room. Never blocks.
func (h *Hub) Publish(evt types.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.publishChannel <- evt:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// RegisterConnection queues conn for registration.
func (h *Hub) RegisterConnection(conn *Connection) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// UnregisterConnection queues conn for removal.
func (h *Hub) UnregisterConnection(conn *Connection) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.unregisterChannel <- conn:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	for {
		select {
		case evt := <-h.publishChannel:
			h.broadcast(evt)

		case conn := <-h.registerChannel:
			if err := h.registry.Register(conn); err != nil {
				h.log.Warn("connection registration failed", "error", err)
				continue
			}
			h.log.Debug("connection registered", "user", conn.UserID(), "room", conn.RoomID())

		case conn := <-h.unregisterChannel:
			h.registry.Unregister(conn)
			h.log.Debug("connection unregistered", "user", conn.UserID(), "room", conn.RoomID())

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// broadcast delivers evt to every subscriber of its room
// TECHNICAL DISCOVERY: a subscriber whose buffer is full has missed events;
// dropping it forces a reconnect, and polling covers the gap
func (h *Hub) broadcast(evt types.ChangeEvent) {
	for _, conn := range h.registry.RoomConnections(evt.Room) {
		if err := conn.Send(evt); err != nil {
			h.log.Warn("dropping subscriber", "user", conn.UserID(), "room", evt.Room, "error", err)
			h.registry.Unregister(conn)
			_ = conn.Close()
		}
	}
}
