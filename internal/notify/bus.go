package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"liveroom/internal/logger"
	"liveroom/pkg/types"
)

// Bus carries change events from the API to every hub that serves the room.
type Bus interface {
	Publish(ctx context.Context, evt types.ChangeEvent) error
	Close() error
}

// LocalBus delivers straight into one in-process hub.
type LocalBus struct {
	hub *Hub
}

func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

func (b *LocalBus) Publish(_ context.Context, evt types.ChangeEvent) error {
	return b.hub.Publish(evt)
}

func (b *LocalBus) Close() error { return nil }

// RedisOptions configures NewRedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBus publishes events on a redis channel and forwards everything
// received on it into the local hub, so every server instance notifies its
// own subscribers.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	hub     *Hub
	log     *logger.Logger
}

// NewRedisBus connects and pings redis. Call StartForwarder to begin relaying.
func NewRedisBus(ctx context.Context, opts RedisOptions, hub *Hub, log *logger.Logger) (*RedisBus, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if opts.Channel == "" {
		opts.Channel = "liveroom:changes"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		rdb:     rdb,
		channel: opts.Channel,
		hub:     hub,
		log:     logger.OrNop(log).With("component", "redis_bus"),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, evt types.ChangeEvent) error {
	raw, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and relays events into the hub
// until ctx ends.
func (b *RedisBus) StartForwarder(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				evt, err := decodeEvent(m.Payload)
				if err != nil {
					b.log.Warn("bad redis change payload", "error", err)
					continue
				}
				if err := b.hub.Publish(evt); err != nil {
					b.log.Warn("hub rejected change event", "room", evt.Room, "error", err)
				}
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func encodeEvent(evt types.ChangeEvent) ([]byte, error) {
	return json.Marshal(evt)
}

func decodeEvent(payload string) (types.ChangeEvent, error) {
	var evt types.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return types.ChangeEvent{}, err
	}
	if !types.IsValidRoomID(evt.Room) {
		return types.ChangeEvent{}, types.ErrInvalidRoomID
	}
	return evt, nil
}
