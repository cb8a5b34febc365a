package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"liveroom/internal/logger"
	"liveroom/internal/pacer"
	"liveroom/internal/poller"
	"liveroom/internal/state"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// Config groups the tunables of every engine component.
type Config struct {
	Sync    poller.Config
	Display pacer.Config
	// SendDebounce is the minimum gap between accepted sends.
	SendDebounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		Sync:         poller.DefaultConfig(),
		Display:      pacer.DefaultConfig(),
		SendDebounce: 500 * time.Millisecond,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(clock interfaces.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine is one room session: state container, pacer, poller and the user actions
// ARCHITECTURAL DISCOVERY: constructed per session and passed around explicitly,
// so several rooms or tests can run side by side in one process
type Engine struct {
	cfg      Config
	store    interfaces.Store
	identity interfaces.Identity
	clock    interfaces.Clock
	log      *logger.Logger

	container *state.Container
	pacer     *pacer.Pacer
	poller    *poller.Poller
	sends     *rate.Limiter

	mu      sync.Mutex
	running bool
	stopped bool
	life    context.Context
	endLife context.CancelFunc
	syncs   sync.WaitGroup

	// raised is the record this session last inserted, kept until it is
	// ended so the user can withdraw before a poll lists it
	raisedMu sync.Mutex
	raised   *types.InteractionRecord
}

// New wires an engine around store and identity. Nothing runs until Start.
func New(store interfaces.Store, identity interfaces.Identity, opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		store:    store,
		identity: identity,
		clock:    interfaces.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log).With("component", "engine")
	if e.cfg.SendDebounce <= 0 {
		e.cfg.SendDebounce = DefaultConfig().SendDebounce
	}

	e.container = state.NewContainer()
	e.pacer = pacer.New(e.container, e.cfg.Display, e.log)
	e.poller = poller.New(store, identity, e.container, e.cfg.Sync, e.clock, e.log)
	e.sends = rate.NewLimiter(rate.Every(e.cfg.SendDebounce), 1)
	e.life, e.endLife = context.WithCancel(context.Background())
	return e
}

// Start launches the frame loop and the poll loop; the first poll runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if err := e.pacer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pacer: %w", err)
	}
	if err := e.poller.Start(ctx); err != nil {
		_ = e.pacer.Stop()
		return fmt.Errorf("failed to start poller: %w", err)
	}
	if e.stopped {
		e.life, e.endLife = context.WithCancel(context.Background())
		e.stopped = false
	}
	e.running = true
	e.log.Info("engine started")
	return nil
}

// Stop tears the session down: both loops stop, in-flight poll results are
// discarded and the snapshot returns to idle/empty.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	e.running = false
	e.stopped = true
	e.endLife()
	e.syncs.Wait()

	if err := e.poller.Stop(); err != nil {
		e.log.Warn("poller stop failed", "error", err)
	}
	if err := e.pacer.Stop(); err != nil {
		e.log.Warn("pacer stop failed", "error", err)
	}
	e.container.Reset()
	e.setRaised(nil)
	e.log.Info("engine stopped")
	return nil
}

// Subscribe registers a listener invoked after every snapshot change.
func (e *Engine) Subscribe(l state.Listener) func() {
	return e.container.Subscribe(l)
}

// Snapshot returns the current immutable snapshot.
func (e *Engine) Snapshot() *types.Snapshot {
	return e.container.Snapshot()
}

// SetVisible forwards page visibility to the poll cadence.
func (e *Engine) SetVisible(visible bool) {
	e.poller.SetVisible(visible)
}

// Refresh asks for an out-of-cycle poll, e.g. on window focus or a change-feed event.
func (e *Engine) Refresh() {
	e.poller.Refresh()
}

// Sync runs one poll cycle on the caller's goroutine. It works on an engine
// that was never started; after Stop it returns ErrNotRunning, and a cycle
// still in flight when Stop runs is discarded.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrNotRunning
	}
	life := e.life
	e.syncs.Add(1)
	e.mu.Unlock()
	defer e.syncs.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	detach := context.AfterFunc(life, cancel)
	defer detach()
	return e.poller.Fetch(ctx)
}

func (e *Engine) setRaised(r *types.InteractionRecord) {
	e.raisedMu.Lock()
	e.raised = r
	e.raisedMu.Unlock()
}

func (e *Engine) raisedRecord() (types.InteractionRecord, bool) {
	e.raisedMu.Lock()
	defer e.raisedMu.Unlock()
	if e.raised == nil {
		return types.InteractionRecord{}, false
	}
	return *e.raised, true
}
