package pacer

import (
	"context"
	"sync"
	"time"

	"liveroom/internal/logger"
)

// Drainer moves up to max buffered items onto the visible state and reports
// how many it appended. state.Container implements it.
type Drainer interface {
	Drain(max int) int
}

// Config controls how fast buffered messages are revealed.
type Config struct {
	// ChunkSize is the most messages revealed per frame.
	ChunkSize int
	// FrameInterval is the time between frames.
	FrameInterval time.Duration
}

// DefaultConfig reveals three messages per ~60Hz frame.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     3,
		FrameInterval: 16 * time.Millisecond,
	}
}

// Pacer is the display-rate limiter
// ARCHITECTURAL DISCOVERY: the frame loop lives only between Start and Stop so
// no ticker outlives the engine that owns it
type Pacer struct {
	drainer Drainer
	cfg     Config
	log     *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a pacer. Zero config fields fall back to DefaultConfig values.
func New(drainer Drainer, cfg Config, log *logger.Logger) *Pacer {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	return &Pacer{
		drainer: drainer,
		cfg:     cfg,
		log:     logger.OrNop(log).With("component", "pacer"),
	}
}

// Start runs frames until Stop is called or ctx is cancelled.
func (p *Pacer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Stop cancels the frame loop and waits for it to exit.
func (p *Pacer) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Step runs a single frame synchronously and returns how many messages it revealed.
func (p *Pacer) Step() int {
	return p.drainer.Drain(p.cfg.ChunkSize)
}

func (p *Pacer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.Step(); n > 0 {
				p.log.Debug("revealed buffered messages", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
