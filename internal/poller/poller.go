package poller

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"liveroom/internal/logger"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// Target receives poll results. state.Container implements it.
type Target interface {
	SetQueue(records []types.InteractionRecord)
	SetCurrentSpeaker(record *types.InteractionRecord)
	SetStatus(status types.MyStatus)
	IngestMessages(incoming []types.ChatMessage) int
}

// Config holds the adaptive cadence.
type Config struct {
	// ActiveInterval applies while a message was seen within ActivityWindow.
	ActiveInterval time.Duration
	// IdleInterval applies to a visible but quiet room.
	IdleInterval time.Duration
	// HiddenInterval applies while the consumer is not visible.
	HiddenInterval time.Duration
	ActivityWindow time.Duration
	// PageSize bounds how many recent messages one cycle reads.
	PageSize int
	// FetchTimeout bounds a single cycle; zero means no timeout.
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ActiveInterval: 3 * time.Second,
		IdleInterval:   10 * time.Second,
		HiddenInterval: 60 * time.Second,
		ActivityWindow: 30 * time.Second,
		PageSize:       50,
		FetchTimeout:   15 * time.Second,
	}
}

var activeStatuses = []types.InteractionStatus{types.InteractionWaiting, types.InteractionLive}

// Poller is the synchronization loop: the only component that reads from the store
// ARCHITECTURAL DISCOVERY: each cycle is a full-state read, so a redundant or
// overlapping cycle only produces no-op mutations on the target
type Poller struct {
	store    interfaces.Store
	identity interfaces.Identity
	target   Target
	cfg      Config
	clock    interfaces.Clock
	log      *logger.Logger

	visible atomic.Bool
	wake    chan struct{}

	activityMu   sync.Mutex
	lastActivity time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a poller that starts out visible. Zero config fields take defaults.
func New(store interfaces.Store, identity interfaces.Identity, target Target, cfg Config, clock interfaces.Clock, log *logger.Logger) *Poller {
	def := DefaultConfig()
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = def.ActiveInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.HiddenInterval <= 0 {
		cfg.HiddenInterval = def.HiddenInterval
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = def.ActivityWindow
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	p := &Poller{
		store:    store,
		identity: identity,
		target:   target,
		cfg:      cfg,
		clock:    clock,
		log:      logger.OrNop(log).With("component", "poller"),
		wake:     make(chan struct{}, 1),
	}
	p.visible.Store(true)
	return p
}

// Start performs one fetch immediately and keeps polling until Stop.
func (p *Poller) Start(ctx context.Context) error {
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

// Stop cancels the timer and waits for the loop to exit. A cycle still in
// flight has its results discarded.
func (p *Poller) Stop() error {
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

// Refresh requests an out-of-cycle fetch, e.g. on window focus. Repeated
// requests before the loop wakes collapse into one.
func (p *Poller) Refresh() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// SetVisible records visibility. Becoming visible triggers an immediate fetch.
func (p *Poller) SetVisible(visible bool) {
	if prev := p.visible.Swap(visible); visible && !prev {
		p.Refresh()
	}
}

// Visible reports the last visibility set.
func (p *Poller) Visible() bool {
	return p.visible.Load()
}

// NoteActivity marks the room as active at t, e.g. after a local send.
func (p *Poller) NoteActivity(t time.Time) {
	p.activityMu.Lock()
	defer p.activityMu.Unlock()
	if t.After(p.lastActivity) {
		p.lastActivity = t
	}
}

// NextInterval picks the wait before the next cycle.
func (p *Poller) NextInterval() time.Duration {
	if !p.visible.Load() {
		return p.cfg.HiddenInterval
	}
	p.activityMu.Lock()
	last := p.lastActivity
	p.activityMu.Unlock()
	if !last.IsZero() && p.clock.Now().Sub(last) < p.cfg.ActivityWindow {
		return p.cfg.ActiveInterval
	}
	return p.cfg.IdleInterval
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		_ = p.Fetch(ctx)

		wait := p.NextInterval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-p.wake:
			timer.Stop()
			p.log.Debug("out-of-cycle fetch")
		}
	}
}

// Fetch runs one cycle: both reads concurrently, then applies whichever succeeded.
// Failures are logged and returned; the caller's schedule does not change.
func (p *Poller) Fetch(ctx context.Context) error {
	fetchCtx := ctx
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	var (
		records  []types.InteractionRecord
		messages []types.ChatMessage
		recErr   error
		msgErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		records, recErr = p.store.ListInteractions(fetchCtx, activeStatuses)
		return recErr
	})
	g.Go(func() error {
		messages, msgErr = p.store.ListRecentMessages(fetchCtx, p.cfg.PageSize)
		return msgErr
	})
	err := g.Wait()

	// stopped while the reads were in flight
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if recErr != nil {
		p.log.Warn("interaction poll failed", "error", recErr)
	} else {
		p.applyInteractions(records)
	}
	if msgErr != nil {
		p.log.Warn("message poll failed", "error", msgErr)
	} else {
		p.applyMessages(messages)
	}
	return err
}

func (p *Poller) applyInteractions(records []types.InteractionRecord) {
	queue := make([]types.InteractionRecord, 0, len(records))
	for _, r := range records {
		if r.Status == types.InteractionWaiting || r.Status == types.InteractionLive {
			queue = append(queue, r)
		}
	}

	var speaker *types.InteractionRecord
	if i := slices.IndexFunc(queue, func(r types.InteractionRecord) bool { return r.Status == types.InteractionLive }); i >= 0 {
		r := queue[i]
		speaker = &r
	}

	p.target.SetQueue(queue)
	p.target.SetCurrentSpeaker(speaker)

	user := p.identity.CurrentUser()
	if user == nil {
		return
	}
	p.target.SetStatus(DeriveStatus(user.ID, queue))
}

func (p *Poller) applyMessages(newestFirst []types.ChatMessage) {
	chronological := slices.Clone(newestFirst)
	slices.Reverse(chronological)

	var newest time.Time
	for _, m := range chronological {
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}
	if !newest.IsZero() {
		p.NoteActivity(newest)
	}
	p.target.IngestMessages(chronological)
}

// DeriveStatus computes the user's status from a polled queue. A user with
// no record falls back to idle, which is how being ended or withdrawn
// elsewhere is detected.
func DeriveStatus(userID string, queue []types.InteractionRecord) types.MyStatus {
	waiting := false
	for _, r := range queue {
		if r.ParticipantID != userID {
			continue
		}
		switch r.Status {
		case types.InteractionLive:
			return types.StatusLive
		case types.InteractionWaiting:
			waiting = true
		}
	}
	if waiting {
		return types.StatusWaiting
	}
	return types.StatusIdle
}
