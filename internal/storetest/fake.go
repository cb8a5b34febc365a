// Package storetest provides an in-memory interfaces.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"liveroom/pkg/types"
)

// Fake applies the same status rules as the sqlite store. Set the *Err fields
// to make the matching call fail; Calls counts every call by method name.
type Fake struct {
	mu           sync.Mutex
	interactions []types.InteractionRecord
	messages     []types.ChatMessage
	seq          int
	now          func() time.Time

	ListInteractionsErr error
	ListMessagesErr     error
	InsertErr           error
	UpdateErr           error
	BulkErr             error
	InsertMessageErr    error

	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}

	Calls map[string]int
}

// NewFake returns an empty store whose timestamps advance one second per write
// starting at base.
func NewFake(base time.Time) *Fake {
	t := base
	return &Fake{
		now: func() time.Time {
			t = t.Add(time.Second)
			return t
		},
		Calls: make(map[string]int),
	}
}

func (f *Fake) enter(ctx context.Context, name string) error {
	f.mu.Lock()
	f.Calls[name]++
	gate := f.Gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Configure runs fn under the store lock, for changing error fields while
// other goroutines are calling the store.
func (f *Fake) Configure(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// CallCount is a locked read of Calls[name].
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

// SetGate replaces the gate under the lock.
func (f *Fake) SetGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gate = gate
}

// Seed inserts a record as-is, bypassing validation.
func (f *Fake) Seed(records ...types.InteractionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, records...)
}

// SeedMessages appends messages as-is in chronological order.
func (f *Fake) SeedMessages(messages ...types.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages...)
}

// Interactions returns a copy of every record, ended ones included.
func (f *Fake) Interactions() []types.InteractionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.interactions)
}

// Messages returns a copy of every stored message, oldest first.
func (f *Fake) Messages() []types.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages)
}

func (f *Fake) ListInteractions(ctx context.Context, statuses []types.InteractionStatus) ([]types.InteractionRecord, error) {
	if err := f.enter(ctx, "ListInteractions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListInteractionsErr != nil {
		return nil, f.ListInteractionsErr
	}
	var out []types.InteractionRecord
	for _, r := range f.interactions {
		if slices.Contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b types.InteractionRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (f *Fake) InsertInteraction(ctx context.Context, record *types.InteractionRecord) error {
	if err := f.enter(ctx, "InsertInteraction"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		return f.InsertErr
	}
	if err := record.Validate(); err != nil {
		return err
	}
	f.seq++
	record.ID = fmt.Sprintf("int-%d", f.seq)
	record.CreatedAt = f.now()
	f.interactions = append(f.interactions, *record)
	return nil
}

func (f *Fake) UpdateInteractionStatus(ctx context.Context, id string, status types.InteractionStatus) error {
	if err := f.enter(ctx, "UpdateInteractionStatus"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	idx := slices.IndexFunc(f.interactions, func(r types.InteractionRecord) bool { return r.ID == id })
	if idx < 0 {
		return types.ErrInteractionNotFound
	}
	if !types.CanTransition(f.interactions[idx].Status, status) {
		return types.ErrInvalidTransition
	}
	if status == types.InteractionLive {
		for _, r := range f.interactions {
			if r.Status == types.InteractionLive {
				return types.ErrSpeakerAlreadyLive
			}
		}
	}
	f.interactions[idx].Status = status
	return nil
}

func (f *Fake) BulkEndWaiting(ctx context.Context) error {
	if err := f.enter(ctx, "BulkEndWaiting"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BulkErr != nil {
		return f.BulkErr
	}
	for i := range f.interactions {
		if f.interactions[i].Status == types.InteractionWaiting {
			f.interactions[i].Status = types.InteractionEnded
		}
	}
	return nil
}

func (f *Fake) ListRecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	if err := f.enter(ctx, "ListRecentMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListMessagesErr != nil {
		return nil, f.ListMessagesErr
	}
	out := slices.Clone(f.messages)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) InsertMessage(ctx context.Context, message *types.ChatMessage) error {
	if err := f.enter(ctx, "InsertMessage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertMessageErr != nil {
		return f.InsertMessageErr
	}
	if err := message.Validate(); err != nil {
		return err
	}
	f.seq++
	message.ID = fmt.Sprintf("msg-%d", f.seq)
	message.CreatedAt = f.now()
	message.DeliveryStatus = ""
	f.messages = append(f.messages, *message)
	return nil
}

// Clock is a manually advanced interfaces.Clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
