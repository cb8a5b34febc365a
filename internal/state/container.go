package state

import (
	"slices"
	"sync"

	"liveroom/pkg/types"
)

// Listener is invoked after every state change with the snapshot that change produced.
type Listener func(*types.Snapshot)

// Container owns the authoritative Snapshot
// ARCHITECTURAL DISCOVERY: every mutator builds a new Snapshot under mu and swaps
// the pointer, so readers holding an older snapshot never see a partial update
type Container struct {
	mu       sync.Mutex
	snapshot *types.Snapshot

	// known holds every id that is displayed or optimistically added
	known map[string]struct{}
	// queued mirrors buffer for O(1) membership checks
	queued   map[string]struct{}
	buffer   []types.ChatMessage
	ingested bool

	listenerMu sync.RWMutex
	listeners  map[uint64]Listener
	nextID     uint64
}

// NewContainer returns a container holding the empty idle snapshot.
func NewContainer() *Container {
	return &Container{
		snapshot:  types.EmptySnapshot(),
		known:     make(map[string]struct{}),
		queued:    make(map[string]struct{}),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
// Listeners run on the mutating goroutine after the lock is released.
func (c *Container) Subscribe(l Listener) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

// Snapshot returns the current snapshot. Two calls with no mutation in between
// return the same pointer.
func (c *Container) Snapshot() *types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// SetQueue replaces the visible queue. Value-equal input is a no-op.
func (c *Container) SetQueue(records []types.InteractionRecord) {
	c.mu.Lock()
	if slices.EqualFunc(c.snapshot.Queue, records, types.InteractionRecord.Equal) {
		c.mu.Unlock()
		return
	}
	next := c.clone()
	next.Queue = append(make([]types.InteractionRecord, 0, len(records)), records...)
	c.commit(next)
}

// SetCurrentSpeaker replaces the live record; nil clears it.
func (c *Container) SetCurrentSpeaker(record *types.InteractionRecord) {
	c.mu.Lock()
	if sameRecord(c.snapshot.CurrentSpeaker, record) {
		c.mu.Unlock()
		return
	}
	next := c.clone()
	next.CurrentSpeaker = nil
	if record != nil {
		r := *record
		next.CurrentSpeaker = &r
	}
	c.commit(next)
}

// SetStatus replaces the current user's derived status.
func (c *Container) SetStatus(status types.MyStatus) {
	c.mu.Lock()
	if c.snapshot.MyStatus == status {
		c.mu.Unlock()
		return
	}
	next := c.clone()
	next.MyStatus = status
	c.commit(next)
}

// CompareAndSetStatus sets status to next only if it currently equals expected.
func (c *Container) CompareAndSetStatus(expected, status types.MyStatus) bool {
	c.mu.Lock()
	if c.snapshot.MyStatus != expected {
		c.mu.Unlock()
		return false
	}
	if expected == status {
		c.mu.Unlock()
		return true
	}
	next := c.clone()
	next.MyStatus = status
	c.commit(next)
	return true
}

// IngestMessages accepts a chronological batch observed from the store and
// returns how many messages it applied or queued.
//
// The first call after construction or Reset applies the batch directly so
// history shows without waiting for the pacer. Later calls only queue
// messages that are neither known nor already buffered.
func (c *Container) IngestMessages(incoming []types.ChatMessage) int {
	c.mu.Lock()
	if !c.ingested {
		c.ingested = true
		fresh := make([]types.ChatMessage, 0, len(incoming))
		for _, m := range incoming {
			if _, ok := c.known[m.ID]; ok {
				continue
			}
			c.known[m.ID] = struct{}{}
			fresh = append(fresh, asObserved(m))
		}
		if len(fresh) == 0 {
			c.mu.Unlock()
			return 0
		}
		// anything already listed was sent locally before history arrived,
		// so the older history goes first
		next := c.clone()
		next.Messages = append(fresh, next.Messages...)
		c.commit(next)
		return len(fresh)
	}

	added := 0
	for _, m := range incoming {
		if _, ok := c.known[m.ID]; ok {
			continue
		}
		if _, ok := c.queued[m.ID]; ok {
			continue
		}
		c.queued[m.ID] = struct{}{}
		c.buffer = append(c.buffer, asObserved(m))
		added++
	}
	c.mu.Unlock()
	return added
}

// Drain moves up to max buffered messages onto the visible list with a
// single mutation and returns how many were appended. An empty buffer is a no-op.
func (c *Container) Drain(max int) int {
	c.mu.Lock()
	if len(c.buffer) == 0 || max <= 0 {
		c.mu.Unlock()
		return 0
	}
	n := min(max, len(c.buffer))
	batch := c.buffer[:n]
	c.buffer = slices.Clone(c.buffer[n:])

	fresh := make([]types.ChatMessage, 0, n)
	for _, m := range batch {
		delete(c.queued, m.ID)
		if _, ok := c.known[m.ID]; ok {
			continue
		}
		c.known[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		c.mu.Unlock()
		return 0
	}
	next := c.clone()
	next.Messages = append(slices.Clip(next.Messages), fresh...)
	c.commit(next)
	return len(fresh)
}

// Buffered reports how many messages are waiting for the pacer.
func (c *Container) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// AddOptimisticMessage appends a locally originated message as pending and
// marks its id known. It returns false if the id was already known.
// Content-based matching against later store echoes is not attempted.
func (c *Container) AddOptimisticMessage(msg types.ChatMessage) bool {
	c.mu.Lock()
	if _, ok := c.known[msg.ID]; ok {
		c.mu.Unlock()
		return false
	}
	c.known[msg.ID] = struct{}{}
	msg.DeliveryStatus = types.DeliveryPending
	next := c.clone()
	next.Messages = append(slices.Clip(next.Messages), msg)
	c.commit(next)
	return true
}

// UpdateMessageStatus resolves a pending message to sent or failed. Unknown
// ids and already resolved messages are left untouched.
func (c *Container) UpdateMessageStatus(id string, status types.DeliveryStatus) bool {
	if status != types.DeliverySent && status != types.DeliveryFailed {
		return false
	}
	c.mu.Lock()
	idx := slices.IndexFunc(c.snapshot.Messages, func(m types.ChatMessage) bool { return m.ID == id })
	if idx < 0 || c.snapshot.Messages[idx].DeliveryStatus != types.DeliveryPending {
		c.mu.Unlock()
		return false
	}
	next := c.clone()
	next.Messages = slices.Clone(next.Messages)
	next.Messages[idx].DeliveryStatus = status
	c.commit(next)
	return true
}

// Reset returns to the initial idle snapshot and forgets known ids, the
// holding buffer and the cold-start flag.
func (c *Container) Reset() {
	c.mu.Lock()
	c.known = make(map[string]struct{})
	c.queued = make(map[string]struct{})
	c.buffer = nil
	c.ingested = false
	c.commit(types.EmptySnapshot())
}

// clone copies the snapshot header; slices are shared until a mutator replaces them.
// Caller must hold mu.
func (c *Container) clone() *types.Snapshot {
	next := *c.snapshot
	return &next
}

// commit swaps in next, releases mu and notifies listeners.
// Caller must hold mu.
func (c *Container) commit(next *types.Snapshot) {
	c.snapshot = next
	c.mu.Unlock()
	c.notify(next)
}

func (c *Container) notify(s *types.Snapshot) {
	c.listenerMu.RLock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(s)
	}
}

func sameRecord(a, b *types.InteractionRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// asObserved marks a store row as delivered; rows from the store carry no status.
func asObserved(m types.ChatMessage) types.ChatMessage {
	if m.DeliveryStatus == "" {
		m.DeliveryStatus = types.DeliverySent
	}
	return m
}
