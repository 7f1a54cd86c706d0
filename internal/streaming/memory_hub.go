package streaming

import (
	"context"
	"slices"
	"sync"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is an in-process EventHub. Subscribers that name a run are
// indexed under it so a publish only visits that run's viewers plus the
// subscribers watching every run.
//
// Publishes are serialized, so events of one run reach each subscriber in
// the order they were published. Delivery never blocks: a subscriber whose
// buffer is full misses the event.
type MemoryHub struct {
	mu     sync.Mutex
	nextID uint64
	byRun  map[string]map[uint64]*subscriber
	anyRun map[uint64]*subscriber
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		byRun:  make(map[string]map[uint64]*subscriber),
		anyRun: make(map[uint64]*subscriber),
	}
}

// Publish delivers event to the subscribers of its run and to run-agnostic
// subscribers whose type filter accepts it.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.byRun[event.RunID] {
		offer(sub, event)
	}
	for _, sub := range h.anyRun {
		offer(sub, event)
	}
	return nil
}

func offer(sub *subscriber, event StreamEvent) {
	if len(sub.filter.EventTypes) > 0 && !slices.Contains(sub.filter.EventTypes, event.EventType) {
		return
	}
	select {
	case sub.ch <- event:
	default:
	}
}

// Subscribe registers a subscriber. An empty filter.RunID receives events of
// every run. The returned cancel func is idempotent; the channel is never
// closed.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan StreamEvent, defaultChannelBuffer), filter: filter}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if filter.RunID == "" {
		h.anyRun[id] = sub
	} else {
		subs := h.byRun[filter.RunID]
		if subs == nil {
			subs = make(map[uint64]*subscriber)
			h.byRun[filter.RunID] = subs
		}
		subs[id] = sub
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(filter.RunID, id) })
	}
	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(runID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if runID == "" {
		delete(h.anyRun, id)
		return
	}
	subs := h.byRun[runID]
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.byRun, runID)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *MemoryHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.anyRun)
	for _, subs := range h.byRun {
		n += len(subs)
	}
	return n
}

// RunSubscriberCount returns how many subscriptions are bound to runID.
// Run-agnostic subscribers are not counted.
func (h *MemoryHub) RunSubscriberCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byRun[runID])
}

var _ EventHub = (*MemoryHub)(nil)
