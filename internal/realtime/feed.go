package realtime

import (
	"context"
	"sync"
)

// Feed is a cancellable stream of change events keyed by table name.
// Unsubscribe happens through context cancellation; implementations close
// the channel when delivery stops (cancellation or transport loss).
type Feed interface {
	Subscribe(ctx context.Context, table string) (<-chan Event, error)
}

// MemoryFeed is an in-process Feed used in tests and local wiring. It fans
// every published event out to the table's subscribers.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

// NewMemoryFeed initialises an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a subscriber for one table. The channel is closed when
// the provided context ends.
func (f *MemoryFeed) Subscribe(ctx context.Context, table string) (<-chan Event, error) {
	ch := make(chan Event, 16)

	f.mu.Lock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[int]chan Event)
	}
	id := f.next
	f.next++
	f.subs[table][id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs[table], id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch, nil
}

// Publish fan-outs the event to the table's subscribers.
func (f *MemoryFeed) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs[evt.Table] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the live subscriber count for a table.
func (f *MemoryFeed) Subscribers(table string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[table])
}
