package events

import (
	"sort"
	"sync"

	"github.com/vadiminshakov/dcaladder/internal/domain"
)

// ProgressBroadcaster fans out deal progress to all subscribers via buffered
// channels and remembers the latest progress of every deal it has seen.
type ProgressBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.DealProgress]struct{}
	latest map[string]domain.DealProgress
	buffer int
}

// NewProgressBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewProgressBroadcaster(buffer int) *ProgressBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &ProgressBroadcaster{
		subs:   make(map[chan domain.DealProgress]struct{}),
		latest: make(map[string]domain.DealProgress),
		buffer: buffer,
	}
}

// Observe records p and sends it to all subscribers, dropping if a reader is slow.
func (b *ProgressBroadcaster) Observe(p domain.DealProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.State == domain.StateClosed.String() {
		delete(b.latest, p.DealID)
	} else {
		b.latest[p.DealID] = p
	}

	for ch := range b.subs {
		select {
		case ch <- p:
		default:
			// drop slow consumer
		}
	}
}

// Latest returns the last progress of every running deal ordered by deal id.
func (b *ProgressBroadcaster) Latest() []domain.DealProgress {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.DealProgress, 0, len(b.latest))
	for _, p := range b.latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DealID < out[j].DealID })

	return out
}

// Forget drops the remembered progress of a deal.
func (b *ProgressBroadcaster) Forget(dealID string) {
	b.mu.Lock()
	delete(b.latest, dealID)
	b.mu.Unlock()
}

// Subscribe returns a channel that receives progress until Unsubscribe is called.
func (b *ProgressBroadcaster) Subscribe() chan domain.DealProgress {
	ch := make(chan domain.DealProgress, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *ProgressBroadcaster) Unsubscribe(ch chan domain.DealProgress) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
