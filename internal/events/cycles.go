package events

import (
	"sync"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// CycleBroadcaster fans out finished cycle reports to all subscribers via buffered channels.
type CycleBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.CycleResult]struct{}
	buffer int
}

// NewCycleBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewCycleBroadcaster(buffer int) *CycleBroadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &CycleBroadcaster{
		subs:   make(map[chan domain.CycleResult]struct{}),
		buffer: buffer,
	}
}

// Publish sends the report to all subscribers, dropping if a reader is slow.
func (b *CycleBroadcaster) Publish(r domain.CycleResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives reports until Unsubscribe is called.
func (b *CycleBroadcaster) Subscribe() chan domain.CycleResult {
	ch := make(chan domain.CycleResult, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *CycleBroadcaster) Unsubscribe(ch chan domain.CycleResult) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports how many channels are attached.
func (b *CycleBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
