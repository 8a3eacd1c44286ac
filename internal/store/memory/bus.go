package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// SignalBus is an in-process domain.SignalBus used in paper mode and tests.
// Publishes to channels with no subscriber are dropped, matching the
// fire-and-forget semantics of the Redis bus.
type SignalBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte)}
}

// Publish delivers the payload to every current subscriber of the channel.
// Subscribers that cannot keep up are skipped rather than blocked on.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[channel] {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The returned channel closes when ctx
// is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()

		b.mu.Lock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s == sub {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub)
	}()
	return sub, nil
}

// HeightCache is an in-process domain.HeightCache.
type HeightCache struct {
	mu     sync.Mutex
	height uint64
	set    bool
}

// NewHeightCache creates an empty HeightCache.
func NewHeightCache() *HeightCache {
	return &HeightCache{}
}

// LastProcessed returns the last recorded height, with false when none has
// been recorded yet.
func (hc *HeightCache) LastProcessed(_ context.Context) (uint64, bool, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.height, hc.set, nil
}

// SetLastProcessed records the last fully processed height.
func (hc *HeightCache) SetLastProcessed(_ context.Context, height uint64) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.height = height
	hc.set = true
	return nil
}

var (
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.HeightCache = (*HeightCache)(nil)
)
