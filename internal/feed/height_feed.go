// Package feed turns raw node signals into the stream of ledger heights
// driving the executor.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
	"github.com/alanyoungcy/zkdca/internal/platform/aleo"
)

// HeightFeed merges a polling ChainObserver with an optional WebSocket block
// subscription into one deduplicated, strictly increasing channel of
// heights. Polling is the floor: the feed makes progress even when the
// WebSocket is down, and the WebSocket only makes heights arrive sooner.
type HeightFeed struct {
	observer domain.ChainObserver
	ws       *aleo.WSClient // optional
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last uint64
	seen bool
	out  chan uint64
}

// NewHeightFeed creates a HeightFeed polling at the given interval. ws may
// be nil, in which case the feed is polling-only.
func NewHeightFeed(observer domain.ChainObserver, ws *aleo.WSClient, interval time.Duration, logger *slog.Logger) *HeightFeed {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeightFeed{
		observer: observer,
		ws:       ws,
		interval: interval,
		logger:   logger.With(slog.String("component", "height_feed")),
		out:      make(chan uint64, 16),
	}
}

// Heights returns the output channel. It closes when Run returns.
func (f *HeightFeed) Heights() <-chan uint64 {
	return f.out
}

// Run drives the feed until ctx is cancelled. It closes the output channel
// on return.
func (f *HeightFeed) Run(ctx context.Context) error {
	defer close(f.out)

	if f.ws != nil {
		f.ws.OnHeight(func(height uint64) {
			f.emit(height)
		})
		if err := f.ws.Connect(); err != nil {
			f.logger.Warn("block subscription unavailable, polling only",
				slog.String("error", err.Error()))
		} else {
			defer f.ws.Close()
		}
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *HeightFeed) poll(ctx context.Context) {
	height, err := f.observer.CurrentHeight(ctx)
	if err != nil {
		f.logger.Warn("height poll failed", slog.String("error", err.Error()))
		return
	}
	f.emit(height)
}

// emit forwards a height if it is new, dropping duplicates and regressions.
// A full output buffer drops the height too; the next poll re-emits a
// greater one, so the consumer only ever misses intermediate values.
func (f *HeightFeed) emit(height uint64) {
	f.mu.Lock()
	if f.seen && height <= f.last {
		f.mu.Unlock()
		return
	}
	f.last = height
	f.seen = true
	f.mu.Unlock()

	select {
	case f.out <- height:
	default:
		f.logger.Debug("height dropped, consumer behind", slog.Uint64("height", height))
	}
}
