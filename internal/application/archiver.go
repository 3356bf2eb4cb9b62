package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/domain"
	"vn.io.arda/notification-agent/internal/store"
)

// Archiver mirrors store changes into a domain.Archive from a single worker,
// so changes reach the archive in the order the store applied them.
type Archiver struct {
	archive domain.Archive
	queue   chan store.Change
	timeout time.Duration
	dropped atomic.Int64
}

// NewArchiver creates an Archiver with room for buffer pending changes.
func NewArchiver(archive domain.Archive, buffer int) *Archiver {
	if buffer <= 0 {
		buffer = 256
	}
	return &Archiver{
		archive: archive,
		queue:   make(chan store.Change, buffer),
		timeout: 5 * time.Second,
	}
}

// Enqueue is a store listener. It never blocks: when the queue is full the
// change is dropped and counted.
func (a *Archiver) Enqueue(c store.Change) {
	select {
	case a.queue <- c:
	default:
		n := a.dropped.Add(1)
		log.Warn().Str("kind", string(c.Kind)).Int64("dropped", n).Msg("archive queue full, change dropped")
	}
}

// Dropped returns how many changes were discarded because the queue was full.
func (a *Archiver) Dropped() int64 {
	return a.dropped.Load()
}

// Run applies queued changes until ctx is cancelled, then drains what is left.
func (a *Archiver) Run(ctx context.Context) {
	log.Info().Msg("notification archiver started")
	for {
		select {
		case c := <-a.queue:
			a.applyLogged(ctx, c)
		case <-ctx.Done():
			a.drain()
			log.Info().Msg("notification archiver stopped")
			return
		}
	}
}

func (a *Archiver) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for {
		select {
		case c := <-a.queue:
			a.applyLogged(ctx, c)
		default:
			return
		}
	}
}

func (a *Archiver) applyLogged(parent context.Context, c store.Change) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()
	if err := a.apply(ctx, c); err != nil {
		log.Error().Err(err).Str("kind", string(c.Kind)).Msg("archive change failed")
	}
}

func (a *Archiver) apply(ctx context.Context, c store.Change) error {
	switch c.Kind {
	case store.ChangeUpserted:
		if err := a.archive.Upsert(ctx, c.Notifications); err != nil {
			return fmt.Errorf("archive upsert: %w", err)
		}
	case store.ChangeRead:
		ids := make([]string, 0, len(c.Notifications))
		for _, n := range c.Notifications {
			ids = append(ids, n.ID)
		}
		if err := a.archive.MarkRead(ctx, ids); err != nil {
			return fmt.Errorf("archive mark read: %w", err)
		}
	case store.ChangeCleared:
		if _, err := a.archive.Clear(ctx); err != nil {
			return fmt.Errorf("archive clear: %w", err)
		}
	default:
		return fmt.Errorf("unknown change kind: %q", c.Kind)
	}
	return nil
}
