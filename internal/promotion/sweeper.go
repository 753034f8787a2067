// internal/promotion/sweeper.go
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// SweeperConfig tunes the periodic hold maintenance.
type SweeperConfig struct {
	HoldTTL   time.Duration
	Interval  time.Duration
	BatchSize int
	// Retention, when positive, purges dead letters older than it on each pass.
	Retention time.Duration
}

// SweepResult reports one pass.
type SweepResult struct {
	Expired      int
	Redispatched int
	Purged       int64
}

// Sweeper expires stale holds and re-dispatches promotions that were lost
// between a commit and its dispatch.
type Sweeper struct {
	store      store.Store
	queue      *waitlist.Queue
	dispatcher Dispatcher
	dead       *DeadLetters
	cfg        SweeperConfig
	now        func() time.Time
	logger     *slog.Logger
}

func NewSweeper(st store.Store, queue *waitlist.Queue, dispatcher Dispatcher, dead *DeadLetters, cfg SweeperConfig, now func() time.Time) *Sweeper {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 72 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:      st,
		queue:      queue,
		dispatcher: dispatcher,
		dead:       dead,
		cfg:        cfg,
		now:        now,
		logger:     slog.Default().With("component", "sweeper"),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	ctx = logging.WithLogger(ctx, s.logger)
	for {
		if res, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("sweep failed", "error", err)
		} else if res != (SweepResult{}) {
			s.logger.Info("sweep finished", "expired", res.Expired, "redispatched", res.Redispatched, "purged", res.Purged)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().Add(-s.cfg.HoldTTL)
	expired, err := s.store.ExpiredHolds(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list expired holds: %w", err)
	}
	for _, e := range expired {
		ok, err := s.expire(ctx, e.ID, e.BookID, cutoff)
		if err != nil {
			logging.FromContext(ctx).Warn("expire hold failed", "waitlist_id", e.ID, "error", err)
			continue
		}
		if ok {
			res.Expired++
		}
	}

	books, err := s.store.BooksWithBacklog(ctx, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list books with backlog: %w", err)
	}
	for _, bookID := range books {
		if err := s.dispatcher.Dispatch(ctx, PromoteBookCommand(bookID)); err != nil {
			logging.FromContext(ctx).Warn("redispatch promotion failed", "book_id", bookID, "error", err)
			continue
		}
		res.Redispatched++
	}

	if s.dead != nil && s.cfg.Retention > 0 {
		n, err := s.dead.Purge(ctx, s.cfg.Retention)
		if err != nil {
			return res, err
		}
		res.Purged = n
	}
	return res, nil
}

// expire cancels one hold if it is still HELD and still past the cutoff.
func (s *Sweeper) expire(ctx context.Context, entryID, bookID uuid.UUID, cutoff time.Time) (bool, error) {
	var expired bool
	err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		expired = false
		return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			book, err := tx.LockBook(ctx, bookID)
			if err != nil {
				return err
			}
			entry, err := tx.LockWaitlistEntry(ctx, entryID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if entry.Status != domain.WaitlistHeld || entry.HeldAt == nil || !entry.HeldAt.Before(cutoff) {
				return nil
			}
			if _, err := s.queue.CancelTx(ctx, tx, &entry, &book, waitlist.ReasonExpired); err != nil {
				return err
			}
			expired = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if expired {
		logging.FromContext(ctx).Info("hold expired", "waitlist_id", entryID, "book_id", bookID)
	}
	return expired, nil
}
