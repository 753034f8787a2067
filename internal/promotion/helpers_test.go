package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
	"github.com/libranexus/lending/internal/waitlist"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func fastRetry() []RetryOption {
	return []RetryOption{WithBaseDelay(time.Millisecond), WithJitterFactor(0)}
}

func newPromoter(st store.Store) *Promoter {
	return NewPromoter(st, waitlist.NewQueue(clock), fastRetry()...)
}

func seedBook(t *testing.T, st store.Store, available int) domain.Book {
	t.Helper()
	b := domain.Book{
		ID:              uuid.New(),
		Title:           "A Wizard of Earthsea",
		Author:          "Ursula K. Le Guin",
		TotalCopies:     available,
		AvailableCopies: available,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &b)
	}))
	return b
}

// seedEntry queues a PENDING entry created offset after fixedNow.
func seedEntry(t *testing.T, st store.Store, bookID uuid.UUID, offset time.Duration) domain.WaitlistEntry {
	t.Helper()
	at := fixedNow.Add(offset)
	e := domain.WaitlistEntry{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		BookID:    bookID,
		Status:    domain.WaitlistPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertWaitlistEntry(ctx, &e)
	}))
	return e
}

func entryStatus(t *testing.T, st store.Store, id uuid.UUID) domain.WaitlistStatus {
	t.Helper()
	e, err := st.GetWaitlistEntry(context.Background(), id)
	require.NoError(t, err)
	return e.Status
}

// flakyStore fails the first n transactions with a transient conflict.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return f.Store.WithTx(ctx, fn)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []Command
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.cmds = append(d.cmds, cmd)
	return nil
}
