package promotion

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
)

func TestPromoteBookHoldsEarliestPendingEntry(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 1)
	second := seedEntry(t, st, book.ID, 2*time.Minute)
	first := seedEntry(t, st, book.ID, time.Minute)
	third := seedEntry(t, st, book.ID, 3*time.Minute)

	held, err := newPromoter(st).PromoteBook(context.Background(), book.ID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, first.ID, held[0].ID)

	assert.Equal(t, domain.WaitlistHeld, entryStatus(t, st, first.ID))
	assert.Equal(t, domain.WaitlistPending, entryStatus(t, st, second.ID))
	assert.Equal(t, domain.WaitlistPending, entryStatus(t, st, third.ID))

	got, err := st.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, 1, got.ReservedCopies)

	events, err := st.LoadEvents(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWaitlistHeld, events[0].Type)
}

func TestPromoteBookFillsEveryAvailableCopy(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 2)
	a := seedEntry(t, st, book.ID, time.Minute)
	b := seedEntry(t, st, book.ID, 2*time.Minute)
	c := seedEntry(t, st, book.ID, 3*time.Minute)

	held, err := newPromoter(st).PromoteBook(context.Background(), book.ID)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, []uuid.UUID{held[0].ID, held[1].ID})
	assert.Equal(t, domain.WaitlistPending, entryStatus(t, st, c.ID))
}

func TestPromoteBookIsIdempotent(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, time.Minute)
	seedEntry(t, st, book.ID, 2*time.Minute)
	p := newPromoter(st)

	_, err := p.PromoteBook(context.Background(), book.ID)
	require.NoError(t, err)
	before, err := st.GetBook(context.Background(), book.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		held, err := p.PromoteBook(context.Background(), book.ID)
		require.NoError(t, err)
		assert.Empty(t, held)
		held, err = p.PromoteEntry(context.Background(), entry.ID)
		require.NoError(t, err)
		assert.Empty(t, held)
	}

	after, err := st.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, before.AvailableCopies, after.AvailableCopies)
	assert.Equal(t, before.ReservedCopies, after.ReservedCopies)
	assert.Equal(t, domain.WaitlistHeld, entryStatus(t, st, entry.ID))
}

func TestPromoteEntryWithoutStockLeavesEntryPending(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 0)
	entry := seedEntry(t, st, book.ID, 0)

	held, err := newPromoter(st).PromoteEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.Equal(t, domain.WaitlistPending, entryStatus(t, st, entry.ID))
}

func TestPromoteEntryIgnoresUnknownAndFinishedEntries(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, 0)
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockWaitlistEntry(ctx, entry.ID)
		require.NoError(t, err)
		require.NoError(t, e.Transition(domain.WaitlistCancelled, fixedNow))
		return tx.UpdateWaitlistEntry(ctx, e)
	}))
	p := newPromoter(st)

	held, err := p.PromoteEntry(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, held)

	held, err = p.PromoteEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Empty(t, held)

	got, err := st.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
}

func TestPromoteBookUnknownBookIsNoop(t *testing.T) {
	held, err := newPromoter(memory.New()).PromoteBook(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestPromoteBookRetriesTransientConflicts(t *testing.T) {
	st := &flakyStore{Store: memory.New()}
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, 0)
	st.failures = 2
	st.calls = 0

	held, err := newPromoter(st).PromoteBook(context.Background(), book.ID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, entry.ID, held[0].ID)
	assert.Equal(t, 3, st.calls)
}

func TestPromoteBookSurfacesExhaustedRetries(t *testing.T) {
	st := &flakyStore{Store: memory.New()}
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, 0)
	st.failures = 10

	_, err := newPromoter(st).PromoteBook(context.Background(), book.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, domain.WaitlistPending, entryStatus(t, st, entry.ID))
}

func TestHandleJob(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, 0)
	p := newPromoter(st)

	payload, err := json.Marshal(PromoteEntryCommand(entry.ID))
	require.NoError(t, err)
	require.NoError(t, p.HandleJob(context.Background(), jobs.Job{ID: "j1", Kind: TaskPromoteEntry, Payload: string(payload), Attempts: 1}))
	assert.Equal(t, domain.WaitlistHeld, entryStatus(t, st, entry.ID))

	assert.Error(t, p.HandleJob(context.Background(), jobs.Job{Kind: "waitlist.unknown", Payload: `{}`}))
	assert.Error(t, p.HandleJob(context.Background(), jobs.Job{Kind: TaskPromoteBook, Payload: `{}`}))
	assert.Error(t, p.HandleJob(context.Background(), jobs.Job{Kind: TaskPromoteBook, Payload: `not json`}))
}

func TestLocalDispatcherPromotesInBackground(t *testing.T) {
	st := memory.New()
	book := seedBook(t, st, 1)
	entry := seedEntry(t, st, book.ID, 0)
	d := NewLocalDispatcher(newPromoter(st), NewDeadLetters(st, clock))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.PromoteEntry(ctx, entry.ID))
	cancel()
	d.Wait()

	assert.Equal(t, domain.WaitlistHeld, entryStatus(t, st, entry.ID))
}

func TestLocalDispatcherDeadLettersFailures(t *testing.T) {
	st := &flakyStore{Store: memory.New()}
	book := seedBook(t, st, 1)
	st.failures = 100
	d := NewLocalDispatcher(newPromoter(st), NewDeadLetters(st, clock))

	require.NoError(t, d.PromoteBook(context.Background(), book.ID))
	d.Wait()

	tasks, err := st.ListFailedTasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskPromoteBook, tasks[0].TaskName)

	cmd, err := DecodeCommand(tasks[0].TaskName, tasks[0].Args)
	require.NoError(t, err)
	assert.Equal(t, book.ID, cmd.BookID)
}
