package waitlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPromoter struct {
	mu      sync.Mutex
	entries []uuid.UUID
	books   []uuid.UUID
	err     error
}

func (p *recordingPromoter) PromoteEntry(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, id)
	return p.err
}

func (p *recordingPromoter) PromoteBook(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books = append(p.books, id)
	return p.err
}

type staticResolver map[string]domain.Book

func (r staticResolver) ResolveVolume(_ context.Context, volumeID string) (domain.Book, error) {
	b, ok := r[volumeID]
	if !ok {
		return domain.Book{}, domain.NotFound(domain.CodeBookNotFound, "volume not found")
	}
	return b, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setup(t *testing.T) (*memory.Store, *Queue, *recordingPromoter, Service, domain.Book) {
	t.Helper()
	st := memory.New()
	c := &clock{t: fixedNow}
	queue := NewQueue(c.now)
	promoter := &recordingPromoter{}
	book := domain.Book{
		ID:        uuid.New(),
		VolumeID:  "vol-kindred",
		Title:     "Kindred",
		Author:    "Octavia E. Butler",
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &book)
	}))
	svc := NewService(st, queue, promoter, staticResolver{book.VolumeID: book})
	return st, queue, promoter, svc, book
}

func TestEnqueueAssignsFIFOPositions(t *testing.T) {
	ctx := context.Background()
	_, _, promoter, svc, book := setup(t)

	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		e, err := svc.Enqueue(ctx, u, book.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WaitlistPending, e.Status)
		ids[i] = e.ID
	}
	assert.Equal(t, ids, promoter.entries)

	for i, u := range users {
		got, err := svc.Get(ctx, u, ids[i])
		require.NoError(t, err)
		assert.Equal(t, i+1, got.Position)
	}

	_, err := svc.Cancel(ctx, users[0], ids[0])
	require.NoError(t, err)
	assert.Empty(t, promoter.books, "cancelling a PENDING entry frees no copy")

	got, err := svc.Get(ctx, users[2], ids[2])
	require.NoError(t, err)
	assert.Equal(t, 2, got.Position)

	cancelled, err := svc.Get(ctx, users[0], ids[0])
	require.NoError(t, err)
	assert.Zero(t, cancelled.Position)
}

func TestEnqueueRejections(t *testing.T) {
	ctx := context.Background()
	st, _, _, svc, book := setup(t)
	user := uuid.New()

	_, err := svc.Enqueue(ctx, user, uuid.New())
	assert.True(t, domain.IsCode(err, domain.CodeBookNotFound))

	_, err = svc.Enqueue(ctx, user, book.ID)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, user, book.ID)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyInWaitlist))

	borrower := uuid.New()
	loan := domain.Loan{
		ID: uuid.New(), UserID: borrower, BookID: book.ID, Status: domain.LoanActive,
		LoanDate: fixedNow, DueDate: fixedNow.Add(time.Hour), UpdatedAt: fixedNow,
	}
	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLoan(ctx, &loan)
	}))
	_, err = svc.Enqueue(ctx, borrower, book.ID)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyBorrowed))
}

func TestEnqueueSurvivesDispatchFailure(t *testing.T) {
	_, _, promoter, svc, book := setup(t)
	promoter.err = errors.New("redis down")

	e, err := svc.Enqueue(context.Background(), uuid.New(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistPending, e.Status)
}

func TestEnqueueByVolume(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc, book := setup(t)

	e, err := svc.EnqueueByVolume(ctx, uuid.New(), "vol-kindred")
	require.NoError(t, err)
	assert.Equal(t, book.ID, e.BookID)

	_, err = svc.EnqueueByVolume(ctx, uuid.New(), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.EnqueueByVolume(ctx, uuid.New(), "vol-missing")
	assert.True(t, domain.IsCode(err, domain.CodeBookNotFound))
}

func TestCancelHeldEntryDispatchesPromotion(t *testing.T) {
	ctx := context.Background()
	st, queue, promoter, svc, book := setup(t)
	user := uuid.New()
	e, err := svc.Enqueue(ctx, user, book.ID)
	require.NoError(t, err)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.LockBook(ctx, book.ID)
		if err != nil {
			return err
		}
		b.TotalCopies++
		b.AvailableCopies++
		if err := tx.UpdateBook(ctx, b); err != nil {
			return err
		}
		entry, err := tx.LockWaitlistEntry(ctx, e.ID)
		if err != nil {
			return err
		}
		return queue.HoldTx(ctx, tx, &entry, &b)
	}))

	_, err = svc.Cancel(ctx, uuid.New(), e.ID)
	assert.True(t, domain.IsCode(err, domain.CodeWaitlistNotFound))

	cancelled, err := svc.Cancel(ctx, user, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistCancelled, cancelled.Status)
	assert.Equal(t, []uuid.UUID{book.ID}, promoter.books)

	got, err := st.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 0, got.ReservedCopies)

	events, err := st.LoadEvents(ctx, e.ID)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventWaitlistAdded, domain.EventWaitlistHeld, domain.EventWaitlistCancelled}, types)
}

func TestListMine(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc, book := setup(t)
	user := uuid.New()
	e, err := svc.Enqueue(ctx, user, book.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, user, e.ID)
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, user, book.ID)
	require.NoError(t, err)

	all, err := svc.ListMine(ctx, user, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := svc.ListMine(ctx, user, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].Position)
}
