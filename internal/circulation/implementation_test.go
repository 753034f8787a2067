package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
	"github.com/libranexus/lending/internal/waitlist"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// syncPromoter runs promotion inline so tests observe its effect on return.
type syncPromoter struct{ p *promotion.Promoter }

func (s syncPromoter) PromoteBook(ctx context.Context, bookID uuid.UUID) error {
	_, err := s.p.PromoteBook(ctx, bookID)
	return err
}

func (s syncPromoter) PromoteEntry(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.p.PromoteEntry(ctx, entryID)
	return err
}

type fixture struct {
	st       *memory.Store
	clock    *fakeClock
	loans    Service
	waitlist waitlist.Service
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	clock := &fakeClock{now: fixedNow}
	st := memory.New()
	queue := waitlist.NewQueue(clock.Now)
	promoter := syncPromoter{p: promotion.NewPromoter(st, queue, promotion.WithBaseDelay(time.Millisecond))}
	return &fixture{
		st:       st,
		clock:    clock,
		loans:    NewService(st, queue, promoter, policy, clock.Now),
		waitlist: waitlist.NewService(st, queue, promoter, nil),
	}
}

func (f *fixture) seedBook(t *testing.T, copies int) domain.Book {
	t.Helper()
	b := domain.Book{
		ID:              uuid.New(),
		Title:           "Parable of the Sower",
		Author:          "Octavia E. Butler",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
	require.NoError(t, f.st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &b)
	}))
	return b
}

func (f *fixture) book(t *testing.T, id uuid.UUID) domain.Book {
	t.Helper()
	b, err := f.st.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) domain.WaitlistEntry {
	t.Helper()
	e, err := f.st.GetWaitlistEntry(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (f *fixture) borrow(t *testing.T, userID, bookID uuid.UUID) domain.Loan {
	t.Helper()
	res, err := f.loans.CreateLoan(context.Background(), userID, bookID)
	require.NoError(t, err)
	require.Equal(t, OutcomeLoanCreated, res.Outcome)
	require.NotNil(t, res.Loan)
	return *res.Loan
}

func (f *fixture) queue(t *testing.T, userID, bookID uuid.UUID) domain.WaitlistEntry {
	t.Helper()
	res, err := f.loans.CreateLoan(context.Background(), userID, bookID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAddedToWaitlist, res.Outcome)
	require.NotNil(t, res.Waitlist)
	return *res.Waitlist
}

func TestCreateLoanTakesCopyOffTheShelf(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 2)
	user := uuid.New()

	loan := f.borrow(t, user, book.ID)
	assert.Equal(t, domain.LoanActive, loan.Status)
	assert.Equal(t, fixedNow.Add(14*24*time.Hour), loan.DueDate)

	got := f.book(t, book.ID)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 1, got.OnLoan())

	events, err := f.loans.LoanHistory(context.Background(), user, loan.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventLoanCreated, events[0].Type)
}

func TestCreateLoanRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown book", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		_, err := f.loans.CreateLoan(ctx, uuid.New(), uuid.New())
		assert.True(t, domain.IsCode(err, domain.CodeBookNotFound))
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("already borrowed", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 2)
		user := uuid.New()
		f.borrow(t, user, book.ID)

		_, err := f.loans.CreateLoan(ctx, user, book.ID)
		assert.True(t, domain.IsCode(err, domain.CodeAlreadyBorrowed))
		assert.Equal(t, 1, f.book(t, book.ID).AvailableCopies)
	})

	t.Run("already in waitlist", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		f.borrow(t, uuid.New(), book.ID)
		user := uuid.New()
		f.queue(t, user, book.ID)

		_, err := f.loans.CreateLoan(ctx, user, book.ID)
		assert.True(t, domain.IsCode(err, domain.CodeAlreadyInWaitlist))
		_, err = f.waitlist.Enqueue(ctx, user, book.ID)
		assert.True(t, domain.IsCode(err, domain.CodeAlreadyInWaitlist))
	})

	t.Run("max loans exceeded", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		user := uuid.New()
		for range 5 {
			f.borrow(t, user, f.seedBook(t, 1).ID)
		}
		sixth := f.seedBook(t, 1)

		_, err := f.loans.CreateLoan(ctx, user, sixth.ID)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeMaxLoansExceeded))
		assert.Equal(t, domain.KindConflict, domain.KindOf(err))
		assert.Equal(t, 1, f.book(t, sixth.ID).AvailableCopies)

		open, err := f.loans.ListLoans(ctx, user, domain.OpenLoanStatuses)
		require.NoError(t, err)
		assert.Len(t, open, 5)
	})
}

func TestReturnPromotesHeadOfWaitlist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	holder := uuid.New()
	loan := f.borrow(t, holder, book.ID)

	first := f.queue(t, uuid.New(), book.ID)
	f.clock.Advance(time.Minute)
	second := f.queue(t, uuid.New(), book.ID)
	assert.Equal(t, domain.WaitlistPending, first.Status)
	assert.Equal(t, 0, f.book(t, book.ID).AvailableCopies)

	returned, err := f.loans.ReturnLoan(ctx, holder, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)

	assert.Equal(t, domain.WaitlistHeld, f.entry(t, first.ID).Status)
	assert.Equal(t, domain.WaitlistPending, f.entry(t, second.ID).Status)
	got := f.book(t, book.ID)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, 1, got.ReservedCopies)

	_, err = f.loans.ReturnLoan(ctx, holder, loan.ID)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidStatus))
}

func TestConfirmHoldConsumesReservedCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	holder := uuid.New()
	loan := f.borrow(t, holder, book.ID)
	waiter := uuid.New()
	entry := f.queue(t, waiter, book.ID)
	_, err := f.loans.ReturnLoan(ctx, holder, loan.ID)
	require.NoError(t, err)

	_, err = f.loans.ConfirmHold(ctx, holder, entry.ID)
	assert.True(t, domain.IsCode(err, domain.CodeWaitlistNotFound))

	got, err := f.loans.ConfirmHold(ctx, waiter, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, waiter, got.UserID)
	assert.Equal(t, domain.LoanActive, got.Status)
	assert.Equal(t, domain.WaitlistConfirmed, f.entry(t, entry.ID).Status)

	b := f.book(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 0, b.ReservedCopies)
	assert.Equal(t, 1, b.OnLoan())

	_, err = f.loans.ConfirmHold(ctx, waiter, entry.ID)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidStatus))
}

func TestCreateLoanUsesOwnHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	holder := uuid.New()
	loan := f.borrow(t, holder, book.ID)
	waiter := uuid.New()
	entry := f.queue(t, waiter, book.ID)
	_, err := f.loans.ReturnLoan(ctx, holder, loan.ID)
	require.NoError(t, err)

	res, err := f.loans.CreateLoan(ctx, waiter, book.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoanCreated, res.Outcome)
	assert.Equal(t, domain.WaitlistConfirmed, f.entry(t, entry.ID).Status)
	assert.Equal(t, 0, f.book(t, book.ID).ReservedCopies)

	// Nobody else can take the copy while it is held.
	other := f.queue(t, uuid.New(), book.ID)
	_, err = f.loans.ReturnLoan(ctx, waiter, res.Loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistHeld, f.entry(t, other.ID).Status)
	res, err = f.loans.CreateLoan(ctx, uuid.New(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAddedToWaitlist, res.Outcome)
}

func TestCreateLoanClosesOwnPendingEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	user := uuid.New()

	// A PENDING entry next to a free copy only exists while a promotion is in
	// flight; build it directly.
	entry := domain.WaitlistEntry{
		ID: uuid.New(), UserID: user, BookID: book.ID, Status: domain.WaitlistPending,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	require.NoError(t, f.st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertWaitlistEntry(ctx, &entry)
	}))

	f.borrow(t, user, book.ID)
	assert.Equal(t, domain.WaitlistCancelled, f.entry(t, entry.ID).Status)
	assert.Equal(t, 0, f.book(t, book.ID).AvailableCopies)
}

func TestCancelHeldEntryReleasesCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	holder := uuid.New()
	loan := f.borrow(t, holder, book.ID)
	waiter := uuid.New()
	entry := f.queue(t, waiter, book.ID)
	_, err := f.loans.ReturnLoan(ctx, holder, loan.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WaitlistHeld, f.entry(t, entry.ID).Status)

	cancelled, err := f.waitlist.Cancel(ctx, waiter, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistCancelled, cancelled.Status)

	b := f.book(t, book.ID)
	assert.Equal(t, 1, b.AvailableCopies)
	assert.Equal(t, 0, b.ReservedCopies)

	_, err = f.waitlist.Cancel(ctx, waiter, entry.ID)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidStatus))
}

func TestCancelHeldEntryPassesCopyOn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 1)
	holder := uuid.New()
	loan := f.borrow(t, holder, book.ID)
	first := f.queue(t, uuid.New(), book.ID)
	f.clock.Advance(time.Second)
	second := f.queue(t, uuid.New(), book.ID)
	_, err := f.loans.ReturnLoan(ctx, holder, loan.ID)
	require.NoError(t, err)

	_, err = f.waitlist.Cancel(ctx, first.UserID, first.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WaitlistHeld, f.entry(t, second.ID).Status)
	b := f.book(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 1, b.ReservedCopies)
}

func TestRenewLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("extends once", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		user := uuid.New()
		loan := f.borrow(t, user, book.ID)

		renewed, err := f.loans.RenewLoan(ctx, user, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanRenewed, renewed.Status)
		assert.True(t, renewed.Renewed)
		assert.Equal(t, loan.DueDate.Add(14*24*time.Hour), renewed.DueDate)

		_, err = f.loans.RenewLoan(ctx, user, loan.ID)
		assert.True(t, domain.IsCode(err, domain.CodeAlreadyRenewed))
	})

	t.Run("refused while others wait", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		user := uuid.New()
		loan := f.borrow(t, user, book.ID)
		f.queue(t, uuid.New(), book.ID)

		_, err := f.loans.RenewLoan(ctx, user, loan.ID)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeWaitlistExists))

		got, err := f.loans.GetLoan(ctx, user, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanActive, got.Status)
		assert.Equal(t, loan.DueDate, got.DueDate)
	})

	t.Run("overdue", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		user := uuid.New()
		loan := f.borrow(t, user, book.ID)
		f.clock.Advance(15 * 24 * time.Hour)

		_, err := f.loans.RenewLoan(ctx, user, loan.ID)
		assert.True(t, domain.IsCode(err, domain.CodeLoanOverdue))

		overdue, err := f.loans.ListOverdue(ctx, user)
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, loan.ID, overdue[0].ID)
	})

	t.Run("returned", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		user := uuid.New()
		loan := f.borrow(t, user, book.ID)
		_, err := f.loans.ReturnLoan(ctx, user, loan.ID)
		require.NoError(t, err)

		_, err = f.loans.RenewLoan(ctx, user, loan.ID)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidStatus))
	})

	t.Run("someone else's loan", func(t *testing.T) {
		f := newFixture(t, DefaultPolicy())
		book := f.seedBook(t, 1)
		loan := f.borrow(t, uuid.New(), book.ID)

		_, err := f.loans.RenewLoan(ctx, uuid.New(), loan.ID)
		assert.True(t, domain.IsCode(err, domain.CodeLoanNotFound))
	})
}

func TestConcurrentCheckoutNeverOverlends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultPolicy())
	book := f.seedBook(t, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lent    int
		waiting int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.loans.CreateLoan(ctx, uuid.New(), book.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Outcome == OutcomeLoanCreated {
				lent++
			} else {
				waiting++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, lent)
	assert.Equal(t, 17, waiting)
	b := f.book(t, book.ID)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, 3, b.OnLoan())
}
