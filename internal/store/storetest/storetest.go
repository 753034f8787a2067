// Package storetest holds behaviour every store.Store must share. Backends
// call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("books", func(t *testing.T) { testBooks(t, newStore(t)) })
	t.Run("loans", func(t *testing.T) { testLoans(t, newStore(t)) })
	t.Run("waitlist", func(t *testing.T) { testWaitlist(t, newStore(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("failed tasks", func(t *testing.T) { testFailedTasks(t, newStore(t)) })
	t.Run("members", func(t *testing.T) { testMembers(t, newStore(t)) })
}

func tx(t *testing.T, st store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), fn))
}

func book(t *testing.T, st store.Store, copies int, volume string) domain.Book {
	t.Helper()
	b := domain.Book{
		ID:              uuid.New(),
		VolumeID:        volume,
		Title:           "The Left Hand of Darkness",
		Author:          "Ursula K. Le Guin",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       base,
		UpdatedAt:       base,
	}
	tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.InsertBook(ctx, &b) })
	return b
}

func entry(bookID uuid.UUID, at time.Time) domain.WaitlistEntry {
	return domain.WaitlistEntry{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		BookID:    bookID,
		Status:    domain.WaitlistPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	id := uuid.New()

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b := domain.Book{ID: id, Title: "Dhalgren", CreatedAt: base, UpdatedAt: base}
		if err := tx.InsertBook(ctx, &b); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.GetBook(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testBooks(t *testing.T, st store.Store) {
	ctx := context.Background()
	b := book(t, st, 2, "vol-left-hand")

	got, err := st.GetBookByVolume(ctx, "vol-left-hand")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	dup := domain.Book{ID: uuid.New(), VolumeID: "vol-left-hand", Title: "copy", CreatedAt: base, UpdatedAt: base}
	err = st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.InsertBook(ctx, &dup) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockBook(ctx, b.ID)
		if err != nil {
			return err
		}
		locked.AvailableCopies--
		return tx.UpdateBook(ctx, locked)
	})
	got, err = st.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
	assert.Equal(t, 1, got.OnLoan())

	found, err := st.ListBooks(ctx, store.BookFilter{Query: "le guin"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = st.GetBook(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testLoans(t *testing.T, st store.Store) {
	ctx := context.Background()
	b := book(t, st, 3, "")
	user := uuid.New()
	loan := domain.Loan{
		ID: uuid.New(), UserID: user, BookID: b.ID, Status: domain.LoanActive,
		LoanDate: base, DueDate: base.Add(time.Hour), UpdatedAt: base,
	}
	tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.InsertLoan(ctx, &loan) })

	again := loan
	again.ID = uuid.New()
	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.InsertLoan(ctx, &again) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.CountOpenLoans(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		open, err := tx.FindOpenLoan(ctx, user, b.ID)
		require.NoError(t, err)
		assert.Equal(t, loan.ID, open.ID)
		return nil
	})

	overdue, err := st.ListLoans(ctx, store.LoanFilter{Statuses: domain.OpenLoanStatuses, DueBefore: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	none, err := st.ListLoans(ctx, store.LoanFilter{DueBefore: base})
	require.NoError(t, err)
	assert.Empty(t, none)

	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.LockLoan(ctx, loan.ID)
		if err != nil {
			return err
		}
		at := base.Add(30 * time.Minute)
		if err := l.Transition(domain.LoanReturned, at); err != nil {
			return err
		}
		l.ReturnDate = &at
		return tx.UpdateLoan(ctx, l)
	})

	// A returned loan no longer blocks a new one.
	tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.InsertLoan(ctx, &again) })

	stats, err := st.PopularBooks(ctx, 5)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Loans)
}

func testWaitlist(t *testing.T, st store.Store) {
	ctx := context.Background()
	b := book(t, st, 0, "")

	first := entry(b.ID, base)
	second := entry(b.ID, base)
	third := entry(b.ID, base.Add(-time.Minute))
	for _, e := range []*domain.WaitlistEntry{&first, &second, &third} {
		tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.InsertWaitlistEntry(ctx, e) })
	}

	dup := entry(b.ID, base)
	dup.UserID = first.UserID
	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.InsertWaitlistEntry(ctx, &dup) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	queue, err := st.ListWaitlist(ctx, store.WaitlistFilter{BookID: b.ID})
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(queue))
	for _, e := range queue {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uuid.UUID{third.ID, first.ID, second.ID}, ids)

	backlog, err := st.BooksWithBacklog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, backlog, "no copy on the shelf")

	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockBook(ctx, b.ID)
		if err != nil {
			return err
		}
		locked.TotalCopies, locked.AvailableCopies = 1, 1
		if err := tx.UpdateBook(ctx, locked); err != nil {
			return err
		}
		pending, err := tx.CountPendingEntries(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, pending)

		head, err := tx.NextPendingEntry(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, third.ID, head.ID)
		if err := head.Transition(domain.WaitlistHeld, base); err != nil {
			return err
		}
		return tx.UpdateWaitlistEntry(ctx, head)
	})

	backlog, err = st.BooksWithBacklog(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, backlog)

	expired, err := st.ExpiredHolds(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, third.ID, expired[0].ID)
	expired, err = st.ExpiredHolds(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		active, err := tx.FindActiveEntry(ctx, third.UserID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WaitlistHeld, active.Status)
		_, err = tx.FindActiveEntry(ctx, uuid.New(), b.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
}

func testEvents(t *testing.T, st store.Store) {
	ctx := context.Background()
	aggregate := uuid.New()
	mk := func(typ domain.EventType) *domain.Event {
		ev, err := domain.NewEvent(domain.AggregateLoan, aggregate, typ, domain.LoanEvent{LoanID: aggregate}, base)
		require.NoError(t, err)
		return &ev
	}
	created, renewed := mk(domain.EventLoanCreated), mk(domain.EventLoanRenewed)
	tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.AppendEvents(ctx, created) })
	tx(t, st, func(ctx context.Context, tx store.Tx) error { return tx.AppendEvents(ctx, renewed) })
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, 2, renewed.Version)
	assert.Less(t, created.ID, renewed.ID)

	history, err := st.LoadEvents(ctx, aggregate)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventLoanCreated, history[0].Type)

	pending, err := st.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NoError(t, st.MarkEventsPublished(ctx, []int64{pending[0].ID}, base))

	pending, err = st.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, renewed.ID, pending[0].ID)
}

func testNotifications(t *testing.T, st store.Store) {
	ctx := context.Background()
	user := uuid.New()
	n := domain.Notification{
		UserID: user, EventID: 42, Type: domain.NotificationSuccess,
		Title: "Book on hold", Message: "Kindred is waiting for you", CreatedAt: base,
	}
	inserted, err := st.InsertNotification(ctx, &n)
	require.NoError(t, err)
	assert.True(t, inserted)

	replay := n
	replay.ID = uuid.Nil
	inserted, err = st.InsertNotification(ctx, &replay)
	require.NoError(t, err)
	assert.False(t, inserted, "one notification per event")

	other := domain.Notification{UserID: user, EventID: 43, Type: domain.NotificationInfo, Title: "t", Message: "m", CreatedAt: base.Add(time.Minute)}
	_, err = st.InsertNotification(ctx, &other)
	require.NoError(t, err)

	unread, err := st.ListNotifications(ctx, user, true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, other.ID, unread[0].ID)

	assert.ErrorIs(t, st.MarkNotificationRead(ctx, uuid.New(), n.ID), store.ErrNotFound)
	require.NoError(t, st.MarkNotificationRead(ctx, user, n.ID))
	count, err := st.MarkAllNotificationsRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	unread, err = st.ListNotifications(ctx, user, true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func testFailedTasks(t *testing.T, st store.Store) {
	ctx := context.Background()
	old := domain.FailedTask{
		TaskID: "t-1", TaskName: "promote_book", Args: json.RawMessage(`{"book_id":"x"}`),
		Error: "lock timeout", RetryCount: 5, FailedAt: base.Add(-48 * time.Hour),
	}
	fresh := old
	fresh.TaskID, fresh.FailedAt = "t-2", base
	require.NoError(t, st.InsertFailedTask(ctx, &old))
	require.NoError(t, st.InsertFailedTask(ctx, &fresh))

	list, err := st.ListFailedTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t-2", list[0].TaskID)

	require.NoError(t, st.MarkFailedTaskRetried(ctx, fresh.ID, base.Add(time.Minute)))
	got, err := st.GetFailedTask(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.RetryCount)
	require.NotNil(t, got.LastRetryAt)

	purged, err := st.PurgeFailedTasks(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, err = st.GetFailedTask(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMembers(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := domain.Member{Email: "Le.Guin@example.org", Name: "Ursula", Role: domain.RoleLibrarian, Status: "active", CreatedAt: base}
	require.NoError(t, st.InsertMember(ctx, &m, domain.Credential{PasswordHash: "h", Salt: "s"}))

	dup := domain.Member{Email: "le.guin@EXAMPLE.org", Name: "Other", Role: domain.RoleMember, Status: "active", CreatedAt: base}
	assert.ErrorIs(t, st.InsertMember(ctx, &dup, domain.Credential{PasswordHash: "h", Salt: "s"}), store.ErrDuplicate)

	got, cred, err := st.GetMemberByEmail(ctx, "le.guin@example.org")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "h", cred.PasswordHash)

	n, err := st.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetMember(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
