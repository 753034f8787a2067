// internal/store/memory/tx.go
package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// tx mutates a private copy of the state. The owning Store holds its mutex for
// the whole transaction, so the Lock* methods only need to read.
type tx struct {
	view
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	return t.GetBook(ctx, id)
}

func (t *tx) LockUser(context.Context, uuid.UUID) error { return nil }

func (t *tx) InsertBook(_ context.Context, b *domain.Book) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if _, ok := t.st.books[b.ID]; ok {
		return fmt.Errorf("insert book %s: %w", b.ID, store.ErrDuplicate)
	}
	if b.VolumeID != "" {
		for _, other := range t.st.books {
			if other.VolumeID == b.VolumeID {
				return fmt.Errorf("insert book volume %s: %w", b.VolumeID, store.ErrDuplicate)
			}
		}
	}
	t.st.books[b.ID] = *b
	return nil
}

func (t *tx) UpdateBook(_ context.Context, b domain.Book) error {
	if _, ok := t.st.books[b.ID]; !ok {
		return store.ErrNotFound
	}
	if b.AvailableCopies < 0 || b.ReservedCopies < 0 {
		return fmt.Errorf("update book %s: negative copy count", b.ID)
	}
	t.st.books[b.ID] = b
	return nil
}

func (t *tx) LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	return t.GetLoan(ctx, id)
}

func (t *tx) FindOpenLoan(_ context.Context, userID, bookID uuid.UUID) (domain.Loan, error) {
	for _, l := range t.st.loans {
		if l.UserID == userID && l.BookID == bookID && l.Status.Open() {
			return l, nil
		}
	}
	return domain.Loan{}, store.ErrNotFound
}

func (t *tx) CountOpenLoans(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.st.loans {
		if l.UserID == userID && l.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertLoan(ctx context.Context, l *domain.Loan) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if _, err := t.FindOpenLoan(ctx, l.UserID, l.BookID); err == nil {
		return fmt.Errorf("insert loan: %w", store.ErrDuplicate)
	}
	t.st.loans[l.ID] = *l
	return nil
}

func (t *tx) UpdateLoan(_ context.Context, l domain.Loan) error {
	if _, ok := t.st.loans[l.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.loans[l.ID] = l
	return nil
}

func (t *tx) LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	return t.GetWaitlistEntry(ctx, id)
}

func (t *tx) FindActiveEntry(_ context.Context, userID, bookID uuid.UUID) (domain.WaitlistEntry, error) {
	for _, w := range t.st.waitlist {
		if w.UserID == userID && w.BookID == bookID && w.Status.Active() {
			return w, nil
		}
	}
	return domain.WaitlistEntry{}, store.ErrNotFound
}

func (t *tx) NextPendingEntry(ctx context.Context, bookID uuid.UUID) (domain.WaitlistEntry, error) {
	entries, _ := t.ListWaitlist(ctx, store.WaitlistFilter{
		BookID:   bookID,
		Statuses: []domain.WaitlistStatus{domain.WaitlistPending},
		Limit:    1,
	})
	if len(entries) == 0 {
		return domain.WaitlistEntry{}, store.ErrNotFound
	}
	return entries[0], nil
}

func (t *tx) CountPendingEntries(_ context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	for _, w := range t.st.waitlist {
		if w.BookID == bookID && w.Status == domain.WaitlistPending {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertWaitlistEntry(ctx context.Context, w *domain.WaitlistEntry) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if _, err := t.FindActiveEntry(ctx, w.UserID, w.BookID); err == nil {
		return fmt.Errorf("insert waitlist entry: %w", store.ErrDuplicate)
	}
	t.st.waitlistSeq++
	w.Seq = t.st.waitlistSeq
	t.st.waitlist[w.ID] = *w
	return nil
}

func (t *tx) UpdateWaitlistEntry(_ context.Context, w domain.WaitlistEntry) error {
	if _, ok := t.st.waitlist[w.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.waitlist[w.ID] = w
	return nil
}

func (t *tx) AppendEvents(_ context.Context, events ...*domain.Event) error {
	for _, e := range events {
		version := 0
		for _, prior := range t.st.events {
			if prior.AggregateID == e.AggregateID && prior.Version > version {
				version = prior.Version
			}
		}
		t.st.eventSeq++
		e.ID = t.st.eventSeq
		e.Version = version + 1
		t.st.events = append(t.st.events, *e)
	}
	return nil
}
