// internal/store/memory/view.go
package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// view answers the read queries against one state snapshot.
type view struct {
	st *state
}

func (v view) GetBook(_ context.Context, id uuid.UUID) (domain.Book, error) {
	b, ok := v.st.books[id]
	if !ok {
		return domain.Book{}, store.ErrNotFound
	}
	return b, nil
}

func (v view) GetBookByVolume(_ context.Context, volumeID string) (domain.Book, error) {
	for _, b := range v.st.books {
		if volumeID != "" && b.VolumeID == volumeID {
			return b, nil
		}
	}
	return domain.Book{}, store.ErrNotFound
}

func (v view) ListBooks(_ context.Context, f store.BookFilter) ([]domain.Book, error) {
	out := make([]domain.Book, 0, len(v.st.books))
	for _, b := range v.st.books {
		if matchesBook(b, f.Query) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Book{}, nil
		}
		out = out[f.Offset:]
	}
	return limit(out, f.Limit), nil
}

func (v view) GetLoan(_ context.Context, id uuid.UUID) (domain.Loan, error) {
	l, ok := v.st.loans[id]
	if !ok {
		return domain.Loan{}, store.ErrNotFound
	}
	return l, nil
}

func (v view) ListLoans(_ context.Context, f store.LoanFilter) ([]domain.Loan, error) {
	out := make([]domain.Loan, 0)
	for _, l := range v.st.loans {
		if f.UserID != uuid.Nil && l.UserID != f.UserID {
			continue
		}
		if f.BookID != uuid.Nil && l.BookID != f.BookID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
			continue
		}
		if !f.DueBefore.IsZero() && !l.DueDate.Before(f.DueBefore) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoanDate.Equal(out[j].LoanDate) {
			return out[i].LoanDate.After(out[j].LoanDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return limit(out, f.Limit), nil
}

func (v view) GetWaitlistEntry(_ context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	w, ok := v.st.waitlist[id]
	if !ok {
		return domain.WaitlistEntry{}, store.ErrNotFound
	}
	return w, nil
}

func (v view) ListWaitlist(_ context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	out := make([]domain.WaitlistEntry, 0)
	for _, w := range v.st.waitlist {
		if f.UserID != uuid.Nil && w.UserID != f.UserID {
			continue
		}
		if f.BookID != uuid.Nil && w.BookID != f.BookID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, w.Status) {
			continue
		}
		out = append(out, w)
	}
	sortEntries(out)
	return limit(out, f.Limit), nil
}

func (v view) ExpiredHolds(_ context.Context, cutoff time.Time, n int) ([]domain.WaitlistEntry, error) {
	out := make([]domain.WaitlistEntry, 0)
	for _, w := range v.st.waitlist {
		if w.Status == domain.WaitlistHeld && w.HeldAt != nil && w.HeldAt.Before(cutoff) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HeldAt.Before(*out[j].HeldAt) })
	return limit(out, n), nil
}

func (v view) BooksWithBacklog(_ context.Context, n int) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0)
	pending := make([]domain.WaitlistEntry, 0)
	for _, w := range v.st.waitlist {
		if w.Status == domain.WaitlistPending {
			pending = append(pending, w)
		}
	}
	sortEntries(pending)
	for _, w := range pending {
		if seen[w.BookID] {
			continue
		}
		seen[w.BookID] = true
		if b, ok := v.st.books[w.BookID]; ok && b.AvailableCopies > 0 {
			out = append(out, w.BookID)
		}
	}
	return limit(out, n), nil
}

func (v view) LoadEvents(_ context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, e := range v.st.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v view) LibraryStats(_ context.Context, now time.Time) (store.LibraryStats, error) {
	s := store.LibraryStats{
		TotalMembers: len(v.st.members),
		TotalBooks:   len(v.st.books),
		TotalLoans:   len(v.st.loans),
	}
	for _, b := range v.st.books {
		s.TotalCopies += b.TotalCopies
		s.AvailableCopies += b.AvailableCopies
		s.ReservedCopies += b.ReservedCopies
	}
	for _, l := range v.st.loans {
		switch {
		case l.Status.Open():
			s.OpenLoans++
			if l.IsOverdue(now) {
				s.OverdueLoans++
			}
		case l.Status == domain.LoanReturned:
			s.ReturnedLoans++
		}
	}
	for _, w := range v.st.waitlist {
		switch w.Status {
		case domain.WaitlistPending:
			s.WaitlistPending++
		case domain.WaitlistHeld:
			s.WaitlistHeld++
		}
	}
	return s, nil
}

func (v view) PopularBooks(_ context.Context, n int) ([]store.BookLoanCount, error) {
	counts := make(map[uuid.UUID]int)
	for _, l := range v.st.loans {
		counts[l.BookID]++
	}
	out := make([]store.BookLoanCount, 0, len(v.st.books))
	for _, b := range v.st.books {
		out = append(out, store.BookLoanCount{
			BookID:          b.ID,
			Title:           b.Title,
			Author:          b.Author,
			AvailableCopies: b.AvailableCopies,
			Loans:           counts[b.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Loans != out[j].Loans {
			return out[i].Loans > out[j].Loans
		}
		return out[i].Title < out[j].Title
	})
	return limit(out, n), nil
}
