// internal/reports/implementation.go
package reports

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

const (
	historyLimit  = 500
	overdueLimit  = 200
	unreadLimit   = 1000
	defaultTopN   = 10
	maxPopularTop = 100
)

// Store is the read side the reports need.
type Store interface {
	store.Reader
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error)
}

type service struct {
	store  Store
	now    func() time.Time
	tracer trace.Tracer
}

// NewService creates a new reports service instance.
func NewService(st Store, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{store: st, now: now, tracer: otel.Tracer("libranexus/reports")}
}

func (s *service) Member(ctx context.Context, userID uuid.UUID) (MemberReport, error) {
	ctx, span := s.tracer.Start(ctx, "reports.member",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	now := s.now().UTC()
	var (
		loans   []domain.Loan
		entries []domain.WaitlistEntry
		unread  []domain.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		loans, err = s.store.ListLoans(gctx, store.LoanFilter{UserID: userID, Limit: historyLimit})
		if err != nil {
			return fmt.Errorf("list loans: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		entries, err = s.store.ListWaitlist(gctx, store.WaitlistFilter{UserID: userID, Statuses: domain.ActiveWaitlistStatuses})
		if err != nil {
			return fmt.Errorf("list waitlist: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unread, err = s.store.ListNotifications(gctx, userID, true, unreadLimit)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return MemberReport{}, err
	}

	books, err := s.books(ctx, loans)
	if err != nil {
		return MemberReport{}, err
	}

	report := MemberReport{
		UserID:              userID,
		UnreadNotifications: len(unread),
		History:             make([]HistoryItem, 0, len(loans)),
		GeneratedAt:         now,
	}
	for _, e := range entries {
		report.ActiveWaitlist++
		if e.Status == domain.WaitlistHeld {
			report.HeldForPickup++
		}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	authors := make(map[string]int)
	var totalDays float64

	for _, l := range loans {
		b := books[l.BookID]
		item := HistoryItem{
			LoanID:     l.ID,
			BookID:     l.BookID,
			Title:      b.Title,
			Author:     b.Author,
			Status:     l.Status,
			LoanDate:   l.LoanDate,
			DueDate:    l.DueDate,
			ReturnDate: l.ReturnDate,
			Overdue:    l.IsOverdue(now),
		}
		report.History = append(report.History, item)

		if l.Status.Open() {
			report.CurrentlyReading++
			if item.Overdue {
				report.Overdue++
			}
			continue
		}
		report.TotalBooksRead++
		if b.Author != "" {
			authors[b.Author]++
		}
		if l.ReturnDate != nil {
			totalDays += math.Floor(l.ReturnDate.Sub(l.LoanDate).Hours() / 24)
			if !l.ReturnDate.Before(monthStart) {
				report.BooksThisMonth++
			}
			if !l.ReturnDate.Before(yearStart) {
				report.BooksThisYear++
			}
		}
	}
	if report.TotalBooksRead > 0 {
		report.AverageDaysPerBook = math.Round(totalDays/float64(report.TotalBooksRead)*10) / 10
	}
	report.FavoriteAuthor = favorite(authors)
	sort.SliceStable(report.History, func(i, j int) bool {
		return report.History[i].LoanDate.After(report.History[j].LoanDate)
	})
	return report, nil
}

func (s *service) Library(ctx context.Context, popular int) (LibraryReport, error) {
	ctx, span := s.tracer.Start(ctx, "reports.library")
	defer span.End()

	now := s.now().UTC()
	popular = min(store.LimitOr(popular, defaultTopN), maxPopularTop)

	var (
		stats   store.LibraryStats
		top     []store.BookLoanCount
		overdue []domain.Loan
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.store.LibraryStats(gctx, now)
		if err != nil {
			return fmt.Errorf("library stats: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		top, err = s.store.PopularBooks(gctx, popular)
		if err != nil {
			return fmt.Errorf("popular books: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		overdue, err = s.store.ListLoans(gctx, store.LoanFilter{
			Statuses:  domain.OpenLoanStatuses,
			DueBefore: now,
			Limit:     overdueLimit,
		})
		if err != nil {
			return fmt.Errorf("list overdue loans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return LibraryReport{}, err
	}

	books, err := s.books(ctx, overdue)
	if err != nil {
		return LibraryReport{}, err
	}
	items := make([]OverdueItem, 0, len(overdue))
	for _, l := range overdue {
		items = append(items, OverdueItem{
			LoanID:      l.ID,
			UserID:      l.UserID,
			BookID:      l.BookID,
			Title:       books[l.BookID].Title,
			DueDate:     l.DueDate,
			DaysOverdue: int(now.Sub(l.DueDate).Hours() / 24),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].DueDate.Before(items[j].DueDate) })
	if top == nil {
		top = []store.BookLoanCount{}
	}
	return LibraryReport{Stats: stats, PopularBooks: top, Overdue: items, GeneratedAt: now}, nil
}

// books loads each distinct book referenced by loans. Deleted books are skipped.
func (s *service) books(ctx context.Context, loans []domain.Loan) (map[uuid.UUID]domain.Book, error) {
	out := make(map[uuid.UUID]domain.Book)
	for _, l := range loans {
		if _, seen := out[l.BookID]; seen {
			continue
		}
		b, err := s.store.GetBook(ctx, l.BookID)
		if errors.Is(err, store.ErrNotFound) {
			out[l.BookID] = domain.Book{ID: l.BookID}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get book %s: %w", l.BookID, err)
		}
		out[l.BookID] = b
	}
	return out, nil
}

// favorite returns the most frequent key; ties go to the alphabetically first.
func favorite(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
