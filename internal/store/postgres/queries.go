// internal/store/postgres/queries.go
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/pkg/eventstore"
)

const (
	bookColumns = `id, COALESCE(volume_id, '') AS volume_id, isbn, title, author,
		total_copies, available_copies, reserved_copies, created_at, updated_at`
	loanColumns  = `id, user_id, book_id, status, loan_date, due_date, return_date, renewed, updated_at`
	entryColumns = `id, user_id, book_id, status, seq, created_at, held_at, updated_at`
)

// queries implements store.Reader over either the pool or a transaction.
type queries struct {
	q  dbtx
	es *eventstore.EventStore
}

func (r queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, r.q, dest, query, args...))
}

func (r queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, r.q, dest, query, args...))
}

func (r queries) GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	var b domain.Book
	err := r.get(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	return b, err
}

func (r queries) GetBookByVolume(ctx context.Context, volumeID string) (domain.Book, error) {
	var b domain.Book
	err := r.get(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE volume_id = $1`, volumeID)
	return b, err
}

func (r queries) ListBooks(ctx context.Context, f store.BookFilter) ([]domain.Book, error) {
	books := []domain.Book{}
	err := r.selectAll(ctx, &books, `
		SELECT `+bookColumns+`
		FROM books
		WHERE $1 = '' OR title ILIKE '%' || $1 || '%' OR author ILIKE '%' || $1 || '%'
		ORDER BY title, id
		LIMIT $2 OFFSET $3
	`, f.Query, store.LimitOr(f.Limit, 100), f.Offset)
	return books, err
}

func (r queries) GetLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	var l domain.Loan
	err := r.get(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	return l, err
}

func (r queries) ListLoans(ctx context.Context, f store.LoanFilter) ([]domain.Loan, error) {
	w := where{}
	if f.UserID != uuid.Nil {
		w.add("user_id = ?", f.UserID)
	}
	if f.BookID != uuid.Nil {
		w.add("book_id = ?", f.BookID)
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", pq.Array(loanStatusStrings(f.Statuses)))
	}
	if !f.DueBefore.IsZero() {
		w.add("due_date < ?", f.DueBefore)
	}
	query, args := w.build(`SELECT `+loanColumns+` FROM loans`, `ORDER BY loan_date DESC, id`, store.LimitOr(f.Limit, 500))
	loans := []domain.Loan{}
	err := r.selectAll(ctx, &loans, query, args...)
	return loans, err
}

func (r queries) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := r.get(ctx, &e, `SELECT `+entryColumns+` FROM waitlist WHERE id = $1`, id)
	return e, err
}

func (r queries) ListWaitlist(ctx context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	w := where{}
	if f.UserID != uuid.Nil {
		w.add("user_id = ?", f.UserID)
	}
	if f.BookID != uuid.Nil {
		w.add("book_id = ?", f.BookID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", pq.Array(statuses))
	}
	query, args := w.build(`SELECT `+entryColumns+` FROM waitlist`, `ORDER BY created_at, seq`, store.LimitOr(f.Limit, 500))
	entries := []domain.WaitlistEntry{}
	err := r.selectAll(ctx, &entries, query, args...)
	return entries, err
}

func (r queries) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.WaitlistEntry, error) {
	entries := []domain.WaitlistEntry{}
	err := r.selectAll(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM waitlist
		WHERE status = 'HELD' AND held_at < $1
		ORDER BY held_at
		LIMIT $2
	`, cutoff, store.LimitOr(limit, 100))
	return entries, err
}

func (r queries) BooksWithBacklog(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := r.selectAll(ctx, &ids, `
		SELECT b.id
		FROM books b
		WHERE b.available_copies > 0
		AND EXISTS (SELECT 1 FROM waitlist w WHERE w.book_id = b.id AND w.status = 'PENDING')
		ORDER BY b.updated_at
		LIMIT $1
	`, store.LimitOr(limit, 100))
	return ids, err
}

func (r queries) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	events, err := r.es.LoadEvents(ctx, r.q, aggregateID, 0, 0)
	if err != nil {
		return nil, mapErr(err)
	}
	return fromStoreEvents(events), nil
}

func (r queries) LibraryStats(ctx context.Context, now time.Time) (store.LibraryStats, error) {
	var s store.LibraryStats
	err := r.q.QueryRowxContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM members),
			(SELECT COUNT(*) FROM books),
			(SELECT COALESCE(SUM(total_copies), 0) FROM books),
			(SELECT COALESCE(SUM(available_copies), 0) FROM books),
			(SELECT COALESCE(SUM(reserved_copies), 0) FROM books),
			(SELECT COUNT(*) FROM loans),
			(SELECT COUNT(*) FROM loans WHERE status IN ('ACTIVE', 'RENEWED')),
			(SELECT COUNT(*) FROM loans WHERE status = 'RETURNED'),
			(SELECT COUNT(*) FROM loans WHERE status IN ('ACTIVE', 'RENEWED') AND due_date < $1),
			(SELECT COUNT(*) FROM waitlist WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM waitlist WHERE status = 'HELD')
	`, now).Scan(
		&s.TotalMembers,
		&s.TotalBooks,
		&s.TotalCopies,
		&s.AvailableCopies,
		&s.ReservedCopies,
		&s.TotalLoans,
		&s.OpenLoans,
		&s.ReturnedLoans,
		&s.OverdueLoans,
		&s.WaitlistPending,
		&s.WaitlistHeld,
	)
	if err != nil {
		return s, mapErr(fmt.Errorf("library stats: %w", err))
	}
	return s, nil
}

func (r queries) PopularBooks(ctx context.Context, limit int) ([]store.BookLoanCount, error) {
	out := []store.BookLoanCount{}
	err := r.selectAll(ctx, &out, `
		SELECT b.id AS book_id, b.title, b.author, b.available_copies, COUNT(l.id) AS loans
		FROM books b
		LEFT JOIN loans l ON l.book_id = b.id
		GROUP BY b.id
		ORDER BY loans DESC, b.title
		LIMIT $1
	`, store.LimitOr(limit, 10))
	return out, err
}

// where accumulates AND-ed conditions written with ? placeholders and
// rebinds them to $n for lib/pq.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) build(head, order string, limit int) (string, []any) {
	var b strings.Builder
	b.WriteString(head)
	if len(w.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(w.conds, " AND "))
	}
	b.WriteString(" ")
	b.WriteString(order)
	b.WriteString(" LIMIT ?")
	args := append(w.args, limit)
	return sqlx.Rebind(sqlx.DOLLAR, b.String()), args
}

func loanStatusStrings(statuses []domain.LoanStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func fromStoreEvents(events []eventstore.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	for i, e := range events {
		out[i] = domain.Event{
			ID:            e.ID,
			AggregateID:   e.AggregateID,
			AggregateType: e.AggregateType,
			Type:          domain.EventType(e.EventType),
			Payload:       e.EventData,
			Version:       e.Version,
			CreatedAt:     e.CreatedAt,
		}
	}
	return out
}
