// internal/store/postgres/tx.go
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/pkg/eventstore"
)

type tx struct {
	queries
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	var b domain.Book
	err := t.get(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id)
	return b, err
}

// LockUser serialises a member's concurrent operations for the rest of the
// transaction, so the open-loan count cannot be raced.
func (t *tx) LockUser(ctx context.Context, userID uuid.UUID) error {
	_, err := t.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String())
	return mapErr(err)
}

func (t *tx) InsertBook(ctx context.Context, b *domain.Book) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO books (id, volume_id, isbn, title, author, total_copies, available_copies, reserved_copies, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.VolumeID, b.ISBN, b.Title, b.Author, b.TotalCopies, b.AvailableCopies, b.ReservedCopies, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("insert book: %w", err))
	}
	return nil
}

func (t *tx) UpdateBook(ctx context.Context, b domain.Book) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE books
		SET total_copies = $1, available_copies = $2, reserved_copies = $3, updated_at = $4
		WHERE id = $5
	`, b.TotalCopies, b.AvailableCopies, b.ReservedCopies, b.UpdatedAt, b.ID)
	if err != nil {
		return mapErr(fmt.Errorf("update book: %w", err))
	}
	return nil
}

func (t *tx) LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	var l domain.Loan
	err := t.get(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
	return l, err
}

func (t *tx) FindOpenLoan(ctx context.Context, userID, bookID uuid.UUID) (domain.Loan, error) {
	var l domain.Loan
	err := t.get(ctx, &l, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE user_id = $1 AND book_id = $2 AND status IN ('ACTIVE', 'RENEWED')
		FOR UPDATE
	`, userID, bookID)
	return l, err
}

func (t *tx) CountOpenLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := t.get(ctx, &n, `SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status IN ('ACTIVE', 'RENEWED')`, userID)
	return n, err
}

func (t *tx) InsertLoan(ctx context.Context, l *domain.Loan) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, book_id, status, loan_date, due_date, return_date, renewed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.UserID, l.BookID, l.Status, l.LoanDate, l.DueDate, l.ReturnDate, l.Renewed, l.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("insert loan: %w", err))
	}
	return nil
}

func (t *tx) UpdateLoan(ctx context.Context, l domain.Loan) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE loans
		SET status = $1, due_date = $2, return_date = $3, renewed = $4, updated_at = $5
		WHERE id = $6
	`, l.Status, l.DueDate, l.ReturnDate, l.Renewed, l.UpdatedAt, l.ID)
	if err != nil {
		return mapErr(fmt.Errorf("update loan: %w", err))
	}
	return nil
}

func (t *tx) LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := t.get(ctx, &e, `SELECT `+entryColumns+` FROM waitlist WHERE id = $1 FOR UPDATE`, id)
	return e, err
}

func (t *tx) FindActiveEntry(ctx context.Context, userID, bookID uuid.UUID) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := t.get(ctx, &e, `
		SELECT `+entryColumns+`
		FROM waitlist
		WHERE user_id = $1 AND book_id = $2 AND status IN ('PENDING', 'HELD')
		FOR UPDATE
	`, userID, bookID)
	return e, err
}

// NextPendingEntry expects the book row to be locked already, which keeps
// concurrent promoters from picking the same head of queue.
func (t *tx) NextPendingEntry(ctx context.Context, bookID uuid.UUID) (domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := t.get(ctx, &e, `
		SELECT `+entryColumns+`
		FROM waitlist
		WHERE book_id = $1 AND status = 'PENDING'
		ORDER BY created_at, seq
		LIMIT 1
		FOR UPDATE
	`, bookID)
	return e, err
}

func (t *tx) CountPendingEntries(ctx context.Context, bookID uuid.UUID) (int, error) {
	var n int
	err := t.get(ctx, &n, `SELECT COUNT(*) FROM waitlist WHERE book_id = $1 AND status = 'PENDING'`, bookID)
	return n, err
}

func (t *tx) InsertWaitlistEntry(ctx context.Context, w *domain.WaitlistEntry) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO waitlist (id, user_id, book_id, status, created_at, held_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, w.ID, w.UserID, w.BookID, w.Status, w.CreatedAt, w.HeldAt, w.UpdatedAt).Scan(&w.Seq)
	if err != nil {
		return mapErr(fmt.Errorf("insert waitlist entry: %w", err))
	}
	return nil
}

func (t *tx) UpdateWaitlistEntry(ctx context.Context, w domain.WaitlistEntry) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE waitlist SET status = $1, held_at = $2, updated_at = $3 WHERE id = $4
	`, w.Status, w.HeldAt, w.UpdatedAt, w.ID)
	if err != nil {
		return mapErr(fmt.Errorf("update waitlist entry: %w", err))
	}
	return nil
}

func (t *tx) AppendEvents(ctx context.Context, events ...*domain.Event) error {
	for _, e := range events {
		appended, err := t.es.Append(ctx, t.q, e.AggregateID, e.AggregateType, eventstore.AnyVersion, []eventstore.Event{{
			EventType: string(e.Type),
			EventData: e.Payload,
			CreatedAt: e.CreatedAt,
		}})
		if err != nil {
			return mapErr(fmt.Errorf("append %s: %w", e.Type, err))
		}
		e.ID = appended[0].ID
		e.Version = appended[0].Version
	}
	return nil
}
