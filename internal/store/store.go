// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict marks a transient failure (serialization failure, deadlock,
	// lock timeout, event version race). The whole operation may be retried.
	ErrConflict = errors.New("store: transient conflict")
	// ErrDuplicate is a unique-constraint violation. Not retryable.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the transactional persistence boundary for the lending workflow.
type Store interface {
	Reader
	Outbox
	FailedTasks
	Notifications
	Members

	// WithTx runs fn in one transaction. Any error returned by fn rolls back
	// every write made through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Reader holds the non-locking queries.
type Reader interface {
	GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error)
	GetBookByVolume(ctx context.Context, volumeID string) (domain.Book, error)
	ListBooks(ctx context.Context, f BookFilter) ([]domain.Book, error)
	GetLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]domain.Loan, error)
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error)
	// ListWaitlist returns entries in FIFO order.
	ListWaitlist(ctx context.Context, f WaitlistFilter) ([]domain.WaitlistEntry, error)
	// ExpiredHolds returns HELD entries with held_at before cutoff.
	ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.WaitlistEntry, error)
	// BooksWithBacklog returns books with available copies and at least one PENDING entry.
	BooksWithBacklog(ctx context.Context, limit int) ([]uuid.UUID, error)
	LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error)
	LibraryStats(ctx context.Context, now time.Time) (LibraryStats, error)
	PopularBooks(ctx context.Context, limit int) ([]BookLoanCount, error)
}

// Tx is the write side. Lock* methods take row or advisory locks that are
// held until the transaction ends; callers lock the book row first, then the
// user, then loan and waitlist rows.
type Tx interface {
	Reader

	LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error)
	LockUser(ctx context.Context, userID uuid.UUID) error
	InsertBook(ctx context.Context, b *domain.Book) error
	UpdateBook(ctx context.Context, b domain.Book) error

	LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error)
	FindOpenLoan(ctx context.Context, userID, bookID uuid.UUID) (domain.Loan, error)
	CountOpenLoans(ctx context.Context, userID uuid.UUID) (int, error)
	InsertLoan(ctx context.Context, l *domain.Loan) error
	UpdateLoan(ctx context.Context, l domain.Loan) error

	LockWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error)
	FindActiveEntry(ctx context.Context, userID, bookID uuid.UUID) (domain.WaitlistEntry, error)
	NextPendingEntry(ctx context.Context, bookID uuid.UUID) (domain.WaitlistEntry, error)
	CountPendingEntries(ctx context.Context, bookID uuid.UUID) (int, error)
	InsertWaitlistEntry(ctx context.Context, w *domain.WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, w domain.WaitlistEntry) error

	// AppendEvents writes events to the outbox, assigning ID and per-aggregate Version.
	AppendEvents(ctx context.Context, events ...*domain.Event) error
}

// Outbox is read by the event relay.
type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]domain.Event, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}

// FailedTasks is the dead-letter table.
type FailedTasks interface {
	InsertFailedTask(ctx context.Context, t *domain.FailedTask) error
	GetFailedTask(ctx context.Context, id uuid.UUID) (domain.FailedTask, error)
	ListFailedTasks(ctx context.Context, limit int) ([]domain.FailedTask, error)
	MarkFailedTaskRetried(ctx context.Context, id uuid.UUID, at time.Time) error
	PurgeFailedTasks(ctx context.Context, before time.Time) (int64, error)
}

// Notifications stores member-facing messages.
type Notifications interface {
	// InsertNotification returns false when a notification for the same event already exists.
	InsertNotification(ctx context.Context, n *domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Members stores accounts and credentials.
type Members interface {
	InsertMember(ctx context.Context, m *domain.Member, c domain.Credential) error
	GetMember(ctx context.Context, id uuid.UUID) (domain.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (domain.Member, domain.Credential, error)
	CountMembers(ctx context.Context) (int, error)
}

// BookFilter narrows ListBooks. Query matches title or author, case-insensitively.
type BookFilter struct {
	Query  string
	Limit  int
	Offset int
}

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	UserID   uuid.UUID
	BookID   uuid.UUID
	Statuses []domain.LoanStatus
	// DueBefore, when set, keeps only loans due strictly before it.
	DueBefore time.Time
	Limit     int
}

// WaitlistFilter narrows ListWaitlist. Zero values match everything.
type WaitlistFilter struct {
	UserID   uuid.UUID
	BookID   uuid.UUID
	Statuses []domain.WaitlistStatus
	Limit    int
}

// LibraryStats aggregates the whole library.
type LibraryStats struct {
	TotalMembers    int `json:"total_members"`
	TotalBooks      int `json:"total_books"`
	TotalCopies     int `json:"total_copies"`
	AvailableCopies int `json:"available_copies"`
	ReservedCopies  int `json:"reserved_copies"`
	TotalLoans      int `json:"total_loans"`
	OpenLoans       int `json:"open_loans"`
	ReturnedLoans   int `json:"returned_loans"`
	OverdueLoans    int `json:"overdue_loans"`
	WaitlistPending int `json:"waitlist_pending"`
	WaitlistHeld    int `json:"waitlist_held"`
}

// BookLoanCount ranks books by how often they were lent.
type BookLoanCount struct {
	BookID          uuid.UUID `json:"book_id" db:"book_id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	Loans           int       `json:"total_loans" db:"loans"`
}

// LimitOr returns limit, or def when limit is not positive.
func LimitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
