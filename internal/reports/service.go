// internal/reports/service.go
package reports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// MemberReport summarises one member's borrowing.
type MemberReport struct {
	UserID              uuid.UUID     `json:"user_id"`
	TotalBooksRead      int           `json:"total_books_read"`
	CurrentlyReading    int           `json:"currently_reading"`
	Overdue             int           `json:"overdue"`
	BooksThisMonth      int           `json:"books_this_month"`
	BooksThisYear       int           `json:"books_this_year"`
	AverageDaysPerBook  float64       `json:"average_days_per_book"`
	FavoriteAuthor      string        `json:"favorite_author,omitempty"`
	ActiveWaitlist      int           `json:"active_waitlist"`
	HeldForPickup       int           `json:"held_for_pickup"`
	UnreadNotifications int           `json:"unread_notifications"`
	History             []HistoryItem `json:"history"`
	GeneratedAt         time.Time     `json:"generated_at"`
}

// HistoryItem is one loan in a member's reading history.
type HistoryItem struct {
	LoanID     uuid.UUID         `json:"loan_id"`
	BookID     uuid.UUID         `json:"book_id"`
	Title      string            `json:"title"`
	Author     string            `json:"author"`
	Status     domain.LoanStatus `json:"status"`
	LoanDate   time.Time         `json:"loan_date"`
	DueDate    time.Time         `json:"due_date"`
	ReturnDate *time.Time        `json:"return_date,omitempty"`
	Overdue    bool              `json:"overdue"`
}

// OverdueItem is an open loan past its due date.
type OverdueItem struct {
	LoanID      uuid.UUID `json:"loan_id"`
	UserID      uuid.UUID `json:"user_id"`
	BookID      uuid.UUID `json:"book_id"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
}

// LibraryReport is the librarian-facing overview.
type LibraryReport struct {
	Stats        store.LibraryStats    `json:"stats"`
	PopularBooks []store.BookLoanCount `json:"popular_books"`
	Overdue      []OverdueItem         `json:"overdue"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// Service builds usage reports.
type Service interface {
	Member(ctx context.Context, userID uuid.UUID) (MemberReport, error)
	Library(ctx context.Context, popular int) (LibraryReport, error)
}
