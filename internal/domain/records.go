// internal/domain/records.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType mirrors the severity shown to members.
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationWarning NotificationType = "WARNING"
)

// Notification is a member-facing message derived from a domain event.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	EventID   int64            `json:"event_id" db:"event_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	IsRead    bool             `json:"is_read" db:"is_read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// FailedTask is a dead-lettered asynchronous task kept for manual replay.
type FailedTask struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TaskID      string          `json:"task_id" db:"task_id"`
	TaskName    string          `json:"task_name" db:"task_name"`
	Args        json.RawMessage `json:"args" db:"args"`
	Error       string          `json:"error" db:"error_message"`
	RetryCount  int             `json:"retry_count" db:"retry_count"`
	FailedAt    time.Time       `json:"failed_at" db:"failed_at"`
	LastRetryAt *time.Time      `json:"last_retry_at,omitempty" db:"last_retry_at"`
}

// Role gates librarian-only operations.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
)

// Member is a library account.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credential holds a member's password hash.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}
