// internal/store/postgres/records.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// Outbox

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	events, err := s.es.Unpublished(ctx, s.db, store.LimitOr(limit, 100))
	if err != nil {
		return nil, mapErr(err)
	}
	return fromStoreEvents(events), nil
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	return mapErr(s.es.MarkPublished(ctx, s.db, ids, at))
}

// Failed tasks

const failedTaskColumns = `id, task_id, task_name, args, error_message, retry_count, failed_at, last_retry_at`

func (s *Store) InsertFailedTask(ctx context.Context, t *domain.FailedTask) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_tasks (`+failedTaskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.TaskID, t.TaskName, []byte(t.Args), t.Error, t.RetryCount, t.FailedAt, t.LastRetryAt)
	if err != nil {
		return mapErr(fmt.Errorf("insert failed task: %w", err))
	}
	return nil
}

func (s *Store) GetFailedTask(ctx context.Context, id uuid.UUID) (domain.FailedTask, error) {
	var t domain.FailedTask
	err := s.get(ctx, &t, `SELECT `+failedTaskColumns+` FROM failed_tasks WHERE id = $1`, id)
	return t, err
}

func (s *Store) ListFailedTasks(ctx context.Context, limit int) ([]domain.FailedTask, error) {
	tasks := []domain.FailedTask{}
	err := s.selectAll(ctx, &tasks, `
		SELECT `+failedTaskColumns+`
		FROM failed_tasks
		ORDER BY failed_at DESC
		LIMIT $1
	`, store.LimitOr(limit, 100))
	return tasks, err
}

func (s *Store) MarkFailedTaskRetried(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE failed_tasks SET retry_count = retry_count + 1, last_retry_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return mapErr(fmt.Errorf("mark failed task retried: %w", err))
	}
	return requireRow(res)
}

func (s *Store) PurgeFailedTasks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_tasks WHERE failed_at < $1`, before)
	if err != nil {
		return 0, mapErr(fmt.Errorf("purge failed tasks: %w", err))
	}
	return res.RowsAffected()
}

// Notifications

const notificationColumns = `id, user_id, COALESCE(event_id, 0) AS event_id, type, title, message, is_read, created_at`

func (s *Store) InsertNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, event_id, type, title, message, is_read, created_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, n.ID, n.UserID, n.EventID, n.Type, n.Title, n.Message, n.IsRead, n.CreatedAt)
	if err != nil {
		return false, mapErr(fmt.Errorf("insert notification: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	notes := []domain.Notification{}
	err := s.selectAll(ctx, &notes, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, event_id DESC
		LIMIT $3
	`, userID, unreadOnly, store.LimitOr(limit, 50))
	return notes, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return mapErr(fmt.Errorf("mark notification read: %w", err))
	}
	return requireRow(res)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, mapErr(fmt.Errorf("mark notifications read: %w", err))
	}
	return res.RowsAffected()
}

// Members

func (s *Store) InsertMember(ctx context.Context, m *domain.Member, c domain.Credential) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, email, name, role, status, password_hash, salt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.Email, m.Name, m.Role, m.Status, c.PasswordHash, c.Salt, m.CreatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("insert member: %w", err))
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (domain.Member, error) {
	var m domain.Member
	err := s.get(ctx, &m, `SELECT id, email, name, role, status, created_at FROM members WHERE id = $1`, id)
	return m, err
}

func (s *Store) GetMemberByEmail(ctx context.Context, email string) (domain.Member, domain.Credential, error) {
	var row struct {
		domain.Member
		PasswordHash string `db:"password_hash"`
		Salt         string `db:"salt"`
	}
	err := s.get(ctx, &row, `
		SELECT id, email, name, role, status, created_at, password_hash, salt
		FROM members
		WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return domain.Member{}, domain.Credential{}, err
	}
	return row.Member, domain.Credential{MemberID: row.ID, PasswordHash: row.PasswordHash, Salt: row.Salt}, nil
}

func (s *Store) CountMembers(ctx context.Context) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM members`)
	return n, err
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
