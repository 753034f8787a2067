// internal/store/memory/store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// Store is an in-process store.Store. Transactions are serialised by a single
// mutex and applied by swapping in the mutated copy on success.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{view{work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read() view {
	return view{s.st}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetBook(ctx, id)
}

func (s *Store) GetBookByVolume(ctx context.Context, volumeID string) (domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetBookByVolume(ctx, volumeID)
}

func (s *Store) ListBooks(ctx context.Context, f store.BookFilter) ([]domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListBooks(ctx, f)
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetLoan(ctx, id)
}

func (s *Store) ListLoans(ctx context.Context, f store.LoanFilter) ([]domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListLoans(ctx, f)
}

func (s *Store) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().GetWaitlistEntry(ctx, id)
}

func (s *Store) ListWaitlist(ctx context.Context, f store.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ListWaitlist(ctx, f)
}

func (s *Store) ExpiredHolds(ctx context.Context, cutoff time.Time, n int) ([]domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ExpiredHolds(ctx, cutoff, n)
}

func (s *Store) BooksWithBacklog(ctx context.Context, n int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().BooksWithBacklog(ctx, n)
}

func (s *Store) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().LoadEvents(ctx, aggregateID)
}

func (s *Store) LibraryStats(ctx context.Context, now time.Time) (store.LibraryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().LibraryStats(ctx, now)
}

func (s *Store) PopularBooks(ctx context.Context, n int) ([]store.BookLoanCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().PopularBooks(ctx, n)
}

// Outbox

func (s *Store) PendingEvents(_ context.Context, n int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0)
	for _, e := range s.st.events {
		if _, done := s.st.published[e.ID]; !done {
			out = append(out, e)
		}
	}
	return limit(out, n), nil
}

func (s *Store) MarkEventsPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.st.published[id] = at
	}
	return nil
}

// Failed tasks

func (s *Store) InsertFailedTask(_ context.Context, t *domain.FailedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.st.failed[t.ID] = *t
	return nil
}

func (s *Store) GetFailedTask(_ context.Context, id uuid.UUID) (domain.FailedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.failed[id]
	if !ok {
		return domain.FailedTask{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListFailedTasks(_ context.Context, n int) ([]domain.FailedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FailedTask, 0, len(s.st.failed))
	for _, t := range s.st.failed {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	return limit(out, n), nil
}

func (s *Store) MarkFailedTaskRetried(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.failed[id]
	if !ok {
		return store.ErrNotFound
	}
	t.RetryCount++
	t.LastRetryAt = &at
	s.st.failed[id] = t
	return nil
}

func (s *Store) PurgeFailedTasks(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.st.failed {
		if t.FailedAt.Before(before) {
			delete(s.st.failed, id)
			n++
		}
	}
	return n, nil
}

// Notifications

func (s *Store) InsertNotification(_ context.Context, n *domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.EventID != 0 {
		for _, existing := range s.st.notifications {
			if existing.EventID == n.EventID {
				return false, nil
			}
		}
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.st.notifications[n.ID] = *n
	return true, nil
}

func (s *Store) ListNotifications(_ context.Context, userID uuid.UUID, unreadOnly bool, n int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, 0)
	for _, note := range s.st.notifications {
		if note.UserID != userID || (unreadOnly && note.IsRead) {
			continue
		}
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EventID > out[j].EventID
	})
	return limit(out, n), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.st.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.IsRead = true
	s.st.notifications[id] = n
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, n := range s.st.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			s.st.notifications[id] = n
			count++
		}
	}
	return count, nil
}

// Members

func (s *Store) InsertMember(_ context.Context, m *domain.Member, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.members {
		if strings.EqualFold(existing.Email, m.Email) {
			return fmt.Errorf("insert member %s: %w", m.Email, store.ErrDuplicate)
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	c.MemberID = m.ID
	s.st.members[m.ID] = *m
	s.st.credentials[m.ID] = c
	return nil
}

func (s *Store) GetMember(_ context.Context, id uuid.UUID) (domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.members[id]
	if !ok {
		return domain.Member{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) GetMemberByEmail(_ context.Context, email string) (domain.Member, domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.st.members {
		if strings.EqualFold(m.Email, email) {
			return m, s.st.credentials[m.ID], nil
		}
	}
	return domain.Member{}, domain.Credential{}, store.ErrNotFound
}

func (s *Store) CountMembers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.members), nil
}
