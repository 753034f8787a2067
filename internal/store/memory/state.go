// internal/store/memory/state.go
package memory

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

type state struct {
	books         map[uuid.UUID]domain.Book
	loans         map[uuid.UUID]domain.Loan
	waitlist      map[uuid.UUID]domain.WaitlistEntry
	events        []domain.Event
	published     map[int64]time.Time
	failed        map[uuid.UUID]domain.FailedTask
	notifications map[uuid.UUID]domain.Notification
	members       map[uuid.UUID]domain.Member
	credentials   map[uuid.UUID]domain.Credential
	waitlistSeq   int64
	eventSeq      int64
}

func newState() *state {
	return &state{
		books:         make(map[uuid.UUID]domain.Book),
		loans:         make(map[uuid.UUID]domain.Loan),
		waitlist:      make(map[uuid.UUID]domain.WaitlistEntry),
		published:     make(map[int64]time.Time),
		failed:        make(map[uuid.UUID]domain.FailedTask),
		notifications: make(map[uuid.UUID]domain.Notification),
		members:       make(map[uuid.UUID]domain.Member),
		credentials:   make(map[uuid.UUID]domain.Credential),
	}
}

// clone copies every table. Struct values are copied; pointer fields are never
// mutated in place so sharing them is safe.
func (s *state) clone() *state {
	c := &state{
		books:         cloneMap(s.books),
		loans:         cloneMap(s.loans),
		waitlist:      cloneMap(s.waitlist),
		events:        slices.Clone(s.events),
		published:     cloneMap(s.published),
		failed:        cloneMap(s.failed),
		notifications: cloneMap(s.notifications),
		members:       cloneMap(s.members),
		credentials:   cloneMap(s.credentials),
		waitlistSeq:   s.waitlistSeq,
		eventSeq:      s.eventSeq,
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func matchesBook(b domain.Book, q string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q)
}

func sortEntries(entries []domain.WaitlistEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
}
