// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
)

const statusActive = "active"

// service implements the Service interface.
type service struct {
	store  store.Members
	now    func() time.Time
	tracer trace.Tracer

	// one limiter per email, guarding password guessing
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewService creates a new membership service instance. Authentication
// attempts are limited to rps per email with the given burst.
func NewService(st store.Members, rps float64, burst int, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &service{
		store:    st,
		now:      now,
		tracer:   otel.Tracer("libranexus/membership"),
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Register creates a member. The very first account becomes the librarian.
func (s *service) Register(ctx context.Context, email, name, password string) (domain.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	email = normalizeEmail(email)
	cred, err := defaultArgon.newCredential(password)
	if err != nil {
		return domain.Member{}, fmt.Errorf("failed to hash password: %w", err)
	}

	role := domain.RoleMember
	count, err := s.store.CountMembers(ctx)
	if err != nil {
		return domain.Member{}, fmt.Errorf("count members: %w", err)
	}
	if count == 0 {
		role = domain.RoleLibrarian
	}

	member := domain.Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      role,
		Status:    statusActive,
		CreatedAt: s.now(),
	}
	err = s.store.InsertMember(ctx, &member, cred)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Member{}, domain.Conflict(domain.CodeEmailTaken, "an account with this email already exists").
			With("email", email)
	}
	if err != nil {
		span.RecordError(err)
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	logging.FromContext(ctx).Info("member registered", "user_id", member.ID, "role", member.Role)
	return member, nil
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (domain.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	email = normalizeEmail(email)
	if !s.limiter(email).Allow() {
		return domain.Member{}, domain.RateLimited("too many login attempts, slow down")
	}

	member, cred, err := s.store.GetMemberByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Member{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := defaultArgon.matches(cred, password)
	if err != nil {
		return domain.Member{}, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok || member.Status != statusActive {
		return domain.Member{}, ErrInvalidCredentials
	}
	return member, nil
}

func (s *service) GetMember(ctx context.Context, id uuid.UUID) (domain.Member, error) {
	member, err := s.store.GetMember(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Member{}, domain.NotFound(domain.CodeMemberNotFound, "member not found").With("user_id", id.String())
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (s *service) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[key] = l
	}
	return l
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
