// internal/membership/service.go
package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, email, name, password string) (domain.Member, error)
	Authenticate(ctx context.Context, email, password string) (domain.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (domain.Member, error)
}
