// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/clients"
	"github.com/libranexus/lending/internal/domain"
)

// Service defines the interface for the catalog service.
type Service interface {
	ListBooks(ctx context.Context, query string, limit, offset int) ([]domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error)
	// ImportVolume materialises the local book for an external volume with
	// zero copies. It reports whether the book was created by this call.
	ImportVolume(ctx context.Context, volumeID string) (domain.Book, bool, error)
	// ResolveVolume returns the local book for volumeID, importing it first
	// when needed.
	ResolveVolume(ctx context.Context, volumeID string) (domain.Book, error)
	Search(ctx context.Context, query string, maxResults int) ([]clients.Volume, error)
}

// VolumeSource is the external metadata catalog.
type VolumeSource interface {
	GetVolume(ctx context.Context, volumeID string) (clients.Volume, error)
	Search(ctx context.Context, query string, maxResults int) ([]clients.Volume, error)
}
