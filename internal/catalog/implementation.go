// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/clients"
	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
)

// service implements the Service interface.
type service struct {
	store   store.Store
	volumes VolumeSource
	now     func() time.Time
	tracer  trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(st store.Store, volumes VolumeSource, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	if volumes == nil {
		volumes = offline{}
	}
	return &service{
		store:   st,
		volumes: volumes,
		now:     now,
		tracer:  otel.Tracer("libranexus/catalog"),
	}
}

func (s *service) ListBooks(ctx context.Context, query string, limit, offset int) ([]domain.Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.list_books")
	defer span.End()

	books, err := s.store.ListBooks(ctx, store.BookFilter{
		Query:  strings.TrimSpace(query),
		Limit:  store.LimitOr(limit, 50),
		Offset: max(offset, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Book{}, domain.NotFound(domain.CodeBookNotFound, "book not found").With("book_id", id.String())
	}
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book %s: %w", id, err)
	}
	return book, nil
}

func (s *service) ImportVolume(ctx context.Context, volumeID string) (domain.Book, bool, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.import_volume",
		trace.WithAttributes(attribute.String("volume.id", volumeID)))
	defer span.End()

	volumeID = strings.TrimSpace(volumeID)
	if volumeID == "" {
		return domain.Book{}, false, domain.Validation("volume_id is required").With("volume_id", "required")
	}
	if book, err := s.store.GetBookByVolume(ctx, volumeID); err == nil {
		return book, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Book{}, false, fmt.Errorf("look up volume %s: %w", volumeID, err)
	}

	vol, err := s.volumes.GetVolume(ctx, volumeID)
	switch {
	case errors.Is(err, clients.ErrVolumeNotFound):
		return domain.Book{}, false, domain.NotFound(domain.CodeBookNotFound, "no book with this volume id in the catalog").
			With("volume_id", volumeID)
	case errors.Is(err, clients.ErrCatalogUnavailable):
		span.RecordError(err)
		return domain.Book{}, false, domain.Unavailable(domain.CodeCatalogUnavailable, "the book catalog is unavailable, try again later")
	case err != nil:
		span.RecordError(err)
		return domain.Book{}, false, fmt.Errorf("fetch volume %s: %w", volumeID, err)
	}

	now := s.now()
	book := domain.Book{
		ID:        uuid.New(),
		VolumeID:  volumeID,
		ISBN:      vol.ISBN(),
		Title:     vol.Title,
		Author:    vol.Author(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &book)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Imported concurrently.
		existing, gerr := s.store.GetBookByVolume(ctx, volumeID)
		if gerr != nil {
			return domain.Book{}, false, fmt.Errorf("reload volume %s: %w", volumeID, gerr)
		}
		return existing, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return domain.Book{}, false, fmt.Errorf("insert book for volume %s: %w", volumeID, err)
	}
	logging.FromContext(ctx).Info("book imported", "book_id", book.ID, "volume_id", volumeID, "title", book.Title)
	return book, true, nil
}

func (s *service) ResolveVolume(ctx context.Context, volumeID string) (domain.Book, error) {
	book, _, err := s.ImportVolume(ctx, volumeID)
	return book, err
}

func (s *service) Search(ctx context.Context, query string, maxResults int) ([]clients.Volume, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.Validation("missing search query").With("q", "required")
	}
	vols, err := s.volumes.Search(ctx, query, maxResults)
	if errors.Is(err, clients.ErrCatalogUnavailable) {
		return nil, domain.Unavailable(domain.CodeCatalogUnavailable, "the book catalog is unavailable, try again later")
	}
	return vols, err
}

// offline stands in when no external catalog is configured.
type offline struct{}

func (offline) GetVolume(context.Context, string) (clients.Volume, error) {
	return clients.Volume{}, clients.ErrCatalogUnavailable
}

func (offline) Search(context.Context, string, int) ([]clients.Volume, error) {
	return nil, clients.ErrCatalogUnavailable
}
