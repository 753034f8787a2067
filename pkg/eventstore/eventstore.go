package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// AnyVersion appends after whatever version is current.
const AnyVersion = -1

// Schema creates the events table used as the transactional outbox.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	published_at TIMESTAMPTZ,
	UNIQUE (aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS events_unpublished_idx ON events (id) WHERE published_at IS NULL;
`

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id" db:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type" db:"aggregate_type"`
	EventType     string                 `json:"event_type" db:"event_type"`
	EventData     json.RawMessage        `json:"event_data" db:"event_data"`
	Metadata      map[string]interface{} `json:"metadata" db:"metadata"`
	Version       int                    `json:"version" db:"version"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// DBTX is satisfied by *sql.DB, *sql.Tx and their sqlx wrappers.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventStore appends and reads events inside the caller's transaction.
type EventStore struct {
	tracer trace.Tracer
}

// New creates an event store.
func New() *EventStore {
	return &EventStore{
		tracer: otel.Tracer("libranexus/eventstore"),
	}
}

// Append writes events for one aggregate with optimistic concurrency control.
// It returns the events with ID and Version filled in. Pass AnyVersion to
// append after the current version; a concurrent writer still surfaces as
// ErrConcurrencyConflict through the (aggregate_id, version) unique key.
func (es *EventStore) Append(ctx context.Context, q DBTX, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < AnyVersion {
		return nil, ErrInvalidVersion
	}

	currentVersion, err := es.CurrentVersion(ctx, q, aggregateID)
	if err != nil {
		return nil, err
	}

	if expectedVersion != AnyVersion && currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return nil, ErrConcurrencyConflict
	}

	out := make([]Event, len(events))
	for i, event := range events {
		version := currentVersion + i + 1
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata %d: %w", i, err)
		}
		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		var eventID int64
		err = q.QueryRowContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`,
			aggregateID,
			aggregateType,
			event.EventType,
			[]byte(event.EventData),
			metadataJSON,
			version,
			createdAt.UTC(),
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}

		event.ID = eventID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = version
		event.CreatedAt = createdAt
		out[i] = event

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return out, nil
}

// LoadEvents retrieves all events for an aggregate with optional version range
func (es *EventStore) LoadEvents(ctx context.Context, q DBTX, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		AND version >= $2
	`
	args := []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	events, err := es.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version for an aggregate
func (es *EventStore) CurrentVersion(ctx context.Context, q DBTX, aggregateID uuid.UUID) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Unpublished returns outbox events not yet relayed, oldest first.
func (es *EventStore) Unpublished(ctx context.Context, q DBTX, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.unpublished",
		trace.WithAttributes(attribute.Int("batch.size", batchSize)),
	)
	defer span.End()

	events, err := es.query(ctx, q, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// MarkPublished stamps relayed events so they are not delivered again.
func (es *EventStore) MarkPublished(ctx context.Context, q DBTX, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := es.tracer.Start(ctx, "eventstore.mark_published",
		trace.WithAttributes(attribute.Int("event.count", len(ids))),
	)
	defer span.End()

	if _, err := q.ExecContext(ctx, `
		UPDATE events SET published_at = $1
		WHERE id = ANY($2) AND published_at IS NULL
	`, at.UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (es *EventStore) query(ctx context.Context, q DBTX, query string, args ...any) ([]Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&event.EventData,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
