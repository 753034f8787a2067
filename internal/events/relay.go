// internal/events/relay.go
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// Relay moves committed events from the outbox to the sinks. An event is
// marked published only after every sink accepted it; the first failure
// stops the batch so per-aggregate order is kept.
type Relay struct {
	outbox   store.Outbox
	sinks    []Sink
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewRelay(outbox store.Outbox, interval time.Duration, batch int, sinks ...Sink) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		outbox:   outbox,
		sinks:    sinks,
		interval: interval,
		batch:    batch,
		now:      time.Now,
		logger:   slog.Default().With("component", "relay"),
		tracer:   otel.Tracer("libranexus/events"),
	}
}

// Run relays until ctx is done. Full batches are drained without waiting.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("relay pass failed", "error", err)
		}
		if err == nil && n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce relays one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "events.relay")
	defer span.End()

	pending, err := r.outbox.PendingEvents(ctx, r.batch)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	done := make([]int64, 0, len(pending))
	var publishErr error
	for _, ev := range pending {
		if publishErr = r.publish(ctx, ev); publishErr != nil {
			break
		}
		done = append(done, ev.ID)
	}
	if len(done) > 0 {
		if err := r.outbox.MarkEventsPublished(ctx, done, r.now()); err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("mark events published: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("events.published", len(done)))
	if publishErr != nil {
		span.RecordError(publishErr)
		return len(done), publishErr
	}
	return len(done), nil
}

func (r *Relay) publish(ctx context.Context, ev domain.Event) error {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			return fmt.Errorf("sink %s: %w", sink.Name(), err)
		}
	}
	return nil
}
