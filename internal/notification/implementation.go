// internal/notification/implementation.go
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// service implements the Service interface.
type service struct {
	store  store.Notifications
	now    func() time.Time
	tracer trace.Tracer
}

// NewService creates a new notification service instance.
func NewService(st store.Notifications, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{store: st, now: now, tracer: otel.Tracer("libranexus/notification")}
}

func (s *service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	ctx, span := s.tracer.Start(ctx, "notification.list",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	out, err := s.store.ListNotifications(ctx, userID, unreadOnly, store.LimitOr(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	err := s.store.MarkNotificationRead(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeNotificationNotFound, "notification not found").With("notification_id", id.String())
	}
	return err
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

func (s *service) FromEvent(ctx context.Context, ev domain.Event) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "notification.from_event",
		trace.WithAttributes(
			attribute.Int64("event.id", ev.ID),
			attribute.String("event.type", string(ev.Type)),
		))
	defer span.End()

	n, ok, err := Render(ev)
	if err != nil || !ok {
		return false, err
	}
	n.ID = uuid.New()
	n.CreatedAt = s.now()
	inserted, err := s.store.InsertNotification(ctx, &n)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("store notification for event %d: %w", ev.ID, err)
	}
	return inserted, nil
}

// Render turns an event into the member-facing notification, if any.
func Render(ev domain.Event) (domain.Notification, bool, error) {
	n := domain.Notification{EventID: ev.ID}
	switch ev.Type {
	case domain.EventLoanCreated, domain.EventLoanReturned, domain.EventLoanRenewed:
		var p domain.LoanEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return n, false, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		n.UserID = p.UserID
		due := p.DueDate.Format("2006-01-02")
		switch ev.Type {
		case domain.EventLoanCreated:
			n.Type, n.Title = domain.NotificationSuccess, "Loan confirmed"
			n.Message = fmt.Sprintf("You borrowed %q. Please return it by %s.", p.BookTitle, due)
		case domain.EventLoanRenewed:
			n.Type, n.Title = domain.NotificationSuccess, "Loan renewed"
			n.Message = fmt.Sprintf("Your loan of %q is now due on %s.", p.BookTitle, due)
		default:
			n.Type, n.Title = domain.NotificationInfo, "Book returned"
			n.Message = fmt.Sprintf("Thanks for returning %q.", p.BookTitle)
		}

	case domain.EventWaitlistAdded, domain.EventWaitlistHeld, domain.EventWaitlistConfirmed, domain.EventWaitlistCancelled:
		var p domain.WaitlistEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return n, false, fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		n.UserID = p.UserID
		switch ev.Type {
		case domain.EventWaitlistAdded:
			n.Type, n.Title = domain.NotificationInfo, "Added to waitlist"
			n.Message = fmt.Sprintf("You are on the waitlist for %q. We will let you know when a copy is held for you.", p.BookTitle)
		case domain.EventWaitlistHeld:
			n.Type, n.Title = domain.NotificationSuccess, "Your hold is ready"
			n.Message = fmt.Sprintf("A copy of %q is held for you. Confirm the hold to borrow it.", p.BookTitle)
		case domain.EventWaitlistConfirmed:
			// loan.created follows in the same transaction.
			return n, false, nil
		default:
			switch p.Reason {
			case waitlist.ReasonExpired:
				n.Type, n.Title = domain.NotificationWarning, "Hold expired"
				n.Message = fmt.Sprintf("Your hold on %q expired and the copy was offered to the next reader.", p.BookTitle)
			case waitlist.ReasonFulfilled:
				return n, false, nil
			default:
				n.Type, n.Title = domain.NotificationInfo, "Waitlist cancelled"
				n.Message = fmt.Sprintf("You left the waitlist for %q.", p.BookTitle)
			}
		}

	default:
		return n, false, nil
	}
	if n.UserID == uuid.Nil {
		return n, false, nil
	}
	return n, true, nil
}

// Sink adapts the service to the event relay.
type Sink struct {
	service Service
}

func NewSink(service Service) *Sink {
	return &Sink{service: service}
}

func (s *Sink) Name() string { return "notification" }

func (s *Sink) Publish(ctx context.Context, ev domain.Event) error {
	_, err := s.service.FromEvent(ctx, ev)
	return err
}
