package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	failOn domain.EventType
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Type == s.failOn {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func appendEvents(t *testing.T, st *memory.Store, types ...domain.EventType) uuid.UUID {
	t.Helper()
	aggID := uuid.New()
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, typ := range types {
			ev, err := domain.NewEvent(domain.AggregateLoan, aggID, typ, domain.LoanEvent{LoanID: aggID}, fixedNow)
			if err != nil {
				return err
			}
			if err := tx.AppendEvents(ctx, &ev); err != nil {
				return err
			}
		}
		return nil
	}))
	return aggID
}

func TestRelayPublishesAndMarks(t *testing.T) {
	st := memory.New()
	appendEvents(t, st, domain.EventLoanCreated, domain.EventLoanRenewed, domain.EventLoanReturned)
	sink := &recordingSink{}
	relay := NewRelay(st, time.Second, 10, sink)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.EventLoanCreated, sink.events[0].Type)
	assert.Equal(t, domain.EventLoanReturned, sink.events[2].Type)

	pending, err := st.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayStopsAtFirstFailure(t *testing.T) {
	st := memory.New()
	appendEvents(t, st, domain.EventLoanCreated, domain.EventLoanRenewed, domain.EventLoanReturned)
	sink := &recordingSink{failOn: domain.EventLoanRenewed}
	relay := NewRelay(st, time.Second, 10, sink)

	n, err := relay.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := st.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventLoanRenewed, pending[0].Type)

	sink.failOn = ""
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, sink.events, 3)
}

func TestRelayBatchSize(t *testing.T) {
	st := memory.New()
	appendEvents(t, st, domain.EventLoanCreated, domain.EventLoanRenewed, domain.EventLoanReturned)
	sink := &recordingSink{}
	relay := NewRelay(st, time.Second, 2, sink)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEncodeEnvelope(t *testing.T) {
	ev := domain.Event{
		ID:            7,
		AggregateID:   uuid.New(),
		AggregateType: domain.AggregateWaitlist,
		Type:          domain.EventWaitlistHeld,
		Payload:       json.RawMessage(`{"status":"HELD"}`),
		Version:       2,
		CreatedAt:     fixedNow,
	}
	body, err := Encode(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, float64(7), got["id"])
	assert.Equal(t, "waitlist.held", got["type"])
	assert.Equal(t, ev.AggregateID.String(), got["aggregate_id"])
	assert.Equal(t, map[string]any{"status": "HELD"}, got["payload"])
	assert.Equal(t, "2025-03-01T12:00:00Z", got["created_at"])
}

func TestRedisSinkPublishes(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test.events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink, err := NewRedisSink(client, "test.events")
	require.NoError(t, err)
	ev := domain.Event{ID: 1, AggregateID: uuid.New(), Type: domain.EventLoanCreated, Payload: json.RawMessage(`{}`), CreatedAt: fixedNow}
	require.NoError(t, sink.Publish(ctx, ev))

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, domain.EventLoanCreated, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	err       error
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPSinkRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	sink, err := NewAMQPSink(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"libranexus.events:topic"}, ch.declared)

	ev := domain.Event{ID: 42, Type: domain.EventWaitlistCancelled, Payload: json.RawMessage(`{}`), CreatedAt: fixedNow}
	require.NoError(t, sink.Publish(context.Background(), ev))
	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"waitlist.cancelled"}, ch.keys)
	assert.Equal(t, "42", ch.published[0].MessageId)
	assert.Equal(t, uint8(amqp.Persistent), ch.published[0].DeliveryMode)

	ch.err = errors.New("channel closed")
	assert.Error(t, sink.Publish(context.Background(), ev))
	assert.NoError(t, sink.Close())
}

func TestLogSinkAcceptsEverything(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Publish(context.Background(), domain.Event{Type: domain.EventStockUpdated}))
}
