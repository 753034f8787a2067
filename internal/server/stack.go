// internal/server/stack.go
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/libranexus/lending/internal/catalog"
	"github.com/libranexus/lending/internal/circulation"
	"github.com/libranexus/lending/internal/clients"
	"github.com/libranexus/lending/internal/config"
	"github.com/libranexus/lending/internal/events"
	"github.com/libranexus/lending/internal/inventory"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/membership"
	"github.com/libranexus/lending/internal/notification"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/reports"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/store/memory"
	"github.com/libranexus/lending/internal/store/postgres"
	"github.com/libranexus/lending/internal/waitlist"
)

// Dispatcher hands promotion commands to whoever runs them.
type Dispatcher interface {
	promotion.Dispatcher
	PromoteEntry(ctx context.Context, entryID uuid.UUID) error
	PromoteBook(ctx context.Context, bookID uuid.UUID) error
}

// Stack is every lending component wired over one store.
type Stack struct {
	Store       store.Store
	Queue       *waitlist.Queue
	Promoter    *promotion.Promoter
	DeadLetters *promotion.DeadLetters
	Dispatcher  Dispatcher
	Sweeper     *promotion.Sweeper
	Services    Services
}

// DispatcherFunc picks the dispatcher once the promoter and dead-letter store exist.
type DispatcherFunc func(p *promotion.Promoter, dead *promotion.DeadLetters) Dispatcher

// Local runs promotions in-process.
func Local(p *promotion.Promoter, dead *promotion.DeadLetters) Dispatcher {
	return promotion.NewLocalDispatcher(p, dead)
}

// Queued publishes promotions onto q for the worker.
func Queued(q promotion.Enqueuer) DispatcherFunc {
	return func(*promotion.Promoter, *promotion.DeadLetters) Dispatcher {
		return promotion.NewQueueDispatcher(q)
	}
}

// NewStack wires the services. volumes may be nil when no catalog is reachable.
func NewStack(cfg config.Config, st store.Store, volumes catalog.VolumeSource, dispatch DispatcherFunc, now func() time.Time) *Stack {
	if now == nil {
		now = time.Now
	}
	queue := waitlist.NewQueue(now)
	promoter := promotion.NewPromoter(st, queue,
		promotion.WithMaxAttempts(cfg.PromotionAttempts),
		promotion.WithBaseDelay(cfg.PromotionBaseDelay.Std()),
	)
	dead := promotion.NewDeadLetters(st, now)
	dispatcher := dispatch(promoter, dead)
	dead.SetDispatcher(dispatcher)

	books := catalog.NewService(st, volumes, now)
	policy := circulation.Policy{LoanPeriod: cfg.LoanPeriod.Std(), MaxActiveLoans: cfg.MaxActiveLoans}

	return &Stack{
		Store:       st,
		Queue:       queue,
		Promoter:    promoter,
		DeadLetters: dead,
		Dispatcher:  dispatcher,
		Sweeper: promotion.NewSweeper(st, queue, dispatcher, dead, promotion.SweeperConfig{
			HoldTTL:   cfg.HoldTTL.Std(),
			Interval:  cfg.SweepInterval.Std(),
			Retention: cfg.DeadLetterRetention.Std(),
		}, now),
		Services: Services{
			Members:       membership.NewService(st, cfg.AuthRPS, cfg.AuthBurst, now),
			Catalog:       books,
			Inventory:     inventory.NewService(st, dispatcher, now),
			Circulation:   circulation.NewService(st, queue, dispatcher, policy, now),
			Waitlist:      waitlist.NewService(st, queue, dispatcher, books),
			Notifications: notification.NewService(st, now),
			Reports:       reports.NewService(st, now),
			DeadLetters:   dead,
			Health:        st.Ping,
		},
	}
}

// OpenStore opens the configured store. Postgres is migrated on open.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), nil
	case "postgres":
		st, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.WithLockTimeout(cfg.LockTimeout.Std()))
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// NewRedisClient returns a client for cfg.RedisAddr, or nil when Redis is not configured.
func NewRedisClient(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// NewJobQueue builds the promotion stream. dead may be nil on the producer side.
func NewJobQueue(cfg config.Config, client redis.UniversalClient, dead *promotion.DeadLetters) (*jobs.RedisQueue, error) {
	qcfg := jobs.RedisQueueConfig{
		Client:     client,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: cfg.QueueRetryDelay.Std(),
	}
	if dead != nil {
		qcfg.DeadLetter = dead.RecordJob
	}
	return jobs.NewRedisQueue(qcfg)
}

// NewCatalogClient builds the rate-limited external catalog client.
func NewCatalogClient(cfg config.Config) *clients.BooksClient {
	return clients.NewBooksClient(clients.BooksClientConfig{
		BaseURL: cfg.CatalogBaseURL,
		APIKey:  cfg.CatalogAPIKey,
		RPS:     cfg.CatalogRPS,
		Timeout: cfg.CatalogTimeout.Std(),
	})
}

// NewSinks returns the notification sink plus the configured outbound sink,
// and a func closing whatever connections they opened.
func NewSinks(ctx context.Context, cfg config.Config, client redis.UniversalClient, notes notification.Service) ([]events.Sink, func() error, error) {
	sinks := []events.Sink{notification.NewSink(notes)}
	noop := func() error { return nil }

	switch cfg.EventSink {
	case "log":
		return append(sinks, events.NewLogSink(logging.FromContext(ctx))), noop, nil
	case "redis":
		if client == nil {
			return nil, nil, errors.New("redis event sink requires redisAddr")
		}
		sink, err := events.NewRedisSink(client, cfg.RedisChannel)
		if err != nil {
			return nil, nil, err
		}
		return append(sinks, sink), noop, nil
	case "amqp":
		sink, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return append(sinks, sink), sink.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown event sink %q", cfg.EventSink)
}
