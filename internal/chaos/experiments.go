// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/circulation"
	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// Sweeper recovers stranded copies and expired holds.
type Sweeper interface {
	RunOnce(ctx context.Context) (promotion.SweepResult, error)
}

// Target is the lending stack the experiments drive.
type Target struct {
	Store       store.Store
	Circulation circulation.Service
	Waitlist    waitlist.Service
	Sweeper     Sweeper
	// Settle blocks until dispatched promotions have run. Nil means promotion
	// is synchronous or owned by another process.
	Settle func(ctx context.Context)
}

// Options sizes the experiments.
type Options struct {
	Members  int
	Copies   int
	Duration time.Duration
	Sample   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Members <= 0 {
		o.Members = 50
	}
	if o.Copies <= 0 {
		o.Copies = 3
	}
	if o.Duration <= 0 {
		o.Duration = 5 * time.Second
	}
	if o.Sample <= 0 {
		o.Sample = 500 * time.Millisecond
	}
	return o
}

// lab tracks the books an experiment created so probes only look at those.
type lab struct {
	target Target
	now    func() time.Time

	mu    sync.Mutex
	books []uuid.UUID
}

func newLab(t Target) *lab {
	return &lab{target: t, now: time.Now}
}

func (l *lab) seedBook(ctx context.Context, title string, copies int) (domain.Book, error) {
	now := l.now().UTC()
	b := domain.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          "Chaos Monkey",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := l.target.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBook(ctx, &b)
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("seed book: %w", err)
	}
	l.mu.Lock()
	l.books = append(l.books, b.ID)
	l.mu.Unlock()
	return b, nil
}

func (l *lab) bookIDs() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.books...)
}

func (l *lab) settle(ctx context.Context) {
	if l.target.Settle != nil {
		l.target.Settle(ctx)
	}
}

func (l *lab) breachProbe() Probe {
	return Probe{
		Name: "invariant_breaches",
		Query: func(ctx context.Context) (float64, error) {
			breaches, err := CheckBooks(ctx, l.target.Store, l.bookIDs())
			return float64(len(breaches)), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (l *lab) strandedProbe() Probe {
	return Probe{
		Name: "stranded_books",
		Query: func(ctx context.Context) (float64, error) {
			n, err := Stranded(ctx, l.target.Store, l.bookIDs())
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func zero(probe, msg string) Assertion {
	return Assertion{Probe: probe, Condition: func(v float64) bool { return v == 0 }, Message: msg}
}

// unexpected keeps infrastructure failures; rule rejections are the system working.
func unexpected(err error) error {
	if err == nil || domain.KindOf(err) != "" {
		return nil
	}
	return err
}

// Experiments returns the lending experiments against t.
func Experiments(t Target, opts Options) []Experiment {
	opts = opts.withDefaults()
	return []Experiment{
		ConcurrentCheckout(t, opts),
		CheckoutCancelRace(t, opts),
		LostPromotion(t, opts),
	}
}

// ConcurrentCheckout has many members borrow the same book at once.
func ConcurrentCheckout(t Target, opts Options) Experiment {
	opts = opts.withDefaults()
	l := newLab(t)
	var loans atomic.Int64

	return Experiment{
		Name:       "concurrent-checkout-race-condition",
		Hypothesis: "No copy is lent twice when members check out the same book simultaneously; the rest join the waitlist",
		SteadyState: []Probe{
			l.breachProbe(),
			{
				Name: "loans_beyond_copies",
				Query: func(context.Context) (float64, error) {
					return float64(max(0, loans.Load()-int64(opts.Copies))), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				book, err := l.seedBook(ctx, "Contended Copy", opts.Copies)
				if err != nil {
					return err
				}
				errs := fanOut(opts.Members, func(int) error {
					res, err := t.Circulation.CreateLoan(ctx, uuid.New(), book.ID)
					if err == nil && res.Outcome == circulation.OutcomeLoanCreated {
						loans.Add(1)
					}
					return unexpected(err)
				})
				l.settle(ctx)
				return errs
			},
		}},
		Validation: []Assertion{
			zero("invariant_breaches", "Stock ledger must match open loans and holds"),
			zero("loans_beyond_copies", "No more loans than copies"),
		},
		Duration: opts.Duration,
		Sample:   opts.Sample,
	}
}

// CheckoutCancelRace returns the only copy while waiters cancel and confirm concurrently.
func CheckoutCancelRace(t Target, opts Options) Experiment {
	opts = opts.withDefaults()
	l := newLab(t)

	return Experiment{
		Name:        "checkout-cancel-race",
		Hypothesis:  "A returned copy reaches exactly one waiter while others cancel concurrently",
		SteadyState: []Probe{l.breachProbe(), l.strandedProbe()},
		Method: []Action{{
			Type:   "concurrent-return-cancel-confirm",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				book, err := l.seedBook(ctx, "Single Copy", 1)
				if err != nil {
					return err
				}
				holder := uuid.New()
				first, err := t.Circulation.CreateLoan(ctx, holder, book.ID)
				if err != nil {
					return err
				}
				if first.Loan == nil {
					return errors.New("holder was waitlisted on an empty shelf")
				}

				waiters := make([]uuid.UUID, opts.Members)
				entries := make([]uuid.UUID, opts.Members)
				for i := range waiters {
					waiters[i] = uuid.New()
					res, err := t.Circulation.CreateLoan(ctx, waiters[i], book.ID)
					if err != nil {
						return err
					}
					if res.Waitlist == nil {
						return errors.New("waiter got a loan while the only copy was out")
					}
					entries[i] = res.Waitlist.ID
				}

				errs := fanOut(opts.Members+1, func(i int) error {
					if i == opts.Members {
						_, err := t.Circulation.ReturnLoan(ctx, holder, first.Loan.ID)
						return unexpected(err)
					}
					time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
					if i%2 == 0 {
						_, err := t.Waitlist.Cancel(ctx, waiters[i], entries[i])
						return unexpected(err)
					}
					_, err := t.Circulation.ConfirmHold(ctx, waiters[i], entries[i])
					return unexpected(err)
				})
				l.settle(ctx)
				return errs
			},
		}},
		Validation: []Assertion{
			zero("invariant_breaches", "Stock ledger must match open loans and holds"),
			zero("stranded_books", "A returned copy must not sit on the shelf while members wait"),
		},
		Duration: opts.Duration,
		Sample:   opts.Sample,
	}
}

// LostPromotion puts copies on the shelf without dispatching a promotion and
// relies on the sweeper to hand them to waiting members.
func LostPromotion(t Target, opts Options) Experiment {
	opts = opts.withDefaults()
	l := newLab(t)

	return Experiment{
		Name:        "lost-promotion-dispatch",
		Hypothesis:  "The sweeper promotes waiting members when a promotion dispatch is lost",
		SteadyState: []Probe{l.breachProbe(), l.strandedProbe()},
		Method: []Action{{
			Type:   "drop-dispatch",
			Target: "promotion-queue",
			Execute: func(ctx context.Context) error {
				book, err := l.seedBook(ctx, "Forgotten Copy", 0)
				if err != nil {
					return err
				}
				for range opts.Copies + 1 {
					if _, err := t.Waitlist.Enqueue(ctx, uuid.New(), book.ID); err != nil {
						return err
					}
				}
				l.settle(ctx)
				return t.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
					b, err := tx.LockBook(ctx, book.ID)
					if err != nil {
						return err
					}
					b.TotalCopies += opts.Copies
					b.AvailableCopies += opts.Copies
					return tx.UpdateBook(ctx, b)
				})
			},
		}},
		Rollback: []Action{{
			Type:   "sweep",
			Target: "promotion-sweeper",
			Execute: func(ctx context.Context) error {
				if _, err := t.Sweeper.RunOnce(ctx); err != nil {
					return err
				}
				l.settle(ctx)
				return nil
			},
		}},
		Validation: []Assertion{
			zero("invariant_breaches", "Stock ledger must match open loans and holds"),
			zero("stranded_books", "Every restocked copy must be held for a waiting member"),
		},
		Duration: opts.Duration,
		Sample:   opts.Sample,
	}
}

// fanOut runs fn n times concurrently and joins the errors.
func fanOut(n int, fn func(i int) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
