// internal/chaos/target.go
package chaos

import (
	"context"
	"time"

	"github.com/libranexus/lending/internal/circulation"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// LocalTarget wires the lending services over st with in-process promotion.
func LocalTarget(st store.Store, policy circulation.Policy, now func() time.Time) Target {
	queue := waitlist.NewQueue(now)
	promoter := promotion.NewPromoter(st, queue)
	dead := promotion.NewDeadLetters(st, now)
	dispatcher := promotion.NewLocalDispatcher(promoter, dead)
	dead.SetDispatcher(dispatcher)

	return Target{
		Store:       st,
		Circulation: circulation.NewService(st, queue, dispatcher, policy, now),
		Waitlist:    waitlist.NewService(st, queue, dispatcher, nil),
		Sweeper:     promotion.NewSweeper(st, queue, dispatcher, dead, promotion.SweeperConfig{}, now),
		Settle:      func(context.Context) { dispatcher.Wait() },
	}
}
