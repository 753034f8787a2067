// internal/server/router.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/libranexus/lending/internal/catalog"
	"github.com/libranexus/lending/internal/circulation"
	"github.com/libranexus/lending/internal/httpx"
	"github.com/libranexus/lending/internal/inventory"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/membership"
	"github.com/libranexus/lending/internal/notification"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/reports"
	"github.com/libranexus/lending/internal/waitlist"
)

// Services are the handlers' dependencies.
type Services struct {
	Members       membership.Service
	Catalog       catalog.Service
	Inventory     inventory.Service
	Circulation   circulation.Service
	Waitlist      waitlist.Service
	Notifications notification.Service
	Reports       reports.Service
	DeadLetters   *promotion.DeadLetters
	// Health reports whether the backing store answers.
	Health func(ctx context.Context) error
}

// NewRouter builds the HTTP API.
func NewRouter(s Services, requestTimeout time.Duration) http.Handler {
	members := membership.NewHandler(s.Members)
	books := catalog.NewHandler(s.Catalog)
	stock := inventory.NewHandler(s.Inventory)
	loans := circulation.NewHandler(s.Circulation)
	holds := waitlist.NewHandler(s.Waitlist)
	notes := notification.NewHandler(s.Notifications)
	usage := reports.NewHandler(s.Reports)
	dead := promotion.NewHandler(s.DeadLetters)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger("circulation"))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.Health != nil {
			if err := s.Health(r.Context()); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/members", members.HandleRegister)

	r.Group(func(r chi.Router) {
		r.Use(members.Authenticate)

		r.Get("/members/me", members.HandleMe)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", books.HandleListBooks)
			r.Get("/{id}", books.HandleGetBook)
			r.Get("/{id}/stock", stock.HandleGetStock)
			r.With(httpx.RequireLibrarian).Post("/import", books.HandleImport)
			r.With(httpx.RequireLibrarian).Patch("/{id}/stock", stock.HandleUpdateStock)
		})
		r.Get("/catalog/search", books.HandleSearch)

		r.Route("/loans", func(r chi.Router) {
			r.Post("/", loans.HandleCreateLoan)
			r.Get("/", loans.HandleListLoans)
			r.Get("/overdue", loans.HandleListOverdue)
			r.Get("/{id}", loans.HandleGetLoan)
			r.Get("/{id}/history", loans.HandleHistory)
			r.Post("/{id}/return", loans.HandleReturn)
			r.Post("/{id}/renew", loans.HandleRenew)
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", holds.HandleEnqueue)
			r.Get("/me", holds.HandleListMine)
			r.Get("/{id}", holds.HandleGet)
			r.Post("/{id}/cancel", holds.HandleCancel)
			r.Post("/{id}/confirm", loans.HandleConfirmHold)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notes.HandleList)
			r.Post("/read-all", notes.HandleMarkAllRead)
			r.Post("/{id}/read", notes.HandleMarkRead)
		})

		r.Get("/reports/me", usage.HandleMe)

		r.Group(func(r chi.Router) {
			r.Use(httpx.RequireLibrarian)
			r.Get("/reports/library", usage.HandleLibrary)
			r.Get("/admin/failed-tasks", dead.HandleListFailed)
			r.Post("/admin/failed-tasks/{id}/replay", dead.HandleReplay)
		})
	})
	return r
}
