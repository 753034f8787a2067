// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"github.com/libranexus/lending/internal/httpx"
	"github.com/libranexus/lending/internal/logging"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	member, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	member, err := h.service.GetMember(r.Context(), caller.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}

// Authenticate checks HTTP Basic credentials and stores the caller as the
// request principal.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok {
			httpx.WriteUnauthorized(w, "authentication required")
			return
		}
		member, err := h.service.Authenticate(r.Context(), email, password)
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.WriteUnauthorized(w, "invalid credentials")
			return
		}
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		ctx := httpx.WithPrincipal(r.Context(), httpx.Principal{ID: member.ID, Role: member.Role})
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", member.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
