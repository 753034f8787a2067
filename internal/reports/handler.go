// internal/reports/handler.go
package reports

import (
	"net/http"
	"strconv"

	"github.com/libranexus/lending/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	report, err := h.service.Member(r.Context(), caller.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// HandleLibrary serves the librarian overview; ?top bounds the popular list.
func (h *Handler) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	top, _ := strconv.Atoi(r.URL.Query().Get("top"))
	report, err := h.service.Library(r.Context(), top)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}
