// internal/promotion/handler.go
package promotion

import (
	"net/http"
	"strconv"

	"github.com/libranexus/lending/internal/httpx"
)

// Handler exposes the dead-letter table to librarians.
type Handler struct {
	dead *DeadLetters
}

func NewHandler(dead *DeadLetters) *Handler {
	return &Handler{dead: dead}
}

func (h *Handler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := h.dead.List(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	task, err := h.dead.Replay(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}
