// internal/waitlist/handler.go
package waitlist

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type enqueueRequest struct {
	BookID   *uuid.UUID `json:"book_id" validate:"required_without=VolumeID"`
	VolumeID string     `json:"volume_id" validate:"required_without=BookID,max=64"`
}

type enqueueResponse struct {
	Code     string               `json:"code"`
	Message  string               `json:"message"`
	Waitlist domain.WaitlistEntry `json:"waitlist"`
}

func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var (
		entry domain.WaitlistEntry
		err   error
	)
	if req.VolumeID != "" {
		entry, err = h.service.EnqueueByVolume(r.Context(), caller.ID, req.VolumeID)
	} else {
		entry, err = h.service.Enqueue(r.Context(), caller.ID, *req.BookID)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, enqueueResponse{
		Code:     "ADDED_TO_WAITLIST",
		Message:  "added to the waitlist; a copy will be held for you when one is available",
		Waitlist: entry,
	})
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(w, r, domain.Validation("active must be a boolean").With("active", "boolean"))
			return
		}
		activeOnly = parsed
	}
	entries, err := h.service.ListMine(r.Context(), caller.ID, activeOnly)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entry, err := h.service.Get(r.Context(), caller.ID, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entry, err := h.service.Cancel(r.Context(), caller.ID, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}
