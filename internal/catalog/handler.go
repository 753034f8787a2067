// internal/catalog/handler.go
package catalog

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

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	books, err := h.service.ListBooks(r.Context(), q.Get("q"), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"books": books, "count": len(books)})
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

type importRequest struct {
	VolumeID string `json:"volume_id" validate:"required,max=64"`
}

func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	book, created, err := h.service.ImportVolume(r.Context(), req.VolumeID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, book)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	maxResults, _ := strconv.Atoi(r.URL.Query().Get("max"))
	vols, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), maxResults)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"volumes": vols, "count": len(vols)})
}
