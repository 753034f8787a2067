// internal/inventory/handler.go
package inventory

import (
	"net/http"

	"github.com/libranexus/lending/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	stock, err := h.service.GetStock(r.Context(), bookID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stock)
}

type updateStockRequest struct {
	Delta int `json:"delta" validate:"required,ne=0"`
}

func (h *Handler) HandleUpdateStock(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req updateStockRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	stock, err := h.service.UpdateStock(r.Context(), bookID, req.Delta)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stock)
}
