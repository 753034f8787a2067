// internal/circulation/handler.go
package circulation

import (
	"context"
	"net/http"
	"strings"

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

type createLoanRequest struct {
	BookID uuid.UUID `json:"book_id" validate:"required"`
}

func (h *Handler) HandleCreateLoan(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var req createLoanRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	result, err := h.service.CreateLoan(r.Context(), caller.ID, req.BookID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome == OutcomeAddedToWaitlist {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, result)
}

func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	var statuses []domain.LoanStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := domain.ParseLoanStatus(part)
			if err != nil {
				httpx.WriteError(w, r, domain.Validation(err.Error()).With("status", "oneof ACTIVE RENEWED RETURNED"))
				return
			}
			statuses = append(statuses, status)
		}
	}
	loans, err := h.service.ListLoans(r.Context(), caller.ID, statuses)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleListOverdue(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	loans, err := h.service.ListOverdue(r.Context(), caller.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	h.withLoan(w, r, h.service.GetLoan)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.withLoan(w, r, h.service.ReturnLoan)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	h.withLoan(w, r, h.service.RenewLoan)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	loanID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	events, err := h.service.LoanHistory(r.Context(), caller.ID, loanID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleConfirmHold(w http.ResponseWriter, r *http.Request) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	entryID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	loan, err := h.service.ConfirmHold(r.Context(), caller.ID, entryID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, CheckoutResult{
		Outcome: OutcomeLoanCreated,
		Message: "hold confirmed; loan created",
		Loan:    &loan,
	})
}

func (h *Handler) withLoan(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error)) {
	caller, ok := httpx.Caller(w, r)
	if !ok {
		return
	}
	loanID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	loan, err := op(r.Context(), caller.ID, loanID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}
