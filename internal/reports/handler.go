package reports

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// Handler exposes the reporting API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.TrialBalance)
	r.Get("/profit-and-loss", h.ProfitAndLoss)
}

func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateParam(w, r, "as_of")
	if !ok {
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), shared.OrgFromContext(r.Context()), asOf)
	if err != nil {
		h.respondError(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) ProfitAndLoss(w http.ResponseWriter, r *http.Request) {
	from, ok := h.dateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.dateParam(w, r, "to")
	if !ok {
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), shared.OrgFromContext(r.Context()), from, to)
	if err != nil {
		h.respondError(w, "profit and loss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, true
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name+", expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
