package taxes

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromQuery(r.URL.Query())
	rates, total, err := h.service.List(r.Context(), shared.OrgFromContext(r.Context()), filters)
	if err != nil {
		h.respondError(w, "list tax rates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tax_rates": rates, "total": total})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tax rate id")
		return
	}
	rate, err := h.service.Get(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "get tax rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	rate, err := h.service.Create(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "create tax rate", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tax rate id")
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	rate, err := h.service.Update(r.Context(), shared.OrgFromContext(r.Context()), id, in)
	if err != nil {
		h.respondError(w, "update tax rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid tax rate id")
		return
	}
	if err := h.service.Delete(r.Context(), shared.OrgFromContext(r.Context()), id); err != nil {
		h.respondError(w, "delete tax rate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidRate), errors.Is(err, ErrInvalidApplicability),
		errors.Is(err, ErrNameRequired), errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
