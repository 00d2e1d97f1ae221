package contacts

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
	r.Delete("/{id}", h.Deactivate)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromQuery(r.URL.Query())
	contacts, total, err := h.service.List(r.Context(), shared.OrgFromContext(r.Context()), filters)
	if err != nil {
		h.respondError(w, "list contacts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contacts": contacts, "total": total})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contact id")
		return
	}
	contact, err := h.service.Get(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "get contact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, contact)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	contact, err := h.service.Create(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "create contact", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, contact)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contact id")
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	contact, err := h.service.Update(r.Context(), shared.OrgFromContext(r.Context()), id, in)
	if err != nil {
		h.respondError(w, "update contact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, contact)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid contact id")
		return
	}
	if err := h.service.Deactivate(r.Context(), shared.OrgFromContext(r.Context()), id); err != nil {
		h.respondError(w, "deactivate contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrNameRequired), errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
