package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// Handler exposes the journal posting API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the ledger HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes attaches ledger endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/journal-entries", h.List)
	r.Post("/journal-entries", h.Post)
	r.Get("/journal-entries/{id}", h.Get)
	r.Post("/journal-entries/{id}/reverse", h.Reverse)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.FieldProblem(w, fieldErrors(err))
		return
	}
	input, err := req.toPostingInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.PostEntry(r.Context(), shared.OrgFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, r, "post journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.GetEntry(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, r, "get journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromQuery(r.URL.Query())
	entries, err := h.service.ListEntries(r.Context(), shared.OrgFromContext(r.Context()), filters)
	if err != nil {
		h.respondError(w, r, "list journal entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req reverseEntryRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
			return
		}
	}
	reversal, err := h.service.ReverseEntry(r.Context(), shared.OrgFromContext(r.Context()), ReverseInput{
		EntryID:     id,
		ActorID:     shared.ActorFromContext(r.Context()),
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, r, "reverse journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrUnbalanced):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Debits must equal credits")
	case errors.Is(err, ErrTooFewLines), errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrAccountInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrSourceAlreadyLinked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func fieldErrors(err error) []httpx.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []httpx.FieldError{{Field: "body", Reason: err.Error()}}
	}
	out := make([]httpx.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, httpx.FieldError{Field: fe.Field(), Reason: fe.Tag()})
	}
	return out
}
