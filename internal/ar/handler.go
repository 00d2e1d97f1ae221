package ar

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearbooks/clearbooks/internal/ledger"
	"github.com/clearbooks/clearbooks/internal/masterdata/taxes"
	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// Handler exposes the invoice API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices", h.List)
	r.Post("/invoices", h.Create)
	r.Get("/invoices/aging", h.Aging)
	r.Get("/invoices/{id}", h.Get)
	r.Post("/invoices/{id}/post", h.Post)
	r.Post("/invoices/{id}/void", h.Void)
	r.Get("/invoices/{id}/payments", h.ListPayments)
	r.Post("/invoices/{id}/payments", h.RegisterPayment)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromQuery(r.URL.Query())
	status := InvoiceStatus(r.URL.Query().Get("status"))
	invoices, total, err := h.service.ListInvoices(r.Context(), shared.OrgFromContext(r.Context()), filters, status)
	if err != nil {
		h.respondError(w, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices, "total": total})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.FieldProblem(w, fieldErrors(err))
		return
	}
	in, err := req.toCreateInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	ctx := r.Context()
	inv, err := h.service.PostInvoice(ctx, shared.OrgFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, "post invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	ctx := r.Context()
	inv, err := h.service.VoidInvoice(ctx, shared.OrgFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, "void invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req registerPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.FieldProblem(w, fieldErrors(err))
		return
	}
	in, err := req.toPaymentInput(id, shared.ActorFromContext(r.Context()), r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.RegisterPayment(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) Aging(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.service.Aging(r.Context(), shared.OrgFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "receivables aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, taxes.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrTaxNotApplicable),
		errors.Is(err, ledger.ErrUnknownAccount), errors.Is(err, ledger.ErrAccountInactive),
		errors.Is(err, ledger.ErrMappingNotFound), errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrPaymentExceedsBalance),
		errors.Is(err, ledger.ErrSourceAlreadyLinked), errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
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
