package ap

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

// Handler exposes the bill API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills", h.List)
	r.Post("/bills", h.Create)
	r.Get("/bills/aging", h.Aging)
	r.Get("/bills/{id}", h.Get)
	r.Post("/bills/{id}/post", h.Post)
	r.Post("/bills/{id}/void", h.Void)
	r.Get("/bills/{id}/payments", h.ListPayments)
	r.Post("/bills/{id}/payments", h.Pay)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := shared.FiltersFromQuery(r.URL.Query())
	status := BillStatus(r.URL.Query().Get("status"))
	bills, total, err := h.service.ListBills(r.Context(), shared.OrgFromContext(r.Context()), filters, status)
	if err != nil {
		h.respondError(w, "list bills", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": bills, "total": total})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	bill, err := h.service.GetBill(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
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
	bill, err := h.service.CreateBill(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "create bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	ctx := r.Context()
	bill, err := h.service.PostBill(ctx, shared.OrgFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, "post bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	ctx := r.Context()
	bill, err := h.service.VoidBill(ctx, shared.OrgFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.respondError(w, "void bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	var req payBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.FieldProblem(w, fieldErrors(err))
		return
	}
	in, err := req.toPayInput(id, shared.ActorFromContext(r.Context()), r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	bill, err := h.service.PayBill(r.Context(), shared.OrgFromContext(r.Context()), in)
	if err != nil {
		h.respondError(w, "pay bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), shared.OrgFromContext(r.Context()), id)
	if err != nil {
		h.respondError(w, "list bill payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) Aging(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.service.Aging(r.Context(), shared.OrgFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "payables aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrBillNotFound), errors.Is(err, taxes.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrTaxNotApplicable),
		errors.Is(err, ledger.ErrUnknownAccount), errors.Is(err, ledger.ErrAccountInactive),
		errors.Is(err, ledger.ErrMappingNotFound), errors.Is(err, shared.ErrOrgMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrPaymentExceedsBalance),
		errors.Is(err, ErrDuplicateVendorRef), errors.Is(err, ledger.ErrSourceAlreadyLinked),
		errors.Is(err, ledger.ErrInvalidStatus), errors.Is(err, shared.ErrIdempotencyConflict):
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
