package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clearbooks/clearbooks/internal/ap"
	"github.com/clearbooks/clearbooks/internal/ar"
	"github.com/clearbooks/clearbooks/internal/ledger"
	"github.com/clearbooks/clearbooks/internal/masterdata/accounts"
	"github.com/clearbooks/clearbooks/internal/masterdata/contacts"
	"github.com/clearbooks/clearbooks/internal/masterdata/taxes"
	"github.com/clearbooks/clearbooks/internal/observability"
	"github.com/clearbooks/clearbooks/internal/reports"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	LedgerHandler   *ledger.Handler
	AccountsHandler *accounts.Handler
	ContactsHandler *contacts.Handler
	TaxesHandler    *taxes.Handler
	ARHandler       *ar.Handler
	APHandler       *ap.Handler
	ReportsHandler  *reports.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router. Every business route sits behind the
// tenant middleware; /healthz and /metrics stay outside it.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		if params.LedgerHandler != nil {
			r.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.AccountsHandler != nil {
			r.Route("/accounts", params.AccountsHandler.MountRoutes)
		}
		if params.ContactsHandler != nil {
			r.Route("/contacts", params.ContactsHandler.MountRoutes)
		}
		if params.TaxesHandler != nil {
			r.Route("/tax-rates", params.TaxesHandler.MountRoutes)
		}
		if params.ARHandler != nil {
			r.Route("/ar", params.ARHandler.MountRoutes)
		}
		if params.APHandler != nil {
			r.Route("/ap", params.APHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
	})

	return r
}
