package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/clearbooks/clearbooks/internal/observability"
	"github.com/clearbooks/clearbooks/internal/platform/httpx"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// Tenant and actor headers. The gateway in front of this service
// authenticates the caller and forwards the resolved identifiers.
const (
	HeaderOrgID   = "X-Org-ID"
	HeaderActorID = "X-Actor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// TenantMiddleware resolves the organization and actor headers into the
// request context. Requests without a valid organization are rejected
// before they reach any handler.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := strconv.ParseInt(r.Header.Get(HeaderOrgID), 10, 64)
		if err != nil || orgID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "missing or invalid "+HeaderOrgID+" header")
			return
		}
		ctx := shared.ContextWithOrg(r.Context(), orgID)
		if actorID, err := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64); err == nil && actorID > 0 {
			ctx = shared.ContextWithActor(ctx, actorID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewareStack installs the middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	ratePerMinute := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		ratePerMinute = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(ratePerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}
