package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearbooks/clearbooks/internal/ap"
	"github.com/clearbooks/clearbooks/internal/app"
	"github.com/clearbooks/clearbooks/internal/ar"
	"github.com/clearbooks/clearbooks/internal/ledger"
	"github.com/clearbooks/clearbooks/internal/masterdata/accounts"
	"github.com/clearbooks/clearbooks/internal/masterdata/contacts"
	"github.com/clearbooks/clearbooks/internal/masterdata/taxes"
	"github.com/clearbooks/clearbooks/internal/observability"
	"github.com/clearbooks/clearbooks/internal/platform/cache"
	"github.com/clearbooks/clearbooks/internal/platform/db"
	"github.com/clearbooks/clearbooks/internal/reports"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// postingObserver decorates the audit logger: every successful journal
// posting invalidates cached reports and feeds the posting counter.
type postingObserver struct {
	audit   *shared.AuditLogger
	cache   *reports.Cache
	metrics *observability.Metrics
	logger  *slog.Logger
}

func (o *postingObserver) Record(ctx context.Context, log shared.AuditLog) error {
	if log.Action == "journal.post" || log.Action == "journal.reverse" {
		if source, ok := log.Meta["source"].(string); ok {
			o.metrics.EntryPosted(source)
		} else {
			o.metrics.EntryPosted("")
		}
		if err := o.cache.Bump(ctx); err != nil {
			o.logger.Warn("report cache bump", slog.Any("error", err))
		}
	}
	return o.audit.Record(ctx, log)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, PoolSize: cfg.RedisPoolSize})
	if err != nil {
		logger.Warn("redis unavailable, report caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	reportCache := reports.NewCache(redisClient, cfg.ReportCacheTTL)
	ledgerAudit := &postingObserver{audit: auditLogger, cache: reportCache, metrics: metrics, logger: logger}

	ledgerService := ledger.NewService(ledger.NewRepositoryFactory(pool), ledgerAudit)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)
	mappings := ledger.NewMappings(pool)

	accountsService := accounts.NewService(accounts.NewRepositoryFactory(pool))
	accountsHandler := accounts.NewHandler(logger, accountsService)
	contactsService := contacts.NewService(contacts.NewRepositoryFactory(pool))
	contactsHandler := contacts.NewHandler(logger, contactsService)
	taxesService := taxes.NewService(taxes.NewRepositoryFactory(pool))
	taxesHandler := taxes.NewHandler(logger, taxesService)

	idempotencyStore := shared.NewIdempotencyStore(pool)
	arService := ar.NewService(ar.NewRepositoryFactory(pool), ledgerService, mappings, taxesService, auditLogger, idempotencyStore)
	arHandler := ar.NewHandler(logger, arService)
	apService := ap.NewService(ap.NewRepositoryFactory(pool), ledgerService, mappings, taxesService, auditLogger, idempotencyStore)
	apHandler := ap.NewHandler(logger, apService)

	reportsService := reports.NewService(reports.NewRepository(pool), reportCache)
	reportsHandler := reports.NewHandler(logger, reportsService)
	if err := reportCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("report cache invalidation listener", slog.Any("error", err))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledgerHandler,
		AccountsHandler: accountsHandler,
		ContactsHandler: contactsHandler,
		TaxesHandler:    taxesHandler,
		ARHandler:       arHandler,
		APHandler:       apHandler,
		ReportsHandler:  reportsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
