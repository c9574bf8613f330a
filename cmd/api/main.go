package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/config"
	"bodyshop-storefront/internal/db"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/httpserver"
	"bodyshop-storefront/internal/logging"
	"bodyshop-storefront/internal/metrics"
	"bodyshop-storefront/internal/repository/localstate"
	authsvc "bodyshop-storefront/internal/service/auth"
	cartsvc "bodyshop-storefront/internal/service/cart"
	catalogsvc "bodyshop-storefront/internal/service/catalog"
	checkoutsvc "bodyshop-storefront/internal/service/checkout"
)

const (
	catalogTTL    = 5 * time.Minute
	sweepInterval = time.Minute
	purgeInterval = 6 * time.Hour
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel).With().Str("app", "api").Logger()
	gin.SetMode(gin.ReleaseMode)

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to db")
	}
	defer dbpool.Close()

	m := metrics.New()
	client, err := backend.New(cfg.BackendURL, &http.Client{
		Timeout:   cfg.BackendTimeout,
		Transport: m.InstrumentTransport(http.DefaultTransport),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init backend client")
	}

	bus := events.NewBus(32, logger)
	stateRepo := localstate.NewPostgres(dbpool, logger)
	catalogService := catalogsvc.New(client, catalogTTL, logger)
	carts := cartsvc.NewRegistry(stateRepo, cartsvc.Deps{
		Backend: client,
		Catalog: catalogService,
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	}, cfg.SessionIdle)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		State:    stateRepo,
		Carts:    carts,
		Catalog:  catalogService,
		Auth:     authsvc.New(client, bus, logger),
		Checkout: checkoutsvc.New(client, bus, logger),
		Bus:      bus,
		Metrics:  m,
		DB:       dbpool,
	}, httpserver.Options{
		CORSOrigins:  cfg.CORSOrigins,
		SecureCookie: cfg.SecureCookie,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init server")
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go runJanitor(janitorCtx, logger, carts, dbpool, cfg.RetentionDays)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("backend", client.BaseURL()).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		logger.Info().Msg("server stopped")
	}
}

// runJanitor drops idle cart synchronizers from memory and, less often,
// deletes persisted session state nobody has written for retentionDays.
func runJanitor(ctx context.Context, logger zerolog.Logger, carts *cartsvc.Registry, pool *pgxpool.Pool, retentionDays int) {
	logger = logging.For(logger, "janitor")
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n := carts.Sweep(); n > 0 {
				logger.Debug().Int("dropped", n).Int("held", carts.Len()).Msg("idle sessions swept")
			}
		case <-purge.C:
			if retentionDays <= 0 {
				continue
			}
			removed, err := localstate.PurgeIdle(ctx, pool, retentionDays)
			if err != nil {
				logger.Warn().Err(err).Msg("purge idle session state")
				continue
			}
			logger.Info().Int64("rows", removed).Int("retention_days", retentionDays).Msg("idle session state purged")
		}
	}
}
