package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/cota-system/cota/internal/app"
	"github.com/cota-system/cota/internal/observability"
	"github.com/cota-system/cota/internal/platform/cache"
	"github.com/cota-system/cota/internal/quotations"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/suppliers"
	"github.com/cota-system/cota/internal/view"
	"github.com/cota-system/cota/jobs"
	"github.com/cota-system/cota/report"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the supplier portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				slog.Default().Info("test mode detected, skipping runtime startup")
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, stop)
		},
	}
}

func serve(ctx context.Context, stop context.CancelFunc) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg, logger := e.cfg, e.logger

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		return err
	}
	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	reportClient := report.NewClient(cfg.GotenbergURL)
	services, err := app.NewServices(app.ServiceParams{
		Config:    cfg,
		Logger:    logger,
		Pool:      e.pool,
		Redis:     redisClient,
		Metrics:   metrics,
		Queue:     queue,
		PDF:       reportClient,
		Templates: templates,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := services.Suppliers.ListenForChanges(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("supplier catalog listener", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RequisitionHandler: requisitions.NewHandler(logger, services.Requisitions, cfg.ImportMaxBytes),
		SupplierHandler:    suppliers.NewHandler(logger, services.Suppliers, cfg.ImportMaxBytes),
		QuotationHandler:   quotations.NewHandler(logger, services.Quotations, services.Requisitions, cfg.ImportMaxBytes),
		PortalHandler:      quotations.NewPortalHandler(logger, services.Quotations),
		ReportHandler:      report.NewHandler(reportClient, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
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
		return err
	}
	return nil
}
