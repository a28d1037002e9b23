package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/announcement"
	"github.com/Shivanand-hulikatti/conference-central/internal/config"
	"github.com/Shivanand-hulikatti/conference-central/internal/database"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
	"github.com/Shivanand-hulikatti/conference-central/internal/handler"
	"github.com/Shivanand-hulikatti/conference-central/internal/notify"
	"github.com/Shivanand-hulikatti/conference-central/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides server.port)")
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open the datastore ─────────────────────────────────────────────
	backend, err := openBackend(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	db := datastore.NewClient(backend,
		datastore.WithBeginAttempts(cfg.Datastore.BeginAttempts),
		datastore.WithLogger(logger.Named("datastore")))
	defer func() { _ = db.Close() }()

	// ── 2. Start the notification workers ────────────────────────────────
	sender := notify.LogSender{From: cfg.Notify.From, Log: logger.Named("mail")}
	dispatcher := notify.NewDispatcher(sender, notify.Options{
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		MaxAttempts:    cfg.Notify.MaxAttempts,
		InitialBackoff: cfg.Notify.InitialBackoff,
	}, logger.Named("notify"))
	dispatcher.Start(context.WithoutCancel(ctx))

	// ── 3. Wire up layers ────────────────────────────────────────────────
	announcements := announcement.NewCache(cfg.Cache.AnnouncementTTL, cfg.Cache.CleanupInterval, logger.Named("announcement"))
	svc := service.NewConferenceService(db, dispatcher, announcements, service.Options{
		TxRetries:       cfg.Datastore.TxRetries,
		ProfileCacheTTL: cfg.Cache.ProfileTTL,
		CacheCleanup:    cfg.Cache.CleanupInterval,
	}, logger.Named("service"))
	h := handler.NewConferenceHandler(svc, logger.Named("http"))

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.NewRouter(h, logger.Named("access")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Block until SIGINT/SIGTERM or the listener fails.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notifications not drained", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func openBackend(ctx context.Context, dbCfg config.DatabaseConfig, log *zap.Logger) (datastore.Backend, error) {
	if dbCfg.Driver != config.DriverPostgres {
		log.Warn("using in-memory datastore; data is lost on exit")
		return datastore.NewMemoryBackend(), nil
	}
	if dbCfg.MigrateOnStart {
		if err := database.Migrate(dbCfg, log.Named("migrate")); err != nil {
			return nil, err
		}
	}
	pool, err := database.NewPool(ctx, dbCfg, log.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("connected to PostgreSQL", zap.String("host", dbCfg.Host), zap.String("name", dbCfg.Name))
	return database.NewBackend(pool, log.Named("db")), nil
}
