package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coauthor/api/internal/app"
	"coauthor/api/internal/config"
	"coauthor/api/internal/email"
	"coauthor/api/internal/gitrepo"
	"coauthor/api/internal/logging"
	"coauthor/api/internal/metrics"
	"coauthor/api/internal/notify"
	"coauthor/api/internal/search"
)

var gracefulTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New("server")

	persist, err := openPersistence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer persist.Close()

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		return fmt.Errorf("create snapshots dir: %w", err)
	}
	snapshots := gitrepo.New(cfg.SnapshotsDir)

	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logging.New("search"))
		defer meili.Close()
	}
	var fallback search.Searcher
	if persist.db != nil {
		fallback = search.NewPgFTS(persist.db)
	}
	searchService := search.NewService(meili, fallback, logging.New("search"))

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if !mailer.IsConfigured() {
		logger.Infow("smtp not configured, invitation mail disabled")
	}
	notifiers := notify.Fanout{mailer}
	if cfg.RedisURL != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.RedisURL, cfg.InviteTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisNotifier.Close()
		notifiers = append(notifiers, redisNotifier)
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		return err
	}

	service := app.New(persist.store, app.Options{
		ApprovalsRequired: cfg.ApprovalsRequired,
		LockTimeout:       cfg.LockTimeout,
		Notifier:          notifiers,
		Snapshots:         snapshots,
		Search:            searchService,
		Logger:            logging.New("app"),
		Metrics:           m,
	})
	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		TokenSecret: cfg.TokenSecret,
		CORSOrigin:  cfg.CORSOrigin,
		Metrics:     m.Handler(),
		Logger:      logging.New("http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("coauthor api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Infow("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("shutdown error", "error", err)
	}
	service.Wait()
	return nil
}
