package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"collectroute/internal/api"
	"collectroute/internal/auth"
	"collectroute/internal/geofence"
	"collectroute/internal/lifecycle"
	"collectroute/internal/webhooks"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the webhook worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	return cmd
}

func serve(ctx context.Context) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	broker, closeFeed := openFeed(cfg)
	defer func() { _ = closeFeed() }()

	verifier, err := auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.Secret)
	if err != nil {
		return err
	}

	eng := lifecycle.New(st, broker)
	eng.AutoStart = cfg.Lifecycle.AutoStart

	var sinks []geofence.Sink
	pub := webhooks.NewPublisher(st, cfg.Webhook.URL, cfg.Webhook.Secret)
	if cfg.Webhook.URL != "" {
		eng.Notifiers = append(eng.Notifiers, pub)
		sinks = append(sinks, pub)
	}

	srv := api.New(api.Options{
		Engine:    eng,
		Auth:      verifier,
		Geofence:  cfg.Geofence,
		Sinks:     sinks,
		RateRPS:   cfg.Rate.RPS,
		RateBurst: cfg.Rate.Burst,
		Settings: map[string]any{
			"http.addr":            cfg.HTTP.Addr,
			"db.driver":            cfg.DB.Driver,
			"auth.mode":            verifier.Mode,
			"rate.rps":             cfg.Rate.RPS,
			"rate.burst":           cfg.Rate.Burst,
			"webhook.enabled":      cfg.Webhook.URL != "",
			"webhook.max_attempts": cfg.Webhook.MaxAttempts,
			"redis.enabled":        cfg.Redis.URL != "",
			"lifecycle.auto_start": cfg.Lifecycle.AutoStart,
		},
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", cfg.HTTP.Addr).Info("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return webhooks.NewWorker(st, cfg.Webhook.MaxAttempts).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
