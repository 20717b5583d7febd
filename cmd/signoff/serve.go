package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/api"
	"github.com/xraph/signoff/engine"
	"github.com/xraph/signoff/stream"
)

func newServeCmd(load func() (*fileConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the approval engine and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := cfg.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *fileConfig, logger *slog.Logger) error {
	tel, err := setupTelemetry(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	if cfg.Store.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return err
		}
	}

	rt, err := signoff.New(
		signoff.WithConfig(cfg.runtimeConfig()),
		signoff.WithLogger(logger),
		signoff.WithStore(s),
	)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer rt.Close()

	broker := stream.NewBroker(logger)
	engOpts := []engine.Option{engine.WithExtension(broker)}
	apiOpts := []api.Option{api.WithLogger(logger), api.WithStream(broker)}
	if tel.tp != nil {
		engOpts = append(engOpts, engine.WithTracerProvider(tel.tp))
		apiOpts = append(apiOpts, api.WithTracerProvider(tel.tp))
	}
	if tel.mp != nil {
		engOpts = append(engOpts, engine.WithMeterProvider(tel.mp))
	}

	eng, err := engine.Build(rt, engOpts...)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams stay open until their subscriber closes.
	srv.RegisterOnShutdown(func() { _ = broker.OnShutdown(context.Background()) })
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("store", cfg.Store.Driver),
		)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine stop: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
