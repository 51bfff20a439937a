package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/cachegate/observe"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache gateway",
		Long:  "Run the HTTP API, the listener scheduler and the entry retention sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			path, _ := cmd.Flags().GetString("config")
			cfg, logger, err := loadConfig(ctx, path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			obs, err := observe.NewObserver(ctx, cfg.Observe.ObserverConfig(version), logger)
			if err != nil {
				return fmt.Errorf("observer: %w", err)
			}
			a, err := newApp(ctx, cfg, obs)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.start(ctx); err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      a.handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info(ctx, "cachegate started",
					observe.F("addr", cfg.Server.Addr),
					observe.F("version", version),
					observe.F("store", cfg.Store.Backend),
					observe.F("counters", cfg.Counters.Backend),
					observe.F("listeners", cfg.Listeners.Enabled))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info(context.Background(), "shutdown signal received")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
			defer cancel()
			errs := []error{serveErr}
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown http: %w", err))
			}
			if err := a.stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop background work: %w", err))
			}
			if err := obs.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown observer: %w", err))
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "", "Listen address (overrides server.addr)")
	return cmd
}
