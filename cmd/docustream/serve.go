package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/docustream/engine/api"
	"github.com/WessleyAI/docustream/engine/ingest"
	"github.com/WessleyAI/docustream/pkg/config"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOpts) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(os.Stdout)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTP.Port = port
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

// serve runs until ctx is cancelled. When ready is non-nil the bound address
// is sent on it once the listener is up.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ready chan<- string) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.HTTP.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	tracker := ingest.NewTracker(cfg.Dispatcher.TrackerSize)
	runner := ingest.NewRunner(a.orch, tracker, ingest.NewMetrics(a.registry), logger)
	disp, release, err := newDispatcher(cfg.Dispatcher, runner, logger)
	if err != nil {
		return err
	}
	defer release()

	server := api.New(a.index, disp, tracker, api.Options{
		UploadDir:         cfg.HTTP.UploadDir,
		AllowedExtensions: cfg.HTTP.AllowedExtensions,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
		CORSOrigin:        cfg.HTTP.CORSOrigin,
		ServiceName:       "docustream",
		Metrics:           a.registry,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", ln.Addr().String(), "dispatcher", cfg.Dispatcher.Kind)
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			disp.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	grace := cfg.HTTP.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	httpErr := srv.Shutdown(shutCtx)
	dispErr := disp.Close(shutCtx)
	logger.Info("api server stopped")
	return errors.Join(httpErr, dispErr)
}
