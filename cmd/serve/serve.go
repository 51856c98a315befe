package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor"
	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/utils/logging"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	addr          string
	drainInterval time.Duration
}

func NewCmdServe(load config.Loader) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor as an HTTP sidecar",
		Long: `Run the monitor as an HTTP sidecar.

Applications POST caught deserialization failures to /v1/errors. Reports are stored
locally and delivered to the configured webhook and Sentry project.

Examples:
  # Listen on the configured address
  api-error-monitor serve --config monitor.yaml

  # Retry failed deliveries every five minutes
  api-error-monitor serve --addr :9000 --drain-interval 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.ListenAddr = opts.addr
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (overrides listen_addr)")
	cmd.Flags().DurationVar(&opts.drainInterval, "drain-interval", 0, "Drain the retry queue on this interval (0 disables)")

	return cmd
}

func run(ctx context.Context, cfg config.Config, opts *options) error {
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m, err := monitor.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.drainInterval > 0 {
		go drainLoop(ctx, m, opts.drainInterval, logger)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(NewHandlers(ctx, m, logger), cfg.Debug),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("app", cfg.AppName),
			zap.Bool("reporting", cfg.ReportingActive()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server", zap.Int("pending", m.Pending()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// drainLoop redelivers queued reports every interval until ctx ends.
func drainLoop(ctx context.Context, m *monitor.Monitor, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Pending() == 0 {
				continue
			}
			if _, err := m.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("scheduled drain failed", zap.Error(err))
			}
		}
	}
}
