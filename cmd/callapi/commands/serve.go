package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/internal/relay"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/fivetwenty-io/callapi/pkg/dispatcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var (
		addr       string
		revalidate time.Duration
		tags       []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server-context relay",
		Long: `Run an HTTP server that relays /api/* to the configured base URL through
the server context. The caller's token cookie is forwarded as a bearer token
and GET responses are cached with the given directives.

Routes:
  /api/*         relayed request, answered with the envelope
  POST /revalidate?tag=T   drop cached entries carrying tag T
  GET /metrics   Prometheus metrics
  GET /healthz   liveness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr, &callapi.CacheDirectives{Revalidate: revalidate, Tags: tags})
		},
	}

	cmd.Flags().StringVar(&addr, "listen", constants.DefaultListenAddr, "listen address")
	cmd.Flags().DurationVar(&revalidate, "revalidate", 0, "cache lifetime for relayed GET responses")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "cache tag applied to relayed GET responses (repeatable)")

	return cmd
}

func runServe(cmd *cobra.Command, addr string, directives *callapi.CacheDirectives) error {
	s := loadSettings()
	logger := newLogger()

	cacheConfig, err := s.cacheConfig()
	if err != nil {
		return err
	}

	backend, err := callapi.NewCacheFromConfig(cacheConfig)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	defer func() {
		closeErr := callapi.CloseCache(backend)
		if closeErr != nil {
			logger.Warn("Failed to close cache", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	dataCache := callapi.NewDataCache(backend, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	metrics := callapi.NewMetricsCollectorWithRegistry(registry)

	cfg, err := s.dispatcherConfig(callapi.ServerContext, logger)
	if err != nil {
		return err
	}

	cfg.FetchCache = dataCache
	cfg.Interceptors.
		AddRequestInterceptor(callapi.MetricsRequestInterceptor(metrics)).
		AddResponseInterceptor(callapi.MetricsResponseInterceptor(metrics))

	d, err := dispatcher.New(cfg)
	if err != nil {
		return err
	}

	if !directives.Active() {
		directives = nil
	}

	handler, err := relay.NewServer(relay.Config{
		Dispatcher: d,
		Cache:      dataCache,
		Directives: directives,
		Metrics:    metrics,
		Gatherer:   registry,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Warn("Relay listening", map[string]interface{}{
			"addr":     addr,
			"upstream": s.API,
			"cache":    string(cacheConfig.Type),
		})

		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("relay server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down relay: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Relay stopped")

	return nil
}
