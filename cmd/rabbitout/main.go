package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/glimte/rabbitout"
	"github.com/glimte/rabbitout/config"
	"github.com/glimte/rabbitout/health"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rabbitout",
		Short: "Publish events to a RabbitMQ exchange",
		Long: `rabbitout publishes newline delimited JSON events to a RabbitMQ exchange.
It fails over between the configured hosts and retries every message until
the broker accepts it.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rabbitout.yml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	load := func(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
		logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return nil, nil, err
		}
		cfg, err := config.Load(configPath, os.LookupEnv)
		if err != nil {
			var cfgErr *config.ConfigurationError
			if errors.As(err, &cfgErr) {
				fields := cfgErr.Fields()
				for _, field := range slices.Sorted(maps.Keys(fields)) {
					logger.Error("invalid configuration", "field", field, "error", fields[field])
				}
			}
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	// Publish command
	var (
		workers     int
		raw         bool
		maxRate     float64
		metricsAddr string
	)
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish events read from stdin",
		Long: `Reads one JSON object per line from stdin and publishes each one.
With --raw the lines are sent exactly as read; otherwise they are decoded and
encoded again by the JSON codec.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			pub, err := rabbitout.New(cfg,
				rabbitout.WithLogger(logger),
				rabbitout.WithMetrics(reg, "rabbitout"),
			)
			if err != nil {
				return err
			}
			defer pub.Close()

			// Handle signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case sig := <-sigChan:
					logger.Info("shutting down", "signal", sig.String())
					cancel()
					pub.Close()
				case <-ctx.Done():
				}
			}()

			if metricsAddr != "" {
				srv := newServer(metricsAddr, reg, health.NewRegistry(health.NewBrokerChecker(pub)))
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving metrics", "addr", metricsAddr)
			}

			p := &pipeline{
				newWorker: func() receiver { return pub.NewWorker() },
				workers:   workers,
				raw:       raw,
				logger:    logger,
			}
			if maxRate > 0 {
				burst := int(maxRate)
				if burst < 1 {
					burst = 1
				}
				p.limiter = rate.NewLimiter(rate.Limit(maxRate), burst)
			}

			logger.Info("publishing", "destination", pub.String(), "workers", workers)
			err = p.run(ctx, cmd.InOrStdin())

			s := p.summary()
			logger.Info("done", "read", s.Read, "malformed", s.Malformed, "failed", s.Failed)
			if errors.Is(err, rabbitout.ErrShutdown) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	publishCmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of publishing workers, each with its own channel")
	publishCmd.Flags().BoolVar(&raw, "raw", false, "Publish input lines unchanged")
	publishCmd.Flags().Float64Var(&maxRate, "max-rate", 0, "Maximum events per second, 0 for unlimited")
	publishCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")

	// Check command
	var (
		connect bool
		timeout time.Duration
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}

			pub, err := rabbitout.New(cfg, rabbitout.WithLogger(logger))
			if err != nil {
				return err
			}
			defer pub.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %s\n", pub)
			if !connect {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := pub.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			endpoint, _ := pub.Endpoint()
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s, exchange declared\n", endpoint)
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&connect, "connect", false, "Also connect and declare the exchange")
	checkCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long --connect keeps trying")

	rootCmd.AddCommand(publishCmd, checkCmd)
	return rootCmd
}

func newServer(addr string, reg *prometheus.Registry, checks *health.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/healthz", health.Handler(checks))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
