package cli

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Remote      string
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replicate a remote collection and print every change",
		Long: `Connect a replicator to a remote collection and print every broadcast.

The query, publication and sort of the config file shape the replica.
Text output prints one line per change; --format json prints one JSON object
per change. Runs until interrupted or the remote closes the connection.

Example:
  replica watch --remote ws://localhost:8080/records
  replica watch --config replica.yaml --format json --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote websocket URL (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve replica metrics on this address (default from config)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	url, err := remoteURL(opts.Remote, cfg)
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd, cfg)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	client, err := dialRemote(ctx, url, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	w := cmd.OutOrStdout()
	extra := []engine.Option{
		engine.WithSubscriber(func(records []record.Record, change replica.Change) {
			if err := printChange(w, opts.Format, records, change); err != nil {
				logger.Error("failed to print change", "seq", change.Seq, "error", err)
			}
		}),
	}

	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		extra = append(extra, engine.WithObserver(metrics.New(reg)))
		stop := serveMetrics(metricsAddr, reg, logger)
		defer stop()
	}

	repOpts, err := cfg.ReplicatorOptions(logger, extra...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid replicator settings", err)
	}
	rep := engine.New(client, repOpts...)

	if err := rep.Connect(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect replicator", err)
	}
	defer rep.Disconnect()
	logger.Info("watching remote", "url", url, "records", rep.Store().Len())

	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.Warn("remote closed the connection")
	}
	return nil
}

// serveMetrics serves reg on addr in the background until stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		if err := srv.Close(); err != nil {
			logger.Warn("closing metrics server", "error", err)
		}
	}
}
