package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/transport"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command. Empty flags fall back to
// the serve section of the config file.
type ServeOptions struct {
	*RootOptions
	Addr   string
	Driver string
	DSN    string
	Table  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a SQL-backed collection over websocket",
		Long: `Serve a SQL-backed collection to replica clients.

The collection is stored as JSON documents in SQLite (sqlite3 or the pure-Go
sqlite driver) or Postgres (pgx). Clients connect to ` + RecordsPath + ` and receive
every created, updated, patched and removed event. Prometheus metrics are
served at /metrics.

Example:
  replica serve --dsn ./records.db
  replica serve --driver pgx --dsn postgres://localhost/replica --addr :9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "database driver: sqlite3, sqlite or pgx")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "database file path or connection URL")
	cmd.Flags().StringVar(&opts.Table, "table", "", "document table name")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Serve.Addr = opts.Addr
	}
	if opts.Driver != "" {
		cfg.Serve.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Serve.DSN = opts.DSN
	}
	if opts.Table != "" {
		cfg.Serve.Table = opts.Table
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid serve settings", err)
	}
	logger := opts.setupLogging(cmd, cfg)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	logger.Info("opening database", "driver", cfg.Serve.Driver, "dsn", cfg.Serve.DSN, "table", cfg.Serve.Table)
	coll, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := coll.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newServeMux(coll, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("serving collection", "addr", cfg.Serve.Addr, "path", RecordsPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s. Press Ctrl-C to stop.\n", RecordsPath, cfg.Serve.Addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// newServeMux routes the collection transport and the metrics endpoint.
// Go runtime and process collectors are registered on reg.
func newServeMux(coll collection.Collection, reg *prometheus.Registry, logger *slog.Logger) *http.ServeMux {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle(RecordsPath, transport.NewServer(coll, transport.WithServerLogger(logger)))
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}
