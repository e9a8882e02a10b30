package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/record"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Remote string
}

// SnapshotResult is the JSON payload of the snapshot command.
type SnapshotResult struct {
	Count   int             `json:"count"`
	Records []record.Record `json:"records"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch every record matching the query once",
		Long: `Fetch the records matching the configured query, following server-side
pagination, and print them in replica order (publication and sort applied).

Example:
  replica snapshot --remote ws://localhost:8080/records
  replica snapshot --config replica.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote websocket URL (default from config)")

	return cmd
}

func runSnapshot(opts *SnapshotOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	url, err := remoteURL(opts.Remote, cfg)
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd, cfg)
	formatter := opts.formatter(cmd)

	q, err := cfg.ParsedQuery()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}
	pub, err := cfg.BuildPublication()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid publication", err)
	}
	keys, err := cfg.SortKeys()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid sort", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	client, err := dialRemote(ctx, url, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := collection.Snapshot(ctx, client, q)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "snapshot failed", err)
	}
	if pub != nil {
		records = slices.DeleteFunc(records, func(r record.Record) bool { return !pub(r) })
	}
	if len(keys) > 0 {
		slices.SortStableFunc(records, engine.MultiSort(keys...))
	}
	formatter.VerboseLog("Fetched %d record(s) from %s", len(records), url)

	if opts.Format == "json" {
		return formatter.Success(SnapshotResult{Count: len(records), Records: records})
	}
	if err := printRecords(cmd.OutOrStdout(), records); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(records))
	return nil
}
