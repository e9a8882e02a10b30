package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/optimistic"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// Mutation operations accepted by the mutate command.
const (
	MutateCreate = "create"
	MutateUpdate = "update"
	MutatePatch  = "patch"
	MutateRemove = "remove"
)

// MutateOptions holds flags for the mutate command.
type MutateOptions struct {
	*RootOptions
	Remote string
	Data   string
	Where  string
}

// MutateResult is the JSON payload of the mutate command.
type MutateResult struct {
	Operation   string          `json:"operation"`
	Records     []record.Record `json:"records"`
	Compensated int             `json:"compensated"`
}

// NewMutateCommand creates the mutate command.
func NewMutateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mutate <create|update|patch|remove> [uuid]",
		Short: "Apply one optimistic mutation against a remote collection",
		Long: `Connect a uuid replica to the remote, apply one mutation locally and wait
for the remote call to resolve. If the remote rejects the call the local
change is reverted and the command exits with status 1.

patch and remove without a uuid apply to every record matching --where.

Example:
  replica mutate create --data '{"title":"draft","order":3}'
  replica mutate patch 6f1c... --data '{"order":4}'
  replica mutate remove --where '{"status":"done"}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var uuid record.Value
			if len(args) == 2 {
				uuid = parseIdentity(args[1])
			}
			return runMutate(opts, args[0], uuid, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote websocket URL (default from config)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "record data as a JSON object")
	cmd.Flags().StringVar(&opts.Where, "where", "", "query selecting records for patch/remove without a uuid")

	return cmd
}

func runMutate(opts *MutateOptions, op string, uuid record.Value, cmd *cobra.Command) error {
	req, err := buildMutation(op, uuid, opts.Data, opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid mutation", err)
	}

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

	ctx, cancel := signalContext(cmd)
	defer cancel()

	client, err := dialRemote(ctx, url, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var compensated atomic.Int64
	repOpts, err := cfg.ReplicatorOptions(logger,
		engine.WithUUID(true),
		engine.WithSubscriber(func(_ []record.Record, change replica.Change) {
			if change.Source == replica.SourceCompensation {
				compensated.Add(1)
			}
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid replicator settings", err)
	}
	rep := engine.New(client, repOpts...)
	if err := rep.Connect(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "failed to connect replicator", err)
	}
	defer rep.Disconnect()

	coord, err := optimistic.New(rep, optimistic.WithLogger(logger), optimistic.WithPaginate(cfg.Paginate))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}

	records, err := req.apply(ctx, coord)
	coord.Wait()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeRejected, "mutation refused", err)
	}

	result := MutateResult{Operation: op, Records: records, Compensated: int(compensated.Load())}
	if result.Compensated > 0 {
		_ = formatter.Error(ErrCodeCompensated, "remote rejected the mutation", result)
		return NewExitError(ExitFailure, fmt.Sprintf("remote rejected %d change(s); replica reverted", result.Compensated))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	if err := printRecords(cmd.OutOrStdout(), records); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s applied to %d record(s)\n", op, len(records))
	return nil
}

// mutation is a validated mutate request.
type mutation struct {
	op    string
	uuid  record.Value
	data  record.Record
	where queryir.Query
}

func buildMutation(op string, uuid record.Value, data, where string) (*mutation, error) {
	m := &mutation{op: op, uuid: uuid}

	switch op {
	case MutateCreate, MutateUpdate, MutatePatch:
		if data == "" {
			return nil, fmt.Errorf("%s requires --data", op)
		}
		rec, err := parseRecord(data)
		if err != nil {
			return nil, err
		}
		m.data = rec
	case MutateRemove:
		if data != "" {
			return nil, fmt.Errorf("remove does not take --data")
		}
	default:
		return nil, fmt.Errorf("unknown operation %q: must be create, update, patch or remove", op)
	}

	switch op {
	case MutateCreate:
		if uuid != nil {
			return nil, fmt.Errorf("create takes no uuid argument; put uuid in --data")
		}
	case MutateUpdate:
		if uuid == nil {
			return nil, fmt.Errorf("update requires a uuid")
		}
		if _, ok := m.data[record.FieldUUID]; !ok {
			m.data[record.FieldUUID] = uuid
		}
	case MutatePatch, MutateRemove:
		if uuid != nil && where != "" {
			return nil, fmt.Errorf("%s takes either a uuid or --where, not both", op)
		}
	}

	if where != "" {
		if op == MutateCreate || op == MutateUpdate {
			return nil, fmt.Errorf("%s does not take --where", op)
		}
		var raw record.Record
		if err := json.Unmarshal([]byte(where), &raw); err != nil {
			return nil, fmt.Errorf("invalid --where JSON: %w", err)
		}
		q, err := queryir.ParseRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --where query: %w", err)
		}
		m.where = q
	}
	return m, nil
}

func (m *mutation) apply(ctx context.Context, coord *optimistic.Coordinator) ([]record.Record, error) {
	one := func(r record.Record, err error) ([]record.Record, error) {
		if err != nil {
			return nil, err
		}
		return []record.Record{r}, nil
	}

	switch m.op {
	case MutateCreate:
		return one(coord.Create(ctx, m.data))
	case MutateUpdate:
		return one(coord.Update(ctx, m.uuid, m.data))
	case MutatePatch:
		if m.uuid == nil {
			return coord.PatchMany(ctx, m.where, m.data)
		}
		return one(coord.Patch(ctx, m.uuid, m.data))
	default:
		if m.uuid == nil {
			return coord.RemoveMany(ctx, m.where)
		}
		return one(coord.Remove(ctx, m.uuid))
	}
}
