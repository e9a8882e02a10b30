package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/optimistic"
	"github.com/roach88/replica/internal/publication"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
	"github.com/roach88/replica/internal/testutil"
)

// Harness is the scenario execution engine.
//
// Each run gets a fresh memory collection wrapped in a Faulty collection,
// a replicator over it and, in uuid mode, an optimistic coordinator. uuids
// come from a sequence generator so traces are reproducible.
//
// CRITICAL: every optimistic step waits for its remote call (and any
// compensation) before the next step runs. Without that the background
// broadcasts would interleave with later steps and golden traces would not
// be stable.
type Harness struct {
	remote *collection.Memory
	faulty *collection.Faulty
	rep    *engine.Replicator
	coord  *optimistic.Coordinator
	logger *slog.Logger

	step atomic.Int64

	mu    sync.Mutex
	trace []TraceEvent
}

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the remote collection and seed it
//  2. Build the replicator (and coordinator) from the scenario options
//  3. Execute steps, validating step expectations
//  4. Evaluate assertions against the trace and final state
//
// An error is returned only when the scenario cannot be set up; step and
// assertion failures are reported through Result.Errors.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := newHarness(scenario, cfg.logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		h.step.Store(int64(i))
		if err := h.execute(ctx, i, step); err != nil {
			result.AddError(err.Error())
		}
	}
	if h.coord != nil {
		h.coord.Wait()
	}

	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()
	result.Replica = h.rep.Store().Records()
	result.Remote = h.remote.All()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, logger *slog.Logger) (*Harness, error) {
	var memOpts []collection.MemoryOption
	if p := s.Options.Paginate; p != nil {
		memOpts = append(memOpts, collection.WithPaginate(queryir.Paginate{Default: p.Default, Max: p.Max}))
	}
	remote := collection.NewMemory(memOpts...)

	seed := make([]record.Record, len(s.Seed))
	for i, m := range s.Seed {
		r, err := record.FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		seed[i] = r
	}
	if err := remote.Seed(seed...); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	h := &Harness{
		remote: remote,
		faulty: collection.NewFaulty(remote),
		logger: logger,
	}

	repOpts, err := replicatorOptions(s)
	if err != nil {
		return nil, err
	}
	repOpts = append(repOpts,
		engine.WithSubscriber(h.capture),
		engine.WithLogger(logger),
	)
	h.rep = engine.New(h.faulty, repOpts...)

	if s.Options.UUID {
		h.coord, err = optimistic.New(h.rep, optimistic.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

func replicatorOptions(s *Scenario) ([]engine.Option, error) {
	prefix := s.IDPrefix
	if prefix == "" {
		prefix = "uuid"
	}
	opts := []engine.Option{
		engine.WithUUID(s.Options.UUID),
		engine.WithIDGenerator(testutil.NewSequenceGenerator(prefix)),
	}

	if len(s.Options.Query) > 0 {
		q, err := queryir.Parse(s.Options.Query)
		if err != nil {
			return nil, fmt.Errorf("options.query: %w", err)
		}
		opts = append(opts, engine.WithQuery(q))
	}

	var pubs []replica.Publication
	if len(s.Options.Publication) > 0 {
		filter, err := record.FromMap(s.Options.Publication)
		if err != nil {
			return nil, fmt.Errorf("options.publication: %w", err)
		}
		pub, err := publication.FromFilter(filter)
		if err != nil {
			return nil, fmt.Errorf("options.publication: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if s.Options.PublicationCUE != "" {
		pub, err := publication.FromCUE(s.Options.PublicationCUE)
		if err != nil {
			return nil, fmt.Errorf("options.publication_cue: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if len(pubs) > 0 {
		opts = append(opts, engine.WithPublication(publication.All(pubs...)))
	}

	if len(s.Options.Sort) > 0 {
		sorter, err := parseSorter(s.Options.Sort)
		if err != nil {
			return nil, fmt.Errorf("options.sort: %w", err)
		}
		opts = append(opts, engine.WithSort(sorter))
	}
	return opts, nil
}

func parseSorter(fields []string) (replica.Sorter, error) {
	entries := make([]any, len(fields))
	for i, f := range fields {
		entries[i] = f
	}
	q, err := queryir.Parse(map[string]any{queryir.KeySort: entries})
	if err != nil {
		return nil, err
	}
	return engine.MultiSort(q.Sort...), nil
}

// capture is the replicator's subscriber. Compensations arrive on
// background goroutines, hence the lock.
func (h *Harness) capture(_ []record.Record, change replica.Change) {
	ev := TraceEvent{
		Seq:    change.Seq,
		Step:   int(h.step.Load()),
		Action: change.Action,
		Source: change.Source,
		Event:  change.Event,
		Record: change.Record.Clone(),
		Size:   h.rep.Store().Len(),
	}
	h.mu.Lock()
	h.trace = append(h.trace, ev)
	h.mu.Unlock()
}

// execute runs one step and validates its expectation.
func (h *Harness) execute(ctx context.Context, index int, step Step) error {
	out, err := h.perform(ctx, step)
	if h.coord != nil && isOptimistic(step.Do) {
		h.coord.Wait()
	}

	h.logger.Debug("scenario step", "step", index, "do", step.Do, "error", err)

	if verr := checkExpect(step, out, err); verr != nil {
		return fmt.Errorf("steps[%d] %s: %w", index, step.Do, verr)
	}
	return nil
}

// perform runs the step and returns the records it produced.
func (h *Harness) perform(ctx context.Context, step Step) ([]record.Record, error) {
	data, err := optionalRecord(step.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	var id record.Value = record.Null{}
	if step.ID != nil {
		if id, err = record.FromAny(step.ID); err != nil {
			return nil, fmt.Errorf("id: %w", err)
		}
	}
	var q queryir.Query
	if len(step.Query) > 0 {
		if q, err = queryir.Parse(step.Query); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
	}

	switch step.Do {
	case StepConnect:
		return nil, h.rep.Connect(ctx)
	case StepDisconnect:
		h.rep.Disconnect()
		return nil, nil
	case StepChangeSort:
		sorter, err := parseSorter(step.Sort)
		if err != nil {
			return nil, err
		}
		h.rep.ChangeSort(sorter)
		return nil, nil
	case StepFail:
		switch step.Mode {
		case FailNext:
			h.faulty.FailNext(collection.Operation(step.Op), nil)
		case FailAlways:
			h.faulty.FailAlways(collection.Operation(step.Op), nil)
		case FailHeal:
			h.faulty.Heal()
		}
		return nil, nil

	case StepRemoteCreate:
		return one(h.remote.Create(ctx, data))
	case StepRemoteUpdate:
		return one(h.remote.Update(ctx, id, data))
	case StepRemotePatch:
		return one(h.remote.Patch(ctx, id, data))
	case StepRemoteRemove:
		return one(h.remote.Remove(ctx, id))

	case StepCreate:
		return one(h.coord.Create(ctx, data, q.Select...))
	case StepUpdate:
		return one(h.coord.Update(ctx, id, data))
	case StepPatch:
		return one(h.coord.Patch(ctx, id, data))
	case StepRemove:
		return one(h.coord.Remove(ctx, id))
	case StepPatchMany:
		return h.coord.PatchMany(ctx, q, data)
	case StepRemoveMany:
		return h.coord.RemoveMany(ctx, q)
	case StepFind:
		page, err := h.coord.Find(ctx, q)
		return page.Data, err
	case StepGet:
		return one(h.coord.Get(ctx, id, q.Select...))
	}
	return nil, fmt.Errorf("unknown step %q", step.Do)
}

func one(r record.Record, err error) ([]record.Record, error) {
	if err != nil {
		return nil, err
	}
	return []record.Record{r}, nil
}

func optionalRecord(m map[string]any) (record.Record, error) {
	if m == nil {
		return record.Record{}, nil
	}
	return record.FromMap(m)
}

func isOptimistic(do string) bool {
	switch do {
	case StepCreate, StepUpdate, StepPatch, StepRemove, StepPatchMany, StepRemoveMany:
		return true
	}
	return false
}

// ErrorCode classifies err for step expectations: the engine error code,
// "remote" for any other failure, "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return string(engErr.Code)
	}
	return "remote"
}

func checkExpect(step Step, out []record.Record, err error) error {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if got := ErrorCode(err); !strings.EqualFold(got, want) {
		if err != nil {
			return fmt.Errorf("expected error %q, got %q (%v)", want, got, err)
		}
		return fmt.Errorf("expected error %q, got success", want)
	}
	if step.Expect == nil || err != nil {
		return nil
	}

	if step.Expect.Count != nil && len(out) != *step.Expect.Count {
		return fmt.Errorf("expected %d records, got %d", *step.Expect.Count, len(out))
	}
	if len(step.Expect.Result) > 0 {
		if len(out) == 0 {
			return fmt.Errorf("expected result %v, got no record", step.Expect.Result)
		}
		ok, err := matchSubset(out[0], step.Expect.Result)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("expected result %v, got %s", step.Expect.Result, formatRecord(out[0]))
		}
	}
	return nil
}
