package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/replica/internal/record"
)

// TraceSnapshot captures the broadcast trace and final replica of a run.
// It is serialized as canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Replica      []record.Record
}

// toRecord converts the snapshot to a record so record.MarshalCanonical
// can serialize it.
func (s *TraceSnapshot) toRecord() record.Record {
	trace := make(record.Array, len(s.Trace))
	for i, ev := range s.Trace {
		entry := record.Record{
			"seq":    record.Int(ev.Seq),
			"step":   record.Int(ev.Step),
			"action": record.String(ev.Action),
			"source": record.String(ev.Source.String()),
			"size":   record.Int(ev.Size),
		}
		if ev.Event != "" {
			entry["event"] = record.String(ev.Event)
		}
		if ev.Record != nil {
			entry["record"] = ev.Record
		}
		trace[i] = entry
	}

	replica := make(record.Array, len(s.Replica))
	for i, r := range s.Replica {
		replica[i] = r
	}

	return record.Record{
		"scenario_name": record.String(s.ScenarioName),
		"trace":         trace,
		"replica":       replica,
	}
}

// MarshalGolden serializes the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalGolden() ([]byte, error) {
	return record.MarshalCanonical(s.toRecord())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Replica:      result.Replica,
	}
	data, err := snapshot.MarshalGolden()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
