package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
)

// The literal scenarios pin the exact broadcast sequence. Regenerate with:
//
//	go test ./internal/harness -run TestGolden -update
func TestGolden_LiteralScenarios(t *testing.T) {
	for _, name := range []string{
		"literal_remote_create",
		"literal_left_publication",
		"literal_rejected_create",
	} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "tiny",
		Trace: []TraceEvent{
			{Seq: 1, Action: replica.ActionSnapshot, Size: 1},
			{
				Seq:    2,
				Step:   1,
				Action: replica.ActionRemove,
				Source: replica.SourceCompensation,
				Event:  record.EventRemoved,
				Record: record.Record{"uuid": record.String("u-1"), "id": record.Int(7)},
				Size:   0,
			},
		},
		Replica: []record.Record{},
	}

	data, err := snapshot.MarshalGolden()
	require.NoError(t, err)
	assert.Equal(t,
		`{"replica":[],"scenario_name":"tiny","trace":[`+
			`{"action":"snapshot","seq":1,"size":1,"source":"none","step":0},`+
			`{"action":"remove","event":"removed","record":{"id":7,"uuid":"u-1"},"seq":2,"size":0,"source":"compensation","step":1}]}`,
		string(data))
}

func TestTraceSnapshot_Stable(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/remote_lifecycle.yaml")
	require.NoError(t, err)

	var outputs [][]byte
	for range 3 {
		result, err := Run(scenario)
		require.NoError(t, err)
		snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace, Replica: result.Replica}
		data, err := snapshot.MarshalGolden()
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
}
