package cli

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/record"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// startWatch runs the watch command until the test ends.
func startWatch(t *testing.T, format string, args ...string) (*syncBuffer, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	cmd := NewWatchCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(waitFor):
			t.Fatal("watch did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return out, stop
}

func TestWatchCommand_PrintsChanges(t *testing.T) {
	mem := seededMemory(t, 3)
	url := startRemote(t, mem)

	out, stop := startWatch(t, "text", "--remote", url)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "add-listeners")
	}, waitFor, tick)

	_, err := mem.Patch(context.Background(), record.Int(1), record.Record{"order": record.Int(9)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `mutated remote/patched {"id":1,"order":9,"uuid":1001}`)
	}, waitFor, tick)

	require.NoError(t, stop())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "#1 snapshot (3 records)", lines[0])
	assert.Equal(t, "#2 add-listeners (3 records)", lines[1])
	assert.Equal(t, "#4 remove-listeners (3 records)", lines[len(lines)-1])
}

func TestWatchCommand_JSONLines(t *testing.T) {
	url := startRemote(t, seededMemory(t, 2))

	out, stop := startWatch(t, "json", "--remote", url)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "add-listeners")
	}, waitFor, tick)
	require.NoError(t, stop())

	first := strings.SplitN(out.String(), "\n", 2)[0]
	var change struct {
		Seq    int64  `json:"seq"`
		Action string `json:"action"`
		Source string `json:"source"`
		Size   int    `json:"size"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &change))
	assert.Equal(t, int64(1), change.Seq)
	assert.Equal(t, "snapshot", change.Action)
	assert.Equal(t, "none", change.Source)
	assert.Equal(t, 2, change.Size)
}

func TestWatchCommand_ConnectFailure(t *testing.T) {
	cmd := NewWatchCommand(&RootOptions{Format: "text"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--remote", "ws://127.0.0.1:1/records"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
