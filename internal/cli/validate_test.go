package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCommand(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateNothing(t *testing.T) {
	out, err := runValidateCommand(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "nothing to validate")
}

func TestValidateValidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "replica.yaml", `
remote: ws://localhost:8080/records
query: { status: open }
publication:
  query: { order: { $lte: 3.5 } }
  cue: |
    status: "open" | "pending"
sort: [order, -name]
uuid: true
`)
	out, err := runValidateCommand(t, &RootOptions{Format: "text", Config: path})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All 1 file(s) valid")
}

func TestValidateInvalidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "replica.yaml", "shortIds: true\n")
	out, err := runValidateCommand(t, &RootOptions{Format: "text", Config: path})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeConfig)
	assert.Contains(t, out, "shortIds requires uuid")
}

func TestValidateMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	out, err := runValidateCommand(t, &RootOptions{Format: "text", Config: path})
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateBundledScenarios(t *testing.T) {
	out, err := runValidateCommand(t, &RootOptions{Format: "text"}, scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All")
}

func TestValidateInvalidScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", passingScenario)
	bad := writeFile(t, dir, "bad.yaml", "name: bad\ndescription: d\nsteps: [{do: teleport}]\nassertions: [{type: trace_count, action: snapshot}]\n")

	out, err := runValidateCommand(t, &RootOptions{Format: "json"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	assert.False(t, response.Data.Valid)
	assert.Equal(t, 2, response.Data.Checked)
	require.Len(t, response.Data.Errors, 1)
	assert.Equal(t, bad, response.Data.Errors[0].Path)
	assert.Equal(t, ErrCodeScenario, response.Data.Errors[0].Code)
	assert.Contains(t, response.Data.Errors[0].Message, `unknown step "teleport"`)
	require.NotNil(t, response.Error)
	assert.Equal(t, ErrCodeScenario, response.Error.Code)
}

func TestValidateMissingScenarioPath(t *testing.T) {
	out, err := runValidateCommand(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateVerboseOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", passingScenario)

	out, err := runValidateCommand(t, &RootOptions{Format: "text", Verbose: true}, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 scenario file(s)")
	assert.Contains(t, out, "Validating scenario:")
}

func TestValidateSuccessJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "replica.yaml", "uuid: true\n")
	out, err := runValidateCommand(t, &RootOptions{Format: "json", Config: path})
	require.NoError(t, err)

	var response struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Data.Valid)
	assert.Equal(t, 1, response.Data.Checked)
}
