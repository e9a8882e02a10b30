package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/record"
)

func runMutateCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewMutateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestBuildMutation(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		uuid    record.Value
		data    string
		where   string
		wantErr string
	}{
		{name: "create", op: MutateCreate, data: `{"order":1}`},
		{name: "create without data", op: MutateCreate, wantErr: "create requires --data"},
		{name: "create with uuid arg", op: MutateCreate, uuid: record.Int(1), data: `{}`, wantErr: "put uuid in --data"},
		{name: "create with where", op: MutateCreate, data: `{}`, where: `{"a":1}`, wantErr: "does not take --where"},
		{name: "update", op: MutateUpdate, uuid: record.Int(1), data: `{"order":1}`},
		{name: "update without uuid", op: MutateUpdate, data: `{}`, wantErr: "update requires a uuid"},
		{name: "patch one", op: MutatePatch, uuid: record.Int(1), data: `{"order":1}`},
		{name: "patch many", op: MutatePatch, data: `{"order":1}`, where: `{"order":{"$lt":2}}`},
		{name: "patch both", op: MutatePatch, uuid: record.Int(1), data: `{}`, where: `{"a":1}`, wantErr: "either a uuid or --where"},
		{name: "patch bad where", op: MutatePatch, data: `{}`, where: `{"a":{"$bogus":1}}`, wantErr: "invalid --where query"},
		{name: "patch bad data", op: MutatePatch, data: `{`, wantErr: "invalid --data JSON"},
		{name: "remove", op: MutateRemove, uuid: record.Int(1)},
		{name: "remove with data", op: MutateRemove, data: `{}`, wantErr: "remove does not take --data"},
		{name: "unknown", op: "upsert", wantErr: `unknown operation "upsert"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := buildMutation(tt.op, tt.uuid, tt.data, tt.where)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, m.op)
		})
	}
}

func TestBuildMutation_UpdateCarriesUUID(t *testing.T) {
	m, err := buildMutation(MutateUpdate, record.Int(1001), `{"order":5}`, "")
	require.NoError(t, err)
	assert.Equal(t, record.Int(1001), m.data[record.FieldUUID])
}

func TestMutateCommand_Patch(t *testing.T) {
	mem := seededMemory(t, 3)
	url := startRemote(t, mem)

	out, err := runMutateCommand(t, "text", "patch", "1001", "--data", `{"order":9}`, "--remote", url)
	require.NoError(t, err)
	assert.Contains(t, out, `{"id":1,"order":9,"uuid":1001}`)
	assert.Contains(t, out, "✓ patch applied to 1 record(s)")

	got, err := mem.Get(t.Context(), record.Int(1))
	require.NoError(t, err)
	assert.Equal(t, record.Int(9), got["order"])
}

func TestMutateCommand_CreateJSON(t *testing.T) {
	mem := seededMemory(t, 2)
	url := startRemote(t, mem)

	out, err := runMutateCommand(t, "json", "create", "--data", `{"uuid":"u-new","order":7}`, "--remote", url)
	require.NoError(t, err)

	var response struct {
		Status string       `json:"status"`
		Data   MutateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, MutateCreate, response.Data.Operation)
	assert.Equal(t, 0, response.Data.Compensated)
	require.Len(t, response.Data.Records, 1)
	assert.Equal(t, record.String("u-new"), response.Data.Records[0]["uuid"])

	assert.Equal(t, 3, mem.Len())
}

func TestMutateCommand_RemoveMany(t *testing.T) {
	mem := seededMemory(t, 4)
	url := startRemote(t, mem)

	out, err := runMutateCommand(t, "text", "remove", "--where", `{"order":{"$gte":2}}`, "--remote", url)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ remove applied to 2 record(s)")
	assert.Equal(t, 2, mem.Len())
}

func TestMutateCommand_Compensated(t *testing.T) {
	mem := seededMemory(t, 3)
	faulty := collection.NewFaulty(mem)
	faulty.FailAlways(collection.OpPatch, nil)
	url := startRemote(t, faulty)

	out, err := runMutateCommand(t, "text", "patch", "1001", "--data", `{"order":9}`, "--remote", url)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "remote rejected 1 change(s)")
	assert.Contains(t, out, ErrCodeCompensated)

	got, err := mem.Get(t.Context(), record.Int(1))
	require.NoError(t, err)
	assert.Equal(t, record.Int(1), got["order"])
}

func TestMutateCommand_Refused(t *testing.T) {
	url := startRemote(t, seededMemory(t, 2))

	out, err := runMutateCommand(t, "text", "patch", "4242", "--data", `{"order":9}`, "--remote", url)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, out, ErrCodeRejected)
}

func TestMutateCommand_Errors(t *testing.T) {
	_, err := runMutateCommand(t, "text", "upsert", "--data", `{}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = runMutateCommand(t, "text", "remove", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no remote")

	_, err = runMutateCommand(t, "text", "remove", "1", "--remote", "ws://127.0.0.1:1/records")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to remote")
}
