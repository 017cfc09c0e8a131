package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/store"
)

const flowBatches = `# card-1 moves through flow
[{"kind":"create","class":"card:class:Card","object_id":"card-1","attrs":{"status":"new"}}]

[{"kind":"create","class":"process:class:Execution","object_id":"exec-1","attrs":{"process":"flow","card":"card-1","currentState":null,"status":"active"}}]
[{"kind":"update","class":"card:class:Card","object_id":"card-1","attrs":{"status":"go"}}]
`

// readDoc opens db and returns the stored document id.
func readDoc(t *testing.T, db, id string) (ir.Doc, bool) {
	t.Helper()
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	doc, ok, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return doc, ok
}

// =============================================================================
// run
// =============================================================================

func TestRunMissingDatabaseFlag(t *testing.T) {
	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), flowDefsDir(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestRunInvalidDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "p.cue", unknownMethodDefinition)
	db := filepath.Join(t.TempDir(), "run.db")

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to compile definitions")
	assert.Contains(t, err.Error(), "Teleport")
}

func TestRunNonExistentDefinitions(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "/nonexistent/definitions")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestRunAppliesBatchesFromStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader(flowBatches))

	out, _, err := execute(cmd, "--db", db, flowDefsDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Engine stopped at seq")

	exec, ok := readDoc(t, db, "exec-1")
	require.True(t, ok)
	state, _ := exec.Attrs.GetString("currentState")
	assert.Equal(t, "flow.b", state)
	status, _ := exec.Attrs.GetString("status")
	assert.Equal(t, string(ir.StatusDone), status)

	card, ok := readDoc(t, db, "card-1")
	require.True(t, ok)
	note, _ := card.Attrs.GetString("note")
	assert.Equal(t, "moved", note)
}

func TestRunAppliesBatchesFromFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "batches.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(flowBatches), 0644))
	db := filepath.Join(dir, "run.db")

	_, _, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--input", input, flowDefsDir(t))
	require.NoError(t, err)

	_, ok := readDoc(t, db, "exec-1")
	assert.True(t, ok)
}

func TestRunKeepsStoredDefinitions(t *testing.T) {
	db := seedFlowDB(t)
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader(""))

	_, _, err := execute(cmd, "--db", db, flowDefsDir(t))
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	processes, err := st.FindAll(context.Background(), ir.ClassProcess, nil)
	require.NoError(t, err)
	assert.Len(t, processes, 1, "definitions are stored once")
}

func TestRunMalformedInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader("{not json\n"))

	_, _, err := execute(cmd, "--db", db, flowDefsDir(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read batches")
}

func TestRunStopsOnCancellation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "run.db")
	pr, pw := io.Pipe()
	defer pw.Close()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetIn(pr)
	cmd.SetArgs([]string{"--db", db, flowDefsDir(t)})
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is a graceful stop")
	case <-time.After(15 * time.Second):
		t.Fatal("command did not respect context cancellation")
	}
	assert.Contains(t, out.String(), "Engine stopped at seq")

	_, err := os.Stat(db)
	assert.NoError(t, err, "database should be created")
}

// =============================================================================
// readBatches
// =============================================================================

func TestReadBatches(t *testing.T) {
	var got [][]ir.Tx
	err := readBatches(strings.NewReader(flowBatches), func(txes []ir.Tx) bool {
		got = append(got, txes)
		return true
	}, newLogger(io.Discard, false))
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, ir.TxCreate, got[0][0].Kind)
	assert.Equal(t, "card-1", got[0][0].ObjectID)
	assert.Equal(t, ir.ClassExecution, got[1][0].Class)
	assert.Equal(t, ir.TxUpdate, got[2][0].Kind)
	assert.Equal(t, ir.String("go"), got[2][0].Attrs["status"])
}

func TestReadBatchesSkipsEmptyArrays(t *testing.T) {
	calls := 0
	err := readBatches(strings.NewReader("[]\n  \n# comment\n"), func([]ir.Tx) bool {
		calls++
		return true
	}, newLogger(io.Discard, false))
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestReadBatchesReportsLine(t *testing.T) {
	input := "[]\n[{\"kind\":\"create\"}]\nnope\n"
	err := readBatches(strings.NewReader(input), func([]ir.Tx) bool { return true }, newLogger(io.Discard, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadBatchesStopsWhenHostStops(t *testing.T) {
	calls := 0
	err := readBatches(strings.NewReader(flowBatches), func([]ir.Tx) bool {
		calls++
		return false
	}, newLogger(io.Discard, false))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// start
// =============================================================================

func TestStartReviewExecution(t *testing.T) {
	db := filepath.Join(t.TempDir(), "start.db")

	run := NewRunCommand(&RootOptions{Format: "text"})
	run.SetIn(strings.NewReader(`[{"kind":"create","class":"card:class:Card","object_id":"card-1","attrs":{"title":"Plan"}}]`))
	_, _, err := execute(run, "--db", db, reviewDefsDir)
	require.NoError(t, err)

	out, _, err := execute(NewStartCommand(&RootOptions{Format: "text"}),
		"--db", db, "--process", "review", "--card", "card-1", "--id", "exec-1", reviewDefsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "Execution exec-1 of review on card-1")
	assert.Contains(t, out, "State:     review.draft")
	assert.Contains(t, out, "Status:    active")

	card, ok := readDoc(t, db, "card-1")
	require.True(t, ok)
	stage, _ := card.Attrs.GetString("stage")
	assert.Equal(t, "draft", stage)
}

func TestStartExecutionJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "start.db")

	out, _, err := execute(NewStartCommand(&RootOptions{Format: "json"}),
		"--db", db, "--process", "flow", "--card", "card-1", flowDefsDir(t))
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   StartResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.Execution, "a generated id")
	assert.Equal(t, "flow.a", resp.Data.State)
	assert.Equal(t, ir.StatusActive, resp.Data.Status)
	assert.True(t, resp.Data.Exists)
	assert.Positive(t, resp.Data.Mutations)
}

func TestStartReportsTransitionErrors(t *testing.T) {
	// The initial transition updates a card that does not exist.
	db := filepath.Join(t.TempDir(), "start.db")

	out, _, err := execute(NewStartCommand(&RootOptions{Format: "text"}),
		"--db", db, "--process", "review", "--card", "ghost", "--id", "exec-1", reviewDefsDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "review.start")
}

func TestStartUnknownProcess(t *testing.T) {
	db := filepath.Join(t.TempDir(), "start.db")

	_, _, err := execute(NewStartCommand(&RootOptions{Format: "text"}),
		"--db", db, "--process", "missing", "--card", "card-1", flowDefsDir(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown process "missing"`)
}
