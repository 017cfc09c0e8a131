package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/ir"
)

// reviewDefsDir is the review process shipped in the project testdata.
var reviewDefsDir = filepath.Join("..", "..", "testdata", "definitions")

// reviewScenariosDir holds the scenarios that exercise reviewDefsDir.
var reviewScenariosDir = filepath.Join("..", "..", "testdata", "scenarios")

// flowDefinition is a single-process definition package: a card update
// with status "go" moves an execution from a to its terminal state b.
const flowDefinition = `
package defs

class: "card:class:Card": {
	card: true
	attributes: {status: "string", note: "string"}
}

process: flow: {
	states: { a: {}, b: {} }
	transitions: {
		t0: {to: "a"}
		go: {
			from: "a", to: "b", trigger: "OnCardUpdate"
			guard: status: "go"
			actions: [{method: "UpdateCard", params: note: "moved"}]
		}
	}
}
`

// writeCUE writes src to dir/name.
func writeCUE(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
}

// flowDefsDir returns a fresh directory holding flowDefinition.
func flowDefsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeCUE(t, dir, "flow.cue", flowDefinition)
	return dir
}

// execute runs cmd with args and returns what it wrote to stdout and
// stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// seedFlowDB runs flowDefinition against a fresh database: card-1 is
// created, exec-1 starts on it and a status update moves it to flow.b.
// It returns the database path.
func seedFlowDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "flow.db")

	rt, err := openRuntime(ctx, flowDefsDir(t), dbPath, 0, newLogger(io.Discard, false))
	require.NoError(t, err)
	defer rt.Close()

	exec, err := ir.ToObject(ir.Execution{Process: "flow", Card: "card-1", Status: ir.StatusActive})
	require.NoError(t, err)

	for _, batch := range [][]ir.Tx{
		{ir.NewCreateTx(ir.ClassCard, "card-1", ir.Object{"status": ir.String("new")})},
		{ir.NewCreateTx(ir.ClassExecution, "exec-1", exec)},
		{ir.NewUpdateTx(ir.ClassCard, "card-1", ir.Object{"status": ir.String("go")})},
	} {
		_, err := rt.host.Submit(ctx, batch)
		require.NoError(t, err)
	}
	return dbPath
}
