package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/compiler"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

func TestCompileValidDefinitions(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})

	out, _, err := execute(cmd, reviewDefsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "OK Compiled 1 class(es), 1 association(s), 1 process(es)")
	assert.Contains(t, out, "card:class:Card: card, 5 attribute(s)")
	assert.Contains(t, out, "review: 3 transition(s)")
	assert.Contains(t, out, "review.start: * -> review.draft")
	assert.Contains(t, out, "review.submit: review.draft -> review.review (OnCardUpdate)")
}

func TestCompileValidDefinitionsJSON(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "json"})

	out, _, err := execute(cmd, reviewDefsDir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Data.Classes, "card:class:Card")
	assert.Contains(t, resp.Data.Associations, "blocks")

	// 1 process, 3 states, 3 transitions
	require.Len(t, resp.Data.Documents, 7)
	assert.Equal(t, "review", resp.Data.Documents[0].ID)
	assert.Equal(t, ir.ClassProcess, resp.Data.Documents[0].Class)
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "compiled.json")
	cmd := NewCompileCommand(&RootOptions{Format: "text"})

	out, _, err := execute(cmd, reviewDefsDir, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote compiled definitions to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Classes, 1)
	assert.NotEmpty(t, result.Documents)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})

	out, _, err := execute(cmd, "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileEmptyDirectory(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text"})

	out, _, err := execute(cmd, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, out, "no CUE files found")
}

func TestCompileSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "broken.cue", "package defs\n\nprocess: {\n")

	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	_, _, err := execute(cmd, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeLoadFailed)
}

func TestCompileCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `
package defs

process: first: {name: "First"}
process: second: {name: "Second"}
`)

	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	out, _, err := execute(cmd, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation failed with 2 error(s)")
	assert.Contains(t, out, "FAIL Compilation failed")
	assert.Contains(t, out, "process first declares no states")
	assert.Contains(t, out, "process second declares no states")
	assert.Contains(t, out, ErrCodeInvalidProcess)
}

func TestCompileInvalidDefinitionJSON(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", "package defs\n\nprocess: lonely: {}\n")

	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	out, _, err := execute(cmd, dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidProcess, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "declares no states")
}

func TestCompileNothingDeclared(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "empty.cue", "package defs\n\nversion: 1\n")

	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	out, _, err := execute(cmd, dir)
	require.Error(t, err)
	assert.Contains(t, out, "no classes or processes found")
}

func TestCompileVerboseOutput(t *testing.T) {
	cmd := NewCompileCommand(&RootOptions{Format: "text", Verbose: true})

	_, stderr, err := execute(cmd, flowDefsDir(t))
	require.NoError(t, err)

	// Verbose logs go to stderr to avoid corrupting JSON output
	assert.Contains(t, stderr, "Found 1 CUE file(s)")
	assert.Contains(t, stderr, "Compiled process: flow")
}

func TestFindCUEFiles(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	writeCUE(t, tmpDir, "root.cue", "package defs")
	writeCUE(t, tmpDir, "notcue.txt", "not a cue file")
	writeCUE(t, subDir, "nested.cue", "package defs")

	files, err := FindCUEFiles(tmpDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"cue", ErrCodeBuildFailed},
		{"attributes.owner", ErrCodeInvalidClass},
		{"association.classA", ErrCodeInvalidAssociation},
		{"states", ErrCodeInvalidProcess},
		{"transitions.submit.to", ErrCodeInvalidTransition},
		{"transitions.submit.guard", ErrCodeInvalidTransition},
		{"review.submit.actions[0].method", ErrCodeInvalidStep},
		{"unknown", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestParseCompileError(t *testing.T) {
	code, msg := parseCompileError(&LoadError{Code: ErrCodeNoFiles, Message: "none"})
	assert.Equal(t, ErrCodeNoFiles, code)
	assert.Equal(t, "none", msg)

	code, msg = parseCompileError(&compiler.CompileError{Field: "states", Message: "no states"})
	assert.Equal(t, ErrCodeInvalidProcess, code)
	assert.Equal(t, "no states", msg)

	code, msg = parseCompileError(errors.New("boom"))
	assert.Equal(t, ErrCodeGeneric, code)
	assert.Equal(t, "boom", msg)
}

func TestCalculateStats(t *testing.T) {
	defs := &compiler.Definitions{
		Classes:      []control.Class{{ID: "a"}, {ID: "b"}},
		Associations: []control.Association{{ID: "x"}},
		Processes:    []ir.Process{{ID: "p"}},
		States:       []ir.State{{ID: "p.a"}, {ID: "p.b"}},
		Transitions:  []ir.Transition{{ID: "p.t0"}, {ID: "p.t1"}, {ID: "p.t2"}},
	}

	stats := calculateStats(defs)

	assert.Equal(t, 2, stats.ClassCount)
	assert.Equal(t, 1, stats.AssociationCount)
	assert.Equal(t, 1, stats.ProcessCount)
	assert.Equal(t, 2, stats.StateCount)
	assert.Equal(t, 3, stats.TransitionCount)
}
