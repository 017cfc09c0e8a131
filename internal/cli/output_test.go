package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// OutputFormatter
// =============================================================================

func TestOutputFormatterJSON(t *testing.T) {
	tests := []struct {
		name       string
		write      func(f *OutputFormatter) error
		wantStatus string
		wantCode   string
	}{
		{
			name:       "success",
			write:      func(f *OutputFormatter) error { return f.Success(map[string]int{"documents": 7}) },
			wantStatus: "ok",
		},
		{
			name:       "error",
			write:      func(f *OutputFormatter) error { return f.Error(ErrCodeNotFound, "definitions not found", nil) },
			wantStatus: "error",
			wantCode:   ErrCodeNotFound,
		},
		{
			name: "error with details",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeLoadFailed, "syntax error", map[string]string{"file": "review.cue"})
			},
			wantStatus: "error",
			wantCode:   ErrCodeLoadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: buf}))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantCode == "" {
				assert.Nil(t, resp.Error)
				assert.NotNil(t, resp.Data)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestOutputFormatterText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("OK All definitions valid"))
	require.NoError(t, f.Error(ErrCodeNoFiles, "no CUE files found", map[string]string{"dir": "x"}))

	out := buf.String()
	assert.Contains(t, out, "OK All definitions valid")
	assert.Contains(t, out, "Error [E003]: no CUE files found")
	assert.NotContains(t, out, "Details:", "details are only printed in verbose mode")

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error(ErrCodeNoFiles, "no CUE files found", "dir x"))
	assert.Contains(t, buf.String(), "Details: dir x")
}

func TestOutputFormatterVerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		useErr  bool
	}{
		{"disabled", false, false},
		{"falls back to writer", true, false},
		{"prefers error writer", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.useErr {
				f.ErrWriter = errOut
			}

			f.VerboseLog("Compiled process: %s", "review")

			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
				assert.Empty(t, errOut.String())
			case tt.useErr:
				assert.Empty(t, out.String())
				assert.Equal(t, "Compiled process: review\n", errOut.String())
				assert.Same(t, errOut, f.GetErrWriter())
			default:
				assert.Equal(t, "Compiled process: review\n", out.String())
				assert.Same(t, out, f.GetErrWriter())
			}
		})
	}
}

// =============================================================================
// Responses
// =============================================================================

func TestWriteJSONIsIndented(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, writeJSON(buf, CLIResponse{Status: "ok", Data: map[string]int{"seq": 3}}))

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "\n  \"status\": \"ok\"")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestErrorResponseCarriesData(t *testing.T) {
	resp := errorResponse("E_REPLAY", "1 document(s) drifted from the log", map[string]int{"drift": 1})

	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_REPLAY", resp.Error.Code)
	assert.Equal(t, map[string]int{"drift": 1}, resp.Data)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":{"drift":1}`)
}

// =============================================================================
// Exit codes
// =============================================================================

func TestExitCodes(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError, "bad path"},
		{"wrapped", WrapExitError(ExitFailure, "write failed", cause), ExitFailure, "write failed: disk full"},
		{"nested", fmt.Errorf("run: %w", NewExitError(ExitCommandError, "no db")), ExitCommandError, "run: no db"},
		{"plain error", cause, ExitFailure, "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetExitCode(tt.err))
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}

	assert.ErrorIs(t, WrapExitError(ExitFailure, "write failed", cause), cause)
}
