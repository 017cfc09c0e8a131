package cli

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	At       int64 // optional - rebuild state as of this sequence number
}

// ReplayDrift describes one document whose stored state disagrees with
// the state rebuilt from the mutation log.
type ReplayDrift struct {
	ID      string  `json:"id"`
	Stored  *ir.Doc `json:"stored,omitempty"`
	Rebuilt *ir.Doc `json:"rebuilt,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	LastSeq       int64          `json:"last_seq"`
	At            int64          `json:"at"`
	Documents     int            `json:"documents"`
	ByClass       map[string]int `json:"by_class"`
	Deterministic bool           `json:"deterministic"`
	Drift         []ReplayDrift  `json:"drift,omitempty"`
}

// Consistent reports whether the replay found nothing wrong.
func (r ReplayResult) Consistent() bool {
	return r.Deterministic && len(r.Drift) == 0
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the mutation log and verify the stored documents",
		Long: `Rebuild every document by folding the mutation log from the start.

The log is folded twice to verify the rebuild is deterministic, and the
result is compared against the documents table. Any document whose
stored state differs from the rebuilt one is reported as drift.

With --at, the state right after that sequence number is rebuilt and
summarized; drift is only checked against the latest state.

Exit codes:
  0 - Replay is deterministic and matches the stored documents
  1 - Drift or non-deterministic replay detected
  2 - Command error (database not found, etc.)

Examples:
  cardflow replay --db ./cardflow.db
  cardflow replay --db ./cardflow.db --at 42
  cardflow replay --db ./cardflow.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.At, "at", 0, "rebuild state as of this sequence number")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.At < 0 {
		return NewExitError(ExitCommandError, "--at must not be negative")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := replay(ctx, st, opts.At)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay log", err)
	}

	if opts.Format == formatJSON {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replay folds the log twice, compares the two results and checks the
// latest state against the documents table.
func replay(ctx context.Context, st *store.Store, at int64) (ReplayResult, error) {
	last, err := st.LastSeq(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	first, err := st.Snapshot(ctx, at)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	second, err := st.Snapshot(ctx, at)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	deterministic, err := sameDocs(first, second)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		LastSeq:       last,
		At:            at,
		Documents:     len(first),
		ByClass:       make(map[string]int),
		Deterministic: deterministic,
	}
	if at <= 0 || at > last {
		result.At = last
	}
	for _, doc := range first {
		result.ByClass[doc.Class]++
	}

	drifts, err := st.Verify(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	for _, d := range drifts {
		result.Drift = append(result.Drift, ReplayDrift{
			ID:      d.ID,
			Stored:  docOrNil(d.Stored),
			Rebuilt: docOrNil(d.Rebuilt),
		})
	}
	return result, nil
}

// sameDocs compares two snapshots by their canonical encoding.
func sameDocs(a, b []ir.Doc) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Class != b[i].Class {
			return false, nil
		}
		x, err := ir.MarshalCanonical(a[i].Attrs)
		if err != nil {
			return false, err
		}
		y, err := ir.MarshalCanonical(b[i].Attrs)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(x, y) {
			return false, nil
		}
	}
	return true, nil
}

func docOrNil(doc ir.Doc) *ir.Doc {
	if doc.ID == "" {
		return nil
	}
	return &doc
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	if result.Consistent() {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	message := replayFailure(result)
	if err := writeJSON(cmd.OutOrStdout(), errorResponse("E_REPLAY", message, result)); err != nil {
		return err
	}
	return NewExitError(ExitFailure, message)
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d document(s) at seq %d of %d\n", result.Documents, result.At, result.LastSeq)
	if verbose {
		for _, class := range sortedClassKeys(result.ByClass) {
			fmt.Fprintf(w, "  %s: %d\n", class, result.ByClass[class])
		}
	}
	fmt.Fprintln(w)

	for _, d := range result.Drift {
		switch {
		case d.Stored == nil:
			fmt.Fprintf(w, "DRIFT %s: missing from documents table\n", d.ID)
		case d.Rebuilt == nil:
			fmt.Fprintf(w, "DRIFT %s: not produced by the log\n", d.ID)
		default:
			fmt.Fprintf(w, "DRIFT %s: stored %s, rebuilt %s\n", d.ID, formatAttrs(d.Stored.Attrs), formatAttrs(d.Rebuilt.Attrs))
		}
	}

	if result.Consistent() {
		fmt.Fprintln(w, "OK Log replay matches stored documents")
		return nil
	}

	message := replayFailure(result)
	fmt.Fprintf(w, "FAIL %s\n", message)
	return NewExitError(ExitFailure, message)
}

func replayFailure(result ReplayResult) string {
	if !result.Deterministic {
		return "determinism verification failed"
	}
	return fmt.Sprintf("%d document(s) drifted from the log", len(result.Drift))
}

func sortedClassKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
