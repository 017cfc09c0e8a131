package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
	"github.com/roach88/cardflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	ObjectID string
	Kind     string // optional - filter to create, update or remove
}

// TraceEvent is one committed mutation of the traced document.
type TraceEvent struct {
	Seq   int64     `json:"seq"`
	Kind  string    `json:"kind"`
	Class string    `json:"class"`
	Hash  string    `json:"hash"`
	Attrs ir.Object `json:"attrs,omitempty"`
}

// LogEntry is one execution log record of a traced execution.
type LogEntry struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Transition string `json:"transition,omitempty"`
	CreatedOn  int64  `json:"createdOn"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	ObjectID string       `json:"object_id"`
	Timeline []TraceEvent `json:"timeline"`
	Log      []LogEntry   `json:"log,omitempty"`
	Current  *ir.Doc      `json:"current,omitempty"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int  `json:"total_events"`
	Creates     int  `json:"creates"`
	Updates     int  `json:"updates"`
	Removes     int  `json:"removes"`
	Exists      bool `json:"exists"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the mutation history of a document",
		Long: `Show every committed mutation of one document, in commit order.

When the document is an execution, its execution log (Started,
Transition and Rollback records) is listed as well.

The output includes:
- Timeline: the document's mutations with their log sequence numbers
- Log: the execution log, for executions
- Stats: mutation counts and whether the document still exists

Examples:
  cardflow trace --db ./cardflow.db --id exec-1
  cardflow trace --db ./cardflow.db --id card-1 --kind update
  cardflow trace --db ./cardflow.db --id exec-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ObjectID, "id", "", "document id to trace (required)")
	_ = cmd.MarkFlagRequired("id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one mutation kind (create|update|remove)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch ir.TxKind(opts.Kind) {
	case "", ir.TxCreate, ir.TxUpdate, ir.TxRemove:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be create, update or remove", opts.Kind))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	entries, err := st.History(ctx, opts.ObjectID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	if len(entries) == 0 {
		if opts.Format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: TraceResult{
				ObjectID: opts.ObjectID,
				Timeline: []TraceEvent{},
			}})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No mutations found for document: %s\n", opts.ObjectID)
		return nil
	}

	result := TraceResult{
		ObjectID: opts.ObjectID,
		Timeline: buildTimeline(entries, ir.TxKind(opts.Kind)),
		Stats:    countKinds(entries),
	}

	current, ok, err := st.Get(ctx, opts.ObjectID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read document", err)
	}
	if ok {
		result.Current = &current
		result.Stats.Exists = true
	}

	if entries[0].Tx.Class == ir.ClassExecution {
		result.Log, err = readExecutionLog(ctx, st, opts.ObjectID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read execution log", err)
		}
	}

	if opts.Format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTimeline converts log entries to timeline events, keeping only
// mutations of kind when it is set.
func buildTimeline(entries []store.Entry, kind ir.TxKind) []TraceEvent {
	timeline := []TraceEvent{}
	for _, e := range entries {
		if kind != "" && e.Tx.Kind != kind {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:   e.Seq,
			Kind:  string(e.Tx.Kind),
			Class: e.Tx.Class,
			Hash:  e.Hash,
			Attrs: e.Tx.Attrs,
		})
	}
	return timeline
}

func countKinds(entries []store.Entry) TraceStats {
	stats := TraceStats{TotalEvents: len(entries)}
	for _, e := range entries {
		switch e.Tx.Kind {
		case ir.TxCreate:
			stats.Creates++
		case ir.TxUpdate:
			stats.Updates++
		case ir.TxRemove:
			stats.Removes++
		}
	}
	return stats
}

// readExecutionLog returns the log records of an execution, ordered by
// creation time then id.
func readExecutionLog(ctx context.Context, st *store.Store, execution string) ([]LogEntry, error) {
	docs, err := st.FindAll(ctx, ir.ClassExecutionLog, queryir.Eq("execution", execution))
	if err != nil {
		return nil, err
	}

	log := make([]LogEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := ir.Decode[ir.ExecutionLog](doc)
		if err != nil {
			return nil, err
		}
		log = append(log, LogEntry{
			ID:         entry.ID,
			Action:     string(entry.Action),
			Transition: entry.Transition,
			CreatedOn:  entry.CreatedOn,
		})
	}
	sortLog(log)
	return log, nil
}

// sortLog orders records by creation time. Records of one batch share a
// time; their ids keep the order they were committed in for sequential
// id generators.
func sortLog(log []LogEntry) {
	slices.SortStableFunc(log, func(a, b LogEntry) int {
		return cmp.Or(cmp.Compare(a.CreatedOn, b.CreatedOn), cmp.Compare(a.ID, b.ID))
	})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Document: %s\n", result.ObjectID)
	fmt.Fprintf(w, "Status: %s\n", existsStatus(result.Stats.Exists))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, event := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %s %s\n", event.Seq, strings.ToUpper(event.Kind), event.Class)
		if verbose {
			fmt.Fprintf(w, "       Attrs: %s\n", formatAttrs(event.Attrs))
			fmt.Fprintf(w, "       Hash: %s\n", truncateID(event.Hash))
		}
	}
	fmt.Fprintln(w)

	if len(result.Log) > 0 {
		fmt.Fprintln(w, "=== Execution Log ===")
		for _, entry := range result.Log {
			if entry.Transition != "" {
				fmt.Fprintf(w, "  %d %s %s\n", entry.CreatedOn, entry.Action, entry.Transition)
				continue
			}
			fmt.Fprintf(w, "  %d %s\n", entry.CreatedOn, entry.Action)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Creates:      %d\n", result.Stats.Creates)
	fmt.Fprintf(w, "  Updates:      %d\n", result.Stats.Updates)
	fmt.Fprintf(w, "  Removes:      %d\n", result.Stats.Removes)

	return nil
}

// formatAttrs formats attributes as canonical JSON, which sorts keys and
// keeps the output deterministic.
func formatAttrs(attrs ir.Object) string {
	if len(attrs) == 0 {
		return "{}"
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// truncateID truncates a long id or hash for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

func existsStatus(exists bool) string {
	if exists {
		return "Present"
	}
	return "Removed"
}
