package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/engine"
	"github.com/roach88/cardflow/internal/ir"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Database string
	Process  string
	Card     string
	ID       string // optional - execution id, UUIDv7 when empty
	MaxDepth int
}

// StartResult is the state of a started execution once its cascade has
// settled.
type StartResult struct {
	Execution string              `json:"execution"`
	Process   string              `json:"process"`
	Card      string              `json:"card"`
	State     string              `json:"state,omitempty"`
	Status    ir.ExecutionStatus  `json:"status,omitempty"`
	Errors    []ir.ExecutionError `json:"errors,omitempty"`
	Mutations int                 `json:"mutations"`
	Exists    bool                `json:"exists"`
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <definitions-dir>",
		Short: "Start a process execution on a card",
		Long: `Create an execution of a process for a card and run it.

The execution takes its process's initial transition right away. The
command reports the state the execution settled in, along with any
transition errors recorded on it.

Example:
  cardflow start --db ./cardflow.db ./definitions --process review --card card-1
  cardflow start --db ./cardflow.db ./definitions --process review --card card-1 --id exec-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startExecution(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Process, "process", "", "process id (required)")
	_ = cmd.MarkFlagRequired("process")
	cmd.Flags().StringVar(&opts.Card, "card", "", "card id (required)")
	_ = cmd.MarkFlagRequired("card")
	cmd.Flags().StringVar(&opts.ID, "id", "", "execution id (default: generated)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", engine.DefaultMaxDepth, "transition recursion limit")

	return cmd
}

func startExecution(opts *StartOptions, defsDir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	rt, err := openRuntime(ctx, defsDir, opts.Database, opts.MaxDepth, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, ok := initialTransition(rt.defs, opts.Process); !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown process %q or process without initial transition", opts.Process))
	}

	id := opts.ID
	if id == "" {
		id = control.UUIDv7Generator{}.Generate()
	}

	attrs, err := ir.ToObject(ir.Execution{Process: opts.Process, Card: opts.Card, Status: ir.StatusActive})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode execution", err)
	}

	committed, err := rt.host.Submit(ctx, []ir.Tx{ir.NewCreateTx(ir.ClassExecution, id, attrs)})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start execution", err)
	}

	result := StartResult{
		Execution: id,
		Process:   opts.Process,
		Card:      opts.Card,
		Mutations: len(committed),
	}
	doc, ok, err := rt.store.Get(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read execution", err)
	}
	if ok {
		exec, err := ir.Decode[ir.Execution](doc)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to decode execution", err)
		}
		result.Exists = true
		result.Status = exec.Status
		result.Errors = exec.Error
		if exec.CurrentState != nil {
			result.State = *exec.CurrentState
		}
	}

	if opts.Format == formatJSON {
		if len(result.Errors) > 0 {
			e := result.Errors[0]
			if err := writeJSON(cmd.OutOrStdout(), errorResponse(string(e.Code), fmt.Sprintf("transition %s failed", e.Transition), result)); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("execution %s: %s", id, e.Code))
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	return outputStartText(cmd, result)
}

func outputStartText(cmd *cobra.Command, result StartResult) error {
	w := cmd.OutOrStdout()

	if !result.Exists {
		fmt.Fprintf(w, "Execution %s finished and was removed (%d mutations)\n", result.Execution, result.Mutations)
		return nil
	}

	state := result.State
	if state == "" {
		state = "<none>"
	}
	fmt.Fprintf(w, "Execution %s of %s on %s\n", result.Execution, result.Process, result.Card)
	fmt.Fprintf(w, "  State:     %s\n", state)
	fmt.Fprintf(w, "  Status:    %s\n", result.Status)
	fmt.Fprintf(w, "  Mutations: %d\n", result.Mutations)

	if len(result.Errors) == 0 {
		return nil
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  Error:     %s on %s\n", e.Code, e.Transition)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("execution %s: %s", result.Execution, result.Errors[0].Code))
}
