package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/cardflow/internal/compiler"
	"github.com/roach88/cardflow/internal/engine"
	"github.com/roach88/cardflow/internal/host"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Input    string // batch file, "-" or empty for stdin
	MaxDepth int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definitions-dir>",
		Short: "Start the engine and apply mutation batches",
		Long: `Start the cardflow engine with the definitions of a directory.

The definitions are compiled and stored in the SQLite database (created
if it doesn't exist); definitions already stored are kept. The engine
then reads mutation batches, one JSON array of mutations per line, and
runs each batch through the single-writer host until the input ends or
the process is interrupted.

A mutation looks like:
  {"kind":"update","class":"card:class:Card","object_id":"card-1","attrs":{"status":"submitted"}}

Example:
  cardflow run --db ./cardflow.db ./definitions < batches.jsonl
  cardflow run --db ./cardflow.db ./definitions --input batches.jsonl --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Input, "input", "", "file of mutation batches (default stdin)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", engine.DefaultMaxDepth, "transition recursion limit")

	return cmd
}

func runEngine(opts *RunOptions, defsDir string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	input := cmd.InOrStdin()
	if opts.Input != "" && opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		input = f
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt, err := openRuntime(ctx, defsDir, opts.Database, opts.MaxDepth, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		defer rt.host.Stop()
		readErr <- readBatches(input, rt.host.Enqueue, logger)
	}()

	logger.Info("engine starting", "db", opts.Database, "definitions", defsDir)
	if err := rt.host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	// Run returns on cancellation before the reader finishes.
	select {
	case err := <-readErr:
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read batches", err)
		}
	default:
	}

	// ctx may already be cancelled here.
	last, err := rt.store.LastSeq(context.WithoutCancel(ctx))
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Engine stopped at seq %d\n", last)
	}
	logger.Info("engine stopped gracefully")
	return nil
}

// readBatches decodes one JSON array of mutations per non-empty line and
// hands each batch to enqueue. Blank lines and lines starting with # are
// skipped.
func readBatches(r io.Reader, enqueue func([]ir.Tx) bool, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var batch []ir.Tx
		if err := json.Unmarshal([]byte(text), &batch); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(batch) == 0 {
			continue
		}
		if !enqueue(batch) {
			logger.Warn("host stopped, dropping remaining input", "line", line)
			return nil
		}
		logger.Debug("batch enqueued", "line", line, "mutations", len(batch))
	}
	return scanner.Err()
}

// runtime is an engine wired to a SQLite store.
type runtime struct {
	defs  *compiler.Definitions
	store *store.Store
	host  *host.Host
}

// Close closes the store.
func (rt *runtime) Close() error {
	return rt.store.Close()
}

// openRuntime compiles and validates the definitions of defsDir, opens the
// database with their classes, stores the process definitions it does not
// hold yet, and returns a host dispatching to a fresh engine.
func openRuntime(ctx context.Context, defsDir, dbPath string, maxDepth int, logger *slog.Logger) (*runtime, error) {
	logger.Info("compiling definitions", "dir", defsDir)
	defs, err := compileDefinitions(defsDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}
	logger.Info("definitions compiled", "classes", len(defs.Classes), "processes", len(defs.Processes))

	st, err := store.Open(dbPath, store.WithModel(buildModel(defs)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	engOpts := []engine.EngineOption{engine.WithLogger(logger)}
	if maxDepth > 0 {
		engOpts = append(engOpts, engine.WithMaxDepth(maxDepth))
	}
	eng := engine.New(engOpts...)
	h := host.New(st, st.Model(), eng.Dispatch, host.WithLogger(logger))

	seed, err := missingDefinitions(ctx, st, defs)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read stored definitions", err)
	}
	if len(seed) > 0 {
		if _, err := h.Submit(ctx, seed); err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to store definitions", err)
		}
		logger.Info("definitions stored", "documents", len(seed))
	}

	return &runtime{defs: defs, store: st, host: h}, nil
}

// compileDefinitions loads, compiles and validates a definitions directory.
func compileDefinitions(dir string) (*compiler.Definitions, error) {
	loadResult, loadErrors := LoadDefinitions(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	if errs := compiler.Validate(loadResult.Definitions); len(errs) > 0 {
		return nil, errs[0]
	}
	return loadResult.Definitions, nil
}

// missingDefinitions returns the definition create mutations whose
// document is not stored yet.
func missingDefinitions(ctx context.Context, st *store.Store, defs *compiler.Definitions) ([]ir.Tx, error) {
	txes, err := defs.Txes()
	if err != nil {
		return nil, err
	}
	var missing []ir.Tx
	for _, tx := range txes {
		_, ok, err := st.Get(ctx, tx.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, tx)
		}
	}
	return missing, nil
}
