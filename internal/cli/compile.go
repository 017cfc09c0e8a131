package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cardflow/internal/compiler"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled definitions.
//
// Process, state and transition definitions are listed as the documents
// the engine stores them as, so the output can be loaded as a seed.
type CompilationResult struct {
	Classes      map[string]control.Class       `json:"classes"`
	Associations map[string]control.Association `json:"associations"`
	Documents    []ir.Doc                       `json:"documents"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ClassCount       int
	AssociationCount int
	ProcessCount     int
	StateCount       int
	TransitionCount  int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <definitions-dir>",
		Short: "Compile CUE definitions to canonical documents",
		Long: `Compile CUE class, association and process definitions.

The compiler parses CUE files, checks every declaration, and outputs the
classes plus the process, state and transition documents the engine runs.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, defsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadDefinitions(defsDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, defsDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	defs := loadResult.Definitions
	for _, p := range defs.Processes {
		formatter.VerboseLog("Compiled process: %s", p.ID)
	}

	result, err := buildCompilationResult(defs)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	stats := calculateStats(defs)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, defs, result, stats, opts.Output)
}

// buildCompilationResult converts compiled definitions to their output form.
func buildCompilationResult(defs *compiler.Definitions) (*CompilationResult, error) {
	result := &CompilationResult{
		Classes:      make(map[string]control.Class, len(defs.Classes)),
		Associations: make(map[string]control.Association, len(defs.Associations)),
		Documents:    []ir.Doc{},
	}
	for _, c := range defs.Classes {
		result.Classes[c.ID] = c
	}
	for _, a := range defs.Associations {
		result.Associations[a.ID] = a
	}

	txes, err := defs.Txes()
	if err != nil {
		return nil, err
	}
	for _, tx := range txes {
		result.Documents = append(result.Documents, ir.Doc{ID: tx.ObjectID, Class: tx.Class, Attrs: tx.Attrs})
	}
	return result, nil
}

// calculateStats computes summary statistics from compiled definitions.
func calculateStats(defs *compiler.Definitions) CompilationStats {
	return CompilationStats{
		ClassCount:       len(defs.Classes),
		AssociationCount: len(defs.Associations),
		ProcessCount:     len(defs.Processes),
		StateCount:       len(defs.States),
		TransitionCount:  len(defs.Transitions),
	}
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, defs *compiler.Definitions, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.isJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "OK Compiled %d class(es), %d association(s), %d process(es)\n\n",
		stats.ClassCount, stats.AssociationCount, stats.ProcessCount)

	if len(defs.Classes) > 0 {
		fmt.Fprintln(w, "Classes:")
		for _, c := range defs.Classes {
			kind := "class"
			if c.Card {
				kind = "card"
			}
			fmt.Fprintf(w, "  %s: %s, %d attribute(s)\n", c.ID, kind, len(c.Attributes))
		}
		fmt.Fprintln(w)
	}

	if len(defs.Processes) > 0 {
		counts := countTransitions(defs)
		fmt.Fprintln(w, "Processes:")
		for _, p := range defs.Processes {
			fmt.Fprintf(w, "  %s: %d transition(s)\n", p.ID, counts[p.ID])
			for _, t := range defs.Transitions {
				if t.Process != p.ID {
					continue
				}
				from := "*"
				if t.From != nil {
					from = *t.From
				}
				trigger := ""
				if t.Trigger != "" {
					trigger = fmt.Sprintf(" (%s)", t.Trigger)
				}
				fmt.Fprintf(w, "    %s: %s -> %s%s\n", t.ID, from, t.To, trigger)
			}
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote compiled definitions to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.isJSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "FAIL Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
