package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cardflow/internal/compiler"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading definitions from a directory.
type LoadResult struct {
	Definitions *compiler.Definitions
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinitions loads and compiles the CUE definitions of a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, every class, association and process is
// compiled on its own and all their errors are returned.
//
// A nil result means nothing could be loaded. A non-nil result with errors
// carries the CUE value but no Definitions.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{convertCompileError(err, ErrCodeBuildFailed)}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	if mode == LoadModeCollectAll {
		if errs := compileEach(value); len(errs) > 0 {
			return result, errs
		}
	}

	defs, err := compiler.Compile(value)
	if err != nil {
		return result, []error{convertCompileError(err, ErrCodeGeneric)}
	}
	if len(defs.Classes) == 0 && len(defs.Processes) == 0 {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no classes or processes found in definitions"}}
	}

	result.Definitions = defs
	return result, nil
}

// compileEach compiles every top-level declaration independently so that
// one broken process does not hide the errors of the others.
func compileEach(value cue.Value) []error {
	var errs []error
	each := func(section string, fn func(label string, v cue.Value) error) {
		sv := value.LookupPath(cue.ParsePath(section))
		if !sv.Exists() {
			return
		}
		iter, err := sv.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
			return
		}
		for iter.Next() {
			label := iter.Selector().Unquoted()
			if err := fn(label, iter.Value()); err != nil {
				errs = append(errs, convertCompileError(err, ErrCodeGeneric))
			}
		}
	}

	each("class", func(label string, v cue.Value) error {
		_, err := compiler.CompileClass(label, v)
		return err
	})
	each("association", func(label string, v cue.Value) error {
		_, err := compiler.CompileAssociation(label, v)
		return err
	})
	each("process", func(label string, v cue.Value) error {
		_, _, _, err := compiler.CompileProcess(label, v)
		return err
	})
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position
// info. Errors without a CompileError inside get fallback as their code.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: fallback, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
// Semantic validation codes (E1xx) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Declaration errors
	ErrCodeInvalidClass       = "E010" // Bad attribute declaration
	ErrCodeInvalidAssociation = "E011" // Bad association declaration
	ErrCodeInvalidProcess     = "E012" // Process without states
	ErrCodeInvalidTransition  = "E013" // Bad transition declaration
	ErrCodeInvalidStep        = "E014" // Bad action step
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case strings.HasPrefix(field, "attributes."):
		return ErrCodeInvalidClass
	case strings.HasPrefix(field, "association."):
		return ErrCodeInvalidAssociation
	case field == "states":
		return ErrCodeInvalidProcess
	case strings.Contains(field, ".actions["):
		return ErrCodeInvalidStep
	case strings.HasPrefix(field, "transitions."):
		return ErrCodeInvalidTransition
	default:
		return ErrCodeGeneric
	}
}

// buildModel returns a model holding the domain classes and associations
// of defs. Process definitions reach the model through committed
// mutations, so that context declarations stay in sync.
func buildModel(defs *compiler.Definitions) *control.MemoryModel {
	model := control.NewMemoryModel()
	for _, c := range defs.Classes {
		model.PutClass(c)
	}
	for _, a := range defs.Associations {
		model.PutAssociation(a)
	}
	return model
}

// countTransitions returns the number of transitions per process id.
func countTransitions(defs *compiler.Definitions) map[string]int {
	counts := make(map[string]int, len(defs.Processes))
	for _, t := range defs.Transitions {
		counts[t.Process]++
	}
	return counts
}

// initialTransition returns the transition of process that has no source
// state, or false when there is none.
func initialTransition(defs *compiler.Definitions, process string) (ir.Transition, bool) {
	for _, t := range defs.Transitions {
		if t.Process == process && t.From == nil {
			return t, true
		}
	}
	return ir.Transition{}, false
}
