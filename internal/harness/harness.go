package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/cardflow/internal/compiler"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/engine"
	"github.com/roach88/cardflow/internal/host"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
	"github.com/roach88/cardflow/internal/store"
	"github.com/roach88/cardflow/internal/testutil"
)

// docStore is what the harness needs from either store backend.
type docStore interface {
	host.Store
	get(ctx context.Context, id string) (ir.Doc, bool, error)
}

type memoryBackend struct{ *control.MemoryStore }

func (b memoryBackend) get(_ context.Context, id string) (ir.Doc, bool, error) {
	doc, ok := b.Get(id)
	return doc, ok, nil
}

type sqliteBackend struct{ *store.Store }

func (b sqliteBackend) get(ctx context.Context, id string) (ir.Doc, bool, error) {
	return b.Get(ctx, id)
}

// Harness runs one scenario against a real engine and host with a
// deterministic clock and id generator.
type Harness struct {
	store  docStore
	host   *host.Host
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine and host logs to logger. Default: discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh store:
//  1. compile and validate the definition files
//  2. submit the definitions, so context declarations are synced
//  3. execute setup steps
//  4. execute flow steps, tracing every committed mutation
//  5. evaluate assertions
//
// A non-nil error means the scenario could not be executed at all;
// expectation and assertion failures are reported on the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	defs, err := compiler.CompileFiles(scenario.Definitions...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definitions: %w", err)
	}
	if errs := compiler.Validate(defs); len(errs) > 0 {
		return nil, fmt.Errorf("invalid definitions: %w", errs[0])
	}

	model := control.NewMemoryModel()
	for _, c := range defs.Classes {
		model.PutClass(c)
	}
	for _, a := range defs.Associations {
		model.PutAssociation(a)
	}

	var st docStore
	switch scenario.Store {
	case StoreSQLite:
		db, err := store.Open(":memory:", store.WithModel(model))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer db.Close()
		st = sqliteBackend{db}
	default:
		st = memoryBackend{control.NewMemoryStore(model)}
	}

	engOpts := []engine.EngineOption{
		engine.WithLogger(cfg.logger),
		engine.WithIncidentIDs(control.NewSequenceGenerator("incident")),
	}
	if scenario.MaxDepth > 0 {
		engOpts = append(engOpts, engine.WithMaxDepth(scenario.MaxDepth))
	}
	eng := engine.New(engOpts...)

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		logger: cfg.logger,
	}
	h.host = host.New(st, model, eng.Dispatch,
		host.WithIDs(control.NewSequenceGenerator("gen")),
		host.WithClock(h.clock),
		host.WithUser(testutil.TestUser),
		host.WithLogger(cfg.logger),
	)

	ctx := context.Background()

	seed, err := defs.Txes()
	if err != nil {
		return nil, err
	}
	if _, err := h.host.Submit(ctx, seed); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		if _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
	}

	for i, step := range scenario.Flow {
		committed, err := h.execute(ctx, step)
		result.AddTrace(i, committed)
		if err != nil {
			result.AddError(fmt.Sprintf("flow step %d (%s): %v", i, step.action(), err))
			return result, nil
		}
		if step.Expect != nil {
			for _, msg := range h.checkExpect(ctx, step) {
				result.AddError(fmt.Sprintf("flow step %d: %s", i, msg))
			}
		}
		h.logger.Debug("flow step completed",
			"step", i,
			"action", step.action(),
			"committed", len(committed),
		)
	}

	actx := &AssertionContext{Ctx: ctx, store: st}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute submits the batch a step describes and returns what the cascade
// committed.
func (h *Harness) execute(ctx context.Context, step Step) ([]ir.Tx, error) {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
	}

	txes, err := h.batch(ctx, step)
	if err != nil {
		return nil, err
	}
	return h.host.Submit(ctx, txes)
}

// batch builds the mutations of a step.
func (h *Harness) batch(ctx context.Context, step Step) ([]ir.Tx, error) {
	switch step.action() {
	case "create":
		attrs, err := toObject(step.Attrs)
		if err != nil {
			return nil, err
		}
		return []ir.Tx{ir.NewCreateTx(step.Create, step.ID, attrs)}, nil

	case "update":
		attrs, err := toObject(step.Attrs)
		if err != nil {
			return nil, err
		}
		return []ir.Tx{ir.NewUpdateTx(step.Update, step.ID, attrs)}, nil

	case "remove":
		return []ir.Tx{ir.NewRemoveTx(step.Remove, step.ID)}, nil

	case "start":
		exec := ir.Execution{Process: step.Start, Card: step.Card, Status: ir.StatusActive}
		attrs, err := ir.ToObject(exec)
		if err != nil {
			return nil, err
		}
		return []ir.Tx{ir.NewCreateTx(ir.ClassExecution, step.ID, attrs)}, nil

	case "close_todo", "remove_todo":
		todos, err := h.store.FindAll(ctx, ir.ClassProcessToDo, queryir.All(
			queryir.Eq("execution", step.execution()),
			queryir.Equals{Field: "done", Value: ir.Bool(false)},
		))
		if err != nil {
			return nil, err
		}
		if len(todos) == 0 {
			return nil, fmt.Errorf("execution %s has no open tasks", step.execution())
		}
		txes := make([]ir.Tx, len(todos))
		for i, todo := range todos {
			if step.CloseToDo != "" {
				txes[i] = ir.NewUpdateTx(ir.ClassProcessToDo, todo.ID, ir.Object{"done": ir.Bool(true)})
			} else {
				txes[i] = ir.NewRemoveTx(ir.ClassProcessToDo, todo.ID)
			}
		}
		return txes, nil

	case "clear_error":
		return []ir.Tx{ir.NewUpdateTx(ir.ClassExecution, step.ClearError, ir.Object{"error": ir.Null{}})}, nil

	default:
		return nil, fmt.Errorf("step has no action")
	}
}

// checkExpect compares an execution with a step's expect clause.
func (h *Harness) checkExpect(ctx context.Context, step Step) []string {
	want := step.Expect
	id := want.Execution
	if id == "" {
		id = step.execution()
	}
	exec, err := h.execution(ctx, id)
	if err != nil {
		return []string{err.Error()}
	}
	return compareExecution(exec, want.State, want.Status, want.Error)
}

func (h *Harness) execution(ctx context.Context, id string) (ir.Execution, error) {
	return loadExecution(ctx, h.store, id)
}

func loadExecution(ctx context.Context, st docStore, id string) (ir.Execution, error) {
	doc, ok, err := st.get(ctx, id)
	if err != nil {
		return ir.Execution{}, err
	}
	if !ok || doc.Class != ir.ClassExecution {
		return ir.Execution{}, fmt.Errorf("execution %s not found", id)
	}
	return ir.Decode[ir.Execution](doc)
}

// compareExecution reports every way exec differs from the expected state,
// status and error code. Empty expectations match anything.
func compareExecution(exec ir.Execution, state, status, code string) []string {
	var out []string
	if state != "" {
		actual := "<none>"
		if exec.CurrentState != nil {
			actual = *exec.CurrentState
		}
		if actual != state {
			out = append(out, fmt.Sprintf("execution %s: expected state %q, got %q", exec.ID, state, actual))
		}
	}
	if status != "" && string(exec.Status) != status {
		out = append(out, fmt.Sprintf("execution %s: expected status %q, got %q", exec.ID, status, exec.Status))
	}
	if code != "" {
		found := false
		var codes []string
		for _, e := range exec.Error {
			codes = append(codes, string(e.Code))
			if string(e.Code) == code {
				found = true
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("execution %s: expected error %q, got %v", exec.ID, code, codes))
		}
	}
	return out
}

// toObject converts YAML-decoded attributes into an Object. YAML null
// becomes Null, which clears the attribute on update.
func toObject(attrs map[string]any) (ir.Object, error) {
	obj := make(ir.Object, len(attrs))
	for k, v := range attrs {
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		obj[k] = val
	}
	return obj, nil
}
