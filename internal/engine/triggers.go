package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Each trigger handler filters the batch for the mutations it reacts to.
// Mutations replayed from a rollback batch never trigger transitions, and
// automatic triggers skip executions that hold an error until a user
// clears it. A transition triggered by a mutation of depth d runs at d+1.

func (e *Engine) onExecutionCreate(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxCreate || tx.Class != ir.ClassExecution || tx.Rollback {
			continue
		}
		exec, ok, err := loadExecution(ctx, ctl, tx.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok || exec.CurrentState != nil || exec.Status != ir.StatusActive || len(exec.Error) > 0 || inv.seen(exec.ID) {
			continue
		}

		initial, ok := control.Initial(ctl.Model(), exec.Process)
		if !ok {
			e.logger.Warn("process has no initial transition", "process", exec.Process, "execution", exec.ID)
			continue
		}
		produced, err := e.execute(ctx, ctl, inv, exec, initial, tx.Depth+1, false)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

// onExecutionTransition looks at executions that just entered a state. The
// Card may already satisfy an OnCardUpdate guard of the new state; failing
// that, an OnSubProcessesDone transition fires when the execution has no
// active sub-process.
func (e *Engine) onExecutionTransition(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxUpdate || tx.Class != ir.ClassExecution || tx.Rollback || !tx.Changed("currentState") {
			continue
		}
		exec, ok, err := loadExecution(ctx, ctl, tx.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok || !runnable(exec) || inv.seen(exec.ID) {
			continue
		}

		transition, ok, err := e.pickFor(ctx, ctl, exec, ir.TriggerOnCardUpdate)
		if err != nil {
			return nil, err
		}
		if !ok {
			busy, err := hasActiveChildren(ctx, ctl, inv, exec.ID)
			if err != nil {
				return nil, err
			}
			if busy {
				continue
			}
			if transition, ok, err = e.pickFor(ctx, ctl, exec, ir.TriggerOnSubProcessesDone); err != nil {
				return nil, err
			}
		}
		if !ok {
			continue
		}

		produced, err := e.execute(ctx, ctl, inv, exec, transition, tx.Depth+1, false)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

func (e *Engine) onCardUpdate(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var cards []string
	depths := make(map[string]int)
	for _, tx := range txes {
		if tx.Kind != ir.TxUpdate || tx.Rollback || !ctl.Model().IsCard(tx.Class) {
			continue
		}
		if d, seen := depths[tx.ObjectID]; !seen {
			cards = append(cards, tx.ObjectID)
			depths[tx.ObjectID] = tx.Depth
		} else if tx.Depth > d {
			depths[tx.ObjectID] = tx.Depth
		}
	}

	var out []ir.Tx
	for _, card := range cards {
		docs, err := ctl.FindAll(ctx, ir.ClassExecution, queryir.All(
			queryir.Eq("card", card),
			queryir.Eq("status", string(ir.StatusActive)),
		))
		if err != nil {
			return nil, fmt.Errorf("find executions of card %s: %w", card, err)
		}

		for _, doc := range docs {
			exec, err := ir.Decode[ir.Execution](doc)
			if err != nil {
				return nil, err
			}
			if !runnable(exec) || inv.seen(exec.ID) {
				continue
			}
			transition, ok, err := e.pickFor(ctx, ctl, exec, ir.TriggerOnCardUpdate)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			produced, err := e.execute(ctx, ctl, inv, exec, transition, depths[card]+1, false)
			if err != nil {
				return nil, err
			}
			out = append(out, produced...)
		}
	}
	return out, nil
}

// onProcessToDoClose fires when a ToDo is marked done while its Execution
// still sits in the state the ToDo was created for. Guards match the ToDo.
func (e *Engine) onProcessToDoClose(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxUpdate || tx.Class != ir.ClassProcessToDo || tx.Rollback || !tx.Changed("done") {
			continue
		}
		if done, _ := tx.Attrs.Get("done").(ir.Bool); !done {
			continue
		}

		doc, ok, err := control.FindByID(ctx, ctl, ir.ClassProcessToDo, tx.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		produced, err := e.fireToDo(ctx, ctl, inv, doc, ir.TriggerOnToDoClose, tx.Depth)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

// onProcessToDoRemove handles removed ToDos. A ToDo created withRollback
// undoes the transition that created it; any other ToDo fires an
// OnToDoRemove transition. Both only apply while the Execution is still in
// the ToDo's state.
func (e *Engine) onProcessToDoRemove(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxRemove || tx.Class != ir.ClassProcessToDo || tx.Rollback {
			continue
		}
		doc, ok := ctl.Removed(tx.ObjectID)
		if !ok {
			continue
		}
		todo, err := ir.Decode[ir.ProcessToDo](doc)
		if err != nil {
			return nil, err
		}

		if !todo.WithRollback {
			produced, err := e.fireToDo(ctx, ctl, inv, doc, ir.TriggerOnToDoRemove, tx.Depth)
			if err != nil {
				return nil, err
			}
			out = append(out, produced...)
			continue
		}

		exec, ok, err := loadExecution(ctx, ctl, todo.Execution)
		if err != nil {
			return nil, err
		}
		if !ok || inv.seen(exec.ID) || !exec.InState(todo.State) {
			continue
		}
		produced, err := e.rollback(ctx, ctl, inv, exec, tx.Depth)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

func (e *Engine) fireToDo(ctx context.Context, ctl control.Control, inv *invocation, doc ir.Doc, trigger ir.TriggerKind, depth int) ([]ir.Tx, error) {
	todo, err := ir.Decode[ir.ProcessToDo](doc)
	if err != nil {
		return nil, err
	}
	exec, ok, err := loadExecution(ctx, ctl, todo.Execution)
	if err != nil {
		return nil, err
	}
	if !ok || !runnable(exec) || inv.seen(exec.ID) || !exec.InState(todo.State) {
		return nil, nil
	}

	candidates := control.Candidates(ctl.Model(), exec.Process, todo.State, trigger)
	transition, ok := e.pick(candidates, doc)
	if !ok {
		return nil, nil
	}
	return e.execute(ctx, ctl, inv, exec, transition, depth+1, false)
}

// onExecutionContinue retries exactly the transition that failed once a
// user clears the error of an Execution. It never picks another edge.
func (e *Engine) onExecutionContinue(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxUpdate || tx.Class != ir.ClassExecution || tx.Rollback {
			continue
		}
		if _, touched := tx.Attrs["error"]; !touched || !noErrors(tx.Attrs["error"]) || noErrors(tx.PrevValue("error")) {
			continue
		}

		var failed []ir.ExecutionError
		if err := decodeValue(tx.PrevValue("error"), &failed); err != nil {
			return nil, fmt.Errorf("decode errors of %s: %w", tx.ObjectID, err)
		}
		transitionID := failed[0].Transition

		exec, ok, err := loadExecution(ctx, ctl, tx.ObjectID)
		if err != nil {
			return nil, err
		}
		if !ok || exec.Status != ir.StatusActive || len(exec.Error) > 0 || inv.seen(exec.ID) {
			continue
		}

		transition, ok := ctl.Model().Transition(transitionID)
		if !ok {
			e.logger.Warn("cannot continue execution", "error", NewUnknownTransitionError(exec.ID, transitionID))
			continue
		}
		if !leaves(transition, exec) {
			continue
		}

		produced, err := e.execute(ctx, ctl, inv, exec, transition, tx.Depth+1, false)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

// onTransition re-derives the context declarations of every process whose
// transitions were created, edited or removed.
func (e *Engine) onTransition(ctx context.Context, ctl control.Control, _ *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var processes []string
	seen := make(map[string]bool)
	for _, tx := range txes {
		if tx.Class != ir.ClassTransition {
			continue
		}
		process := transitionProcess(ctl, tx)
		if process != "" && !seen[process] {
			seen[process] = true
			processes = append(processes, process)
		}
	}

	var out []ir.Tx
	for _, process := range processes {
		tx, changed, err := e.syncContext(ctl.Model(), process, nil)
		if err != nil {
			return nil, err
		}
		if changed {
			out = append(out, tx)
		}
	}
	return out, nil
}

func transitionProcess(ctl control.Control, tx ir.Tx) string {
	if tx.Kind == ir.TxRemove {
		if doc, ok := ctl.Removed(tx.ObjectID); ok {
			process, _ := doc.Attrs.GetString("process")
			return process
		}
		return ""
	}
	if t, ok := ctl.Model().Transition(tx.ObjectID); ok {
		return t.Process
	}
	process, _ := tx.Attrs.GetString("process")
	return process
}

// onStateRemove removes every transition entering or leaving a removed
// state, then re-derives the process context without them.
func (e *Engine) onStateRemove(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxRemove || tx.Class != ir.ClassState {
			continue
		}
		doc, ok := ctl.Removed(tx.ObjectID)
		if !ok {
			continue
		}
		process, _ := doc.Attrs.GetString("process")

		dropped := make(map[string]bool)
		for _, t := range ctl.Model().Transitions(process) {
			touches := t.To == tx.ObjectID || (t.From != nil && *t.From == tx.ObjectID)
			if !touches || gone(ctl, inv, t.ID) {
				continue
			}
			dropped[t.ID] = true
			inv.removed[t.ID] = true
			out = append(out, ir.NewRemoveTx(ir.ClassTransition, t.ID))
		}

		sync, changed, err := e.syncContext(ctl.Model(), process, dropped)
		if err != nil {
			return nil, err
		}
		if changed {
			out = append(out, sync)
		}
	}
	return out, nil
}

// onProcessRemove removes the transitions and states of removed processes.
func (e *Engine) onProcessRemove(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error) {
	var out []ir.Tx
	for _, tx := range txes {
		if tx.Kind != ir.TxRemove || tx.Class != ir.ClassProcess {
			continue
		}
		for _, t := range ctl.Model().Transitions(tx.ObjectID) {
			if !gone(ctl, inv, t.ID) {
				inv.removed[t.ID] = true
				out = append(out, ir.NewRemoveTx(ir.ClassTransition, t.ID))
			}
		}
		for _, s := range ctl.Model().States(tx.ObjectID) {
			if !gone(ctl, inv, s.ID) {
				inv.removed[s.ID] = true
				out = append(out, ir.NewRemoveTx(ir.ClassState, s.ID))
			}
		}
	}
	return out, nil
}

func hasActiveChildren(ctx context.Context, ctl control.Control, inv *invocation, parent string) (bool, error) {
	children, err := ctl.FindAll(ctx, ir.ClassExecution, queryir.All(
		queryir.Eq("parentId", parent),
		queryir.Eq("status", string(ir.StatusActive)),
	))
	if err != nil {
		return false, fmt.Errorf("find sub-processes of %s: %w", parent, err)
	}
	for _, child := range children {
		if !inv.finished[child.ID] {
			return true, nil
		}
	}
	return false, nil
}

// leaves reports whether transition starts where exec currently is.
func leaves(transition ir.Transition, exec ir.Execution) bool {
	if transition.Process != exec.Process {
		return false
	}
	if transition.IsInitial() {
		return exec.CurrentState == nil
	}
	return exec.InState(*transition.From)
}

func noErrors(v ir.Value) bool {
	if ir.IsNull(v) {
		return true
	}
	arr, ok := v.(ir.Array)
	return ok && len(arr) == 0
}

func decodeValue(v ir.Value, out any) error {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
