package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// TransitionOption configures a single ExecuteTransition call.
type TransitionOption func(*transitionConfig)

type transitionConfig struct {
	noRollback bool
}

// WithoutRollback runs the transition without pushing a rollback batch.
// The engine uses it for transitions fired by a sub-process join.
func WithoutRollback() TransitionOption {
	return func(c *transitionConfig) {
		c.noRollback = true
	}
}

// ExecuteTransition runs transition on exec at the given recursion depth
// and returns the resulting mutations.
//
// The returned batch is one of:
//   - a single update storing a TooDeepTransitionRecursion error, when
//     depth exceeds the limit
//   - a single update storing the Step errors, when any Step failed
//   - the Step mutations, the Execution update (state, status, context,
//     rollback stack), the ExecutionLog entry and, when a sub-process
//     finished, the mutations of its parent's join transition
//
// Every returned mutation carries depth (join mutations carry depth+1).
// A non-nil error means a collaborator failed; exec is never modified.
func (e *Engine) ExecuteTransition(ctx context.Context, ctl control.Control, exec ir.Execution, transition ir.Transition, depth int, opts ...TransitionOption) ([]ir.Tx, error) {
	var cfg transitionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.execute(ctx, ctl, newInvocation(), exec, transition, depth, cfg.noRollback)
}

func (e *Engine) execute(ctx context.Context, ctl control.Control, inv *invocation, exec ir.Execution, transition ir.Transition, depth int, noRollback bool) ([]ir.Tx, error) {
	inv.mark(exec.ID)

	if err := e.guard.Check(exec.ID, transition.ID, depth); err != nil {
		var re *RuntimeError
		if !errors.As(err, &re) {
			return nil, err
		}
		e.logger.Warn("transition recursion limit reached",
			"execution", exec.ID,
			"transition", transition.ID,
			"depth", depth,
			"limit", e.guard.MaxDepth())
		tx, err := errorTx(exec, []ir.ExecutionError{re.ProcessError().ToExecutionError(transition.ID)})
		if err != nil {
			return nil, err
		}
		return ir.WithDepth([]ir.Tx{tx}, depth), nil
	}

	// The state restore is recorded before any Step runs, so it is
	// replayed last.
	work := exec
	batch := ir.RollbackBatch{restoreTx(exec)}

	var txes []ir.Tx
	var failures []ir.ExecutionError
	for _, step := range transition.Actions {
		res, ee := e.runner.Run(ctx, step, &work, transition, ctl)
		if ee != nil {
			failures = append(failures, *ee)
			continue
		}
		txes = append(txes, res.Txes...)
		batch = append(batch, res.Rollback...)
	}

	if len(failures) > 0 {
		e.logger.Info("transition failed",
			"execution", exec.ID,
			"transition", transition.ID,
			"errors", len(failures))
		tx, err := errorTx(exec, failures)
		if err != nil {
			return nil, err
		}
		return ir.WithDepth([]ir.Tx{tx}, depth), nil
	}

	terminal := control.IsTerminal(ctl.Model(), exec.Process, transition.To)
	status := ir.StatusActive
	if terminal {
		status = ir.StatusDone
	}

	update := ir.Object{
		"currentState": ir.String(transition.To),
		"status":       ir.String(status),
	}
	if len(work.Context) > 0 {
		v, err := ir.EncodeValue(work.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context of %s: %w", exec.ID, err)
		}
		update["context"] = v
	}
	if !noRollback {
		v, err := ir.EncodeValue(exec.Rollback.Push(batch))
		if err != nil {
			return nil, fmt.Errorf("encode rollback of %s: %w", exec.ID, err)
		}
		update["rollback"] = v
	}
	txes = append(txes, ir.NewUpdateTx(ir.ClassExecution, exec.ID, update))

	action := ir.LogTransition
	if transition.IsInitial() {
		action = ir.LogStarted
	}
	logTx, err := logEntry(ctl, exec, transition.ID, action)
	if err != nil {
		return nil, err
	}
	txes = ir.WithDepth(append(txes, logTx), depth)

	e.logger.Debug("transition executed",
		"execution", exec.ID,
		"transition", transition.ID,
		"to", transition.To,
		"depth", depth,
		"status", status)

	if terminal && exec.ParentID != "" {
		inv.finished[exec.ID] = true
		joined, err := e.join(ctx, ctl, inv, exec, depth)
		if err != nil {
			return nil, err
		}
		txes = append(txes, joined...)
	}
	return txes, nil
}

// join runs the parent's OnSubProcessesDone transition once no sibling of
// child is still active. The parent transition pushes no rollback batch.
func (e *Engine) join(ctx context.Context, ctl control.Control, inv *invocation, child ir.Execution, depth int) ([]ir.Tx, error) {
	siblings, err := ctl.FindAll(ctx, ir.ClassExecution, queryir.Eq("parentId", child.ParentID))
	if err != nil {
		return nil, fmt.Errorf("find sub-processes of %s: %w", child.ParentID, err)
	}
	for _, doc := range siblings {
		if doc.ID == child.ID || inv.finished[doc.ID] {
			continue
		}
		if status, _ := doc.Attrs.GetString("status"); status == string(ir.StatusActive) {
			return nil, nil
		}
	}

	parent, ok, err := loadExecution(ctx, ctl, child.ParentID)
	if err != nil || !ok {
		return nil, err
	}
	if !runnable(parent) || inv.seen(parent.ID) {
		return nil, nil
	}

	transition, ok, err := e.pickFor(ctx, ctl, parent, ir.TriggerOnSubProcessesDone)
	if err != nil || !ok {
		return nil, err
	}
	return e.execute(ctx, ctl, inv, parent, transition, depth+1, true)
}

// rollback pops the top batch of exec's rollback stack and replays it in
// reverse order. Compensations targeting documents that no longer exist
// are skipped. Replayed mutations are flagged so that no trigger reacts to
// them.
func (e *Engine) rollback(ctx context.Context, ctl control.Control, inv *invocation, exec ir.Execution, depth int) ([]ir.Tx, error) {
	batch, rest, ok := exec.Rollback.Pop()
	if !ok {
		return nil, nil
	}
	inv.mark(exec.ID)

	var out []ir.Tx
	removesSelf := false
	for i := len(batch) - 1; i >= 0; i-- {
		tx := batch[i]
		if gone(ctl, inv, tx.ObjectID) {
			continue
		}
		if _, exists, err := control.FindByID(ctx, ctl, tx.Class, tx.ObjectID); err != nil {
			return nil, err
		} else if !exists {
			continue
		}
		if tx.Kind == ir.TxRemove {
			inv.removed[tx.ObjectID] = true
			removesSelf = removesSelf || tx.ObjectID == exec.ID
		}
		tx.Rollback = true
		out = append(out, tx)
	}

	if !removesSelf {
		v, err := ir.EncodeValue(rest)
		if err != nil {
			return nil, fmt.Errorf("encode rollback of %s: %w", exec.ID, err)
		}
		tx := ir.NewUpdateTx(ir.ClassExecution, exec.ID, ir.Object{"rollback": v})
		tx.Rollback = true
		out = append(out, tx)
	}

	logTx, err := logEntry(ctl, exec, "", ir.LogRollback)
	if err != nil {
		return nil, err
	}
	logTx.Rollback = true
	out = append(out, logTx)

	e.logger.Debug("rollback replayed",
		"execution", exec.ID,
		"mutations", len(batch),
		"remaining", rest.Depth())
	return ir.WithDepth(out, depth), nil
}

// pickFor returns the first transition leaving exec's state with trigger
// whose guard matches the execution's Card.
func (e *Engine) pickFor(ctx context.Context, ctl control.Control, exec ir.Execution, trigger ir.TriggerKind) (ir.Transition, bool, error) {
	candidates := control.Candidates(ctl.Model(), exec.Process, *exec.CurrentState, trigger)
	if len(candidates) == 0 {
		return ir.Transition{}, false, nil
	}
	card, _, err := control.Card(ctx, ctl, exec)
	if err != nil {
		return ir.Transition{}, false, err
	}
	t, ok := e.pick(candidates, card)
	return t, ok, nil
}

// pick returns the first candidate whose guard matches doc. Candidates
// must already be in pick order. Unparseable guards never match.
func (e *Engine) pick(candidates []ir.Transition, doc ir.Doc) (ir.Transition, bool) {
	for _, t := range candidates {
		pred, err := queryir.Parse(t.Guard)
		if err != nil {
			e.logger.Warn("invalid transition guard", "transition", t.ID, "error", err)
			continue
		}
		if queryir.Match(pred, doc) {
			return t, true
		}
	}
	return ir.Transition{}, false
}

// restoreTx is the compensation of the state change itself: removing the
// Execution for its first transition, restoring state and status otherwise.
func restoreTx(exec ir.Execution) ir.Tx {
	if exec.CurrentState == nil {
		return ir.NewRemoveTx(ir.ClassExecution, exec.ID)
	}
	return ir.NewUpdateTx(ir.ClassExecution, exec.ID, ir.Object{
		"currentState": ir.String(*exec.CurrentState),
		"status":       ir.String(exec.Status),
	})
}

func errorTx(exec ir.Execution, errs []ir.ExecutionError) (ir.Tx, error) {
	v, err := ir.EncodeValue(errs)
	if err != nil {
		return ir.Tx{}, fmt.Errorf("encode errors of %s: %w", exec.ID, err)
	}
	return ir.NewUpdateTx(ir.ClassExecution, exec.ID, ir.Object{"error": v}), nil
}

func logEntry(ctl control.Control, exec ir.Execution, transition string, action ir.LogAction) (ir.Tx, error) {
	attrs, err := ir.ToObject(ir.ExecutionLog{
		Execution:  exec.ID,
		Process:    exec.Process,
		Card:       exec.Card,
		Transition: transition,
		Action:     action,
		CreatedOn:  ctl.Now(),
	})
	if err != nil {
		return ir.Tx{}, err
	}
	return ir.NewCreateTx(ir.ClassExecutionLog, ctl.NewID(), attrs), nil
}

func loadExecution(ctx context.Context, ctl control.Control, id string) (ir.Execution, bool, error) {
	doc, ok, err := control.FindByID(ctx, ctl, ir.ClassExecution, id)
	if err != nil || !ok {
		return ir.Execution{}, false, err
	}
	exec, err := ir.Decode[ir.Execution](doc)
	if err != nil {
		return ir.Execution{}, false, err
	}
	return exec, true, nil
}

// runnable reports whether automatic triggers may advance exec.
func runnable(exec ir.Execution) bool {
	return exec.Status == ir.StatusActive && exec.CurrentState != nil && len(exec.Error) == 0
}

func gone(ctl control.Control, inv *invocation, id string) bool {
	if inv.removed[id] {
		return true
	}
	_, removed := ctl.Removed(id)
	return removed
}
