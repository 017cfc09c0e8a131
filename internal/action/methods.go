package action

import (
	"context"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Built-in method ids.
const (
	MethodCreateToDo    = "CreateToDo"
	MethodUpdateCard    = "UpdateCard"
	MethodCreateCard    = "CreateCard"
	MethodAddRelation   = "AddRelation"
	MethodRunSubProcess = "RunSubProcess"
)

func builtins() []Method {
	return []Method{
		{ID: MethodCreateToDo, Required: []string{"title"}, ContextClass: ir.ClassProcessToDo, Func: createToDo},
		{ID: MethodUpdateCard, Func: updateCard},
		{ID: MethodCreateCard, Required: []string{"class"}, Func: createCard},
		{ID: MethodAddRelation, Required: []string{"association", "target"}, ContextClass: ir.ClassRelation, Func: addRelation},
		{ID: MethodRunSubProcess, Required: []string{"process"}, ContextClass: ir.ClassExecution, Func: runSubProcess},
	}
}

// createToDo creates a task bound to the state the transition leads to.
// Params: title (required), user, withRollback.
func createToDo(_ context.Context, call Call) (Result, error) {
	title, _ := call.Params.GetString("title")
	user, _ := call.Params.GetString("user")
	withRollback, _ := call.Params.Get("withRollback").(ir.Bool)

	id := call.Control.NewID()
	attrs, err := ir.ToObject(ir.ProcessToDo{
		Execution:    call.Execution.ID,
		State:        call.Transition.To,
		Title:        title,
		User:         user,
		WithRollback: bool(withRollback),
	})
	if err != nil {
		return Result{}, err
	}

	ref := ir.DocRef(ir.ClassProcessToDo, id)
	return Result{
		Txes:     []ir.Tx{ir.NewCreateTx(ir.ClassProcessToDo, id, attrs)},
		Rollback: []ir.Tx{ir.NewRemoveTx(ir.ClassProcessToDo, id)},
		Context:  &ref,
	}, nil
}

// updateCard sets every parameter as an attribute of the Card. The
// rollback restores the previous values; attributes that were absent are
// cleared again.
func updateCard(ctx context.Context, call Call) (Result, error) {
	if len(call.Params) == 0 {
		return Result{}, nil
	}

	card, ok, err := control.Card(ctx, call.Control, *call.Execution)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("card %s not found", call.Execution.Card)
	}

	attrs := call.Params.Clone()
	return Result{
		Txes:     []ir.Tx{ir.NewUpdateTx(card.Class, card.ID, attrs)},
		Rollback: []ir.Tx{ir.NewUpdateTx(card.Class, card.ID, control.PrevValues(card, attrs))},
	}, nil
}

// createCard creates a new card. Params: class (required, a card class);
// every other parameter becomes an attribute.
func createCard(_ context.Context, call Call) (Result, error) {
	class, _ := call.Params.GetString("class")
	if !call.Control.Model().IsCard(class) {
		return Result{}, fmt.Errorf("%s is not a card class", class)
	}

	attrs := call.Params.Clone()
	delete(attrs, "class")

	id := call.Control.NewID()
	ref := ir.DocRef(class, id)
	return Result{
		Txes:     []ir.Tx{ir.NewCreateTx(class, id, attrs)},
		Rollback: []ir.Tx{ir.NewRemoveTx(class, id)},
		Context:  &ref,
	}, nil
}

// addRelation links the Card to target through an association.
// Params: association, target (required), direction (A: the Card is docA,
// the default; B: the Card is docB).
func addRelation(_ context.Context, call Call) (Result, error) {
	assocID, _ := call.Params.GetString("association")
	target, ok := call.Params.GetString("target")
	if !ok {
		return Result{}, fmt.Errorf("target must be a document id")
	}
	if _, ok := call.Control.Model().Association(assocID); !ok {
		return Result{}, ir.NewProcessError(ir.ErrRelationNotExists, ir.Object{"relation": ir.String(assocID)})
	}

	docA, docB := call.Execution.Card, target
	switch dir, _ := call.Params.GetString("direction"); dir {
	case "", ir.DirectionA:
	case ir.DirectionB:
		docA, docB = docB, docA
	default:
		return Result{}, fmt.Errorf("unknown direction %q", dir)
	}

	id := call.Control.NewID()
	ref := ir.DocRef(ir.ClassRelation, id)
	return Result{
		Txes: []ir.Tx{ir.NewCreateTx(ir.ClassRelation, id, ir.Object{
			"association": ir.String(assocID),
			"docA":        ir.String(docA),
			"docB":        ir.String(docB),
		})},
		Rollback: []ir.Tx{ir.NewRemoveTx(ir.ClassRelation, id)},
		Context:  &ref,
	}, nil
}

// runSubProcess spawns child executions of another process, one per card.
// Params: process (required); card, a card id or an array of ids
// (default: the Card); context, an object of initial slot values.
//
// When the child process forbids parallel execution and a card already
// has an active execution of it, nothing is spawned and the step fails
// with ParallelExecutionForbidden.
func runSubProcess(ctx context.Context, call Call) (Result, error) {
	processID, _ := call.Params.GetString("process")
	process, ok := call.Control.Model().Process(processID)
	if !ok {
		return Result{}, fmt.Errorf("process %s not found", processID)
	}

	cards, err := targetCards(call)
	if err != nil {
		return Result{}, err
	}

	if process.ParallelExecutionForbidden {
		for _, card := range cards {
			active, err := call.Control.FindAll(ctx, ir.ClassExecution, queryir.All(
				queryir.Eq("process", process.ID),
				queryir.Eq("card", card),
				queryir.Eq("status", string(ir.StatusActive)),
			))
			if err != nil {
				return Result{}, fmt.Errorf("find active executions: %w", err)
			}
			if len(active) > 0 {
				return Result{}, ir.NewProcessError(ir.ErrParallelExecutionForbidden, ir.Object{
					"process": ir.String(process.Name),
					"card":    ir.String(card),
				})
			}
		}
	}

	initial := make(map[string]ir.ContextValue)
	if seed, ok := call.Params.Get("context").(ir.Object); ok {
		for slot, v := range seed {
			initial[slot] = ir.Raw(v)
		}
	}

	var res Result
	ids := make(ir.Array, 0, len(cards))
	for _, card := range cards {
		id := call.Control.NewID()
		attrs, err := ir.ToObject(ir.Execution{
			Process:  process.ID,
			Card:     card,
			Status:   ir.StatusActive,
			Context:  initial,
			ParentID: call.Execution.ID,
		})
		if err != nil {
			return Result{}, err
		}
		res.Txes = append(res.Txes, ir.NewCreateTx(ir.ClassExecution, id, attrs))
		res.Rollback = append(res.Rollback, ir.NewRemoveTx(ir.ClassExecution, id))
		ids = append(ids, ir.String(id))
	}

	cv := ir.Raw(ids)
	if len(ids) == 1 {
		cv = ir.DocRef(ir.ClassExecution, string(ids[0].(ir.String)))
	}
	res.Context = &cv
	return res, nil
}

func targetCards(call Call) ([]string, error) {
	switch v := call.Params.Get("card").(type) {
	case ir.Null:
		return []string{call.Execution.Card}, nil
	case ir.String:
		return []string{string(v)}, nil
	case ir.Array:
		cards := make([]string, 0, len(v))
		for _, elem := range v {
			id, ok := elem.(ir.String)
			if !ok {
				return nil, fmt.Errorf("card must be an id or an array of ids")
			}
			cards = append(cards, string(id))
		}
		if len(cards) == 0 {
			return nil, ir.NewProcessError(ir.ErrRequiredParamsNotProvided, ir.Object{"param": ir.String("card")})
		}
		return cards, nil
	default:
		return nil, fmt.Errorf("card must be an id or an array of ids")
	}
}
