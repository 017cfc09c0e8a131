package engine

import (
	"maps"
	"slices"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// DeriveContext computes the context slot declarations of process from its
// transitions, in pick order:
//
//   - a Step context slot is declared with the class its method produces
//   - a Step result slot is declared with its own name and type
//   - every userRequest reference in a Step's parameters declares its slot;
//     a name given to that slot earlier is kept
//
// When two Steps declare the same slot, the later one wins.
func DeriveContext(process ir.Process, transitions []ir.Transition, methods *action.Registry) map[string]ir.ProcessContext {
	out := make(map[string]ir.ProcessContext)
	for _, t := range transitions {
		for _, step := range t.Actions {
			if step.Context != nil && step.Context.ID != "" {
				decl := ir.ProcessContext{
					Name:       step.Context.Name,
					Kind:       ir.SlotContext,
					Transition: t.ID,
					Step:       step.ID,
				}
				if decl.Name == "" {
					decl.Name = step.Method
				}
				if m, ok := methods.Lookup(step.Method); ok {
					decl.Type = m.ContextClass
				}
				out[step.Context.ID] = decl
			}

			if step.Result != nil && step.Result.ID != "" {
				out[step.Result.ID] = ir.ProcessContext{
					Name:       step.Result.Name,
					Kind:       ir.SlotResult,
					Type:       step.Result.Type,
					Transition: t.ID,
					Step:       step.ID,
				}
			}

			for _, name := range slices.Sorted(maps.Keys(step.Params)) {
				p := step.Params[name]
				if !p.IsRef() || p.Ref.Kind != ir.RefUserRequest || p.Ref.Slot == "" {
					continue
				}
				decl := ir.ProcessContext{
					Name:       name,
					Kind:       ir.SlotUserRequest,
					Transition: t.ID,
					Step:       step.ID,
				}
				if prev, ok := process.Context[p.Ref.Slot]; ok && prev.Kind == ir.SlotUserRequest {
					decl.Name = prev.Name
					decl.Type = prev.Type
				}
				out[p.Ref.Slot] = decl
			}
		}
	}
	return out
}

// syncContext returns the update that brings the stored context
// declarations of process in line with its transitions, ignoring the
// transitions in exclude. ok is false when nothing changes.
func (e *Engine) syncContext(model control.Model, processID string, exclude map[string]bool) (ir.Tx, bool, error) {
	process, found := model.Process(processID)
	if !found {
		return ir.Tx{}, false, nil
	}

	var transitions []ir.Transition
	for _, t := range model.Transitions(processID) {
		if !exclude[t.ID] {
			transitions = append(transitions, t)
		}
	}

	next := DeriveContext(process, transitions, e.methods)
	if sameContext(process.Context, next) {
		return ir.Tx{}, false, nil
	}

	v, err := ir.EncodeValue(next)
	if err != nil {
		return ir.Tx{}, false, err
	}
	e.logger.Debug("process context synced", "process", processID, "slots", len(next))
	return ir.NewUpdateTx(ir.ClassProcess, processID, ir.Object{"context": v}), true, nil
}

func sameContext(a, b map[string]ir.ProcessContext) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.Equal(a, b)
}
