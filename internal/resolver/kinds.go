package resolver

import (
	"context"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// attribute reads ref.Key from the Card, or from the document referenced
// by the ref.Source slot.
func (r *Resolver) attribute(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	doc, err := r.subject(ctx, ref.Source, exec, ctl)
	if err != nil {
		return nil, err
	}

	v, present := doc.Field(ref.Key)
	if _, declared := ctl.Model().Attribute(doc.Class, ref.Key); !declared && !present {
		return nil, ir.NewProcessError(ir.ErrAttributeNotExists, ir.Object{"attr": ir.String(ref.Key)})
	}
	if isEmpty(v) {
		return nil, ir.NewProcessError(ir.ErrEmptyAttributeContextValue, ir.Object{"attr": ir.String(ref.Key)})
	}
	return v, nil
}

// subject returns the document an attribute reference reads from.
func (r *Resolver) subject(ctx context.Context, source string, exec *ir.Execution, ctl control.Control) (ir.Doc, error) {
	if source == "" {
		card, ok, err := control.Card(ctx, ctl, *exec)
		if err != nil {
			return ir.Doc{}, err
		}
		if !ok {
			return ir.Doc{}, fmt.Errorf("card %s of execution %s not found", exec.Card, exec.ID)
		}
		return card, nil
	}

	cv, ok := exec.Slot(source)
	if !ok {
		return ir.Doc{}, ir.NewProcessError(ir.ErrContextValueNotProvided, ir.Object{"name": ir.String(slotName(ctl, exec, source))})
	}
	if cv.Kind != ir.ContextDocRef {
		return ir.Doc{}, fmt.Errorf("context slot %s does not reference a document", source)
	}
	doc, ok, err := control.FindByID(ctx, ctl, cv.Class, cv.ID)
	if err != nil {
		return ir.Doc{}, err
	}
	if !ok {
		return ir.Doc{}, ir.NewProcessError(ir.ErrRelatedObjectNotFound, ir.Object{"name": ir.String(slotName(ctl, exec, source))})
	}
	return doc, nil
}

// relation follows an association from the Card. With DirectionA the Card
// is docA and the targets are the docB side, with DirectionB the reverse.
func (r *Resolver) relation(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	assoc, ok := ctl.Model().Association(ref.Association)
	if !ok {
		return nil, ir.NewProcessError(ir.ErrRelationNotExists, ir.Object{"relation": ir.String(ref.Association)})
	}

	self, other, targetClass := "docA", "docB", assoc.ClassB
	if ref.Direction == ir.DirectionB {
		self, other, targetClass = "docB", "docA", assoc.ClassA
	}

	links, err := ctl.FindAll(ctx, ir.ClassRelation, queryir.All(
		queryir.Eq("association", assoc.ID),
		queryir.Eq(self, exec.Card),
	))
	if err != nil {
		return nil, fmt.Errorf("find relations %s: %w", assoc.ID, err)
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		if id, ok := link.Attrs.GetString(other); ok {
			ids = append(ids, id)
		}
	}

	label := assoc.Name
	if label == "" {
		label = assoc.ID
	}
	targets, err := loadAll(ctx, ctl, targetClass, ids)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ir.NewProcessError(ir.ErrRelatedObjectNotFound, ir.Object{"relation": ir.String(label)})
	}
	return r.extract(ctx, targets, ref, exec, ctl, ir.Object{"relation": ir.String(label)})
}

// nested follows a reference (or array of references) attribute of the
// Card to its target documents.
func (r *Resolver) nested(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	card, err := r.subject(ctx, "", exec, ctl)
	if err != nil {
		return nil, err
	}

	attr, declared := ctl.Model().Attribute(card.Class, ref.Path)
	if !declared || attr.RefClass == "" {
		return nil, ir.NewProcessError(ir.ErrAttributeNotExists, ir.Object{"attr": ir.String(ref.Path)})
	}

	var ids []string
	switch v := card.Attrs.Get(ref.Path).(type) {
	case ir.String:
		ids = append(ids, string(v))
	case ir.Array:
		for _, elem := range v {
			if id, ok := elem.(ir.String); ok {
				ids = append(ids, string(id))
			}
		}
	}

	targets, err := loadAll(ctx, ctl, attr.RefClass, ids)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ir.NewProcessError(ir.ErrRelatedObjectNotFound, ir.Object{"attr": ir.String(ref.Path)})
	}
	return r.extract(ctx, targets, ref, exec, ctl, ir.Object{"attr": ir.String(ref.Path)})
}

// extract reads ref.Key from every target (the target id when no key is
// set), reduces the result with the source function when there is one,
// and rejects an empty outcome.
func (r *Resolver) extract(ctx context.Context, targets []ir.Doc, ref ir.ContextRef, exec *ir.Execution, ctl control.Control, params ir.Object) (ir.Value, error) {
	values := make(ir.Array, 0, len(targets))
	for _, doc := range targets {
		if ref.Key == "" {
			values = append(values, ir.String(doc.ID))
			continue
		}
		v, _ := doc.Field(ref.Key)
		if v == nil {
			v = ir.Null{}
		}
		values = append(values, v)
	}

	var out ir.Value = values
	switch {
	case ref.SourceFunction != nil:
		reduced, err := r.funcs.Apply(ctx, *ref.SourceFunction, values, ctl, exec)
		if err != nil {
			return nil, err
		}
		out = reduced
	case len(values) == 1:
		out = values[0]
	}

	if isEmpty(out) {
		return nil, ir.NewProcessError(ir.ErrEmptyRelatedObjectValue, params)
	}
	return out, nil
}

func userRequest(ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	cv, ok := exec.Slot(ref.Slot)
	if !ok {
		return nil, ir.NewProcessError(ir.ErrUserRequestedValueNotProvided, ir.Object{"name": ir.String(slotName(ctl, exec, ref.Slot))})
	}
	return cv.AsValue(), nil
}

func (r *Resolver) function(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	v, err := r.funcs.Apply(ctx, ir.TransformCall{Func: ref.Func, Props: ref.Props}, ir.Null{}, ctl, exec)
	if err != nil {
		return nil, err
	}
	if ref.SourceFunction != nil {
		if v, err = r.funcs.Apply(ctx, *ref.SourceFunction, v, ctl, exec); err != nil {
			return nil, err
		}
	}
	if ir.IsNull(v) {
		return nil, ir.NewProcessError(ir.ErrEmptyFunctionResult, ir.Object{"func": ir.String(ref.Func)})
	}
	return v, nil
}

func contextSlot(ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	cv, ok := exec.Slot(ref.Slot)
	if !ok {
		return nil, ir.NewProcessError(ir.ErrContextValueNotProvided, ir.Object{"name": ir.String(slotName(ctl, exec, ref.Slot))})
	}
	return cv.AsValue(), nil
}

// slotName is the designer-facing name of a slot, from the process's
// context declarations. Falls back to the slot id.
func slotName(ctl control.Control, exec *ir.Execution, slot string) string {
	if p, ok := ctl.Model().Process(exec.Process); ok {
		if decl, ok := p.Context[slot]; ok && decl.Name != "" {
			return decl.Name
		}
	}
	return slot
}

// loadAll loads documents by id in the given order, skipping ids that no
// longer exist.
func loadAll(ctx context.Context, ctl control.Control, class string, ids []string) ([]ir.Doc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]ir.Value, len(ids))
	for i, id := range ids {
		values[i] = ir.String(id)
	}
	found, err := ctl.FindAll(ctx, class, queryir.In{Field: ir.KeyID, Values: values})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", class, err)
	}

	byID := make(map[string]ir.Doc, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]ir.Doc, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func isEmpty(v ir.Value) bool {
	if ir.IsNull(v) {
		return true
	}
	s, ok := v.(ir.String)
	return ok && s == ""
}
