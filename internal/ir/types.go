package ir

// Class identifiers of the documents the engine reads and writes.
// Card classes are whatever the host model declares; the engine only
// needs to know a class is a card class (see control.Model).
const (
	ClassProcess      = "process:class:Process"
	ClassState        = "process:class:State"
	ClassTransition   = "process:class:Transition"
	ClassExecution    = "process:class:Execution"
	ClassProcessToDo  = "process:class:ProcessToDo"
	ClassExecutionLog = "process:class:ExecutionLog"
	ClassRelation     = "core:class:Relation"
	ClassCard         = "card:class:Card"
)

// Reserved attribute keys that map to Doc fields rather than Attrs entries
// when a predicate or a context reference names them.
const (
	KeyID    = "_id"
	KeyClass = "_class"
)

// Doc is a typed document snapshot as returned by the lookup collaborator.
type Doc struct {
	ID    string `json:"_id"`
	Class string `json:"_class"`
	Attrs Object `json:"attrs"`
}

// Field returns an attribute of the document, resolving the reserved
// _id and _class keys to the document identity.
func (d Doc) Field(key string) (Value, bool) {
	switch key {
	case KeyID:
		return String(d.ID), true
	case KeyClass:
		return String(d.Class), true
	}
	v, ok := d.Attrs[key]
	return v, ok
}

// Clone returns a copy of the document with deep-copied attributes.
func (d Doc) Clone() Doc {
	return Doc{ID: d.ID, Class: d.Class, Attrs: d.Attrs.Clone()}
}

// Apply returns the document with the mutation applied. Update attributes
// set to Null delete the key.
func (d Doc) Apply(tx Tx) Doc {
	out := d.Clone()
	if out.Attrs == nil {
		out.Attrs = Object{}
	}
	for k, v := range tx.Attrs {
		if IsNull(v) && tx.Kind == TxUpdate {
			delete(out.Attrs, k)
			continue
		}
		out.Attrs[k] = CloneValue(v)
	}
	return out
}
