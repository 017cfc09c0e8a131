package ir

import (
	"encoding/json"
	"fmt"
)

// ExecutionStatus is the lifecycle status of an Execution.
type ExecutionStatus string

const (
	StatusActive ExecutionStatus = "active"
	StatusDone   ExecutionStatus = "done"
)

// Execution is a running instance of a Process bound to one Card.
type Execution struct {
	ID           string                  `json:"-"`
	Process      string                  `json:"process"`
	Card         string                  `json:"card"`
	CurrentState *string                 `json:"currentState"`
	Status       ExecutionStatus         `json:"status"`
	Context      map[string]ContextValue `json:"context,omitempty"`
	Rollback     RollbackLog             `json:"rollback,omitempty"`
	Error        []ExecutionError        `json:"error,omitempty"`
	ParentID     string                  `json:"parentId,omitempty"`
}

// SetID implements Identified.
func (e *Execution) SetID(id string) { e.ID = id }

// InState reports whether the execution currently sits in state.
func (e Execution) InState(state string) bool {
	return e.CurrentState != nil && *e.CurrentState == state
}

// Slot returns a populated context slot. Missing slots report false.
func (e Execution) Slot(id string) (ContextValue, bool) {
	cv, ok := e.Context[id]
	if !ok || cv.Kind == ContextMissing {
		return ContextValue{}, false
	}
	return cv, true
}

// SetSlot stores a value under a context slot, copying the map first so
// snapshots held elsewhere are not affected.
func (e *Execution) SetSlot(id string, cv ContextValue) {
	next := make(map[string]ContextValue, len(e.Context)+1)
	for k, v := range e.Context {
		next[k] = v
	}
	next[id] = cv
	e.Context = next
}

// ContextKind discriminates ContextValue.
type ContextKind string

const (
	ContextRaw     ContextKind = "raw"
	ContextDocRef  ContextKind = "ref"
	ContextMissing ContextKind = "missing"
)

// ContextValue is the value held by one execution context slot: a raw
// domain value, a reference to a document produced by an action, or an
// explicit marker that the slot has no value yet.
type ContextValue struct {
	Kind  ContextKind
	Value Value
	Class string
	ID    string
}

// Raw wraps a domain value.
func Raw(v Value) ContextValue {
	return ContextValue{Kind: ContextRaw, Value: v}
}

// DocRef references a document by class and id.
func DocRef(class, id string) ContextValue {
	return ContextValue{Kind: ContextDocRef, Class: class, ID: id}
}

// Missing marks a declared but unpopulated slot.
func Missing() ContextValue {
	return ContextValue{Kind: ContextMissing}
}

// AsValue returns the value seen by parameters and transforms: the raw
// value, or the document id for references.
func (cv ContextValue) AsValue() Value {
	switch cv.Kind {
	case ContextRaw:
		if cv.Value == nil {
			return Null{}
		}
		return cv.Value
	case ContextDocRef:
		return String(cv.ID)
	default:
		return Null{}
	}
}

type contextValueJSON struct {
	Kind  ContextKind     `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
	Class string          `json:"class,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (cv ContextValue) MarshalJSON() ([]byte, error) {
	out := contextValueJSON{Kind: cv.Kind, Class: cv.Class, ID: cv.ID}
	if cv.Kind == ContextRaw {
		raw, err := MarshalValue(cv.Value)
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (cv *ContextValue) UnmarshalJSON(data []byte) error {
	var in contextValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case ContextRaw:
		v := Value(Null{})
		if len(in.Value) > 0 {
			var err error
			if v, err = UnmarshalValue(in.Value); err != nil {
				return fmt.Errorf("context value: %w", err)
			}
		}
		*cv = Raw(v)
	case ContextDocRef:
		*cv = DocRef(in.Class, in.ID)
	case ContextMissing:
		*cv = Missing()
	default:
		return fmt.Errorf("unknown context value kind %q", in.Kind)
	}
	return nil
}

// ExecutionError is a failure recorded on an Execution. Clearing it
// re-attempts Transition.
type ExecutionError struct {
	Transition string    `json:"transition"`
	Code       ErrorCode `json:"code"`
	Params     Object    `json:"params,omitempty"`
	ShouldLog  bool      `json:"shouldLog"`
}

// ProcessToDo is a task spawned by CreateToDo.
type ProcessToDo struct {
	ID           string `json:"-"`
	Execution    string `json:"execution"`
	State        string `json:"state"`
	Title        string `json:"title"`
	User         string `json:"user,omitempty"`
	WithRollback bool   `json:"withRollback"`
	Done         bool   `json:"done"`
}

// SetID implements Identified.
func (t *ProcessToDo) SetID(id string) { t.ID = id }

// LogAction is the kind of an ExecutionLog entry.
type LogAction string

const (
	LogStarted    LogAction = "Started"
	LogTransition LogAction = "Transition"
	LogRollback   LogAction = "Rollback"
)

// ExecutionLog is an append-only audit entry, one per committed transition
// or replayed rollback.
type ExecutionLog struct {
	ID         string    `json:"-"`
	Execution  string    `json:"execution"`
	Process    string    `json:"process"`
	Card       string    `json:"card"`
	Transition string    `json:"transition,omitempty"`
	Action     LogAction `json:"action"`
	CreatedOn  int64     `json:"createdOn"`
}

// SetID implements Identified.
func (l *ExecutionLog) SetID(id string) { l.ID = id }
