package ir

import (
	"encoding/json"
	"fmt"
)

// RefKind discriminates the kinds of context reference.
type RefKind string

const (
	// RefAttribute reads an attribute of the Card, or of the document a prior
	// context slot points at.
	RefAttribute RefKind = "attribute"
	// RefRelation follows an association between the Card and other documents.
	RefRelation RefKind = "relation"
	// RefNested follows a reference (or array of references) attribute of the Card.
	RefNested RefKind = "nested"
	// RefUserRequest reads a value supplied by a user into an execution slot.
	RefUserRequest RefKind = "userRequest"
	// RefFunction calls a zero-argument registered function.
	RefFunction RefKind = "function"
	// RefContext reads another execution context slot.
	RefContext RefKind = "context"
)

// Relation directions, seen from the Card.
const (
	// DirectionA means the Card is docA of the relation; targets are docB.
	DirectionA = "A"
	// DirectionB means the Card is docB of the relation; targets are docA.
	DirectionB = "B"
)

// TransformCall is one named function applied with static props.
type TransformCall struct {
	Func  string `json:"func"`
	Props Object `json:"props,omitempty"`
}

// ContextRef is a selected context reference: how to obtain a value at run
// time, plus the transform pipeline and fallback applied to it.
type ContextRef struct {
	Kind RefKind `json:"kind"`

	// Key is the attribute read on the resolved document.
	Key string `json:"key,omitempty"`
	// Source optionally names a context slot holding a document reference;
	// attribute refs then read Key from that document instead of the Card.
	Source string `json:"source,omitempty"`

	Association string `json:"association,omitempty"`
	Direction   string `json:"direction,omitempty"`
	// Path is the reference attribute on the Card followed by nested refs.
	Path string `json:"path,omitempty"`

	// Slot is the execution context slot read by userRequest and context refs.
	Slot string `json:"slot,omitempty"`

	Func  string `json:"func,omitempty"`
	Props Object `json:"props,omitempty"`

	// SourceFunction reduces a multi-valued match set (relation, nested) or a
	// function result before extraction.
	SourceFunction *TransformCall `json:"sourceFunction,omitempty"`
	Functions      []TransformCall `json:"functions,omitempty"`
	Fallback       *ParamValue     `json:"fallback,omitempty"`
}

// ParamValue is a step parameter: either a literal value or a context
// reference resolved before the method runs.
//
// In JSON a reference is written as {"$ctx": {...}}; anything else is a
// literal.
type ParamValue struct {
	Literal Value
	Ref     *ContextRef
}

const refMarker = "$ctx"

// Lit builds a literal parameter.
func Lit(v Value) ParamValue {
	return ParamValue{Literal: v}
}

// RefParam builds a context reference parameter.
func RefParam(ref ContextRef) ParamValue {
	return ParamValue{Ref: &ref}
}

// IsRef reports whether the parameter is a context reference.
func (p ParamValue) IsRef() bool {
	return p.Ref != nil
}

// MarshalJSON implements json.Marshaler.
func (p ParamValue) MarshalJSON() ([]byte, error) {
	if p.Ref != nil {
		inner, err := json.Marshal(p.Ref)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{refMarker: inner})
	}
	return MarshalValue(p.Literal)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil && len(probe) == 1 {
		if raw, ok := probe[refMarker]; ok {
			var ref ContextRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return fmt.Errorf("context reference: %w", err)
			}
			*p = ParamValue{Ref: &ref}
			return nil
		}
	}
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	*p = ParamValue{Literal: v}
	return nil
}
