package ir

import (
	"encoding/json"
	"fmt"
)

// Identified is implemented by typed documents whose id lives on the Doc
// rather than in the attributes.
type Identified interface {
	SetID(id string)
}

// ToObject converts a typed document into its attribute object.
func ToObject(v any) (Object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	val, err := UnmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	obj, ok := val.(Object)
	if !ok {
		return nil, fmt.Errorf("encode %T: not an object", v)
	}
	return obj, nil
}

// MustObject is like ToObject but panics on error.
// Use only for types whose encoding cannot fail.
func MustObject(v any) Object {
	obj, err := ToObject(v)
	if err != nil {
		panic(err)
	}
	return obj
}

// FromObject decodes an attribute object into a typed value.
func FromObject(obj Object, v any) error {
	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// Decode converts a Doc into a typed document, carrying over its id.
func Decode[T any, PT interface {
	*T
	Identified
}](doc Doc) (T, error) {
	var v T
	if err := FromObject(doc.Attrs, &v); err != nil {
		return v, fmt.Errorf("%s %s: %w", doc.Class, doc.ID, err)
	}
	PT(&v).SetID(doc.ID)
	return v, nil
}

// EncodeValue converts any JSON-encodable Go value into a Value.
func EncodeValue(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return UnmarshalValue(data)
}
