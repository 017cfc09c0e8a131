package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cardflow/internal/ir"
)

// marshalAttrs converts an Object to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalAttrs(attrs ir.Object) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs parses JSON TEXT to an Object.
// Uses ir.Object.UnmarshalJSON which keeps integers as ir.Int instead of
// widening them to float64.
func unmarshalAttrs(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return obj, nil
}

// validateModelDoc rejects model definitions the process model could not
// decode, before they are committed.
func validateModelDoc(doc ir.Doc) error {
	var err error
	switch doc.Class {
	case ir.ClassProcess:
		_, err = ir.Decode[ir.Process](doc)
	case ir.ClassState:
		_, err = ir.Decode[ir.State](doc)
	case ir.ClassTransition:
		var t ir.Transition
		if t, err = ir.Decode[ir.Transition](doc); err == nil {
			if errs := t.Validate(); len(errs) > 0 {
				err = errs[0]
			}
		}
	}
	if err != nil {
		return fmt.Errorf("invalid %s %s: %w", doc.Class, doc.ID, err)
	}
	return nil
}
