package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainTx    = "cardflow/tx/v1"
	DomainTrace = "cardflow/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TxHash computes the content hash of a mutation. The store uses it as the
// idempotency key of the mutation log, so re-applying an identical batch
// does not log twice.
func TxHash(tx Tx) (string, error) {
	obj := Object{
		"id":        String(tx.ID),
		"kind":      String(tx.Kind),
		"class":     String(tx.Class),
		"object_id": String(tx.ObjectID),
		"attrs":     nonNil(tx.Attrs),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TxHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTx, canonical), nil
}

// TraceHash computes a digest over a sequence of canonical values, used to
// compare two runs of the same scenario.
func TraceHash(items []Value) (string, error) {
	canonical, err := MarshalCanonical(Array(items))
	if err != nil {
		return "", fmt.Errorf("TraceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// MustTxHash is like TxHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTxHash(tx Tx) string {
	h, err := TxHash(tx)
	if err != nil {
		panic(err)
	}
	return h
}

func nonNil(obj Object) Object {
	if obj == nil {
		return Object{}
	}
	return obj
}
