package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/cardflow/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCommit commits txes as one batch and fails the test on error.
func mustCommit(t *testing.T, s *Store, txes ...ir.Tx) []ir.Tx {
	t.Helper()
	out, _, err := s.CommitBatch(context.Background(), txes)
	if err != nil {
		t.Fatalf("CommitBatch() failed: %v", err)
	}
	return out
}

func createCard(id string, attrs ir.Object) ir.Tx {
	return ir.NewCreateTx(ir.ClassCard, id, attrs)
}
