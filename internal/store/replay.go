package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/cardflow/internal/ir"
)

// Drift is a document whose stored state differs from the state rebuilt
// from the mutation log. Missing sides are zero Docs.
type Drift struct {
	ID      string
	Stored  ir.Doc
	Rebuilt ir.Doc
}

// Snapshot rebuilds every document as it was right after mutation seq by
// folding the log from the beginning. at <= 0 means the latest state.
// Documents are returned ordered by id.
func (s *Store) Snapshot(ctx context.Context, at int64) ([]ir.Doc, error) {
	entries, err := s.ReadLog(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	docs := make(map[string]ir.Doc)
	for _, e := range entries {
		if at > 0 && e.Seq > at {
			break
		}
		fold(docs, e.Tx)
	}

	out := make([]ir.Doc, 0, len(docs))
	for _, id := range slices.Sorted(maps.Keys(docs)) {
		out = append(out, docs[id])
	}
	return out, nil
}

// Verify compares the documents table with the state rebuilt from the log
// and returns every document that differs, ordered by id. An empty result
// means the table and the log agree.
func (s *Store) Verify(ctx context.Context) ([]Drift, error) {
	rebuilt, err := s.Snapshot(ctx, 0)
	if err != nil {
		return nil, err
	}

	stored := make(map[string]ir.Doc)
	rows, err := s.db.QueryContext(ctx, `SELECT id, class, attrs FROM documents ORDER BY id ASC COLLATE BINARY`)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		stored[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	var drift []Drift
	seen := make(map[string]bool)
	for _, doc := range rebuilt {
		seen[doc.ID] = true
		got, ok := stored[doc.ID]
		if !ok || got.Class != doc.Class || !ir.Equal(got.Attrs, doc.Attrs) {
			drift = append(drift, Drift{ID: doc.ID, Stored: got, Rebuilt: doc})
		}
	}
	for _, id := range slices.Sorted(maps.Keys(stored)) {
		if !seen[id] {
			drift = append(drift, Drift{ID: id, Stored: stored[id]})
		}
	}
	slices.SortFunc(drift, func(a, b Drift) int { return cmp.Compare(a.ID, b.ID) })
	return drift, nil
}

func fold(docs map[string]ir.Doc, tx ir.Tx) {
	switch tx.Kind {
	case ir.TxCreate:
		docs[tx.ObjectID] = ir.Doc{ID: tx.ObjectID, Class: tx.Class}.Apply(tx)
	case ir.TxUpdate:
		if prev, ok := docs[tx.ObjectID]; ok {
			docs[tx.ObjectID] = prev.Apply(tx)
		}
	case ir.TxRemove:
		delete(docs, tx.ObjectID)
	}
}
