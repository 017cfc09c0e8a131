package control

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Documents is the read side of a document store.
type Documents interface {
	FindAll(ctx context.Context, class string, pred queryir.Predicate) ([]ir.Doc, error)
}

// MemoryStore is an in-memory document store. Process, State and
// Transition documents live in the attached MemoryModel; every other class
// is kept in a plain map.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]ir.Doc
	model *MemoryModel
}

// NewMemoryStore creates an empty store over model.
func NewMemoryStore(model *MemoryModel) *MemoryStore {
	if model == nil {
		model = NewMemoryModel()
	}
	return &MemoryStore{docs: make(map[string]ir.Doc), model: model}
}

// Model returns the attached model.
func (s *MemoryStore) Model() *MemoryModel {
	return s.model
}

// Put inserts or replaces documents without going through Commit.
func (s *MemoryStore) Put(docs ...ir.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = d.Clone()
	}
}

// Get returns a document by id.
func (s *MemoryStore) Get(id string) (ir.Doc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return ir.Doc{}, false
	}
	return d.Clone(), true
}

// FindAll implements Documents. Results are ordered by id.
func (s *MemoryStore) FindAll(_ context.Context, class string, pred queryir.Predicate) ([]ir.Doc, error) {
	if IsModelClass(class) {
		docs, err := s.model.Docs(class)
		if err != nil {
			return nil, err
		}
		return slices.DeleteFunc(docs, func(d ir.Doc) bool { return !queryir.Match(pred, d) }), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ir.Doc
	for _, id := range slices.Sorted(maps.Keys(s.docs)) {
		d := s.docs[id]
		if d.Class == class && queryir.Match(pred, d) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// Commit applies a mutation. It returns the mutation with Prev filled for
// updates, and the document as it was before the mutation (zero when the
// mutation created it).
func (s *MemoryStore) Commit(_ context.Context, tx ir.Tx) (ir.Tx, ir.Doc, error) {
	if IsModelClass(tx.Class) {
		if tx.Kind == ir.TxCreate {
			if _, exists, _ := s.model.doc(tx.Class, tx.ObjectID); exists {
				return ir.Tx{}, ir.Doc{}, fmt.Errorf("%s %s already exists", tx.Class, tx.ObjectID)
			}
		}
		prev, _, err := s.model.Apply(tx)
		if err != nil {
			return ir.Tx{}, ir.Doc{}, err
		}
		return withPrev(tx, prev), prev, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.docs[tx.ObjectID]
	switch tx.Kind {
	case ir.TxCreate:
		if existed {
			return ir.Tx{}, ir.Doc{}, fmt.Errorf("%s %s already exists", tx.Class, tx.ObjectID)
		}
		s.docs[tx.ObjectID] = ir.Doc{ID: tx.ObjectID, Class: tx.Class}.Apply(tx)
		return tx, ir.Doc{}, nil
	case ir.TxUpdate:
		if !existed {
			return ir.Tx{}, ir.Doc{}, fmt.Errorf("update of unknown %s %s", tx.Class, tx.ObjectID)
		}
		s.docs[tx.ObjectID] = prev.Apply(tx)
		return withPrev(tx, prev), prev, nil
	case ir.TxRemove:
		if !existed {
			return ir.Tx{}, ir.Doc{}, fmt.Errorf("remove of unknown %s %s", tx.Class, tx.ObjectID)
		}
		delete(s.docs, tx.ObjectID)
		return tx, prev, nil
	default:
		return ir.Tx{}, ir.Doc{}, fmt.Errorf("unknown mutation kind %q", tx.Kind)
	}
}

// withPrev records on an update the previous values of the keys it sets.
func withPrev(tx ir.Tx, prev ir.Doc) ir.Tx {
	if tx.Kind != ir.TxUpdate {
		return tx
	}
	tx.Prev = PrevValues(prev, tx.Attrs)
	return tx
}

// PrevValues returns the values doc held for the keys of attrs, Null for
// absent keys.
func PrevValues(doc ir.Doc, attrs ir.Object) ir.Object {
	out := make(ir.Object, len(attrs))
	for k := range attrs {
		out[k] = ir.CloneValue(doc.Attrs.Get(k))
	}
	return out
}
