package control

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/cardflow/internal/ir"
)

// Class is a declared domain class.
type Class struct {
	ID         string               `json:"-"`
	Card       bool                 `json:"card"`
	Attributes map[string]Attribute `json:"attributes,omitempty"`
}

// MemoryModel is an in-memory Model. The host loads it from compiled
// definitions and keeps it current by applying committed mutations of
// Process, State and Transition documents.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryModel struct {
	mu           sync.RWMutex
	processes    map[string]ir.Process
	states       map[string]ir.State
	transitions  map[string]ir.Transition
	classes      map[string]Class
	associations map[string]Association
}

// NewMemoryModel creates an empty model.
func NewMemoryModel() *MemoryModel {
	return &MemoryModel{
		processes:    make(map[string]ir.Process),
		states:       make(map[string]ir.State),
		transitions:  make(map[string]ir.Transition),
		classes:      make(map[string]Class),
		associations: make(map[string]Association),
	}
}

// IsModelClass reports whether documents of class live in the model.
func IsModelClass(class string) bool {
	switch class {
	case ir.ClassProcess, ir.ClassState, ir.ClassTransition:
		return true
	default:
		return false
	}
}

// PutProcess adds or replaces a process.
func (m *MemoryModel) PutProcess(p ir.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[p.ID] = p
}

// PutState adds or replaces a state.
func (m *MemoryModel) PutState(s ir.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ID] = s
}

// PutTransition adds or replaces a transition.
func (m *MemoryModel) PutTransition(t ir.Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[t.ID] = t
}

// PutClass adds or replaces a domain class.
func (m *MemoryModel) PutClass(c Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
}

// PutAssociation adds or replaces an association.
func (m *MemoryModel) PutAssociation(a Association) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.associations[a.ID] = a
}

// Process implements Model.
func (m *MemoryModel) Process(id string) (ir.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[id]
	return p, ok
}

// State implements Model.
func (m *MemoryModel) State(id string) (ir.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	return s, ok
}

// Transition implements Model.
func (m *MemoryModel) Transition(id string) (ir.Transition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transitions[id]
	return t, ok
}

// States implements Model.
func (m *MemoryModel) States(process string) []ir.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ir.State
	for _, id := range slices.Sorted(maps.Keys(m.states)) {
		if s := m.states[id]; s.Process == process {
			out = append(out, s)
		}
	}
	return out
}

// Transitions implements Model.
func (m *MemoryModel) Transitions(process string) []ir.Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ir.Transition
	for _, t := range m.transitions {
		if t.Process == process {
			out = append(out, t)
		}
	}
	SortTransitions(out)
	return out
}

// ProcessIDs returns every process id, sorted.
func (m *MemoryModel) ProcessIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.processes))
}

// Attribute implements Model.
func (m *MemoryModel) Attribute(class, key string) (Attribute, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[class]
	if !ok {
		return Attribute{}, false
	}
	a, ok := c.Attributes[key]
	return a, ok
}

// Association implements Model.
func (m *MemoryModel) Association(id string) (Association, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.associations[id]
	return a, ok
}

// IsCard implements Model. The base card class is always a card class.
func (m *MemoryModel) IsCard(class string) bool {
	if class == ir.ClassCard {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classes[class].Card
}

// Docs returns the model documents of a model class as Docs, ordered by id.
func (m *MemoryModel) Docs(class string) ([]ir.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	var encode func(id string) (ir.Object, error)
	switch class {
	case ir.ClassProcess:
		ids = slices.Sorted(maps.Keys(m.processes))
		encode = func(id string) (ir.Object, error) { return ir.ToObject(m.processes[id]) }
	case ir.ClassState:
		ids = slices.Sorted(maps.Keys(m.states))
		encode = func(id string) (ir.Object, error) { return ir.ToObject(m.states[id]) }
	case ir.ClassTransition:
		ids = slices.Sorted(maps.Keys(m.transitions))
		encode = func(id string) (ir.Object, error) { return ir.ToObject(m.transitions[id]) }
	default:
		return nil, fmt.Errorf("%s is not a model class", class)
	}

	docs := make([]ir.Doc, 0, len(ids))
	for _, id := range ids {
		attrs, err := encode(id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, ir.Doc{ID: id, Class: class, Attrs: attrs})
	}
	return docs, nil
}

// Apply updates the model with a committed mutation of a model class.
// Mutations of other classes are ignored. Returns the document before the
// mutation (for removes and updates) when there was one.
func (m *MemoryModel) Apply(tx ir.Tx) (ir.Doc, bool, error) {
	if !IsModelClass(tx.Class) {
		return ir.Doc{}, false, nil
	}

	prev, existed, err := m.doc(tx.Class, tx.ObjectID)
	if err != nil {
		return ir.Doc{}, false, err
	}

	switch tx.Kind {
	case ir.TxRemove:
		m.mu.Lock()
		delete(m.processes, tx.ObjectID)
		delete(m.states, tx.ObjectID)
		delete(m.transitions, tx.ObjectID)
		m.mu.Unlock()
		return prev, existed, nil
	case ir.TxCreate, ir.TxUpdate:
		next := ir.Doc{ID: tx.ObjectID, Class: tx.Class}
		if tx.Kind == ir.TxUpdate {
			if !existed {
				return ir.Doc{}, false, fmt.Errorf("update of unknown %s %s", tx.Class, tx.ObjectID)
			}
			next = prev
		}
		next = next.Apply(tx)
		if err := m.put(next); err != nil {
			return ir.Doc{}, false, err
		}
		return prev, existed, nil
	default:
		return ir.Doc{}, false, fmt.Errorf("unknown mutation kind %q", tx.Kind)
	}
}

func (m *MemoryModel) doc(class, id string) (ir.Doc, bool, error) {
	m.mu.RLock()
	var v any
	switch class {
	case ir.ClassProcess:
		if p, ok := m.processes[id]; ok {
			v = p
		}
	case ir.ClassState:
		if s, ok := m.states[id]; ok {
			v = s
		}
	case ir.ClassTransition:
		if t, ok := m.transitions[id]; ok {
			v = t
		}
	}
	m.mu.RUnlock()

	if v == nil {
		return ir.Doc{}, false, nil
	}
	attrs, err := ir.ToObject(v)
	if err != nil {
		return ir.Doc{}, false, err
	}
	return ir.Doc{ID: id, Class: class, Attrs: attrs}, true, nil
}

func (m *MemoryModel) put(doc ir.Doc) error {
	switch doc.Class {
	case ir.ClassProcess:
		p, err := ir.Decode[ir.Process](doc)
		if err != nil {
			return err
		}
		m.PutProcess(p)
	case ir.ClassState:
		s, err := ir.Decode[ir.State](doc)
		if err != nil {
			return err
		}
		m.PutState(s)
	case ir.ClassTransition:
		t, err := ir.Decode[ir.Transition](doc)
		if err != nil {
			return err
		}
		m.PutTransition(t)
	}
	return nil
}
