package ir

// TxKind is the kind of a document mutation.
type TxKind string

const (
	TxCreate TxKind = "create"
	TxUpdate TxKind = "update"
	TxRemove TxKind = "remove"
)

// Tx is a single document mutation. Handlers consume batches of committed
// Tx values and return new, uncommitted ones.
//
// Prev is filled by the host when it commits an update: it holds the
// previous values of exactly the keys in Attrs (Null for keys that were
// absent). Handlers rely on it to tell what an update changed.
//
// Depth and Rollback are in-memory annotations that never reach storage:
// Depth is the recursion depth of the transition that produced the
// mutation, Rollback marks mutations replayed from a rollback batch.
type Tx struct {
	ID       string `json:"id,omitempty"`
	Kind     TxKind `json:"kind"`
	Class    string `json:"class"`
	ObjectID string `json:"object_id"`
	Attrs    Object `json:"attrs,omitempty"`
	Prev     Object `json:"prev,omitempty"`

	Depth    int  `json:"-"`
	Rollback bool `json:"-"`
}

// NewCreateTx builds a create mutation.
func NewCreateTx(class, objectID string, attrs Object) Tx {
	return Tx{Kind: TxCreate, Class: class, ObjectID: objectID, Attrs: attrs}
}

// NewUpdateTx builds an update mutation. Null values clear attributes.
func NewUpdateTx(class, objectID string, attrs Object) Tx {
	return Tx{Kind: TxUpdate, Class: class, ObjectID: objectID, Attrs: attrs}
}

// NewRemoveTx builds a remove mutation.
func NewRemoveTx(class, objectID string) Tx {
	return Tx{Kind: TxRemove, Class: class, ObjectID: objectID}
}

// Changed reports whether an update touched key with a value different
// from the previous one.
func (tx Tx) Changed(key string) bool {
	v, ok := tx.Attrs[key]
	if !ok {
		return false
	}
	if tx.Prev == nil {
		return true
	}
	return !Equal(v, tx.Prev.Get(key))
}

// PrevValue returns the previous value of key, Null when unknown.
func (tx Tx) PrevValue(key string) Value {
	return tx.Prev.Get(key)
}

// WithDepth returns copies of txes annotated with depth.
func WithDepth(txes []Tx, depth int) []Tx {
	out := make([]Tx, len(txes))
	for i, tx := range txes {
		tx.Depth = depth
		out[i] = tx
	}
	return out
}

// RollbackLog is the per-Execution stack of compensating batches, one per
// committed transition. It is strictly LIFO.
type RollbackLog []RollbackBatch

// RollbackBatch is the set of compensating mutations of one transition.
type RollbackBatch []Tx

// Push returns the log with batch appended on top.
func (l RollbackLog) Push(batch RollbackBatch) RollbackLog {
	out := make(RollbackLog, len(l), len(l)+1)
	copy(out, l)
	return append(out, batch)
}

// Pop returns the top batch and the remaining log. ok is false when the
// log is empty.
func (l RollbackLog) Pop() (batch RollbackBatch, rest RollbackLog, ok bool) {
	if len(l) == 0 {
		return nil, l, false
	}
	rest = make(RollbackLog, len(l)-1)
	copy(rest, l[:len(l)-1])
	return l[len(l)-1], rest, true
}

// Depth returns the number of batches on the stack.
func (l RollbackLog) Depth() int {
	return len(l)
}
