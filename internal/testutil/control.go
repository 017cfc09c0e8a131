package testutil

import (
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// TestUser is the acting user of controls built by NewControl.
const TestUser = "user-1"

// Fixture is an in-memory document store with a model, plus the
// deterministic id generator and clock controls are built with.
type Fixture struct {
	Model *control.MemoryModel
	Store *control.MemoryStore
	IDs   *control.SequenceGenerator
	Clock *DeterministicClock
}

// NewFixture creates an empty fixture holding docs.
func NewFixture(docs ...ir.Doc) *Fixture {
	model := control.NewMemoryModel()
	f := &Fixture{
		Model: model,
		Store: control.NewMemoryStore(model),
		IDs:   control.NewSequenceGenerator("gen"),
		Clock: NewDeterministicClock(),
	}
	f.Store.Put(docs...)
	return f
}

// Control returns a fresh batch Control over the fixture.
func (f *Fixture) Control() *control.Batch {
	return control.NewBatch(f.Store, f.Model,
		control.WithIDs(f.IDs),
		control.WithClock(f.Clock),
		control.WithUser(TestUser),
	)
}

// NewControl is shorthand for NewFixture(docs...).Control().
func NewControl(docs ...ir.Doc) *control.Batch {
	return NewFixture(docs...).Control()
}

// Card builds a document of ir.ClassCard.
func Card(id string, attrs ir.Object) ir.Doc {
	if attrs == nil {
		attrs = ir.Object{}
	}
	return ir.Doc{ID: id, Class: ir.ClassCard, Attrs: attrs}
}
