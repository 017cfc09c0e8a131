package control

import (
	"context"
	"sync"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Batch is the Control handed to handlers for one committed batch.
//
// The batch time is read from the clock once, when the Batch is created,
// so every document produced while handling the batch carries the same
// timestamp.
type Batch struct {
	docs  Documents
	model Model
	ids   IDGenerator
	user  string
	now   int64

	mu      sync.RWMutex
	removed map[string]ir.Doc
}

// BatchOption configures a Batch.
type BatchOption func(*batchConfig)

type batchConfig struct {
	ids   IDGenerator
	clock Clock
	user  string
}

// WithIDs sets the id generator. Default: UUIDv7.
func WithIDs(ids IDGenerator) BatchOption {
	return func(c *batchConfig) { c.ids = ids }
}

// WithClock sets the clock the batch time is read from. Default: system time.
func WithClock(clock Clock) BatchOption {
	return func(c *batchConfig) { c.clock = clock }
}

// WithUser sets the acting user.
func WithUser(user string) BatchOption {
	return func(c *batchConfig) { c.user = user }
}

// NewBatch creates a Control reading documents from docs and definitions
// from model.
func NewBatch(docs Documents, model Model, opts ...BatchOption) *Batch {
	cfg := batchConfig{ids: UUIDv7Generator{}, clock: SystemClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Batch{
		docs:    docs,
		model:   model,
		ids:     cfg.ids,
		user:    cfg.user,
		now:     cfg.clock.Now(),
		removed: make(map[string]ir.Doc),
	}
}

// NoteRemoved records a document removed by the batch being handled.
func (b *Batch) NoteRemoved(doc ir.Doc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[doc.ID] = doc
}

// FindAll implements Control.
func (b *Batch) FindAll(ctx context.Context, class string, pred queryir.Predicate) ([]ir.Doc, error) {
	return b.docs.FindAll(ctx, class, pred)
}

// Model implements Control.
func (b *Batch) Model() Model { return b.model }

// Removed implements Control.
func (b *Batch) Removed(id string) (ir.Doc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.removed[id]
	return d, ok
}

// NewID implements Control.
func (b *Batch) NewID() string { return b.ids.Generate() }

// Now implements Control.
func (b *Batch) Now() int64 { return b.now }

// User implements Control.
func (b *Batch) User() string { return b.user }
