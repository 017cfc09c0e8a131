// Package host commits document mutations and drives a handler cascade.
//
// The engine only reads; the host is the single writer. For each batch it
// commits the mutations, hands the committed batch to the handler, and
// commits whatever the handler returns, round after round, until a round
// produces nothing.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// DefaultMaxRounds bounds a single cascade. The engine's recursion limit
// stops runaway transitions well before this; the bound only protects
// against a misbehaving handler.
const DefaultMaxRounds = 1000

// Handler consumes a committed batch and returns follow-on mutations.
type Handler func(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error)

// Store is the document store the host writes to.
type Store interface {
	control.Documents

	// Commit applies one mutation. It returns the mutation with Prev
	// filled for updates, and the document as it was before.
	Commit(ctx context.Context, tx ir.Tx) (ir.Tx, ir.Doc, error)
}

// BatchCommitter is implemented by stores that can commit a whole round
// atomically.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, txes []ir.Tx) ([]ir.Tx, []ir.Doc, error)
}

// Host is the single-writer cascade driver.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine; cascades are serialized
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Host struct {
	store   Store
	model   control.Model
	handler Handler

	ids       control.IDGenerator
	clock     control.Clock
	user      string
	logger    *slog.Logger
	maxRounds int

	mu    sync.Mutex
	queue *batchQueue
}

// Option configures a Host.
type Option func(*Host)

// WithIDs sets the id generator handlers create documents with.
// Default: UUIDv7.
func WithIDs(ids control.IDGenerator) Option {
	return func(h *Host) { h.ids = ids }
}

// WithClock sets the clock batch times are read from. Default: system time.
func WithClock(clock control.Clock) Option {
	return func(h *Host) { h.clock = clock }
}

// WithUser sets the acting user reported to handlers.
func WithUser(user string) Option {
	return func(h *Host) { h.user = user }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithMaxRounds sets the cascade bound. Default: DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(h *Host) { h.maxRounds = n }
}

// New creates a Host committing to store and dispatching to handler.
func New(store Store, model control.Model, handler Handler, opts ...Option) *Host {
	h := &Host{
		store:     store,
		model:     model,
		handler:   handler,
		ids:       control.UUIDv7Generator{},
		clock:     control.SystemClock{},
		logger:    slog.Default(),
		maxRounds: DefaultMaxRounds,
		queue:     newBatchQueue(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit commits txes and runs the handler cascade to quiescence.
//
// It returns every committed mutation in commit order, including the ones
// committed before a failure. Mutations submitted here start at depth 0.
func (h *Host) Submit(ctx context.Context, txes []ir.Tx) ([]ir.Tx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var committed []ir.Tx
	pending := ir.WithDepth(txes, 0)
	for round := 1; len(pending) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		if round > h.maxRounds {
			return committed, fmt.Errorf("cascade did not settle after %d rounds", h.maxRounds)
		}

		ctl := control.NewBatch(h.store, h.model,
			control.WithIDs(h.ids),
			control.WithClock(h.clock),
			control.WithUser(h.user),
		)
		batch, err := h.commit(ctx, ctl, pending)
		if err != nil {
			return committed, fmt.Errorf("round %d: %w", round, err)
		}
		committed = append(committed, batch...)

		h.logger.Debug("batch committed", "round", round, "mutations", len(batch))

		pending, err = h.handler(ctx, ctl, batch)
		if err != nil {
			return committed, fmt.Errorf("round %d: handle: %w", round, err)
		}
	}
	return committed, nil
}

// commit writes one round and records removed documents on ctl.
func (h *Host) commit(ctx context.Context, ctl *control.Batch, txes []ir.Tx) ([]ir.Tx, error) {
	if bc, ok := h.store.(BatchCommitter); ok {
		out, prevs, err := bc.CommitBatch(ctx, txes)
		if err != nil {
			return nil, err
		}
		for i, tx := range out {
			if tx.Kind == ir.TxRemove {
				ctl.NoteRemoved(prevs[i])
			}
		}
		return out, nil
	}

	out := make([]ir.Tx, 0, len(txes))
	for _, tx := range txes {
		c, prev, err := h.store.Commit(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("commit %s %s %s: %w", tx.Kind, tx.Class, tx.ObjectID, err)
		}
		if tx.Kind == ir.TxRemove {
			ctl.NoteRemoved(prev)
		}
		out = append(out, c)
	}
	return out, nil
}

// Enqueue queues a batch for Run. Returns false once the host is stopped.
func (h *Host) Enqueue(txes []ir.Tx) bool {
	return h.queue.Enqueue(txes)
}

// Run processes enqueued batches one at a time until ctx is cancelled or
// Stop is called.
//
// ERROR HANDLING: a failing batch is logged and processing continues with
// the next one. The mutations committed before the failure stay committed.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("host starting")

	for {
		if txes, ok := h.queue.TryDequeue(); ok {
			if _, err := h.Submit(ctx, txes); err != nil {
				h.logger.Error("batch failed", "mutations", len(txes), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			h.logger.Info("host stopping: context cancelled")
			h.queue.Close()
			return ctx.Err()
		case _, open := <-h.queue.Wait():
			if !open && h.queue.Len() == 0 {
				h.logger.Info("host stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained.
func (h *Host) Stop() {
	h.queue.Close()
}
