package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Commit applies one mutation. It returns the mutation with Prev filled for
// updates, and the document as it was before the mutation (zero when the
// mutation created it).
func (s *Store) Commit(ctx context.Context, tx ir.Tx) (ir.Tx, ir.Doc, error) {
	out, prevs, err := s.CommitBatch(ctx, []ir.Tx{tx})
	if err != nil {
		return ir.Tx{}, ir.Doc{}, err
	}
	return out[0], prevs[0], nil
}

// CommitBatch applies txes in order inside one SQL transaction, per CP-1.
// Either every mutation is committed or none is.
//
// Each mutation is appended to the log. Depth and Rollback annotations are
// kept on the returned mutations but never stored. A mutation whose ID is
// already in the log is skipped and returned unchanged.
func (s *Store) CommitBatch(ctx context.Context, txes []ir.Tx) ([]ir.Tx, []ir.Doc, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	out := make([]ir.Tx, 0, len(txes))
	prevs := make([]ir.Doc, 0, len(txes))
	var model []ir.Tx
	for _, tx := range txes {
		committed, prev, applied, err := s.apply(ctx, sqlTx, tx)
		if err != nil {
			return nil, nil, fmt.Errorf("commit %s %s %s: %w", tx.Kind, tx.Class, tx.ObjectID, err)
		}
		out = append(out, committed)
		prevs = append(prevs, prev)
		if applied && control.IsModelClass(committed.Class) {
			model = append(model, committed)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	for _, tx := range model {
		if _, _, err := s.model.Apply(tx); err != nil {
			return nil, nil, fmt.Errorf("apply %s %s to model: %w", tx.Class, tx.ObjectID, err)
		}
	}
	return out, prevs, nil
}

// apply writes one mutation within q. applied is false when the mutation
// was skipped because its ID is already logged.
func (s *Store) apply(ctx context.Context, q querier, tx ir.Tx) (ir.Tx, ir.Doc, bool, error) {
	prev, existed, err := getDoc(ctx, q, tx.ObjectID)
	if err != nil {
		return ir.Tx{}, ir.Doc{}, false, err
	}

	if tx.ID != "" {
		logged, err := hasMutation(ctx, q, tx.ID)
		if err != nil {
			return ir.Tx{}, ir.Doc{}, false, err
		}
		if logged {
			return tx, prev, false, nil
		}
	}

	var next ir.Doc
	switch tx.Kind {
	case ir.TxCreate:
		if existed {
			return ir.Tx{}, ir.Doc{}, false, fmt.Errorf("%s %s already exists", tx.Class, tx.ObjectID)
		}
		prev = ir.Doc{}
		next = ir.Doc{ID: tx.ObjectID, Class: tx.Class}.Apply(tx)
	case ir.TxUpdate:
		if !existed {
			return ir.Tx{}, ir.Doc{}, false, fmt.Errorf("update of unknown %s %s", tx.Class, tx.ObjectID)
		}
		next = prev.Apply(tx)
		tx.Prev = control.PrevValues(prev, tx.Attrs)
	case ir.TxRemove:
		if !existed {
			return ir.Tx{}, ir.Doc{}, false, fmt.Errorf("remove of unknown %s %s", tx.Class, tx.ObjectID)
		}
	default:
		return ir.Tx{}, ir.Doc{}, false, fmt.Errorf("unknown mutation kind %q", tx.Kind)
	}

	if tx.Kind != ir.TxRemove && control.IsModelClass(next.Class) {
		if err := validateModelDoc(next); err != nil {
			return ir.Tx{}, ir.Doc{}, false, err
		}
	}

	seq, err := appendMutation(ctx, q, tx)
	if err != nil {
		return ir.Tx{}, ir.Doc{}, false, err
	}

	switch tx.Kind {
	case ir.TxCreate, ir.TxUpdate:
		err = putDoc(ctx, q, next, seq)
	case ir.TxRemove:
		_, err = q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, tx.ObjectID)
	}
	if err != nil {
		return ir.Tx{}, ir.Doc{}, false, fmt.Errorf("write document: %w", err)
	}
	return tx, prev, true, nil
}

// appendMutation logs tx and returns its seq.
func appendMutation(ctx context.Context, q querier, tx ir.Tx) (int64, error) {
	hash, err := ir.TxHash(tx)
	if err != nil {
		return 0, err
	}
	attrs, err := marshalAttrs(tx.Attrs)
	if err != nil {
		return 0, err
	}
	prev, err := marshalAttrs(tx.Prev)
	if err != nil {
		return 0, err
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO mutations
		(hash, tx_id, kind, class, object_id, attrs, prev)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		hash,
		tx.ID,
		string(tx.Kind),
		tx.Class,
		tx.ObjectID,
		attrs,
		prev,
	)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append mutation: last insert id: %w", err)
	}
	return seq, nil
}

func putDoc(ctx context.Context, q querier, doc ir.Doc, seq int64) error {
	attrs, err := marshalAttrs(doc.Attrs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (id, class, attrs, updated_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET attrs = excluded.attrs, updated_seq = excluded.updated_seq
	`, doc.ID, doc.Class, attrs, seq)
	return err
}

func hasMutation(ctx context.Context, q querier, txID string) (bool, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `SELECT seq FROM mutations WHERE tx_id = ?`, txID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check mutation %s: %w", txID, err)
	}
	return true, nil
}
