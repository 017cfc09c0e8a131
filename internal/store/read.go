package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Entry is one committed mutation of the log.
type Entry struct {
	Seq  int64
	Hash string
	Tx   ir.Tx
}

// Get returns the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (ir.Doc, bool, error) {
	return getDoc(ctx, s.db, id)
}

// FindAll returns the documents of class matching pred, ordered by id per
// CP-3. A nil pred matches every document of the class.
func (s *Store) FindAll(ctx context.Context, class string, pred queryir.Predicate) ([]ir.Doc, error) {
	query, params, err := s.compiler.Compile(queryir.Select{Class: class, Filter: pred})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", class, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", class, err)
	}
	defer rows.Close()

	var docs []ir.Doc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", class, err)
	}
	return docs, nil
}

// ReadLog returns the mutations committed after seq, in commit order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadLog(ctx context.Context, after int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, hash, tx_id, kind, class, object_id, attrs, prev
		FROM mutations
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	return scanEntries(rows)
}

// History returns every mutation of one document, in commit order.
func (s *Store) History(ctx context.Context, objectID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, hash, tx_id, kind, class, object_id, attrs, prev
		FROM mutations
		WHERE object_id = ?
		ORDER BY seq ASC
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", objectID, err)
	}
	return scanEntries(rows)
}

// LastSeq returns the seq of the latest mutation, 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM mutations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func getDoc(ctx context.Context, q querier, id string) (ir.Doc, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT id, class, attrs FROM documents WHERE id = ?`, id)
	doc, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Doc{}, false, nil
	}
	if err != nil {
		return ir.Doc{}, false, err
	}
	return doc, true, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(sc scanner) (ir.Doc, error) {
	var doc ir.Doc
	var attrs string
	if err := sc.Scan(&doc.ID, &doc.Class, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Doc{}, err
		}
		return ir.Doc{}, fmt.Errorf("scan document: %w", err)
	}
	obj, err := unmarshalAttrs(attrs)
	if err != nil {
		return ir.Doc{}, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	doc.Attrs = obj
	return doc, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind, attrs, prev string
		if err := rows.Scan(&e.Seq, &e.Hash, &e.Tx.ID, &kind, &e.Tx.Class, &e.Tx.ObjectID, &attrs, &prev); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		e.Tx.Kind = ir.TxKind(kind)

		var err error
		if e.Tx.Kind != ir.TxRemove {
			if e.Tx.Attrs, err = unmarshalAttrs(attrs); err != nil {
				return nil, fmt.Errorf("mutation %d: %w", e.Seq, err)
			}
		}
		if e.Tx.Kind == ir.TxUpdate {
			if e.Tx.Prev, err = unmarshalAttrs(prev); err != nil {
				return nil, fmt.Errorf("mutation %d: %w", e.Seq, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return entries, nil
}
