package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on mutations(object_id, seq) for per-document history
const currentSchemaVersion = 1

// Store keeps documents and the mutation log in one SQLite database.
//
// Store implements control.Documents and the host's Store and
// BatchCommitter interfaces.
type Store struct {
	db       *sql.DB
	model    *control.MemoryModel
	compiler *querysql.SQLCompiler
}

// Option configures Open.
type Option func(*Store)

// WithModel makes the store load persisted process definitions into model
// and keep it in sync with committed model mutations. Use it to share a
// model that already carries the domain classes and associations.
func WithModel(model *control.MemoryModel) Option {
	return func(s *Store) {
		s.model = model
	}
}

// Open opens the database at path, creating and migrating it when needed,
// and loads the stored process definitions into the model. Opening an
// existing database twice is safe.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, compiler: querysql.NewSQLCompiler()}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == nil {
		s.model = control.NewMemoryModel()
	}

	if err := s.loadModel(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for tooling and tests. Writes through it bypass
// the mutation log.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Model returns the process model kept in sync with the store.
func (s *Store) Model() *control.MemoryModel {
	return s.model
}

// loadModel reads every stored definition into the model. Processes are
// loaded before their states and transitions.
func (s *Store) loadModel(ctx context.Context) error {
	for _, class := range []string{ir.ClassProcess, ir.ClassState, ir.ClassTransition} {
		docs, err := s.FindAll(ctx, class, nil)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if _, _, err := s.model.Apply(ir.NewCreateTx(class, doc.ID, doc.Attrs)); err != nil {
				return fmt.Errorf("%s %s: %w", class, doc.ID, err)
			}
		}
	}
	return nil
}

// applyPragmas enables WAL so readers never block the single writer.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates missing tables and runs pending migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations upgrades the schema from the stored user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the per-document history index used by History.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_mutations_object
		ON mutations(object_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma reports whether pragma name reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
