// Package store provides SQLite-backed durable storage for cardflow
// documents.
//
// The store keeps two tables:
//   - documents: the current state of every document, keyed by id
//   - mutations: the append-only log of every committed ir.Tx
//
// # Critical Patterns
//
// CP-1: One Round, One Transaction
//   - CommitBatch applies a whole host round inside a single SQL
//     transaction; a failing mutation leaves nothing behind
//   - the in-memory process model is only updated after the SQL commit
//
// CP-2: Logical Time
//   - the log is ordered by seq (INTEGER, autoincrement), never by wall time
//   - documents.updated_seq points at the mutation that last wrote the row
//
// CP-3: Deterministic Query Results
//   - every document query includes ORDER BY id ASC COLLATE BINARY
//   - log queries order by seq ASC
//
// CP-4: Idempotent Mutation IDs
//   - a mutation with a non-empty ID is applied at most once
//     (partial UNIQUE index on mutations.tx_id)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Attributes are stored as RFC 8785 canonical JSON so that the JSON1
// predicates compiled by internal/querysql see a stable representation.
package store
