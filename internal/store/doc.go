// Package store provides the SQL-backed remote collection.
//
// A Collection keeps every record as one JSON document row and implements
// collection.Collection on top of database/sql. Three drivers are wired:
//
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo, default)
//   - "sqlite":  modernc.org/sqlite (pure Go)
//   - "pgx":     github.com/jackc/pgx/v5/stdlib (Postgres, JSONB documents)
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Every SELECT ends with ORDER BY ..., seq ASC (see querysql)
//   - seq is the insertion sequence, never a timestamp
//
// Identity Normalisation
//   - The id column stores record.Key(id), so numeric ids and their string
//     forms address the same row, matching the loose equality the replica
//     applies to identities
//
// Commit-Ordered Events
//   - Writes are serialised by a process-level mutex and their lifecycle
//     event is queued on the hub before the mutex is released, so handlers
//     see events in commit order
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Documents are stored as RFC 8785 canonical JSON (record.MarshalCanonical).
package store
