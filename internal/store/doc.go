// Package store provides SQLite-backed durable storage for bufsync.
//
// The store holds three tables:
//   - commands: the durable command log (ids assigned by the queue)
//   - records: entity records keyed by (type_name, id)
//   - files: attachment and document-library metadata
//
// Blob content is not stored here; see internal/blob.
//
// # Ordering
//
// The drain order is id ascending. ReadCommands orders by created, then id,
// which equals id order for a single writer but keeps inspection output
// stable if clocks step backwards.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite allows a single writer
//
// Two drivers are supported: github.com/mattn/go-sqlite3 (cgo, default) and
// modernc.org/sqlite (pure Go), selected with WithDriver.
package store
