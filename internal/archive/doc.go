// Package archive provides SQLite-backed persistence for reconciled
// conversations.
//
// The archive keeps one row per conversation (with the mode it was
// opened in) and one row per accepted record. Records are written once:
// redelivery of a known identity is a no-op, so the engine can write
// through without checking first.
//
// # Ordering
//
// Loads return records ORDER BY seq ASC, identity ASC COLLATE BINARY.
// seq is the engine's logical arrival counter, never wall time, so a
// load replays arrivals in the order the engine first saw them and the
// reconciled history comes out the same.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records require their conversation row
//
// Bodies are stored as RFC 8785 canonical JSON next to the record digest
// from internal/ir.
package archive
