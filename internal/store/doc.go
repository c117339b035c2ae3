// Package store persists conversion history using SQLite.
//
// # Records
//
// Each conversion attempt, successful or not, becomes one Conversion row
// keyed by a UUID. Rows carry the session key, the original filename, the
// source and target formats, the outcome, and timing. File contents are
// never stored.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite with WAL mode and a single
//     connection, so concurrent conversions queue instead of failing on a
//     locked database.
//   - MockStore: in-memory, for tests.
//
// Both satisfy HistoryStore. List calls default to 10 rows and cap at 100.
// ConversionStats with an empty session ID totals every session.
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
