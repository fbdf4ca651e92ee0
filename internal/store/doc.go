// Package store provides the SQLite journal for the override engine.
//
// The journal records:
//   - Transitions: every Feature Action state change, stamped with seq
//   - Table commits: one row per published registry change, with the
//     table's content fingerprint
//   - Contributions: the live contributions of each table at its latest
//     commit
//   - Effective rows: each table's committed rows at its latest commit
//
// # Critical Patterns
//
// Logical ordering:
//   - All ordering uses seq/version INTEGER (logical clocks), NEVER timestamps
//   - Queries use ORDER BY seq ASC or version ASC, then keys COLLATE BINARY
//
// Canonical rows:
//   - Row data is stored as canonical JSON (internal/value) so stored bytes
//     and fingerprints are stable across runs
//
// # Journal settings
//
// Journals run in WAL mode with synchronous=NORMAL and a 5s busy timeout
// unless Open is given WithFullSync or WithBusyTimeout. Schema upgrades are
// tracked in PRAGMA user_version.
package store
