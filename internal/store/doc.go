// Package store keeps hash snapshots and the commit log in SQLite.
//
// A snapshot is one row in snapshots plus one snapshot_hashes row per
// function, filed under a label ("build", "agent-<id>", ...) and a hash
// mode. The latest snapshot for a label is the planner's baseline after a
// restart. PruneSnapshots bounds how many a label keeps.
//
// Commits are keyed by the engine's logical sequence number, never by wall
// time, and every multi-row query orders explicitly so output is stable.
//
// Open applies schema.sql and then every entry of the migrations table
// newer than the database's user_version. The connection runs in WAL mode
// with synchronous=NORMAL, foreign keys on and a configurable busy timeout.
package store
