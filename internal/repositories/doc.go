// Package repositories implements SQLite persistence for the build journal.
//
// [RunRepository] records one row per `crate build` in the runs table and the selected tracks, in
// playlist order, in run_tracks. It implements the journal interface of the tasks package; the
// pipeline only writes to it and `crate history` reads it back.
//
// Runs are upserted, so recording the start of a run and its outcome are the same statement. Track
// rows are replaced wholesale inside the same transaction and removed by cascade when a run is pruned.
package repositories
