// Package progress defines the progress document that treesync keeps in sync
// between the device and the remote store.
//
// A Document is the unit of synchronization: the whole document is read,
// reconciled and written as one value. The only field that takes part in
// merge decisions is UpdatedAt, a logical timestamp in epoch milliseconds.
//
// # Habit identity
//
// Every habit carries a stable id assigned when the habit is created. Daily
// check maps are keyed by that id ("good:id:<id>"), never by name or
// position, so renames and reorders keep their checks. Documents written
// before ids existed are repaired by EnsureHabitIDs, which derives a
// deterministic UUIDv5 for each habit that lacks one.
//
// # Day rollover
//
// Rollover clears the per-day check maps when the document's LastOpenDate
// differs from the caller's calendar date. Applying it twice for the same
// date changes nothing.
package progress
