// Package merge decides which of two progress snapshots is authoritative.
//
// Reconciliation is last-writer-wins at document granularity: the snapshot
// with the larger UpdatedAt is taken whole and the other is discarded. Edits
// made on two devices between syncs are therefore not combined; the older
// side's edits are lost.
package merge

import "github.com/roach88/treesync/internal/progress"

// Winner records which input a reconciled document came from.
type Winner string

const (
	WinnerDefault Winner = "default" // neither side had a document
	WinnerLocal   Winner = "local"
	WinnerRemote  Winner = "remote"
)

// Result is the outcome of a reconciliation.
type Result struct {
	Doc    progress.Document
	Winner Winner

	// Migrated is true when habit ids had to be assigned to the winner.
	Migrated bool
}

// Reconcile picks the authoritative document from an optional local and an
// optional remote snapshot. Nil means the tier had no (usable) document.
//
//   - both nil: a default document stamped with now
//   - one nil: the other one
//   - both present: local if local.UpdatedAt >= remote.UpdatedAt, else remote
//
// The chosen document always goes through progress.EnsureHabitIDs.
// Reconcile does not restamp UpdatedAt; callers persisting the result do that.
func Reconcile(local, remote *progress.Document, now int64) Result {
	switch {
	case local == nil && remote == nil:
		return Result{Doc: progress.Default(now), Winner: WinnerDefault}
	case remote == nil:
		return adopt(*local, WinnerLocal)
	case local == nil:
		return adopt(*remote, WinnerRemote)
	case local.UpdatedAt >= remote.UpdatedAt:
		return adopt(*local, WinnerLocal)
	default:
		return adopt(*remote, WinnerRemote)
	}
}

// PreferRemote is the rule for authenticated accounts: the server copy is
// durable and wins outright whenever it exists. Without one it falls back to
// Reconcile.
func PreferRemote(local, remote *progress.Document, now int64) Result {
	if remote != nil {
		return adopt(*remote, WinnerRemote)
	}
	return Reconcile(local, nil, now)
}

func adopt(doc progress.Document, w Winner) Result {
	out, migrated := progress.EnsureHabitIDs(doc)
	return Result{Doc: out, Winner: w, Migrated: migrated}
}
