// Package engine keeps a user's progress document in sync between this
// device and the server.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// One goroutine (Run) owns the live document. Mutations, owner changes,
// load results and resync results are all events on a FIFO queue, so an
// adoption and a mutation can never interleave.
//
// Lifecycle:
//
//	Uninitialized -> Loading -> Ready
//	Ready -> Switching -> Ready        (login, logout)
//
// Loading and switching read the local and remote copies in parallel,
// reconcile them (last writer wins; an account's server copy wins outright
// when present), stamp the result and write it to both tiers. While
// switching, the previous document stays published until the new one is
// adopted.
//
// Mutations:
// A mutation is applied to a copy of the live document, stamped with the
// next Clock value, saved locally and pushed in the background. The pusher
// keeps at most one push in flight per owner and coalesces the rest.
//
// Stale results:
// Background work carries the generation it started in. Any mutation,
// adoption or owner change bumps the generation, and results from an older
// generation are dropped.
//
// Failures:
// Local and remote failures during background work are logged and ignored.
// Only Save and Reset, which a user asks for explicitly, report them.
package engine
