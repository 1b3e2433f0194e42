// Package harness runs progress-sync scenarios against the real engine.
//
// A scenario describes a device and a server: what each holds at launch,
// a sequence of steps (user actions, network and storage faults, identity
// changes, writes from other devices, app restarts) and assertions on the
// final state of every tier. Steps run against the engine with an
// in-memory local store, an in-memory server and a wall clock that only
// moves when a step advances it.
//
// # Scenario Format
//
//	name: offline_then_reconnect
//	description: "Edits made offline reach the server after a restart"
//	start: 2024-01-02T09:00:00Z
//	guest_id: guest-1
//	remote_down: true
//	local:
//	  guest-1: { coins: 70, updatedAt: 1000 }
//	remote:
//	  guest-1: { coins: 120, updatedAt: 5000 }
//	steps:
//	  - do: add_habit
//	    kind: good
//	    name: Stretch
//	  - do: save
//	    expect_error: unreachable
//	assertions:
//	  - type: remote
//	    owner: guest-1
//	    expect: { coins: 120 }
//
// Documents in local, remote and remote_write steps are partial: the given
// fields are laid over a fresh default document.
//
// # Steps
//
//   - add_habit, rename_habit, upgrade_habit, delete_habit, check_habit
//   - rollover (date), save, reset, resync
//   - login (account_id, username, token), logout
//   - remote_down, remote_up, local_down, local_up
//   - advance (by, a Go duration)
//   - remote_write (owner, doc): another device replaces the server copy
//   - restart: stop the engine and launch a new one over the same tiers
//
// # Assertion Types
//
//   - document: the live document matches expect (subset match)
//   - local, remote: the owner's stored document matches expect
//   - absent: the tier holds no document for owner
//   - owner: the engine serves owner ("kind:id")
//
// # Deterministic Testing
//
// Habit ids are minted sequentially (habit-1, habit-2, ...), the guest id
// is fixed, and every step waits for background pushes to finish, so the
// same scenario always yields the same trace. RunWithGolden compares that
// trace with testdata/golden/<name>.golden.
package harness
