// Package store provides the SQLite-backed local persistence tier.
//
// The store is a single kv table. Records carry a logical stamp, and Put
// refuses to replace a record with one carrying an older stamp, so once a
// newer progress snapshot is on disk no stale writer can overwrite it.
//
// # Key layout
//
//   - progress:<ownerId>  one progress document per owner identity
//   - guestId             the install's guest identity, minted once
//   - activeOwnerPointer  the owner most recently resolved as active
//   - session             the authenticated account session, if any
//   - userData            legacy single-slot document (migrated, then removed)
//
// Progress wraps the kv layer for the sync engine and never returns storage
// errors from Load: an unreadable, missing or corrupt record is reported as
// "no document" with a logged warning.
//
// The development server reuses the same database layout with two more
// tables: accounts (one row per registered user) and pending_codes (the
// outstanding email verification and password reset codes, keyed by
// purpose and email).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
