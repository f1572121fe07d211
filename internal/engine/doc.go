// Package engine drains the command log against the remote store.
//
// A pass (Sync) is strictly sequential:
//
//  1. Succeeded commands left by the previous pass are purged.
//  2. The runnable backlog (Pending, Failed, Delayed) is counted.
//  3. The command with the smallest id is taken. A Failed command halts the
//     pass without running; anything else is dispatched.
//  4. A successful Insert that returned a new id is reconciled while the
//     log lock is held, and the Insert is marked Succeeded in the same
//     critical section.
//  5. The first dispatch error ends the pass. Transient errors leave the
//     command Delayed for the next pass; every other error makes it Failed.
//
// Failed is terminal until an operator resets the command; it blocks every
// later command, so ordering is never violated.
//
// # Errors
//
// Dispatch failures are reported through Result.LastError and never returned
// from Sync. Sync returns an error only when the pass itself cannot proceed:
// a storage fault (ErrCodeStorage) or a reconciliation fault
// (ErrCodeReconcileFailed). A reconciliation fault leaves the Insert Failed,
// since the remote insert already happened and a retry would duplicate it.
//
// # Concurrency
//
// One Engine per log. Sync is not reentrant; Run calls it from a single
// goroutine.
package engine
