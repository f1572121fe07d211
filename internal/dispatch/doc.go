// Package dispatch executes one queued command against the remote store.
//
// Each action maps to a handler in a fixed table. Handlers share two
// guards against the command log:
//
//   - wasDeletedSince: another Delete for the same item is queued, so the
//     command is a no-op success.
//   - wasNeverInsertedRemotely: the item's Insert is still queued, so a
//     Delete has nothing to remove remotely.
//
// Handlers never change command state. They report an Outcome and the
// engine applies it. Errors are classified by IsTransient: remote faults
// delegate to the remote store, while malformed commands (*CommandError)
// and unknown actions (*UnknownActionError) are permanent.
package dispatch
