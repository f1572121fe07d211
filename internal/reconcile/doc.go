// Package reconcile propagates an authoritative id after a remote insert.
//
// When the remote store assigns newID to a record created locally as oldID,
// every stored reference to (typeName, oldID) is rewritten:
//
//  1. The record itself is relocated from oldID to newID.
//  2. Every other queued command on the item is pointed at newID.
//  3. Lookup fields of every declared type that resolve to typeName and
//     hold oldID are rewritten, including ids nested in reference objects
//     and arrays.
//  4. File metadata parented on the item, and entity snapshots serialized
//     into library documents, are rewritten the same way.
//
// The engine runs Reconcile while holding the command log lock. Failures
// are reported as *Error and are never retried.
package reconcile
