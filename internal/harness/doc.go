// Package harness runs sync scenarios end to end.
//
// A scenario seeds local records and files, queues commands, scripts the
// in-memory remote and runs sync passes through the real engine. The run
// produces a trace that is compared against a golden file, and a set of
// assertions is evaluated against the final local and remote state.
//
// # Scenario Format
//
//	name: order_reconcile
//	description: "Insert assigns a remote id and later commands follow it"
//	pass_id: pass-1
//	schema: |
//	  types: {
//	    Order: {}
//	    LineItem: lookups: [{field: "orderId", target: "Order"}]
//	  }
//	steps:
//	  - record: {type: Order, id: 1, fields: {title: desk}}
//	  - remote: {next_id: {Order: 55}}
//	  - enqueue: {action: Insert, type: Order, item: 1}
//	  - remote: {fail: {op: Update, status: 503, message: maintenance}}
//	  - sync: true
//	  - reset: 2
//	assertions:
//	  - type: command_state
//	    command: 2
//	    state: Pending
//	  - type: local_record
//	    record: Order
//	    id: 55
//	    expect: {title: desk}
//
// # Assertion Types
//
//   - trace_contains: some event of the given type has the expected fields
//   - command_state: a command's final state, or "absent" once purged
//   - remote_calls: the exact remote call log, in order
//   - local_record, remote_record: record fields (subset match) or absence
//   - file: file state, list_name, parent_id, folder and snapshot
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, in-memory blob store
// and in-memory remote, the deterministic clock from testutil and a fixed
// pass id, so identical scenarios produce byte-identical snapshots.
package harness
