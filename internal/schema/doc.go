// Package schema loads entity type declarations from CUE.
//
// A schema directory holds one or more .cue files that together declare:
//
//	types: {
//		Order: {
//			lookups: [
//				{field: "customerId", target: "Customer"},
//			]
//		}
//		LineItem: {
//			lookups: [
//				{field: "orderId", target: "Order"},
//				{field: "parentId", virtual: true, targetField: "parentType"},
//			]
//		}
//		Draft: doNotSync: true
//	}
//
// Declarations are validated against a closed CUE definition before they
// are compiled into ir.TypeSchema values. The resulting Registry answers
// the two questions the rest of bufsync asks: should commands for a type be
// queued at all, and which fields of a type hold references to other
// entities.
package schema
