// Package ir provides the shared types of bufsync: commands, records,
// lookup descriptors, file metadata and the constrained value model their
// fields are expressed in.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key constraints:
//   - No float values. Ids and references are int64 (IRInt).
//   - JSON tags use snake_case.
//   - IRObject marshals with sorted keys so stored records and snapshots are
//     byte-stable.
package ir
