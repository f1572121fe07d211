// Package queue implements the durable command log.
//
// The log assigns command ids, persists every command before Enqueue
// returns, and serializes all mutations behind one mutex. Draining is done
// by internal/engine, which asks the log for the next runnable command and
// writes back its state.
//
// Commands for types the SyncPolicy marks do-not-sync are dropped at
// enqueue time without an error.
package queue
