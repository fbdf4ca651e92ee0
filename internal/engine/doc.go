// Package engine runs Feature Actions on a single owner goroutine.
//
// ARCHITECTURE:
//
// Single-Writer Command Loop:
// Lifecycle commands (register, activate, deactivate, cancel, reset,
// unregister) are enqueued from any goroutine and processed one at a time,
// in FIFO order, by Run or Drain. Every registry and ledger mutation
// happens on that goroutine. This ensures:
// - Commands for one feature take effect in submission order
// - Equal-priority ties are decided by registration order alone
// - No reader ever observes a half-applied activation
//
// Asynchronous Loads:
// Descriptor loads run in their own goroutines. Each activation reserves a
// completion slot when it is processed; the load's result re-enters the
// queue as a callback but is applied only once every earlier slot has been
// applied or released. Loads may finish in any order, registration order
// still follows activation order.
//
// Observation:
// Every transition is stamped with a logical sequence number, logged with
// log/slog, forwarded to observers and, when configured, written to the
// journal.
package engine
