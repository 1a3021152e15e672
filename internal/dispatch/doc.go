// Package dispatch serializes host actions: at most one runs at a time, in
// strict enqueue order.
//
// The Dispatcher owns the command queue and a busy flag. Enqueue appends to
// the queue and attempts a drain; a drain that finds the dispatcher idle
// dequeues the head and runs it on the configured Executor in its own
// goroutine. When the executor returns, completion clears busy, reports the
// Result to observers and drains again. No worker goroutine sits on the
// queue; each completion schedules the next action.
//
// Key properties:
//   - Serial FIFO dispatch (one action in flight)
//   - Enqueue never blocks on execution and never fails
//   - Completion runs exactly once per action, including when the executor panics
//   - A failing action never stalls the actions behind it (no retry)
//
// Error handling:
//   - Process could not start → spawn_failed
//   - Process exited non-zero or timed out → execution_failed
//   - Named pipe open/write/close failed → transport_failed
//   - Executor panicked → internal_failed
//   - Empty queue → not an error, the dispatcher goes idle
package dispatch
