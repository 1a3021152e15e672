// Package executor provides the two action execution strategies.
//
// Process runs the action string through a shell in its own process group,
// with the host tools directory prefixed to PATH, and captures bounded
// stdout/stderr. An optional timeout sends SIGTERM to the group and, after
// the kill grace period, SIGKILL.
//
// Pipe hands the action off to a host-side reader over a named pipe. The
// pipe is opened non-blocking so a missing reader fails the action
// immediately instead of stalling the queue.
//
// Only one strategy is active per deployment; see New.
package executor
