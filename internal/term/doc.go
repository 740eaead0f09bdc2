// Package term implements the persistent terminal multiplexing core:
// sessions, scrollback buffers, and the PTY manager.
//
// Architecture:
//   - Session: one terminal's identity, geometry and buffer; bridges
//     between the detachable session utility and in-process consumers
//   - Buffer: bounded append-only scrollback with terminal-state
//     tracking and replay filtering
//   - Manager: aggregate root; creates/destroys/restores sessions,
//     persists metadata, routes commands by terminal ID
//
// Process ownership is decoupled from this process: shells run inside
// detached utility sessions named after their terminal IDs, so they
// survive a service restart. On startup the manager probes the utility
// for each persisted terminal and reconstructs the survivors; the rest
// are demoted to exited.
//
// Unknown-terminal operations return sentinel false/nil values instead
// of errors, because concurrent destroys are expected and recoverable.
package term
