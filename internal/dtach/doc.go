// Package dtach wraps the dtach(1) binary, the OS-level utility that
// owns each terminal's pseudo-terminal and shell process.
//
// dtach keeps a session alive in a named Unix socket independent of any
// client: the service can crash and restart while shells keep running,
// then reattach through the same socket.
//
// Capabilities:
//   - SpawnDetached: create a named session running a shell
//   - AttachCommand: build the attach process for an I/O bridge
//   - HasSession: probe whether a session's socket is live
//   - KillSession: terminate a session and remove its socket
//   - KillClaudeInSession: best-effort kill of a known child process
//     without tearing the session down
//
// All session names are terminal IDs; the socket for terminal T lives
// at <socketDir>/<T>.sock.
package dtach
