// Package server wires the service together and owns the HTTP surface.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, request logging, metrics, recovery)
//   - SQLite store, dtach client, terminal manager, tab registry
//   - WebSocket hub serving the terminal protocol at /ws
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Open the store and build the dependency graph
//  4. Restore persisted terminals, ensure the default tab
//  5. Start HTTP server
//  6. Graceful shutdown on signal: detach sessions, keep them alive
//
// Shutdown deliberately does not kill terminals; the controlled full
// teardown is only reachable through DELETE /api/terminals.
package server
