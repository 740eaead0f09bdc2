// Package ws is the WebSocket connection multiplexer.
//
// Every client speaks the same {type, payload} envelope in both
// directions. Terminal output is routed only to connections attached
// to the producing terminal; lifecycle events (created, exited,
// renamed, destroyed, tab changes, view state) are broadcast to every
// connection so all clients converge on the same picture. Optional
// requestId/tempId correlation fields are echoed verbatim for
// client-side optimistic updates.
package ws
