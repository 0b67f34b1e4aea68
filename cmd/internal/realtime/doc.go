// Package realtime implements the client-side chat synchronization core:
// the websocket transport, the per-channel connection supervisor with
// reference counting and backoff, the message synchronizer, the typing
// coordinator, and the room join/leave protocol.
//
// Two logical channels exist per authenticated session (chat, notifications),
// each backed by at most one physical connection shared by every consumer
// that acquires it.
package realtime
