// Package realtime is the websocket chat hub: it authenticates connections,
// tracks which chat each connection has joined, and fans out presence,
// typing, message and delivery events to every connection in a chat.
//
// A Hub owns a Registry (one live connection per user), a RoomTracker
// (membership), a TypingCoordinator (write-through typing cache), a
// DeliveryTracker and a HeartbeatMonitor. Persistence is reached only
// through the Gateway interface.
package realtime
