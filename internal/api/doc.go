// Package api implements the HTTP API and Sync Channel server for Gray Logic Sync.
//
// This package provides:
//   - Client registration, revocation and listing for operators
//   - Token validation and the readable entity set for clients
//   - The WebSocket Sync Channel with per-session bounded queues
//   - The state broadcaster relaying host events to subscribed sessions
//   - The operator audit trail on /audit
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The server sits between the host platform and remote sync clients. Host
// state events flow through the Broadcaster to every Hub session whose
// subscription contains the entity. Commands flow from sessions (or
// /call_service) to the dispatcher, which executes them on the host; the
// resulting state comes back through the same broadcast path.
//
// # Security
//
// Clients authenticate with tokens issued at registration; operator
// endpoints require the shared secret. Every authentication failure is
// answered with the same "unauthorised" body. Revoking a client closes its
// open sessions immediately.
package api
