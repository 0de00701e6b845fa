// Package protocol defines the Sync Channel wire format shared by the
// server session and the client supervisor.
//
// Every frame is a JSON envelope:
//
//	{"type": "command", "id": "...", "timestamp": "...", "payload": {...}}
//
// A channel moves Connecting → Authenticating → Subscribed and may close
// from any state. The first client frame must be auth; the server answers
// auth_ok followed by a full snapshot, or auth_failed and closes.
package protocol
