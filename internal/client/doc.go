// Package client implements the client side of Gray Logic Sync: a local
// mirror of the server's exposed entities and the connection that keeps it
// current.
//
// The Reconciler holds the mirror. Commands are applied optimistically and
// tracked by correlation id until the server's command_result, a timeout or
// a disconnect resolves them; exactly one of the three wins. The Supervisor
// owns the Sync Channel, drives the connection state machine and retries at
// a fixed interval after any failure.
//
// HTTPClient wraps the plain HTTP endpoints used during setup (register,
// verify, fetch entities).
package client
