// Package audit keeps an append-only trail of sync activity in SQLite.
//
// Recorded actions are client registration, revocation and restore,
// exposure changes made at runtime, and every command handled by the
// dispatcher with its outcome. Operators read the trail through the
// server's /audit endpoint.
//
// Recording never fails the operation being audited: write errors are
// logged and dropped.
package audit
