// Package dispatch validates inbound entity commands and executes them
// against the host platform.
//
// A command passes through, in order: a revocation check on the issuing
// client, the exposure check, translation into a native host command and
// finally host execution. Each rejection maps to a protocol reason and
// nothing past the first failed check runs. A successful command does not
// broadcast anything itself; the resulting state reaches every channel
// through the host's state events.
package dispatch
