// Package entity models the home-automation entities Gray Logic Sync
// mirrors, and the boundary to the platform that owns them.
//
// A Snapshot is a point-in-time copy of an entity's state. A Change is
// what a client asks for; Translate turns it into a NativeCommand the host
// understands, rejecting read-only domains and out-of-range attributes.
//
// Host is deliberately small (Read, List, Subscribe, Execute). MemoryHost
// implements it in process on top of an EventBus; the mqttbridge package
// implements it against a broker.
package entity
