// Package influxdb records Gray Logic Sync telemetry in InfluxDB v2.
//
// Command outcomes and Sync Channel lifecycle events are written as points
// through the non-blocking write API. Telemetry is optional: Connect returns
// ErrDisabled when influxdb.enabled is false and callers carry on without it.
package influxdb
