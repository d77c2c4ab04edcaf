// Package eventlog keeps a local history of device connectivity changes.
//
// The router's status reporter hands every interval's snapshots to a
// Recorder, which compares each device's connected flag with the last one
// it saw and appends a row to the device_events table on every change.
// Writes happen on the recorder's own goroutine so the control loop never
// waits on SQLite.
package eventlog
