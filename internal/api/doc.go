// Package api implements Flamecaster's HTTP status API and websocket
// observer endpoint.
//
// This package provides:
//   - Read-only REST endpoints for router state, devices and their history
//   - A command endpoint that queues router commands on the link
//   - A websocket hub that streams status snapshots to attached observers
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Observers
//
// Every connected websocket client counts as a live observer for as long
// as it stays connected, so the router computes and publishes snapshots
// while anyone is watching. A new client immediately receives the latest
// snapshot of every device.
//
// # Graceful Degradation
//
// The event log and throughput history are optional. Their endpoints
// return 503 when the backing store is not configured.
package api
