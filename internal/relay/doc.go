// Package relay carries the router's link across the process boundary.
//
// A Relay drains the link's status channel and fans each snapshot out to
// MQTT (retained, one topic per device), to websocket observers, and to a
// latest-per-device cache that serves late joiners. In the other direction
// it turns MQTT command messages and websocket frames into link commands.
//
// InfluxRecorder is a router recorder that writes every interval's
// snapshots to InfluxDB regardless of whether an observer is live, plus
// one point of process-wide counters when a CounterSource is set.
package relay
