// Package router implements Flamecaster's routing engine.
//
// Art-Net universes arrive on the receive goroutine and are copied into
// device pixel buffers by the Dispatcher, using the immutable Topology
// built at startup. The control loop (Router.Run) pushes every device's
// buffer once per output cycle through the Scheduler, and at each status
// interval the Reporter computes throughput snapshots, publishes them to
// live observers over the Link and resets the device counters.
//
// # Architecture
//
//	Art-Net listener ──Deliver──▶ Dispatcher ──WriteFragment──▶ device buffers
//	                                                                 │
//	Router.Run ──▶ Scheduler.Pass ──Send (concurrent)───────────────┘
//	     │
//	     └──────▶ Reporter.Report ──▶ Link.Status ──▶ MQTT / websocket observers
//	                   │
//	                   └──▶ Recorders (InfluxDB, event log)
//
// # Control Loop
//
// A recovered driver or reporter panic moves the loop to Cooldown for the
// configured period, after which it resumes Running. Device send errors are
// logged and counted but never interrupt the loop. Cancelling the context
// or setting the Link's exit signal leads to ShuttingDown: each device is
// stopped exactly once, the listener is closed, and Run returns.
//
// # Observers
//
// The Link's channels are bounded and drop the newest message when full.
// Snapshots are published only while an observer is live, either attached
// (a websocket client) or heartbeating with the "observe" command.
package router
