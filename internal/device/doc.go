// Package device models the LED controllers Flamecaster routes to.
//
// A Device owns one controller's pixel buffer and its per-interval
// throughput counters. The receive path writes universe fragments into the
// buffer; the output scheduler periodically hands a copy of the buffer to
// the device's Driver, which does the network I/O.
//
// # Key Types
//
//   - Device: buffer, counters and lifecycle for one controller
//   - Driver: transport contract (Send a frame, Close)
//   - PixelblazeDriver: Driver for Pixelblaze controllers (gorilla/websocket)
//   - Registry: immutable ID-indexed set of devices for one run
//   - Status: JSON throughput snapshot for one reporting interval
//
// # Thread Safety
//
// Each Device has its own mutex covering the buffer and counters. It is
// held only for memory copies, never across network I/O, so slow or
// unreachable controllers never stall the receive path.
//
// # Usage
//
//	drv := device.NewPixelblazeDriver(device.PixelblazeOptions{Address: "192.168.1.50"})
//	dev, err := device.New(device.Config{ID: 1, Name: "stage-left", PixelCount: 340, ChannelsPerPixel: 3}, drv)
//	if err != nil {
//	    return err
//	}
//	dev.WriteFragment(payload, 0, 0, 170)
//	err = dev.Send(ctx)
package device
