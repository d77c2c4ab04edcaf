package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	// MeasurementThroughput is the measurement holding per-device router throughput.
	MeasurementThroughput = "device_throughput"

	// MeasurementCounters holds process-wide router and listener counters.
	// Values are cumulative since process start.
	MeasurementCounters = "router_counters"
)

// Throughput is one device's rates over one status interval.
type Throughput struct {
	DeviceID    int
	Name        string
	InboundPPS  float64
	OutboundFPS float64
	SendErrors  uint64
	Connected   bool
	Timestamp   time.Time
}

// WriteThroughput records one interval's throughput for a device.
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteThroughput(t Throughput) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(throughputPoint(t))
}

// throughputPoint builds the line-protocol point for t.
func throughputPoint(t Throughput) *write.Point {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		MeasurementThroughput,
		map[string]string{
			"device_id": strconv.Itoa(t.DeviceID),
			"name":      t.Name,
		},
		map[string]any{
			"inbound_pps":  t.InboundPPS,
			"outbound_fps": t.OutboundFPS,
			"send_errors":  int64(t.SendErrors), //nolint:gosec // per-interval count
			"connected":    t.Connected,
		},
		ts,
	)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
