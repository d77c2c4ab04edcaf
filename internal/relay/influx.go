package relay

import (
	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/infrastructure/influxdb"
)

// ThroughputWriter accepts throughput and counter points without blocking.
type ThroughputWriter interface {
	WriteThroughput(t influxdb.Throughput)
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// CounterSource returns the current process-wide counters as point fields.
type CounterSource func() map[string]any

// InfluxRecorder writes every interval's snapshots as throughput points,
// followed by one counters point when a CounterSource is set.
type InfluxRecorder struct {
	writer   ThroughputWriter
	counters CounterSource
}

// NewInfluxRecorder creates a recorder writing to w.
func NewInfluxRecorder(w ThroughputWriter) *InfluxRecorder {
	return &InfluxRecorder{writer: w}
}

// SetCounters sets the source of the per-interval counters point.
// It must be called before the router starts.
func (r *InfluxRecorder) SetCounters(src CounterSource) {
	r.counters = src
}

// Record writes one point per device and then the counters point.
func (r *InfluxRecorder) Record(statuses []device.Status) {
	for _, s := range statuses {
		r.writer.WriteThroughput(influxdb.Throughput{
			DeviceID:    int(s.DeviceID),
			Name:        s.Name,
			InboundPPS:  s.InboundPPS,
			OutboundFPS: s.OutboundFPS,
			SendErrors:  s.SendErrors,
			Connected:   s.Connected,
			Timestamp:   s.Timestamp,
		})
	}

	if r.counters == nil {
		return
	}
	if fields := r.counters(); len(fields) > 0 {
		r.writer.WritePoint(influxdb.MeasurementCounters, nil, fields)
	}
}
