package device

import (
	"context"
	"encoding/json"
	"time"
)

// ID identifies a device within one installation.
type ID int

// Driver performs the network I/O for one controller.
//
// Send pushes a complete frame and may fail; the caller retries on the
// next output cycle. The frame slice is only valid for the duration of
// the call. Close releases the connection and is called once on shutdown.
type Driver interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Config describes a device's identity and buffer geometry.
type Config struct {
	ID               ID
	Name             string
	Address          string
	PixelCount       int
	ChannelsPerPixel int
}

// BufferSize returns the number of bytes in the device's pixel buffer.
func (c Config) BufferSize() int {
	return c.PixelCount * c.ChannelsPerPixel
}

// Status is a throughput snapshot for one device over one reporting interval.
type Status struct {
	DeviceID    ID        `json:"device_id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	InboundPPS  float64   `json:"inbound_pps"`
	OutboundFPS float64   `json:"outbound_fps"`
	SendErrors  uint64    `json:"send_errors"`
	Connected   bool      `json:"connected"`
	Interval    float64   `json:"interval_seconds"`
	Timestamp   time.Time `json:"timestamp"`
}

// Marshal serialises the snapshot for the outbound status channel.
func (s Status) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Counters are the raw interval counters behind a Status.
type Counters struct {
	// PacketsIn counts routed packets, once per packet however many of
	// the device's fragments it fills.
	PacketsIn  uint64
	FramesOut  uint64
	SendErrors uint64
}
