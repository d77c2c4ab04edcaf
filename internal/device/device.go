package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Device owns one controller's pixel buffer and interval counters.
//
// The buffer is written by the receive path (WriteFragment) and read by
// the output scheduler (Send). Both hold mu only for a memory copy, so a
// slow controller never delays ingestion for this or any other device.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	cfg    Config
	driver Driver

	// mu guards buf and counters.
	mu       sync.Mutex
	buf      []byte
	counters Counters

	// sendMu serialises sends and owns frame, the copy handed to the driver.
	sendMu sync.Mutex
	frame  []byte

	stopOnce sync.Once
	stopErr  error
	stopped  atomic.Bool
}

// New creates a device with a zeroed buffer.
func New(cfg Config, driver Driver) (*Device, error) {
	if cfg.PixelCount < 1 || cfg.ChannelsPerPixel < 1 {
		return nil, fmt.Errorf("%w: %s: pixel count and channel width must be positive", ErrInvalidDevice, cfg.Name)
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: %s: driver is required", ErrInvalidDevice, cfg.Name)
	}

	size := cfg.BufferSize()
	return &Device{
		cfg:    cfg,
		driver: driver,
		buf:    make([]byte, size),
		frame:  make([]byte, size),
	}, nil
}

// ID returns the device identifier.
func (d *Device) ID() ID { return d.cfg.ID }

// Name returns the configured device name.
func (d *Device) Name() string { return d.cfg.Name }

// Address returns the controller's network endpoint.
func (d *Device) Address() string { return d.cfg.Address }

// ChannelsPerPixel returns the number of bytes per pixel.
func (d *Device) ChannelsPerPixel() int { return d.cfg.ChannelsPerPixel }

// BufferSize returns the pixel buffer length in bytes.
func (d *Device) BufferSize() int { return len(d.buf) }

// Region is one fragment's copy: PixelCount pixels from payload offset
// StartChannel into the buffer at DestIndex.
type Region struct {
	StartChannel int
	DestIndex    int
	PixelCount   int
}

// WriteFragment copies pixelCount pixels from payload, starting at
// startChannel, into the buffer at destIndex. It counts as one inbound
// packet.
func (d *Device) WriteFragment(payload []byte, startChannel, destIndex, pixelCount int) {
	d.Write(payload, Region{StartChannel: startChannel, DestIndex: destIndex, PixelCount: pixelCount})
}

// Write copies every region of one packet into the buffer under a single
// lock and counts the packet once, however many regions it fills.
//
// Bounds are validated when the topology is built. A payload shorter than
// a region copies only the bytes present; the rest of the destination
// range keeps its previous content.
func (d *Device) Write(payload []byte, regions ...Region) {
	d.mu.Lock()
	for _, r := range regions {
		end := min(r.StartChannel+r.PixelCount*d.cfg.ChannelsPerPixel, len(payload))
		if r.StartChannel < end {
			copy(d.buf[r.DestIndex:], payload[r.StartChannel:end])
		}
	}
	d.counters.PacketsIn++
	d.mu.Unlock()
}

// Send pushes the current buffer to the controller.
//
// The buffer is copied under lock and the driver is called without it,
// so the receive path keeps writing while the frame is on the wire.
func (d *Device) Send(ctx context.Context) error {
	if d.stopped.Load() {
		return ErrStopped
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	copy(d.frame, d.buf)
	d.mu.Unlock()

	err := d.driver.Send(ctx, d.frame)

	d.mu.Lock()
	if err != nil {
		d.counters.SendErrors++
	} else {
		d.counters.FramesOut++
	}
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, d.cfg.Name, err)
	}
	return nil
}

// Snapshot computes per-second rates from the counters accumulated over elapsed.
// It does not reset the counters.
func (d *Device) Snapshot(elapsed time.Duration) Status {
	return d.status(d.Counters(), elapsed)
}

// Rollover snapshots and zeroes the counters in one step, so no packet or
// frame falls between the two.
func (d *Device) Rollover(elapsed time.Duration) Status {
	d.mu.Lock()
	c := d.counters
	d.counters = Counters{}
	d.mu.Unlock()

	return d.status(c, elapsed)
}

func (d *Device) status(c Counters, elapsed time.Duration) Status {
	s := Status{
		DeviceID:   d.cfg.ID,
		Name:       d.cfg.Name,
		Address:    d.cfg.Address,
		SendErrors: c.SendErrors,
		Connected:  c.FramesOut > 0,
		Interval:   elapsed.Seconds(),
		Timestamp:  time.Now().UTC(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.InboundPPS = float64(c.PacketsIn) / secs
		s.OutboundFPS = float64(c.FramesOut) / secs
	}
	return s
}

// Counters returns a copy of the current interval counters.
func (d *Device) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// ResetCounters zeroes the interval counters.
func (d *Device) ResetCounters() {
	d.mu.Lock()
	d.counters = Counters{}
	d.mu.Unlock()
}

// Buffer returns a copy of the current pixel buffer.
func (d *Device) Buffer() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out
}

// Stop closes the driver. Only the first call has any effect; later calls
// return the first call's result.
func (d *Device) Stop() error {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)

		// Wait for an in-flight send so Close never races a write.
		d.sendMu.Lock()
		d.stopErr = d.driver.Close()
		d.sendMu.Unlock()
	})
	return d.stopErr
}
