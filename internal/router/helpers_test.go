package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nerrad567/flamecaster/internal/device"
)

// fakeDriver counts sends and closes. It can fail, panic once, or block.
type fakeDriver struct {
	sends  atomic.Int64
	closes atomic.Int64

	fail      bool
	panicNext atomic.Bool
	block     chan struct{} // when non-nil, Send waits for it to close
}

func (f *fakeDriver) Send(ctx context.Context, _ []byte) error {
	f.sends.Add(1)
	if f.panicNext.CompareAndSwap(true, false) {
		panic("driver exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail {
		return errors.New("controller unreachable")
	}
	return nil
}

func (f *fakeDriver) Close() error {
	f.closes.Add(1)
	return nil
}

// fakeCloser records Close calls on the listener.
type fakeCloser struct {
	closes atomic.Int64
}

func (c *fakeCloser) Close() error {
	c.closes.Add(1)
	return nil
}

// fakeRecorder collects recorded snapshots.
type fakeRecorder struct {
	mu      sync.Mutex
	batches [][]device.Status
}

func (r *fakeRecorder) Record(statuses []device.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, statuses)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// newDevice creates an RGB device with the given pixel count.
func newDevice(t *testing.T, id device.ID, pixels int, drv device.Driver) *device.Device {
	t.Helper()
	d, err := device.New(device.Config{
		ID:               id,
		Name:             "dev-" + string(rune('a'+int(id)-1)),
		Address:          "10.0.0.1",
		PixelCount:       pixels,
		ChannelsPerPixel: 3,
	}, drv)
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	return d
}

func newRegistry(t *testing.T, devices ...*device.Device) *device.Registry {
	t.Helper()
	reg, err := device.NewRegistry(devices...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func addr(t *testing.T, net, subnet, universe int) UniverseAddress {
	t.Helper()
	a, err := NewUniverseAddress(net, subnet, universe)
	if err != nil {
		t.Fatalf("NewUniverseAddress() error = %v", err)
	}
	return a
}

// rampPayload returns a full universe with distinct byte values.
func rampPayload() []byte {
	p := make([]byte, UniverseSize)
	for i := range p {
		p[i] = byte(i%250 + 1)
	}
	return p
}
