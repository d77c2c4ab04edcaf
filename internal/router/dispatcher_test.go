package router

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func TestDeliver_FullUniverseIntoSecondHalf(t *testing.T) {
	dev := newDevice(t, 1, 340, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, dev), []FragmentConfig{
		{Address: addr(t, 0, 0, 1), DeviceID: 1, StartChannel: 0, DestIndex: 510, PixelCount: 170},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	d := NewDispatcher(topo)

	payload := rampPayload()
	d.Deliver(addr(t, 0, 0, 1), payload)

	buf := dev.Buffer()
	if !bytes.Equal(buf[510:1020], payload[:510]) {
		t.Error("buffer[510:1020] does not match payload[0:510]")
	}
	if !bytes.Equal(buf[:510], make([]byte, 510)) {
		t.Error("buffer[0:510] modified")
	}
	if d.Delivered() != 1 {
		t.Errorf("Delivered() = %d, want 1", d.Delivered())
	}
}

func TestDeliver_UnroutedAddressIsNoop(t *testing.T) {
	dev := newDevice(t, 1, 10, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, dev), []FragmentConfig{
		{Address: 0, DeviceID: 1, PixelCount: 10},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	d := NewDispatcher(topo)

	d.Deliver(addr(t, 0, 0, 9), rampPayload())

	if !bytes.Equal(dev.Buffer(), make([]byte, 30)) {
		t.Error("buffer modified by unrouted packet")
	}
	if got := dev.Counters().PacketsIn; got != 0 {
		t.Errorf("PacketsIn = %d, want 0", got)
	}
	if d.Ignored() != 1 || d.Delivered() != 0 {
		t.Errorf("Ignored() = %d, Delivered() = %d; want 1, 0", d.Ignored(), d.Delivered())
	}
}

func TestDeliver_SharedAddressFansOut(t *testing.T) {
	a := newDevice(t, 1, 4, &fakeDriver{})
	b := newDevice(t, 2, 4, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, a, b), []FragmentConfig{
		{Address: 0, DeviceID: 1, PixelCount: 4},
		{Address: 0, DeviceID: 2, StartChannel: 12, PixelCount: 4},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}

	payload := rampPayload()
	NewDispatcher(topo).Deliver(0, payload)

	if !bytes.Equal(a.Buffer(), payload[:12]) {
		t.Errorf("device a buffer = %v, want %v", a.Buffer(), payload[:12])
	}
	if !bytes.Equal(b.Buffer(), payload[12:24]) {
		t.Errorf("device b buffer = %v, want %v", b.Buffer(), payload[12:24])
	}
}

func TestDeliver_IndependentDevices(t *testing.T) {
	a := newDevice(t, 1, 170, &fakeDriver{})
	b := newDevice(t, 2, 170, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, a, b), []FragmentConfig{
		{Address: 0, DeviceID: 1, PixelCount: 170},
		{Address: 1, DeviceID: 2, PixelCount: 170},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	d := NewDispatcher(topo)

	pa := bytes.Repeat([]byte{0x11}, UniverseSize)
	pb := bytes.Repeat([]byte{0x22}, UniverseSize)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); d.Deliver(0, pa) }()
		go func() { defer wg.Done(); d.Deliver(1, pb) }()
	}
	wg.Wait()

	if !bytes.Equal(a.Buffer(), pa[:510]) {
		t.Error("device a buffer corrupted by concurrent writes")
	}
	if !bytes.Equal(b.Buffer(), pb[:510]) {
		t.Error("device b buffer corrupted by concurrent writes")
	}
	if a.Counters().PacketsIn != 50 || b.Counters().PacketsIn != 50 {
		t.Errorf("PacketsIn = %d, %d; want 50, 50", a.Counters().PacketsIn, b.Counters().PacketsIn)
	}
}

func TestDeliver_FragmentOrderIndependent(t *testing.T) {
	pa := bytes.Repeat([]byte{0x11}, UniverseSize)
	pb := bytes.Repeat([]byte{0x22}, UniverseSize)

	// One device, two non-overlapping fragments fed by different universes.
	build := func(t *testing.T) (*Dispatcher, func() []byte) {
		t.Helper()
		dev := newDevice(t, 1, 340, &fakeDriver{})
		topo, err := NewTopology(newRegistry(t, dev), []FragmentConfig{
			{Address: addr(t, 0, 0, 0), DeviceID: 1, PixelCount: 170},
			{Address: addr(t, 0, 0, 1), DeviceID: 1, DestIndex: 510, PixelCount: 170},
		})
		if err != nil {
			t.Fatalf("NewTopology() error = %v", err)
		}
		return NewDispatcher(topo), dev.Buffer
	}

	ab, bufAB := build(t)
	ab.Deliver(addr(t, 0, 0, 0), pa)
	ab.Deliver(addr(t, 0, 0, 1), pb)

	ba, bufBA := build(t)
	ba.Deliver(addr(t, 0, 0, 1), pb)
	ba.Deliver(addr(t, 0, 0, 0), pa)

	if !bytes.Equal(bufAB(), bufBA()) {
		t.Fatal("buffer depends on delivery order")
	}

	interleaved, bufI := build(t)
	u0, u1 := addr(t, 0, 0, 0), addr(t, 0, 0, 1)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); interleaved.Deliver(u0, pa) }()
		go func() { defer wg.Done(); interleaved.Deliver(u1, pb) }()
	}
	wg.Wait()

	if !bytes.Equal(bufI(), bufAB()) {
		t.Error("interleaved delivery produced a different buffer")
	}
	want := append(append([]byte(nil), pa[:510]...), pb[:510]...)
	if !bytes.Equal(bufAB(), want) {
		t.Error("buffer does not hold both fragments")
	}
}

func TestDeliver_CountsPacketOncePerDevice(t *testing.T) {
	dev := newDevice(t, 1, 20, &fakeDriver{})
	other := newDevice(t, 2, 10, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, dev, other), []FragmentConfig{
		{Address: 0, DeviceID: 1, StartChannel: 0, DestIndex: 0, PixelCount: 10},
		{Address: 0, DeviceID: 2, StartChannel: 0, PixelCount: 10},
		{Address: 0, DeviceID: 1, StartChannel: 30, DestIndex: 30, PixelCount: 10},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	d := NewDispatcher(topo)

	payload := rampPayload()
	for range 3 {
		d.Deliver(0, payload)
	}

	if got := dev.Counters().PacketsIn; got != 3 {
		t.Errorf("device 1 PacketsIn = %d, want 3 (one per packet)", got)
	}
	if got := other.Counters().PacketsIn; got != 3 {
		t.Errorf("device 2 PacketsIn = %d, want 3", got)
	}
	if !bytes.Equal(dev.Buffer(), payload[:60]) {
		t.Error("device 1 buffer does not hold both fragments")
	}
}

func TestDeliver_NotBlockedBySlowSend(t *testing.T) {
	drv := &fakeDriver{block: make(chan struct{})}
	dev := newDevice(t, 1, 170, drv)
	topo, err := NewTopology(newRegistry(t, dev), []FragmentConfig{
		{Address: 0, DeviceID: 1, PixelCount: 170},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	d := NewDispatcher(topo)

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		dev.Send(context.Background()) //nolint:errcheck // test
	}()

	// Wait until the driver is inside Send.
	deadline := time.Now().Add(time.Second)
	for drv.sends.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	delivered := make(chan struct{})
	go func() {
		d.Deliver(0, rampPayload())
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked while device send was in flight")
	}

	close(drv.block)
	<-sendDone
}
