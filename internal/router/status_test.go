package router

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

// loadDevice records packets and successful sends on a device.
func loadDevice(t *testing.T, d *device.Device, packets, frames int) {
	t.Helper()
	for range packets {
		d.WriteFragment([]byte{1, 2, 3}, 0, 0, 1)
	}
	s := NewScheduler([]*device.Device{d}, 0)
	for range frames {
		if err := s.Pass(t.Context()); err != nil {
			t.Fatalf("Pass() error = %v", err)
		}
	}
}

func TestReporter_RatesAndPublish(t *testing.T) {
	dev := newDevice(t, 1, 1, &fakeDriver{})
	link := NewLink(LinkOptions{})
	link.Heartbeat()

	r := NewReporter([]*device.Device{dev}, link, 3*time.Second)
	t0 := time.Now()
	r.Start(t0)

	loadDevice(t, dev, 30, 9)

	if r.Due(t0.Add(2 * time.Second)) {
		t.Error("Due() = true before interval elapsed")
	}
	now := t0.Add(3 * time.Second)
	if !r.Due(now) {
		t.Fatal("Due() = false after interval elapsed")
	}

	statuses := r.Report(now)
	if len(statuses) != 1 {
		t.Fatalf("Report() returned %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.InboundPPS != 10 || s.OutboundFPS != 3 {
		t.Errorf("rates = %v pps, %v fps; want 10, 3", s.InboundPPS, s.OutboundFPS)
	}
	if !s.Connected {
		t.Error("Connected = false, want true")
	}

	select {
	case msg := <-link.Status():
		var got device.Status
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("published status is not JSON: %v", err)
		}
		if got.DeviceID != 1 || got.InboundPPS != 10 {
			t.Errorf("published status = %+v", got)
		}
	default:
		t.Fatal("no status published for live observer")
	}

	if c := dev.Counters(); c != (device.Counters{}) {
		t.Errorf("counters after Report = %+v, want zero", c)
	}
}

func TestReporter_ResetsWithoutObserver(t *testing.T) {
	dev := newDevice(t, 1, 1, &fakeDriver{})
	link := NewLink(LinkOptions{})

	r := NewReporter([]*device.Device{dev}, link, time.Second)
	t0 := time.Now()
	r.Start(t0)

	loadDevice(t, dev, 5, 5)

	if statuses := r.Report(t0.Add(time.Second)); statuses != nil {
		t.Errorf("Report() = %v, want nil with no observer or recorder", statuses)
	}
	if c := dev.Counters(); c != (device.Counters{}) {
		t.Errorf("counters = %+v, want zero", c)
	}
	select {
	case msg := <-link.Status():
		t.Errorf("status published with no observer: %s", msg)
	default:
	}
}

func TestReporter_RecorderWithoutObserver(t *testing.T) {
	dev := newDevice(t, 1, 1, &fakeDriver{})
	link := NewLink(LinkOptions{})
	rec := &fakeRecorder{}

	r := NewReporter([]*device.Device{dev}, link, time.Second)
	r.AddRecorder(rec)
	t0 := time.Now()
	r.Start(t0)

	r.Report(t0.Add(time.Second))

	if rec.count() != 1 {
		t.Errorf("recorder batches = %d, want 1", rec.count())
	}
	if len(link.Status()) != 0 {
		t.Error("status published with no observer")
	}
}

func TestReporter_DisconnectedAfterFailures(t *testing.T) {
	dev := newDevice(t, 1, 1, &fakeDriver{fail: true})
	link := NewLink(LinkOptions{})
	link.Heartbeat()

	r := NewReporter([]*device.Device{dev}, link, time.Second)
	t0 := time.Now()
	r.Start(t0)
	loadDevice(t, dev, 0, 4)

	s := r.Report(t0.Add(time.Second))[0]
	if s.Connected {
		t.Error("Connected = true for device with only failed sends")
	}
	if s.SendErrors != 4 {
		t.Errorf("SendErrors = %d, want 4", s.SendErrors)
	}
}

func TestReporter_IntervalFloor(t *testing.T) {
	r := NewReporter(nil, NewLink(LinkOptions{}), 100*time.Millisecond)
	if r.Interval() != MinStatusInterval {
		t.Errorf("Interval() = %v, want %v", r.Interval(), MinStatusInterval)
	}
}

func TestReporter_UsesActualElapsed(t *testing.T) {
	dev := newDevice(t, 1, 1, &fakeDriver{})
	link := NewLink(LinkOptions{})
	link.Heartbeat()

	r := NewReporter([]*device.Device{dev}, link, time.Second)
	t0 := time.Now()
	r.Start(t0)
	loadDevice(t, dev, 40, 0)

	// Report late, as after a cooldown.
	s := r.Report(t0.Add(4 * time.Second))[0]
	if s.InboundPPS != 10 {
		t.Errorf("InboundPPS = %v, want 10 over 4s", s.InboundPPS)
	}
	if r.Due(t0.Add(4*time.Second + 500*time.Millisecond)) {
		t.Error("Due() = true, cadence should restart from the late report")
	}
}
