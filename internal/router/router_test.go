package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

// transitions records state changes from OnStateChange.
type transitions struct {
	mu  sync.Mutex
	log []State
}

func (tr *transitions) record(_, to State) {
	tr.mu.Lock()
	tr.log = append(tr.log, to)
	tr.mu.Unlock()
}

func (tr *transitions) states() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.log...)
}

func newTestRouter(t *testing.T, opts Options, drivers ...*fakeDriver) (*Router, []*device.Device) {
	t.Helper()
	devices := make([]*device.Device, len(drivers))
	specs := make([]FragmentConfig, len(drivers))
	for i, drv := range drivers {
		devices[i] = newDevice(t, device.ID(i+1), 10, drv)
		specs[i] = FragmentConfig{Address: UniverseAddress(i), DeviceID: device.ID(i + 1), PixelCount: 10}
	}
	topo, err := NewTopology(newRegistry(t, devices...), specs)
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}
	r, err := New(topo, NewLink(LinkOptions{}), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, devices
}

// runAsync starts Run and returns a channel receiving its result.
func runAsync(ctx context.Context, r *Router) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return done
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_NoDevices(t *testing.T) {
	if _, err := New(nil, nil, Options{}); !errors.Is(err, ErrNoDevices) {
		t.Errorf("New() error = %v, want ErrNoDevices", err)
	}
}

func TestRouter_ExitWithinOneCycle(t *testing.T) {
	drivers := []*fakeDriver{{}, {}}
	r, _ := newTestRouter(t, Options{OutputInterval: 50 * time.Millisecond}, drivers...)
	listener := &fakeCloser{}
	r.SetListener(listener)

	done := runAsync(context.Background(), r)
	waitFor(t, func() bool { return drivers[0].sends.Load() > 0 }, "router never sent a frame")

	start := time.Now()
	r.Link().RequestExit()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after exit signal")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond+100*time.Millisecond {
		t.Errorf("exit took %v, want within one cycle", elapsed)
	}

	for i, drv := range drivers {
		if got := drv.closes.Load(); got != 1 {
			t.Errorf("device %d closed %d times, want 1", i+1, got)
		}
	}
	if listener.closes.Load() != 1 {
		t.Errorf("listener closed %d times, want 1", listener.closes.Load())
	}
	if r.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", r.State())
	}
}

func TestRouter_ExitInterruptsBlockedSend(t *testing.T) {
	hung := &fakeDriver{block: make(chan struct{})}
	defer close(hung.block)
	r, _ := newTestRouter(t, Options{
		OutputInterval: 33 * time.Millisecond,
		SendTimeout:    5 * time.Second,
	}, hung)

	done := runAsync(context.Background(), r)
	waitFor(t, func() bool { return hung.sends.Load() > 0 }, "router never started a send")

	start := time.Now()
	r.Link().RequestExit()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return while a send was blocked")
	}
	if elapsed := time.Since(start); elapsed > 33*time.Millisecond+100*time.Millisecond {
		t.Errorf("exit observed after %v, want within one cycle", elapsed)
	}
	if hung.closes.Load() != 1 {
		t.Errorf("device closed %d times, want 1", hung.closes.Load())
	}
}

func TestRouter_ContextCancelShutsDown(t *testing.T) {
	drv := &fakeDriver{}
	r, _ := newTestRouter(t, Options{OutputInterval: 10 * time.Millisecond}, drv)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	waitFor(t, func() bool { return drv.sends.Load() > 0 }, "router never sent a frame")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if drv.closes.Load() != 1 {
		t.Errorf("device closed %d times, want 1", drv.closes.Load())
	}
	if !r.Link().Exiting() {
		t.Error("exit signal not set after shutdown")
	}
}

func TestRouter_ShutdownCommand(t *testing.T) {
	drv := &fakeDriver{}
	r, _ := newTestRouter(t, Options{OutputInterval: 10 * time.Millisecond}, drv)

	done := runAsync(context.Background(), r)
	r.Link().SendCommand(Command{Name: "bogus"})
	r.Link().SendCommand(Command{Name: CommandShutdown})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after shutdown command")
	}
}

func TestRouter_FaultCoolsDownOnceThenResumes(t *testing.T) {
	bad := &fakeDriver{}
	bad.panicNext.Store(true)
	good := &fakeDriver{}

	r, devices := newTestRouter(t, Options{
		OutputInterval: 5 * time.Millisecond,
		Cooldown:       50 * time.Millisecond,
	}, bad, good)

	tr := &transitions{}
	r.OnStateChange(tr.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, r)

	// After the cooldown the router routes normally again.
	waitFor(t, func() bool { return bad.sends.Load() >= 5 }, "router did not resume after cooldown")

	r.Deliver(0, rampPayload())
	if got := devices[0].Counters().PacketsIn; got == 0 {
		t.Error("packet not routed after recovery")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{StateRunning, StateCooldown, StateRunning, StateShuttingDown, StateStopped}
	got := tr.states()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if r.Stats().Faults != 1 {
		t.Errorf("Faults = %d, want 1", r.Stats().Faults)
	}
}

func TestRouter_CooldownInterruptedByExit(t *testing.T) {
	bad := &fakeDriver{}
	bad.panicNext.Store(true)
	r, _ := newTestRouter(t, Options{OutputInterval: 5 * time.Millisecond, Cooldown: time.Hour}, bad)

	done := runAsync(context.Background(), r)
	waitFor(t, func() bool { return r.State() == StateCooldown }, "router never entered cooldown")

	r.Link().RequestExit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return during cooldown")
	}
	if bad.closes.Load() != 1 {
		t.Errorf("device closed %d times, want 1", bad.closes.Load())
	}
}

func TestRouter_SendFailureIsNotFault(t *testing.T) {
	failing := &fakeDriver{fail: true}
	ok := &fakeDriver{}
	r, _ := newTestRouter(t, Options{OutputInterval: 5 * time.Millisecond}, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	waitFor(t, func() bool { return ok.sends.Load() >= 3 }, "router stalled")
	cancel()
	<-done

	if r.Stats().Faults != 0 {
		t.Errorf("Faults = %d, want 0", r.Stats().Faults)
	}
	if failing.sends.Load() < 3 {
		t.Errorf("failing device sends = %d, want retried each cycle", failing.sends.Load())
	}
}

func TestRouter_ObserveCommandPublishesStatus(t *testing.T) {
	drv := &fakeDriver{}
	r, _ := newTestRouter(t, Options{
		OutputInterval: 5 * time.Millisecond,
		StatusInterval: MinStatusInterval,
	}, drv)
	rec := &fakeRecorder{}
	r.AddRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, r)

	r.Link().SendCommand(Command{Name: CommandObserve})

	select {
	case msg := <-r.Link().Status():
		if len(msg) == 0 {
			t.Error("empty status message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status published after observe command")
	}
	if rec.count() == 0 {
		t.Error("recorder not called")
	}

	cancel()
	<-done
}

func TestRouter_RunTwice(t *testing.T) {
	r, _ := newTestRouter(t, Options{OutputInterval: 5 * time.Millisecond}, &fakeDriver{})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, r)
	waitFor(t, func() bool { return r.State() == StateRunning }, "router never started")

	if err := r.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
	cancel()
	<-done
}

func TestRouter_LiveDoesNotCloseInterval(t *testing.T) {
	drv := &fakeDriver{}
	r, devices := newTestRouter(t, Options{OutputInterval: 10 * time.Millisecond, StatusInterval: time.Hour}, drv)

	if s := r.Live(devices[0]); s.InboundPPS != 0 || s.Interval != 0 {
		t.Errorf("Live() before Run = %+v, want zero rates", s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, r)
	waitFor(t, func() bool { return drv.sends.Load() > 0 }, "router never sent a frame")

	for range 10 {
		r.Deliver(0, rampPayload())
	}
	time.Sleep(20 * time.Millisecond)

	s := r.Live(devices[0])
	if s.InboundPPS <= 0 || s.OutboundFPS <= 0 || !s.Connected {
		t.Errorf("Live() = %+v, want positive rates while routing", s)
	}
	if got := devices[0].Counters().PacketsIn; got != 10 {
		t.Errorf("PacketsIn after Live() = %d, want 10 (interval left open)", got)
	}

	cancel()
	<-done
}
