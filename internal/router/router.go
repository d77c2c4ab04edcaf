package router

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

// State is a control loop state.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateCooldown     State = "cooldown"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// Router defaults.
const (
	DefaultOutputInterval = 33 * time.Millisecond
	DefaultStatusInterval = 3 * time.Second
	DefaultCooldown       = 5 * time.Second
)

// Logger defines the logging interface for the router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds timing settings for the control loop.
type Options struct {
	// OutputInterval is the minimum time between scheduler passes.
	OutputInterval time.Duration

	// StatusInterval is the reporting interval (floor MinStatusInterval).
	StatusInterval time.Duration

	// Cooldown is how long the loop pauses after a fault.
	Cooldown time.Duration

	// SendTimeout bounds each device send.
	SendTimeout time.Duration
}

// Stats is a point-in-time view of the router for diagnostics.
type Stats struct {
	State           State  `json:"state"`
	Devices         int    `json:"devices"`
	Universes       int    `json:"universes"`
	Fragments       int    `json:"fragments"`
	Cycles          uint64 `json:"cycles"`
	Faults          uint64 `json:"faults"`
	Delivered       uint64 `json:"packets_delivered"`
	Ignored         uint64 `json:"packets_ignored"`
	DroppedStatus   uint64 `json:"dropped_status"`
	DroppedCommands uint64 `json:"dropped_commands"`
	ObserverLive    bool   `json:"observer_live"`
}

// Router runs the output and status loop over one topology.
//
// The loop is an explicit state machine:
//
//	Running -> Cooldown -> Running            (on fault)
//	Running | Cooldown -> ShuttingDown -> Stopped
//
// Faults are recovered driver or reporter panics. Individual device send
// errors are not faults. Context cancellation and the link's exit signal
// both lead to ShuttingDown, which stops every device once and closes the
// listener.
type Router struct {
	opts       Options
	topology   *Topology
	dispatcher *Dispatcher
	scheduler  *Scheduler
	reporter   *Reporter
	link       *Link
	logger     Logger

	listener      io.Closer
	onStateChange func(from, to State)

	mu      sync.RWMutex
	state   State
	running bool

	cycles atomic.Uint64
	faults atomic.Uint64
}

// New creates a router. Zero option fields take defaults.
func New(t *Topology, link *Link, opts Options) (*Router, error) {
	if t == nil || len(t.Devices()) == 0 {
		return nil, ErrNoDevices
	}
	if link == nil {
		link = NewLink(LinkOptions{})
	}
	if opts.OutputInterval <= 0 {
		opts.OutputInterval = DefaultOutputInterval
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	devices := t.Devices()
	return &Router{
		opts:       opts,
		topology:   t,
		dispatcher: NewDispatcher(t),
		scheduler:  NewScheduler(devices, opts.SendTimeout),
		reporter:   NewReporter(devices, link, opts.StatusInterval),
		link:       link,
		logger:     noopLogger{},
		state:      StateIdle,
	}, nil
}

// SetLogger sets the logger for the router and its components.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
	r.scheduler.SetLogger(logger)
	r.reporter.SetLogger(logger)
}

// SetListener registers the receive-side resource closed on shutdown.
func (r *Router) SetListener(c io.Closer) {
	r.listener = c
}

// AddRecorder registers a recorder for every status interval.
func (r *Router) AddRecorder(rec Recorder) {
	r.reporter.AddRecorder(rec)
}

// OnStateChange registers a callback invoked on every state transition.
// It runs on the control loop goroutine and must not block.
func (r *Router) OnStateChange(fn func(from, to State)) {
	r.onStateChange = fn
}

// Deliver routes an incoming universe payload. Safe to call from the
// receive goroutine while Run is active.
func (r *Router) Deliver(addr UniverseAddress, payload []byte) {
	r.dispatcher.Deliver(addr, payload)
}

// Link returns the router's observer link.
func (r *Router) Link() *Link {
	return r.link
}

// Topology returns the router's universe table.
func (r *Router) Topology() *Topology {
	return r.topology
}

// State returns the current control loop state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Stats returns a diagnostic snapshot.
func (r *Router) Stats() Stats {
	return Stats{
		State:           r.State(),
		Devices:         len(r.topology.Devices()),
		Universes:       len(r.topology.Addresses()),
		Fragments:       r.topology.FragmentCount(),
		Cycles:          r.cycles.Load(),
		Faults:          r.faults.Load(),
		Delivered:       r.dispatcher.Delivered(),
		Ignored:         r.dispatcher.Ignored(),
		DroppedStatus:   r.link.DroppedStatus(),
		DroppedCommands: r.link.DroppedCommands(),
		ObserverLive:    r.link.ObserverLive(),
	}
}

// Run drives the control loop until ctx is cancelled or the link's exit
// signal is set. It returns nil on a normal shutdown.
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	// Observers watch the exit signal to learn the router has gone.
	defer r.link.RequestExit()

	r.logger.Info("router starting",
		"devices", len(r.topology.Devices()),
		"universes", len(r.topology.Addresses()),
		"output_interval", r.opts.OutputInterval,
		"status_interval", r.reporter.Interval(),
	)

	r.reporter.Start(time.Now())
	state := StateRunning
	r.setState(state)

	for {
		var next State
		switch state {
		case StateRunning:
			next = r.runCycle(ctx)
		case StateCooldown:
			next = r.cooldown(ctx)
		case StateShuttingDown:
			r.shutdown()
			next = StateStopped
		default:
			r.logger.Info("router stopped")
			return nil
		}
		if next != state {
			r.setState(next)
			state = next
		}
	}
}

// runCycle performs one output iteration and returns the next state.
func (r *Router) runCycle(ctx context.Context) State {
	start := time.Now()

	r.drainCommands()
	if r.link.Exiting() || ctx.Err() != nil {
		return StateShuttingDown
	}

	if err := r.pass(ctx); err != nil {
		r.fault(err)
		return StateCooldown
	}
	r.cycles.Add(1)

	if now := time.Now(); r.reporter.Due(now) {
		if err := r.report(now); err != nil {
			r.fault(err)
			return StateCooldown
		}
	}

	if !r.wait(ctx, r.opts.OutputInterval-time.Since(start)) {
		return StateShuttingDown
	}
	return StateRunning
}

// pass runs one scheduler pass whose sends are cancelled as soon as the
// exit signal is set, so a hung controller cannot hold up shutdown.
func (r *Router) pass(ctx context.Context) error {
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.link.Done():
			cancel()
		case <-passCtx.Done():
		}
	}()

	return r.scheduler.Pass(passCtx)
}

// report runs a status pass, converting a panic into a fault.
func (r *Router) report(now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrReporterPanic, p)
		}
	}()
	r.reporter.Report(now)
	return nil
}

func (r *Router) fault(err error) {
	r.faults.Add(1)
	r.logger.Error("router fault, cooling down",
		"error", err,
		"cooldown", r.opts.Cooldown,
		"cycles", r.cycles.Load(),
	)
}

// cooldown pauses after a fault and returns the next state.
func (r *Router) cooldown(ctx context.Context) State {
	if !r.wait(ctx, r.opts.Cooldown) {
		return StateShuttingDown
	}
	r.logger.Info("router resuming after cooldown")
	return StateRunning
}

// wait sleeps for d while servicing commands. It returns false if the
// loop should shut down.
func (r *Router) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !r.link.Exiting() && ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.link.Done():
			return false
		case cmd := <-r.link.Commands():
			r.handleCommand(cmd)
		case <-timer.C:
			return !r.link.Exiting()
		}
	}
}

// drainCommands handles every queued command without blocking.
func (r *Router) drainCommands() {
	for {
		select {
		case cmd := <-r.link.Commands():
			r.handleCommand(cmd)
		default:
			return
		}
	}
}

func (r *Router) handleCommand(cmd Command) {
	switch cmd.Name {
	case CommandObserve:
		r.link.Heartbeat()
	case CommandShutdown:
		r.logger.Info("shutdown requested by observer")
		r.link.RequestExit()
	default:
		r.logger.Warn("unknown command dropped", "command", cmd.Name)
	}
}

// shutdown stops every device once and closes the listener.
func (r *Router) shutdown() {
	r.logger.Info("router shutting down")

	for _, d := range r.topology.Devices() {
		if err := d.Stop(); err != nil {
			r.logger.Warn("stopping device", "device", d.Name(), "error", err)
		}
	}

	if r.listener != nil {
		if err := r.listener.Close(); err != nil {
			r.logger.Warn("closing listener", "error", err)
		}
	}
}

func (r *Router) setState(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	r.logger.Debug("router state change", "from", from, "to", to)
	if r.onStateChange != nil {
		r.onStateChange(from, to)
	}
}

// Live returns d's rates over the interval in progress, without closing
// it. Rates are zero before Run starts.
func (r *Router) Live(d *device.Device) device.Status {
	return d.Snapshot(r.reporter.Elapsed(time.Now()))
}

// Devices returns the routed devices in ascending ID order.
func (r *Router) Devices() []*device.Device {
	return r.topology.Devices()
}
