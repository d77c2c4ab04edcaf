package router

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Command names accepted on the command channel.
const (
	CommandObserve  = "observe"
	CommandShutdown = "shutdown"
)

// Link defaults.
const (
	DefaultStatusBuffer  = 64
	DefaultCommandBuffer = 16
	DefaultObserverTTL   = 10 * time.Second
)

// Command is a control message from an observer.
type Command struct {
	Name    string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LinkOptions configures a Link. Zero fields take defaults.
type LinkOptions struct {
	StatusBuffer  int
	CommandBuffer int
	ObserverTTL   time.Duration
}

// Link is the boundary between the router and its observers.
//
// It carries a bounded outbound status channel, a bounded inbound command
// channel, the observer-liveness signal and the exit signal. Both channels
// drop the newest message when full and count the drop; the router never
// blocks on an absent or slow observer.
//
// Thread Safety: All methods are safe for concurrent use.
type Link struct {
	status   chan []byte
	commands chan Command
	ttl      time.Duration
	now      func() time.Time

	attached  atomic.Int64
	heartbeat atomic.Int64 // unix nanos until which the observer counts as live

	exitOnce sync.Once
	exit     chan struct{}
	exiting  atomic.Bool

	droppedStatus   atomic.Uint64
	droppedCommands atomic.Uint64
}

// NewLink creates a link with the given buffer sizes.
func NewLink(opts LinkOptions) *Link {
	if opts.StatusBuffer < 1 {
		opts.StatusBuffer = DefaultStatusBuffer
	}
	if opts.CommandBuffer < 1 {
		opts.CommandBuffer = DefaultCommandBuffer
	}
	if opts.ObserverTTL <= 0 {
		opts.ObserverTTL = DefaultObserverTTL
	}

	return &Link{
		status:   make(chan []byte, opts.StatusBuffer),
		commands: make(chan Command, opts.CommandBuffer),
		ttl:      opts.ObserverTTL,
		now:      time.Now,
		exit:     make(chan struct{}),
	}
}

// PublishStatus offers a serialised snapshot to observers.
// Returns false if the channel was full and the message was dropped.
func (l *Link) PublishStatus(msg []byte) bool {
	select {
	case l.status <- msg:
		return true
	default:
		l.droppedStatus.Add(1)
		return false
	}
}

// Status returns the outbound status channel. It is never closed.
func (l *Link) Status() <-chan []byte {
	return l.status
}

// SendCommand queues a command for the control loop.
// Returns false if the channel was full and the command was dropped.
func (l *Link) SendCommand(cmd Command) bool {
	select {
	case l.commands <- cmd:
		return true
	default:
		l.droppedCommands.Add(1)
		return false
	}
}

// Commands returns the inbound command channel.
func (l *Link) Commands() <-chan Command {
	return l.commands
}

// Heartbeat marks an observer live for the configured TTL.
func (l *Link) Heartbeat() {
	l.heartbeat.Store(l.now().Add(l.ttl).UnixNano())
}

// AttachObserver registers a persistent observer, such as a websocket
// client. The observer stays live until the returned detach func is called.
func (l *Link) AttachObserver() (detach func()) {
	l.attached.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { l.attached.Add(-1) })
	}
}

// ObserverLive reports whether any observer is attached or has sent a
// heartbeat within the TTL.
func (l *Link) ObserverLive() bool {
	if l.attached.Load() > 0 {
		return true
	}
	return l.now().UnixNano() < l.heartbeat.Load()
}

// RequestExit sets the exit signal. Safe to call more than once.
func (l *Link) RequestExit() {
	l.exitOnce.Do(func() {
		l.exiting.Store(true)
		close(l.exit)
	})
}

// Exiting reports whether the exit signal is set.
func (l *Link) Exiting() bool {
	return l.exiting.Load()
}

// Done is closed when the exit signal is set.
func (l *Link) Done() <-chan struct{} {
	return l.exit
}

// DroppedStatus returns the number of status messages dropped on overflow.
func (l *Link) DroppedStatus() uint64 {
	return l.droppedStatus.Load()
}

// DroppedCommands returns the number of commands dropped on overflow.
func (l *Link) DroppedCommands() uint64 {
	return l.droppedCommands.Load()
}
