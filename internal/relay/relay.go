package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/infrastructure/mqtt"
	"github.com/nerrad567/flamecaster/internal/router"
)

// Publisher sends retained messages to a broker.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Broadcaster pushes a message to every connected observer.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// Logger is the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats are the relay's counters.
type Stats struct {
	Forwarded     uint64 `json:"forwarded"`
	Malformed     uint64 `json:"malformed"`
	PublishErrors uint64 `json:"publish_errors"`
}

// Relay moves status snapshots out of the link and commands into it.
//
// Thread Safety: All methods are safe for concurrent use.
type Relay struct {
	link   *router.Link
	topics mqtt.Topics
	logger Logger

	mu           sync.RWMutex
	publisher    Publisher
	broadcasters []Broadcaster
	latest       map[device.ID]json.RawMessage

	// Router state publishing; see PublishState.
	stateMu      sync.Mutex
	statePending []byte
	stateActive  bool
	stateIdle    sync.WaitGroup

	forwarded     atomic.Uint64
	malformed     atomic.Uint64
	publishErrors atomic.Uint64
}

// New creates a relay for link.
func New(link *router.Link) *Relay {
	return &Relay{
		link:   link,
		logger: noopLogger{},
		latest: make(map[device.ID]json.RawMessage),
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher sets the MQTT publisher for status snapshots.
func (r *Relay) SetPublisher(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// AddBroadcaster registers an observer fan-out, such as the websocket hub.
func (r *Relay) AddBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasters = append(r.broadcasters, b)
}

// Run drains the status channel until ctx is cancelled or the router
// signals exit. Snapshots already queued when exit is signalled are still
// forwarded.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.link.Status():
			r.forward(msg)
		case <-r.link.Done():
			for {
				select {
				case msg := <-r.link.Status():
					r.forward(msg)
				default:
					return nil
				}
			}
		}
	}
}

// forward fans one serialised snapshot out to every sink.
func (r *Relay) forward(msg []byte) {
	var head struct {
		DeviceID device.ID `json:"device_id"`
	}
	if err := json.Unmarshal(msg, &head); err != nil || head.DeviceID <= 0 {
		r.malformed.Add(1)
		r.logger.Warn("dropping malformed status message", "error", err)
		return
	}

	r.mu.Lock()
	r.latest[head.DeviceID] = json.RawMessage(msg)
	publisher := r.publisher
	broadcasters := r.broadcasters
	r.mu.Unlock()

	if publisher != nil {
		topic := r.topics.DeviceStatus(strconv.Itoa(int(head.DeviceID)))
		if err := publisher.PublishRetained(topic, msg); err != nil {
			r.publishErrors.Add(1)
			r.logger.Debug("publishing status", "topic", topic, "error", err)
		}
	}
	for _, b := range broadcasters {
		b.Broadcast(msg)
	}
	r.forwarded.Add(1)
}

// PublishState publishes a router state transition, retained, so a late
// subscriber sees whether the router is running. It matches the router's
// OnStateChange signature and does not block the caller.
//
// One goroutine publishes at a time, in order. Transitions that arrive
// while a publish is in flight are coalesced: only the newest is sent, so
// the retained message always ends on the latest state.
func (r *Relay) PublishState(from, to router.State) {
	r.mu.RLock()
	hasPublisher := r.publisher != nil
	r.mu.RUnlock()
	if !hasPublisher {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"state":     to,
		"previous":  from,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.statePending = payload
	if !r.stateActive {
		r.stateActive = true
		r.stateIdle.Add(1)
		go r.publishStates()
	}
}

// publishStates sends pending state messages until none is left.
func (r *Relay) publishStates() {
	defer r.stateIdle.Done()

	topic := r.topics.RouterState()
	for {
		r.stateMu.Lock()
		payload := r.statePending
		r.statePending = nil
		if payload == nil {
			r.stateActive = false
			r.stateMu.Unlock()
			return
		}
		r.stateMu.Unlock()

		r.mu.RLock()
		publisher := r.publisher
		r.mu.RUnlock()
		if publisher == nil {
			continue
		}
		if err := publisher.PublishRetained(topic, payload); err != nil {
			r.publishErrors.Add(1)
			r.logger.Debug("publishing router state", "error", err)
		}
	}
}

// Flush waits for pending state publishes to finish.
func (r *Relay) Flush() {
	r.stateIdle.Wait()
}

// Latest returns the most recent snapshot of every device seen so far,
// ordered by device ID.
func (r *Relay) Latest() []json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]device.ID, 0, len(r.latest))
	for id := range r.latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.latest[id])
	}
	return out
}

// LatestFor returns the most recent snapshot of one device.
func (r *Relay) LatestFor(id device.ID) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.latest[id]
	return msg, ok
}

// Stats returns the relay's counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:     r.forwarded.Load(),
		Malformed:     r.malformed.Load(),
		PublishErrors: r.publishErrors.Load(),
	}
}

// SubmitCommand queues a named command on the link. An empty payload is
// allowed; a non-empty one must be valid JSON.
func (r *Relay) SubmitCommand(name string, payload []byte) error {
	if name == "" {
		return fmt.Errorf("%w: missing command name", ErrInvalidCommand)
	}
	cmd := router.Command{Name: name}
	if len(payload) > 0 {
		if !json.Valid(payload) {
			return fmt.Errorf("%w: payload for %q is not JSON", ErrInvalidCommand, name)
		}
		cmd.Payload = json.RawMessage(payload)
	}
	if !r.link.SendCommand(cmd) {
		return fmt.Errorf("%w: %s", ErrCommandDropped, name)
	}
	return nil
}

// SubmitMessage parses a JSON command message, {"command": "...",
// "payload": ...}, and queues it on the link.
func (r *Relay) SubmitMessage(data []byte) error {
	var cmd router.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return r.SubmitCommand(cmd.Name, cmd.Payload)
}

// HandleMQTTCommand is an mqtt.MessageHandler for the command topics.
// The command name is the last topic segment and the payload is passed
// through.
func (r *Relay) HandleMQTTCommand(topic string, payload []byte) error {
	name := r.topics.CommandName(topic)
	if err := r.SubmitCommand(name, payload); err != nil {
		r.logger.Warn("mqtt command rejected", "topic", topic, "error", err)
		return err
	}
	r.logger.Debug("mqtt command queued", "command", name)
	return nil
}
