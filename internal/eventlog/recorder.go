package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

const (
	// DefaultBuffer is the number of pending snapshot batches the recorder holds.
	DefaultBuffer = 16

	writeTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
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

// Recorder turns interval snapshots into connectivity events.
//
// Record never blocks: when the queue is full the batch is dropped and
// counted. The first snapshot seen for a device is always recorded so the
// log starts with a known state.
type Recorder struct {
	store  *Store
	logger Logger
	queue  chan []device.Status

	// last is owned by the worker goroutine.
	last map[device.ID]bool

	dropped  atomic.Uint64
	recorded atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(store *Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		store:  store,
		logger: noopLogger{},
		queue:  make(chan []device.Status, buffer),
		last:   make(map[device.ID]bool),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// SetLogger sets the logger. Call before the first Record.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record queues one interval's snapshots.
func (r *Recorder) Record(statuses []device.Status) {
	select {
	case <-r.done:
		return
	default:
	}

	batch := make([]device.Status, len(statuses))
	copy(batch, statuses)

	select {
	case r.queue <- batch:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of batches dropped because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Recorded returns the number of events written.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}

// Close stops the worker after it has written every queued batch.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case batch := <-r.queue:
			r.process(batch)
		case <-r.done:
			for {
				select {
				case batch := <-r.queue:
					r.process(batch)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) process(batch []device.Status) {
	for _, s := range batch {
		prev, seen := r.last[s.DeviceID]
		if seen && prev == s.Connected {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.store.Insert(ctx, Event{
			DeviceID:    s.DeviceID,
			DeviceName:  s.Name,
			Connected:   s.Connected,
			OutboundFPS: s.OutboundFPS,
			SendErrors:  s.SendErrors,
			CreatedAt:   s.Timestamp,
		})
		cancel()
		if err != nil {
			// Leave last untouched so the transition is retried next interval.
			r.logger.Error("recording device event", "device", s.Name, "error", err)
			continue
		}

		r.last[s.DeviceID] = s.Connected
		r.recorded.Add(1)
		if seen {
			r.logger.Info("device connectivity changed", "device", s.Name, "connected", s.Connected)
		}
	}
}
