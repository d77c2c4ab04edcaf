package router

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/flamecaster/internal/device"
)

// MinStatusInterval is the shortest supported reporting interval.
const MinStatusInterval = 500 * time.Millisecond

// Recorder receives every interval's snapshots, whether or not an observer
// is live. Implementations must not block.
type Recorder interface {
	Record(statuses []device.Status)
}

// Reporter computes per-device throughput at a fixed interval.
//
// At each boundary it resets every device's counters. Snapshots are
// computed only when someone will consume them: a live observer (they are
// published on the link) or a configured recorder.
type Reporter struct {
	devices   []*device.Device
	link      *Link
	recorders []Recorder
	logger    Logger
	interval  time.Duration

	last time.Time
	next time.Time

	// boundary mirrors last for readers off the control loop (unix nanos).
	boundary atomic.Int64
}

// NewReporter creates a reporter. Intervals below MinStatusInterval are clamped.
func NewReporter(devices []*device.Device, link *Link, interval time.Duration) *Reporter {
	return &Reporter{
		devices:  devices,
		link:     link,
		logger:   noopLogger{},
		interval: max(interval, MinStatusInterval),
	}
}

// SetLogger sets the logger for the reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.logger = logger
}

// AddRecorder registers a recorder for every interval's snapshots.
func (r *Reporter) AddRecorder(rec Recorder) {
	r.recorders = append(r.recorders, rec)
}

// Interval returns the effective reporting interval.
func (r *Reporter) Interval() time.Duration {
	return r.interval
}

// Start begins the first interval at now.
func (r *Reporter) Start(now time.Time) {
	r.last = now
	r.next = now.Add(r.interval)
	r.boundary.Store(now.UnixNano())
}

// Elapsed returns the time since the current interval began, or zero
// before Start.
func (r *Reporter) Elapsed(now time.Time) time.Duration {
	b := r.boundary.Load()
	if b == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, b))
}

// Due reports whether the current interval has elapsed.
func (r *Reporter) Due(now time.Time) bool {
	return !now.Before(r.next)
}

// Report closes the current interval at now. It returns the computed
// snapshots, or nil when nobody would consume them.
func (r *Reporter) Report(now time.Time) []device.Status {
	elapsed := now.Sub(r.last)
	r.last = now
	r.boundary.Store(now.UnixNano())
	r.next = r.next.Add(r.interval)
	if r.next.Before(now) {
		// Fell behind (cooldown, slow cycle); restart the cadence.
		r.next = now.Add(r.interval)
	}

	live := r.link.ObserverLive()

	if !live && len(r.recorders) == 0 {
		for _, d := range r.devices {
			d.ResetCounters()
		}
		return nil
	}

	statuses := make([]device.Status, 0, len(r.devices))
	for _, d := range r.devices {
		statuses = append(statuses, d.Rollover(elapsed))
	}

	for _, rec := range r.recorders {
		rec.Record(statuses)
	}

	if live {
		for _, s := range statuses {
			msg, err := s.Marshal()
			if err != nil {
				r.logger.Error("marshalling status", "device", s.Name, "error", err)
				continue
			}
			if !r.link.PublishStatus(msg) {
				r.logger.Debug("status channel full, snapshot dropped", "device", s.Name)
			}
		}
	}

	return statuses
}
