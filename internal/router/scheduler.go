package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/flamecaster/internal/device"
)

// DefaultSendTimeout bounds one device send when none is configured.
const DefaultSendTimeout = time.Second

// Scheduler pushes every device's buffer once per pass.
//
// Sends run concurrently so one slow controller does not delay the rest.
// Send errors are logged and counted by the device; they are not faults.
// A driver panic is recovered and returned as a fault.
type Scheduler struct {
	devices []*device.Device
	timeout time.Duration
	logger  Logger
}

// NewScheduler creates a scheduler over the given devices.
func NewScheduler(devices []*device.Device, sendTimeout time.Duration) *Scheduler {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Scheduler{
		devices: devices,
		timeout: sendTimeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Pass invokes Send on every device exactly once and waits for all of them.
// It returns a non-nil error only for a driver panic.
func (s *Scheduler) Pass(ctx context.Context) error {
	var g errgroup.Group

	for _, d := range s.devices {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: device %s: %v", ErrDriverPanic, d.Name(), r)
				}
			}()

			sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			if sendErr := d.Send(sendCtx); sendErr != nil {
				s.logSendError(d, sendErr)
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) logSendError(d *device.Device, err error) {
	switch {
	case errors.Is(err, device.ErrReconnectBackoff), errors.Is(err, device.ErrStopped):
		s.logger.Debug("device send skipped", "device", d.Name(), "error", err)
	default:
		s.logger.Warn("device send failed", "device", d.Name(), "address", d.Address(), "error", err)
	}
}
