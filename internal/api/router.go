package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/panel"
	"github.com/nerrad567/flamecaster/internal/relay"
	"github.com/nerrad567/flamecaster/internal/router"
)

// healthCheckTimeout bounds the backend checks behind /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/router", s.handleRouter)
		r.Post("/commands", s.handleCommand)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/events", s.handleDeviceEvents)
				r.Get("/throughput", s.handleDeviceThroughput)
			})
		})
	})

	r.Get(s.wsCfg.Path, s.handleWebSocket)
	r.Handle("/*", panel.Handler(s.cfg.PanelDir, panel.Settings{
		WebSocketPath: s.wsCfg.Path,
		Version:       s.version,
	}))

	return r
}

// deviceView is the API representation of a routed device.
type deviceView struct {
	ID               device.ID       `json:"id"`
	Name             string          `json:"name"`
	Address          string          `json:"address"`
	ChannelsPerPixel int             `json:"channels_per_pixel"`
	BufferSize       int             `json:"buffer_size"`
	Universes        []string        `json:"universes"`
	Status           json.RawMessage `json:"status,omitempty"`
	Live             device.Status   `json:"live"`
}

func (s *Server) viewDevice(d *device.Device) deviceView {
	t := s.router.Topology()
	var universes []string
	for _, addr := range t.Addresses() {
		for _, f := range t.Lookup(addr) {
			if f.Device == d {
				universes = append(universes, addr.String())
				break
			}
		}
	}

	v := deviceView{
		ID:               d.ID(),
		Name:             d.Name(),
		Address:          d.Address(),
		ChannelsPerPixel: d.ChannelsPerPixel(),
		BufferSize:       d.BufferSize(),
		Universes:        universes,
		Live:             s.router.Live(d),
	}
	if status, ok := s.relay.LatestFor(d.ID()); ok {
		v.Status = status
	}
	return v
}

// handleHealth reports the router state and the health of every backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	state := s.router.State()
	if state == router.StateStopped || state == router.StateShuttingDown {
		status = "stopping"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"router_state":   state,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"checks":         checks,
	})
}

// handleRouter returns control loop and relay diagnostics.
func (s *Server) handleRouter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"router":            s.router.Stats(),
		"relay":             s.relay.Stats(),
		"websocket_clients": s.hub.ClientCount(),
	})
}

// handleListDevices lists every device with its latest snapshot.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.router.Devices()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.viewDevice(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.viewDevice(d))
}

// handleDeviceEvents returns the device's connectivity history.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.events == nil {
		writeUnavailable(w, "event log is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.events.History(r.Context(), d.ID(), limit)
	if err != nil {
		s.logger.Error("reading device events", "device", d.Name(), "error", err)
		writeInternalError(w, "failed to read device events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID(),
		"events":    events,
		"count":     len(events),
	})
}

// handleDeviceThroughput returns recorded throughput over ?window=.
func (s *Server) handleDeviceThroughput(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if s.throughput == nil {
		writeUnavailable(w, "throughput history is not enabled")
		return
	}

	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "window must be a positive duration such as 15m")
			return
		}
		window = parsed
	}

	points, err := s.throughput.ThroughputHistory(r.Context(), int(d.ID()), window)
	if err != nil {
		s.logger.Error("reading throughput history", "device", d.Name(), "error", err)
		writeInternalError(w, "failed to read throughput history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": d.ID(),
		"window":    window.String(),
		"points":    points,
	})
}

// handleCommand queues a router command: {"command": "shutdown"}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	err = s.relay.SubmitMessage(body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, relay.ErrCommandDropped):
		writeUnavailable(w, "command queue is full")
	default:
		writeBadRequest(w, err.Error())
	}
}

// lookupDevice resolves the {id} URL parameter, writing an error response
// if it does not name a routed device.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "device id must be an integer")
		return nil, false
	}
	d, err := s.router.Topology().Registry().Get(device.ID(id))
	if err != nil {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return d, true
}
