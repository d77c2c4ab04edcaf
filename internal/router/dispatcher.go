package router

import "sync/atomic"

// Dispatcher copies incoming universe payloads into device buffers.
//
// Deliver never performs I/O and never blocks beyond a per-device buffer
// copy. It is called from the receive goroutine.
type Dispatcher struct {
	topology *Topology

	delivered atomic.Uint64
	ignored   atomic.Uint64
}

// NewDispatcher creates a dispatcher over an immutable topology.
func NewDispatcher(t *Topology) *Dispatcher {
	return &Dispatcher{topology: t}
}

// Deliver routes one universe payload to every fragment registered for
// addr. Unrouted addresses are counted and otherwise ignored.
func (d *Dispatcher) Deliver(addr UniverseAddress, payload []byte) {
	routes := d.topology.routes[addr]
	if len(routes) == 0 {
		d.ignored.Add(1)
		return
	}

	// One write per device, so a device counts each packet once even when
	// the universe feeds several of its fragments.
	for _, r := range routes {
		r.device.Write(payload, r.regions...)
	}
	d.delivered.Add(1)
}

// Delivered returns the number of packets that matched at least one fragment.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Ignored returns the number of packets for unrouted addresses.
func (d *Dispatcher) Ignored() uint64 {
	return d.ignored.Load()
}
