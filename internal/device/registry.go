package device

import (
	"fmt"
	"sort"
)

// Registry is the immutable set of devices for one run, indexed by ID.
//
// It is built once at startup; there is no live reconfiguration.
type Registry struct {
	byID    map[ID]*Device
	ordered []*Device
}

// NewRegistry indexes devices by ID. Duplicate IDs are an error.
func NewRegistry(devices ...*Device) (*Registry, error) {
	r := &Registry{
		byID:    make(map[ID]*Device, len(devices)),
		ordered: make([]*Device, 0, len(devices)),
	}
	for _, d := range devices {
		if _, exists := r.byID[d.ID()]; exists {
			return nil, fmt.Errorf("%w: id %d", ErrDeviceExists, d.ID())
		}
		r.byID[d.ID()] = d
		r.ordered = append(r.ordered, d)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].ID() < r.ordered[j].ID()
	})
	return r, nil
}

// Get returns the device with the given ID.
func (r *Registry) Get(id ID) (*Device, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	return d, nil
}

// All returns every device in ascending ID order.
// The slice is shared; callers must not modify it.
func (r *Registry) All() []*Device {
	return r.ordered
}

// Count returns the number of devices.
func (r *Registry) Count() int {
	return len(r.ordered)
}
