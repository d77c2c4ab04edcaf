package router

import (
	"fmt"
	"sort"

	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/infrastructure/config"
)

// Art-Net Port-Address limits.
const (
	maxNet      = 127
	maxSubnet   = 15
	maxUniverse = 15

	// UniverseSize is the number of channels in one DMX-512 universe.
	UniverseSize = 512
)

// UniverseAddress is the 15-bit Art-Net Port-Address: net<<8 | subnet<<4 | universe.
type UniverseAddress uint16

// NewUniverseAddress packs net, subnet and universe into an address.
func NewUniverseAddress(net, subnet, universe int) (UniverseAddress, error) {
	if net < 0 || net > maxNet || subnet < 0 || subnet > maxSubnet || universe < 0 || universe > maxUniverse {
		return 0, fmt.Errorf("%w: %d:%d:%d", ErrInvalidAddress, net, subnet, universe)
	}
	return UniverseAddress(net<<8 | subnet<<4 | universe), nil
}

// Net returns the address's net (0-127).
func (a UniverseAddress) Net() int { return int(a>>8) & maxNet }

// Subnet returns the address's subnet (0-15).
func (a UniverseAddress) Subnet() int { return int(a>>4) & maxSubnet }

// Universe returns the address's universe (0-15).
func (a UniverseAddress) Universe() int { return int(a) & maxUniverse }

// String formats the address as net:subnet:universe.
func (a UniverseAddress) String() string {
	return fmt.Sprintf("%d:%d:%d", a.Net(), a.Subnet(), a.Universe())
}

// Fragment maps part of one universe into part of one device's buffer.
// Device is a non-owning reference; the registry owns devices.
type Fragment struct {
	Address      UniverseAddress
	Device       *device.Device
	StartChannel int
	DestIndex    int
	PixelCount   int
}

// Length returns the number of bytes the fragment copies.
func (f Fragment) Length() int {
	return f.PixelCount * f.Device.ChannelsPerPixel()
}

// FragmentConfig is the unresolved form of a Fragment, naming its device by ID.
type FragmentConfig struct {
	Address      UniverseAddress
	DeviceID     device.ID
	StartChannel int
	DestIndex    int
	PixelCount   int
}

// FragmentsFromConfig flattens each device's universe list into fragment configs.
func FragmentsFromConfig(devices []config.DeviceConfig) ([]FragmentConfig, error) {
	var out []FragmentConfig
	for _, d := range devices {
		for i, u := range d.Universes {
			addr, err := NewUniverseAddress(u.Net, u.Subnet, u.Universe)
			if err != nil {
				return nil, fmt.Errorf("device %d universe %d: %w", d.ID, i, err)
			}
			out = append(out, FragmentConfig{
				Address:      addr,
				DeviceID:     device.ID(d.ID),
				StartChannel: u.StartChannel,
				DestIndex:    u.DestIndex,
				PixelCount:   u.PixelCount,
			})
		}
	}
	return out, nil
}

// Topology is the immutable universe-to-fragment table.
//
// All bounds are checked once in NewTopology, so the dispatch path can copy
// without re-validating.
type Topology struct {
	registry  *device.Registry
	table     map[UniverseAddress][]Fragment
	routes    map[UniverseAddress][]route
	addresses []UniverseAddress
	fragments int
}

// NewTopology resolves fragment configs against the registry and validates
// every fragment's bounds. Any defect fails construction.
func NewTopology(registry *device.Registry, specs []FragmentConfig) (*Topology, error) {
	if registry == nil || registry.Count() == 0 {
		return nil, ErrNoDevices
	}

	t := &Topology{
		registry: registry,
		table:    make(map[UniverseAddress][]Fragment),
		routes:   make(map[UniverseAddress][]route),
	}

	for i, spec := range specs {
		dev, err := registry.Get(spec.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: fragment %d: device %d", ErrUnknownDevice, i, spec.DeviceID)
		}

		f := Fragment{
			Address:      spec.Address,
			Device:       dev,
			StartChannel: spec.StartChannel,
			DestIndex:    spec.DestIndex,
			PixelCount:   spec.PixelCount,
		}
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("fragment %d (%s -> %s): %w", i, spec.Address, dev.Name(), err)
		}

		if _, ok := t.table[f.Address]; !ok {
			t.addresses = append(t.addresses, f.Address)
		}
		t.table[f.Address] = append(t.table[f.Address], f)
		t.fragments++
	}

	sort.Slice(t.addresses, func(i, j int) bool { return t.addresses[i] < t.addresses[j] })
	for addr, fragments := range t.table {
		t.routes[addr] = groupByDevice(fragments)
	}
	return t, nil
}

// route is every region one address fills on one device.
type route struct {
	device  *device.Device
	regions []device.Region
}

// groupByDevice merges an address's fragments per device, keeping the
// first-seen device order.
func groupByDevice(fragments []Fragment) []route {
	var routes []route
	index := make(map[*device.Device]int)
	for _, f := range fragments {
		i, ok := index[f.Device]
		if !ok {
			i = len(routes)
			index[f.Device] = i
			routes = append(routes, route{device: f.Device})
		}
		routes[i].regions = append(routes[i].regions, device.Region{
			StartChannel: f.StartChannel,
			DestIndex:    f.DestIndex,
			PixelCount:   f.PixelCount,
		})
	}
	return routes
}

// validate checks the fragment against universe and buffer sizes.
func (f Fragment) validate() error {
	if f.StartChannel < 0 || f.DestIndex < 0 || f.PixelCount < 1 {
		return fmt.Errorf("%w: negative offset or empty fragment", ErrFragmentBounds)
	}
	n := f.Length()
	if f.StartChannel+n > UniverseSize {
		return fmt.Errorf("%w: start %d + %d bytes exceeds %d-channel universe",
			ErrFragmentBounds, f.StartChannel, n, UniverseSize)
	}
	if f.DestIndex+n > f.Device.BufferSize() {
		return fmt.Errorf("%w: dest %d + %d bytes exceeds %d-byte buffer",
			ErrFragmentBounds, f.DestIndex, n, f.Device.BufferSize())
	}
	return nil
}

// Lookup returns the fragments registered for an address.
// The slice is shared; callers must not modify it.
func (t *Topology) Lookup(addr UniverseAddress) []Fragment {
	return t.table[addr]
}

// Addresses returns every routed address in ascending order.
func (t *Topology) Addresses() []UniverseAddress {
	return t.addresses
}

// Devices returns the devices in ascending ID order.
func (t *Topology) Devices() []*device.Device {
	return t.registry.All()
}

// Registry returns the device registry the topology was built from.
func (t *Topology) Registry() *device.Registry {
	return t.registry
}

// FragmentCount returns the total number of fragments.
func (t *Topology) FragmentCount() int {
	return t.fragments
}

// Dump logs the device list and universe table at debug level.
func (t *Topology) Dump(logger Logger) {
	for _, d := range t.Devices() {
		logger.Debug("device",
			"id", d.ID(),
			"name", d.Name(),
			"address", d.Address(),
			"buffer_bytes", d.BufferSize(),
		)
	}
	for _, addr := range t.addresses {
		for _, f := range t.table[addr] {
			logger.Debug("universe fragment",
				"universe", addr.String(),
				"device", f.Device.Name(),
				"start_channel", f.StartChannel,
				"dest_index", f.DestIndex,
				"pixels", f.PixelCount,
			)
		}
	}
}
