package router

import (
	"errors"
	"testing"

	"github.com/nerrad567/flamecaster/internal/device"
	"github.com/nerrad567/flamecaster/internal/infrastructure/config"
)

func TestUniverseAddress(t *testing.T) {
	tests := []struct {
		net, subnet, universe int
		want                  UniverseAddress
		wantErr               bool
	}{
		{0, 0, 0, 0, false},
		{0, 0, 1, 1, false},
		{0, 1, 0, 16, false},
		{1, 0, 0, 256, false},
		{127, 15, 15, 0x7FFF, false},
		{128, 0, 0, 0, true},
		{0, 16, 0, 0, true},
		{0, 0, 16, 0, true},
		{-1, 0, 0, 0, true},
	}

	for _, tt := range tests {
		got, err := NewUniverseAddress(tt.net, tt.subnet, tt.universe)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("NewUniverseAddress(%d,%d,%d) error = %v, want ErrInvalidAddress", tt.net, tt.subnet, tt.universe, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NewUniverseAddress(%d,%d,%d) = %d, %v; want %d", tt.net, tt.subnet, tt.universe, got, err, tt.want)
			continue
		}
		if got.Net() != tt.net || got.Subnet() != tt.subnet || got.Universe() != tt.universe {
			t.Errorf("round trip of %d = %s", got, got)
		}
	}

	if s := UniverseAddress(0x123).String(); s != "1:2:3" {
		t.Errorf("String() = %q, want 1:2:3", s)
	}
}

func TestNewTopology(t *testing.T) {
	dev := newDevice(t, 1, 340, &fakeDriver{})
	reg := newRegistry(t, dev)

	tests := []struct {
		name    string
		specs   []FragmentConfig
		wantErr error
	}{
		{
			name: "two universes fill buffer",
			specs: []FragmentConfig{
				{Address: 0, DeviceID: 1, PixelCount: 170},
				{Address: 1, DeviceID: 1, DestIndex: 510, PixelCount: 170},
			},
		},
		{
			name:    "unknown device",
			specs:   []FragmentConfig{{Address: 0, DeviceID: 9, PixelCount: 1}},
			wantErr: ErrUnknownDevice,
		},
		{
			name:    "overruns universe",
			specs:   []FragmentConfig{{Address: 0, DeviceID: 1, StartChannel: 3, PixelCount: 170}},
			wantErr: ErrFragmentBounds,
		},
		{
			name:    "overruns buffer",
			specs:   []FragmentConfig{{Address: 0, DeviceID: 1, DestIndex: 511, PixelCount: 170}},
			wantErr: ErrFragmentBounds,
		},
		{
			name:    "empty fragment",
			specs:   []FragmentConfig{{Address: 0, DeviceID: 1, PixelCount: 0}},
			wantErr: ErrFragmentBounds,
		},
		{
			name:    "negative start",
			specs:   []FragmentConfig{{Address: 0, DeviceID: 1, StartChannel: -3, PixelCount: 1}},
			wantErr: ErrFragmentBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := NewTopology(reg, tt.specs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewTopology() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTopology() error = %v", err)
			}
			if topo.FragmentCount() != len(tt.specs) {
				t.Errorf("FragmentCount() = %d, want %d", topo.FragmentCount(), len(tt.specs))
			}
		})
	}
}

func TestNewTopology_NoDevices(t *testing.T) {
	if _, err := NewTopology(newRegistry(t), nil); !errors.Is(err, ErrNoDevices) {
		t.Errorf("NewTopology() error = %v, want ErrNoDevices", err)
	}
}

func TestTopology_SharedAddress(t *testing.T) {
	a := newDevice(t, 1, 10, &fakeDriver{})
	b := newDevice(t, 2, 10, &fakeDriver{})
	topo, err := NewTopology(newRegistry(t, a, b), []FragmentConfig{
		{Address: 5, DeviceID: 2, PixelCount: 10},
		{Address: 5, DeviceID: 1, PixelCount: 10},
		{Address: 2, DeviceID: 1, PixelCount: 1},
	})
	if err != nil {
		t.Fatalf("NewTopology() error = %v", err)
	}

	if got := len(topo.Lookup(5)); got != 2 {
		t.Errorf("Lookup(5) has %d fragments, want 2", got)
	}
	if got := topo.Addresses(); len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("Addresses() = %v, want [2 5]", got)
	}
	if topo.Lookup(7) != nil {
		t.Error("Lookup(7) returned fragments for unrouted address")
	}
}

func TestFragmentsFromConfig(t *testing.T) {
	specs, err := FragmentsFromConfig([]config.DeviceConfig{{
		ID: 3,
		Universes: []config.UniverseConfig{
			{Net: 1, Subnet: 2, Universe: 3, StartChannel: 6, DestIndex: 30, PixelCount: 50},
		},
	}})
	if err != nil {
		t.Fatalf("FragmentsFromConfig() error = %v", err)
	}
	want := FragmentConfig{Address: 0x123, DeviceID: device.ID(3), StartChannel: 6, DestIndex: 30, PixelCount: 50}
	if len(specs) != 1 || specs[0] != want {
		t.Errorf("FragmentsFromConfig() = %+v, want [%+v]", specs, want)
	}

	_, err = FragmentsFromConfig([]config.DeviceConfig{{ID: 1, Universes: []config.UniverseConfig{{Net: 200}}}})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("FragmentsFromConfig() error = %v, want ErrInvalidAddress", err)
	}
}
