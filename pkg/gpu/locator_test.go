package gpu

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTree(t *testing.T) *FakeTree {
	t.Helper()
	f, err := NewFakeTree(t.TempDir())
	if err != nil {
		t.Fatalf("NewFakeTree() error = %v", err)
	}
	return f
}

func TestDiscoverDevices(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.AddCard(FakeCard{Index: 1, Driver: "nvidia", Hwmon: 1}); err != nil {
		t.Fatal(err)
	}

	devices, err := NewLocator(WithRoot(f.Root())).DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("DiscoverDevices() returned %d devices, want 1", len(devices))
	}

	d := devices[0]
	if d.ID != "card0" {
		t.Errorf("ID = %q, want %q", d.ID, "card0")
	}
	if d.Driver != "amdgpu" {
		t.Errorf("Driver = %q, want %q", d.Driver, "amdgpu")
	}
	if d.Vendor != "AMD" {
		t.Errorf("Vendor = %q, want %q", d.Vendor, "AMD")
	}
	if d.PCISlot != "0000:03:00.0" {
		t.Errorf("PCISlot = %q, want %q", d.PCISlot, "0000:03:00.0")
	}
	if d.Product != "Radeon RX 7900 XTX" {
		t.Errorf("Product = %q, want %q", d.Product, "Radeon RX 7900 XTX")
	}
	if filepath.Base(d.HwmonPath) != "hwmon0" {
		t.Errorf("HwmonPath = %q, want hwmon0", d.HwmonPath)
	}
	if !d.Monitored() {
		t.Error("Monitored() = false, want true")
	}
}

func TestDiscoverDevices_NumericOrder(t *testing.T) {
	f := newTree(t)
	for _, idx := range []int{10, 2} {
		if err := f.AddCard(FakeCard{Index: idx, Hwmon: idx}); err != nil {
			t.Fatal(err)
		}
	}

	devices, err := NewLocator(WithRoot(f.Root())).DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	var ids []string
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	if got := strings.Join(ids, ","); got != "card2,card10" {
		t.Errorf("device order = %s, want card2,card10", got)
	}
}

func TestDiscoverDevices_NoDevices(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *FakeTree) string
	}{
		{
			name:  "missing root",
			setup: func(f *FakeTree) string { return filepath.Join(f.Root(), "missing") },
		},
		{
			name:  "empty root",
			setup: func(f *FakeTree) string { return f.Root() },
		},
		{
			name: "other driver only",
			setup: func(f *FakeTree) string {
				if err := f.AddCard(FakeCard{Index: 0, Driver: "i915", Hwmon: 0}); err != nil {
					t.Fatal(err)
				}
				return f.Root()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := tt.setup(newTree(t))
			_, err := NewLocator(WithRoot(root)).DiscoverDevices(context.Background())

			var nd *NoDeviceFoundError
			if !errors.As(err, &nd) {
				t.Fatalf("DiscoverDevices() error = %v, want NoDeviceFoundError", err)
			}
			if !IsNoDevice(err) {
				t.Error("IsNoDevice() = false, want true")
			}
		})
	}
}

func TestDiscoverDevices_DriverLinkWins(t *testing.T) {
	f := newTree(t)
	if err := f.AddCard(FakeCard{Index: 0, Driver: "i915", Hwmon: 0}); err != nil {
		t.Fatal(err)
	}
	// A readable link to another driver is not overridden by the hwmon name.
	if err := f.WriteHwmon(0, "name", "amdgpu\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddAMDCard(1, 1); err != nil {
		t.Fatal(err)
	}

	devices, err := NewLocator(WithRoot(f.Root())).DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "card1" {
		t.Errorf("DiscoverDevices() = %v, want only card1", devices)
	}
}

func TestDiscoverDevices_HwmonNameFallback(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 4); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(f.DevicePath(0), "driver")); err != nil {
		t.Fatal(err)
	}

	devices, err := NewLocator(WithRoot(f.Root())).DiscoverDevices(context.Background())
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if devices[0].Driver != "amdgpu" {
		t.Errorf("Driver = %q, want amdgpu", devices[0].Driver)
	}
	if filepath.Base(devices[0].HwmonPath) != "hwmon4" {
		t.Errorf("HwmonPath = %q, want hwmon4", devices[0].HwmonPath)
	}
}

func TestDiscoverDevices_PrefersDriverHwmon(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 3); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(f.DevicePath(0), "hwmon", "hwmon1")
	if err := os.MkdirAll(other, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(other, "name"), []byte("nvme\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dev, err := NewLocator(WithRoot(f.Root())).SelectDevice(context.Background(), "card0")
	if err != nil {
		t.Fatalf("SelectDevice() error = %v", err)
	}
	if filepath.Base(dev.HwmonPath) != "hwmon3" {
		t.Errorf("HwmonPath = %q, want hwmon3", dev.HwmonPath)
	}
}

func TestDiscoverDevices_ContextCancelled(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocator(WithRoot(f.Root())).DiscoverDevices(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DiscoverDevices() error = %v, want context.Canceled", err)
	}
}

func TestSelectDevice(t *testing.T) {
	f := newTree(t)
	if err := f.AddCard(FakeCard{Index: 0, Hwmon: -1}); err != nil {
		t.Fatal(err)
	}
	if err := f.AddAMDCard(1, 2); err != nil {
		t.Fatal(err)
	}
	loc := NewLocator(WithRoot(f.Root()))
	ctx := context.Background()

	tests := []struct {
		name        string
		id          string
		wantID      string
		wantMissing bool
		wantNoMon   bool
	}{
		{name: "auto selects first monitored", id: "", wantID: "card1"},
		{name: "by card name", id: "card1", wantID: "card1"},
		{name: "by pci slot", id: "0000:04:00.0", wantID: "card1"},
		{name: "card without monitor", id: "card0", wantNoMon: true},
		{name: "unknown card", id: "card7", wantMissing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := loc.SelectDevice(ctx, tt.id)

			var nd *NoDeviceFoundError
			var mu *MonitorUnavailableError
			switch {
			case tt.wantMissing:
				if !errors.As(err, &nd) {
					t.Fatalf("SelectDevice(%q) error = %v, want NoDeviceFoundError", tt.id, err)
				}
				if nd.ID != tt.id {
					t.Errorf("NoDeviceFoundError.ID = %q, want %q", nd.ID, tt.id)
				}
			case tt.wantNoMon:
				if !errors.As(err, &mu) {
					t.Fatalf("SelectDevice(%q) error = %v, want MonitorUnavailableError", tt.id, err)
				}
				if mu.DeviceID != tt.id {
					t.Errorf("MonitorUnavailableError.DeviceID = %q, want %q", mu.DeviceID, tt.id)
				}
			default:
				if err != nil {
					t.Fatalf("SelectDevice(%q) error = %v", tt.id, err)
				}
				if dev.ID != tt.wantID {
					t.Errorf("SelectDevice(%q).ID = %q, want %q", tt.id, dev.ID, tt.wantID)
				}
			}
		})
	}
}

func TestSelectDevice_OnlyCard0(t *testing.T) {
	f := newTree(t)
	if err := f.AddAMDCard(0, 0); err != nil {
		t.Fatal(err)
	}

	_, err := NewLocator(WithRoot(f.Root())).SelectDevice(context.Background(), "card1")
	var nd *NoDeviceFoundError
	if !errors.As(err, &nd) {
		t.Fatalf("SelectDevice(card1) error = %v, want NoDeviceFoundError", err)
	}
	if !strings.Contains(err.Error(), "card1") {
		t.Errorf("error %q should name the requested card", err)
	}
}

func TestSelectDevice_NoRootKeepsID(t *testing.T) {
	_, err := NewLocator(WithRoot(filepath.Join(t.TempDir(), "none"))).SelectDevice(context.Background(), "card3")
	var nd *NoDeviceFoundError
	if !errors.As(err, &nd) {
		t.Fatalf("SelectDevice() error = %v, want NoDeviceFoundError", err)
	}
	if nd.ID != "card3" {
		t.Errorf("ID = %q, want card3", nd.ID)
	}
}
