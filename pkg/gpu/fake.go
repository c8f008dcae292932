package gpu

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FakeTree writes a synthetic DRM sysfs export into a directory, for tests
// and for running the tool on machines without an AMD GPU.
//
// The layout mirrors the kernel: <dir>/drm/cardN/device is a symlink to
// <dir>/devices/<pci slot>, which holds driver, vendor and hwmon/hwmonM.
type FakeTree struct {
	mu      sync.Mutex
	base    string
	root    string
	devices map[int]string
	hwmons  map[int]string
}

// FakeCard describes a card to add to a FakeTree.
type FakeCard struct {
	// Index is N in cardN.
	Index int

	// Driver defaults to amdgpu.
	Driver string

	// PCISlot defaults to 0000:0X:00.0 derived from Index.
	PCISlot string

	// Hwmon is M in hwmonM. Negative means the card has no monitor directory.
	Hwmon int

	Product string
}

// NewFakeTree creates the tree skeleton under dir.
func NewFakeTree(dir string) (*FakeTree, error) {
	f := &FakeTree{
		base:    dir,
		root:    filepath.Join(dir, "drm"),
		devices: make(map[int]string),
		hwmons:  make(map[int]string),
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating fake drm root: %w", err)
	}
	return f, nil
}

// Root returns the directory to pass to WithRoot.
func (f *FakeTree) Root() string {
	return f.root
}

// AddCard creates a card entry and its device directory.
func (f *FakeTree) AddCard(c FakeCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.PCISlot == "" {
		c.PCISlot = fmt.Sprintf("0000:%02x:00.0", c.Index+3)
	}

	devDir := filepath.Join(f.base, "devices", c.PCISlot)
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		return fmt.Errorf("creating device dir: %w", err)
	}
	if err := os.Symlink(filepath.Join(f.base, "drivers", c.Driver), filepath.Join(devDir, "driver")); err != nil {
		return fmt.Errorf("linking driver: %w", err)
	}

	vendor := "0x1002"
	if c.Driver != DefaultDriver {
		vendor = "0x10de"
	}
	if err := writeValue(filepath.Join(devDir, "vendor"), vendor); err != nil {
		return err
	}
	if c.Product != "" {
		if err := writeValue(filepath.Join(devDir, "product_name"), c.Product); err != nil {
			return err
		}
	}

	cardDir := filepath.Join(f.root, fmt.Sprintf("card%d", c.Index))
	if err := os.MkdirAll(cardDir, 0o755); err != nil {
		return fmt.Errorf("creating card dir: %w", err)
	}
	if err := os.Symlink(devDir, filepath.Join(cardDir, "device")); err != nil {
		return fmt.Errorf("linking device: %w", err)
	}
	// Connector entries sit next to cards and must be ignored by discovery.
	if err := os.MkdirAll(filepath.Join(f.root, fmt.Sprintf("card%d-DP-1", c.Index)), 0o755); err != nil {
		return fmt.Errorf("creating connector dir: %w", err)
	}

	f.devices[c.Index] = devDir
	if c.Hwmon >= 0 {
		hw := filepath.Join(devDir, "hwmon", fmt.Sprintf("hwmon%d", c.Hwmon))
		if err := os.MkdirAll(hw, 0o755); err != nil {
			return fmt.Errorf("creating hwmon dir: %w", err)
		}
		if err := writeValue(filepath.Join(hw, "name"), c.Driver); err != nil {
			return err
		}
		f.hwmons[c.Index] = hw
	}
	return nil
}

// AddAMDCard adds an amdgpu card populated with typical discrete-GPU values:
// edge 45.0°C, junction 52.0°C, mem 60.0°C, 1.85 GHz core, 1.00 GHz memory,
// 0.85 V, 150 W of a 200 W limit and a fan at 1200 RPM.
func (f *FakeTree) AddAMDCard(index, hwmon int) error {
	if err := f.AddCard(FakeCard{Index: index, Hwmon: hwmon, Product: "Radeon RX 7900 XTX"}); err != nil {
		return err
	}

	hw := map[string]int64{
		"temp1_input":        45000,
		"temp2_input":        52000,
		"temp3_input":        60000,
		"freq1_input":        1_850_000_000,
		"freq2_input":        1_000_000_000,
		"in0_input":          850,
		"power1_average":     150_000_000,
		"power1_cap":         200_000_000,
		"power1_cap_default": 200_000_000,
		"power1_cap_max":     250_000_000,
		"fan1_input":         1200,
		"fan1_target":        1250,
	}
	for file, v := range hw {
		if err := f.SetHwmon(index, file, v); err != nil {
			return err
		}
	}
	for i, label := range []string{"edge", "junction", "mem"} {
		if err := f.WriteHwmon(index, fmt.Sprintf("temp%d_label", i+1), label); err != nil {
			return err
		}
	}

	dev := map[string]int64{
		"gpu_busy_percent":    37,
		"mem_busy_percent":    12,
		"mem_info_vram_total": 25_753_026_560,
		"mem_info_vram_used":  2_147_483_648,
	}
	for file, v := range dev {
		if err := f.SetDevice(index, file, v); err != nil {
			return err
		}
	}
	return nil
}

// HwmonPath returns the card's monitor directory.
func (f *FakeTree) HwmonPath(index int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hwmons[index]
}

// DevicePath returns the card's device directory.
func (f *FakeTree) DevicePath(index int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[index]
}

// WriteHwmon writes raw content to a file in the card's monitor directory.
func (f *FakeTree) WriteHwmon(index int, file, content string) error {
	hw := f.HwmonPath(index)
	if hw == "" {
		return fmt.Errorf("card%d has no hwmon directory", index)
	}
	return writeValue(filepath.Join(hw, file), content)
}

// SetHwmon writes an integer to a file in the card's monitor directory.
func (f *FakeTree) SetHwmon(index int, file string, v int64) error {
	return f.WriteHwmon(index, file, strconv.FormatInt(v, 10))
}

// WriteDevice writes raw content to a file in the card's device directory.
func (f *FakeTree) WriteDevice(index int, file, content string) error {
	dev := f.DevicePath(index)
	if dev == "" {
		return fmt.Errorf("card%d does not exist", index)
	}
	return writeValue(filepath.Join(dev, file), content)
}

// SetDevice writes an integer to a file in the card's device directory.
func (f *FakeTree) SetDevice(index int, file string, v int64) error {
	return f.WriteDevice(index, file, strconv.FormatInt(v, 10))
}

// RemoveHwmon deletes a file from the card's monitor directory.
func (f *FakeTree) RemoveHwmon(index int, file string) error {
	return os.Remove(filepath.Join(f.HwmonPath(index), file))
}

// Jitter rewrites the dynamic values of a card populated by AddAMDCard with
// plausible random readings.
func (f *FakeTree) Jitter(index int, rng *rand.Rand) error {
	busy := rng.Int63n(100)
	hw := map[string]int64{
		"temp1_input":    40000 + busy*300 + rng.Int63n(2000),
		"temp2_input":    45000 + busy*450 + rng.Int63n(3000),
		"temp3_input":    55000 + busy*200 + rng.Int63n(2000),
		"freq1_input":    500_000_000 + busy*20_000_000,
		"in0_input":      700 + busy*3,
		"power1_average": 30_000_000 + busy*1_700_000,
		"fan1_input":     800 + busy*15 + rng.Int63n(50),
	}
	for file, v := range hw {
		if err := f.SetHwmon(index, file, v); err != nil {
			return err
		}
	}
	if err := f.SetDevice(index, "gpu_busy_percent", busy); err != nil {
		return err
	}
	return f.SetDevice(index, "mem_info_vram_used", 1_073_741_824+busy*100_000_000)
}

func writeValue(path, content string) error {
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
