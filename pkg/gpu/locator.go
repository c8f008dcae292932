package gpu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultRoot is the DRM class directory.
	DefaultRoot = "/sys/class/drm"

	// DefaultDriver is the kernel driver whose cards are monitored.
	DefaultDriver = "amdgpu"
)

var (
	cardPattern  = regexp.MustCompile(`^card(\d+)$`)
	hwmonPattern = regexp.MustCompile(`^hwmon(\d+)$`)
)

var vendorNames = map[string]string{
	"0x1002": "AMD",
	"0x10de": "NVIDIA",
	"0x8086": "Intel",
}

// Locator discovers cards under a DRM class directory.
type Locator struct {
	root   string
	driver string
	logger *slog.Logger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithRoot overrides the DRM class directory. Tests point this at a FakeTree.
func WithRoot(root string) LocatorOption {
	return func(l *Locator) { l.root = root }
}

// WithDriver overrides the driver name cards must be bound to.
func WithDriver(driver string) LocatorOption {
	return func(l *Locator) { l.driver = driver }
}

// WithLogger sets the logger used for discovery diagnostics.
func WithLogger(logger *slog.Logger) LocatorOption {
	return func(l *Locator) { l.logger = logger }
}

// NewLocator creates a Locator for /sys/class/drm and the amdgpu driver.
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		root:   DefaultRoot,
		driver: DefaultDriver,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Root returns the DRM class directory being scanned.
func (l *Locator) Root() string {
	return l.root
}

// Driver returns the driver name cards are matched against.
func (l *Locator) Driver() string {
	return l.driver
}

// DiscoverDevices returns every card bound to the driver, ordered by card
// number. Cards without a hardware-monitor directory are included with an
// empty HwmonPath.
func (l *Locator) DiscoverDevices(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NoDeviceFoundError{Driver: l.driver}
		}
		return nil, fmt.Errorf("reading %s: %w", l.root, err)
	}

	type card struct {
		num  int
		name string
	}
	var cards []card
	for _, e := range entries {
		m := cardPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		cards = append(cards, card{num: n, name: e.Name()})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].num < cards[j].num })

	var devices []Device
	for _, c := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, ok := l.inspect(c.name)
		if !ok {
			continue
		}
		devices = append(devices, dev)
	}

	if len(devices) == 0 {
		return nil, &NoDeviceFoundError{Driver: l.driver}
	}

	l.logger.Debug("discovered devices",
		slog.Int("count", len(devices)),
		slog.String("root", l.root),
		slog.String("kernel", KernelRelease()),
	)
	return devices, nil
}

// SelectDevice returns the device with the given card name or PCI slot.
// An empty id selects the first device that has a hardware monitor.
func (l *Locator) SelectDevice(ctx context.Context, id string) (Device, error) {
	devices, err := l.DiscoverDevices(ctx)
	if err != nil {
		var nd *NoDeviceFoundError
		if errors.As(err, &nd) {
			nd.ID = id
		}
		return Device{}, err
	}

	if id == "" {
		for _, d := range devices {
			if d.Monitored() {
				return d, nil
			}
		}
		return Device{}, &MonitorUnavailableError{DeviceID: devices[0].ID, Path: devices[0].DevicePath}
	}

	for _, d := range devices {
		if d.ID != id && (d.PCISlot == "" || d.PCISlot != id) {
			continue
		}
		if !d.Monitored() {
			return Device{}, &MonitorUnavailableError{DeviceID: d.ID, Path: d.DevicePath}
		}
		return d, nil
	}

	return Device{}, &NoDeviceFoundError{Driver: l.driver, ID: id}
}

// inspect reports whether the named card belongs to the driver and, if so,
// resolves its directories.
func (l *Locator) inspect(name string) (Device, bool) {
	cardPath := filepath.Join(l.root, name)
	devPath := filepath.Join(cardPath, "device")

	driver := ""
	if target, err := os.Readlink(filepath.Join(devPath, "driver")); err == nil {
		driver = filepath.Base(target)
	}

	hwmons := listHwmon(devPath)
	hwmon := ""
	for _, h := range hwmons {
		if readTrimmed(filepath.Join(h, "name")) == l.driver {
			hwmon = h
			break
		}
	}

	// The hwmon name identifies the card only when the driver link is unreadable.
	switch {
	case driver == "" && hwmon == "":
		return Device{}, false
	case driver == "":
		driver = l.driver
	case driver != l.driver:
		return Device{}, false
	}
	if hwmon == "" && len(hwmons) > 0 {
		hwmon = hwmons[0]
	}

	dev := Device{
		ID:         name,
		Driver:     driver,
		Path:       cardPath,
		DevicePath: devPath,
		HwmonPath:  hwmon,
		Product:    readTrimmed(filepath.Join(devPath, "product_name")),
	}
	if target, err := os.Readlink(devPath); err == nil {
		dev.PCISlot = filepath.Base(target)
	}
	if vendor := readTrimmed(filepath.Join(devPath, "vendor")); vendor != "" {
		dev.Vendor = vendor
		if known, ok := vendorNames[strings.ToLower(vendor)]; ok {
			dev.Vendor = known
		}
	}

	l.logger.Debug("found device",
		slog.String("card", dev.ID),
		slog.String("hwmon", dev.HwmonPath),
		slog.String("pci_slot", dev.PCISlot),
	)
	return dev, true
}

// listHwmon returns the hwmonN children of a device directory in numeric order.
func listHwmon(devPath string) []string {
	entries, err := os.ReadDir(filepath.Join(devPath, "hwmon"))
	if err != nil {
		return nil
	}

	type hw struct {
		num  int
		path string
	}
	var found []hw
	for _, e := range entries {
		m := hwmonPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		found = append(found, hw{num: n, path: filepath.Join(devPath, "hwmon", e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].num < found[j].num })

	paths := make([]string, len(found))
	for i, h := range found {
		paths[i] = h.path
	}
	return paths
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
