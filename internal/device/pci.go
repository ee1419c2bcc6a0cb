package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysfsPCIPath is where Linux exposes PCI devices.
const SysfsPCIPath = "/sys/bus/pci/devices"

const (
	vendorNVIDIA = "0x10de"
	vendorAMD    = "0x1002"
	vendorIntel  = "0x8086"

	// PCI base class 0x03 is "display controller".
	classDisplayPrefix = "0x03"
)

// PCIDevice is one entry of the PCI bus.
type PCIDevice struct {
	Address  string
	VendorID string
	DeviceID string
	Class    string
}

// IsDisplay reports whether the device is a GPU-like display controller.
func (p PCIDevice) IsDisplay() bool {
	return strings.HasPrefix(strings.ToLower(p.Class), classDisplayPrefix)
}

// ScanPCI reads every device below root (normally SysfsPCIPath).
// Devices whose vendor or device id cannot be read are skipped.
func ScanPCI(root string) ([]PCIDevice, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read PCI devices: %w", err)
	}
	var out []PCIDevice
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		vendor, err := readSysfs(filepath.Join(dir, "vendor"))
		if err != nil {
			continue
		}
		dev, err := readSysfs(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}
		class, _ := readSysfs(filepath.Join(dir, "class"))
		out = append(out, PCIDevice{
			Address:  e.Name(),
			VendorID: strings.ToLower(vendor),
			DeviceID: strings.ToLower(dev),
			Class:    strings.ToLower(class),
		})
	}
	return out, nil
}

func readSysfs(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// kindForPCI maps a display controller to the backend that drives it best.
func kindForPCI(p PCIDevice) (Kind, bool) {
	if !p.IsDisplay() {
		return "", false
	}
	switch p.VendorID {
	case vendorNVIDIA:
		return CUDA, true
	case vendorAMD:
		return ROCm, true
	case vendorIntel:
		return Vulkan, true
	default:
		return OpenCL, true
	}
}
