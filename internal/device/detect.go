package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Detector probes the host for accelerators. The zero value is not usable;
// construct with NewDetector or fill every field in tests.
type Detector struct {
	// ScanPCI lists PCI devices. Errors are treated as "no devices".
	ScanPCI func() ([]PCIDevice, error)
	// GOOS selects platform-specific backends such as Metal.
	GOOS string
	// CPUName returns a human readable CPU model.
	CPUName func(ctx context.Context) (string, error)
}

// NewDetector returns a Detector wired to sysfs and gopsutil.
func NewDetector() *Detector {
	return &Detector{
		ScanPCI: func() ([]PCIDevice, error) { return ScanPCI(SysfsPCIPath) },
		GOOS:    runtime.GOOS,
		CPUName: cpuName,
	}
}

func cpuName(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("no cpu info")
	}
	return strings.TrimSpace(infos[0].ModelName), nil
}

// Detect resolves spec into a device. "auto" (or empty) applies the
// preference order cuda > rocm > metal > vulkan > opencl and falls back to
// cpu; anything else is parsed as an explicit device and returned unchanged.
func (d *Detector) Detect(ctx context.Context, spec string) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if s != "" && s != Auto {
		return Parse(s)
	}
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	found := d.available(ctx)
	for _, k := range Preference {
		if devs := found[k]; len(devs) > 0 {
			return devs[0], nil
		}
	}
	dev := Device{Kind: CPU}
	if d.CPUName != nil {
		if name, err := d.CPUName(ctx); err == nil {
			dev.Name = name
		}
	}
	return dev, nil
}

// available groups every detected accelerator by kind, indexed in bus order.
func (d *Detector) available(ctx context.Context) map[Kind][]Device {
	found := map[Kind][]Device{}
	if d.ScanPCI != nil {
		if devs, err := d.ScanPCI(); err == nil {
			for _, p := range devs {
				k, ok := kindForPCI(p)
				if !ok {
					continue
				}
				found[k] = append(found[k], Device{
					Kind:  k,
					Index: len(found[k]),
					Name:  fmt.Sprintf("%s:%s @ %s", p.VendorID, p.DeviceID, p.Address),
				})
			}
		}
	}
	if d.GOOS == "darwin" {
		name := "Apple GPU"
		if d.CPUName != nil {
			if n, err := d.CPUName(ctx); err == nil && n != "" {
				name = n
			}
		}
		found[Metal] = append(found[Metal], Device{Kind: Metal, Name: name})
	}
	return found
}

// Detect probes the current host.
func Detect(ctx context.Context, spec string) (Device, error) {
	return NewDetector().Detect(ctx, spec)
}
