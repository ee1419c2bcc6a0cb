package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fixedPCI(devs ...PCIDevice) func() ([]PCIDevice, error) {
	return func() ([]PCIDevice, error) { return devs, nil }
}

func fixedCPU(name string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return name, nil }
}

func TestDetect_Preference(t *testing.T) {
	nvidia := PCIDevice{Address: "0000:01:00.0", VendorID: vendorNVIDIA, DeviceID: "0x2204", Class: "0x030000"}
	amd := PCIDevice{Address: "0000:02:00.0", VendorID: vendorAMD, DeviceID: "0x73bf", Class: "0x030000"}
	intel := PCIDevice{Address: "0000:00:02.0", VendorID: vendorIntel, DeviceID: "0x9a49", Class: "0x030000"}
	other := PCIDevice{Address: "0000:03:00.0", VendorID: "0x1ed5", DeviceID: "0x0100", Class: "0x038000"}
	nic := PCIDevice{Address: "0000:04:00.0", VendorID: vendorIntel, DeviceID: "0x1533", Class: "0x020000"}

	cases := []struct {
		name string
		goos string
		pci  []PCIDevice
		want Kind
	}{
		{"nvidia wins over everything", "linux", []PCIDevice{intel, amd, nvidia}, CUDA},
		{"amd over intel", "linux", []PCIDevice{intel, amd}, ROCm},
		{"metal on darwin", "darwin", nil, Metal},
		{"metal over vulkan", "darwin", []PCIDevice{intel}, Metal},
		{"intel gpu uses vulkan", "linux", []PCIDevice{intel}, Vulkan},
		{"unknown gpu uses opencl", "linux", []PCIDevice{other}, OpenCL},
		{"non display devices ignored", "linux", []PCIDevice{nic}, CPU},
		{"nothing falls back to cpu", "linux", nil, CPU},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &Detector{ScanPCI: fixedPCI(tc.pci...), GOOS: tc.goos, CPUName: fixedCPU("Test CPU")}
			got, err := d.Detect(context.Background(), Auto)
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if got.Kind != tc.want {
				t.Fatalf("got %s want %s", got.Kind, tc.want)
			}
		})
	}
}

func TestDetect_CPUFallbackCarriesName(t *testing.T) {
	d := &Detector{
		ScanPCI: func() ([]PCIDevice, error) { return nil, errors.New("no sysfs") },
		GOOS:    "linux",
		CPUName: fixedCPU("AMD EPYC 7763"),
	}
	got, err := d.Detect(context.Background(), "")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if got.String() != "cpu" || got.Name != "AMD EPYC 7763" {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestDetect_SecondGPUIndexed(t *testing.T) {
	a := PCIDevice{Address: "0000:01:00.0", VendorID: vendorNVIDIA, DeviceID: "0x2204", Class: "0x030000"}
	b := PCIDevice{Address: "0000:02:00.0", VendorID: vendorNVIDIA, DeviceID: "0x2204", Class: "0x030200"}
	d := &Detector{ScanPCI: fixedPCI(a, b), GOOS: "linux"}
	found := d.available(context.Background())
	if len(found[CUDA]) != 2 || found[CUDA][1].Index != 1 {
		t.Fatalf("unexpected cuda devices: %+v", found[CUDA])
	}
}

func TestDetect_ExplicitPassesThrough(t *testing.T) {
	d := &Detector{
		ScanPCI: func() ([]PCIDevice, error) {
			t.Fatalf("explicit device must not probe")
			return nil, nil
		},
	}
	got, err := d.Detect(context.Background(), "vulkan:2")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if got.String() != "vulkan:2" {
		t.Fatalf("got %s", got)
	}
	if _, err := d.Detect(context.Background(), "quantum"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDetect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Detector{ScanPCI: fixedPCI(), GOOS: "linux"}
	if _, err := d.Detect(ctx, Auto); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScanPCI_FakeSysfs(t *testing.T) {
	root := t.TempDir()
	mk := func(addr, vendor, dev, class string) {
		dir := filepath.Join(root, addr)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		files := map[string]string{"vendor": vendor, "device": dev, "class": class}
		for name, v := range files {
			if v == "" {
				continue
			}
			if err := os.WriteFile(filepath.Join(dir, name), []byte(v+"\n"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
	}
	mk("0000:01:00.0", "0x10DE", "0x2204", "0x030000")
	mk("0000:00:1f.0", "0x8086", "0x7a04", "0x060100")
	mk("0000:05:00.0", "0x1002", "", "0x030000") // unreadable device id

	devs, err := ScanPCI(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devs)
	}
	var gpu *PCIDevice
	for i := range devs {
		if devs[i].IsDisplay() {
			gpu = &devs[i]
		}
	}
	if gpu == nil || gpu.VendorID != vendorNVIDIA || gpu.Address != "0000:01:00.0" {
		t.Fatalf("gpu not found: %+v", devs)
	}
	if _, err := ScanPCI(filepath.Join(root, "missing")); err == nil {
		t.Fatalf("expected error for missing root")
	}
}
