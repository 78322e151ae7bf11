package monitoring

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readSysfsString reads a single-line sysfs file and returns its trimmed
// content. Returns "" on any error.
func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readSysfsInt64 reads an integer from a sysfs file. Returns 0 on error.
func readSysfsInt64(path string) int64 {
	value := readSysfsString(path)
	if value == "" {
		return 0
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func sysfsExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// isCardDevice returns true for DRM card device names (card0, card1, ...)
// but not connectors (card0-DP-1) or render nodes (renderD128).
func isCardDevice(name string) bool {
	index, ok := strings.CutPrefix(name, "card")
	return ok && index != "" && strings.Trim(index, "0123456789") == ""
}

// readDriverName returns the kernel driver bound to a device by reading
// the basename of its "driver" symlink.
func readDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// parsePCIUevent extracts vendor name and device ID from the device's
// uevent file, which contains lines like:
//
//	PCI_ID=1002:744A
//	PCI_SLOT_NAME=0000:c3:00.0
func parsePCIUevent(devicePath string) (vendor, deviceID string) {
	data, err := os.ReadFile(filepath.Join(devicePath, "uevent"))
	if err != nil {
		return "", ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key != "PCI_ID" {
			continue
		}
		ids := strings.SplitN(value, ":", 2)
		if len(ids) == 2 {
			vendor = pciVendorName(strings.ToLower(ids[0]))
			deviceID = "0x" + strings.ToLower(ids[1])
		}
	}
	return vendor, deviceID
}

// pciVendorName maps a PCI vendor ID to a human-readable name.
func pciVendorName(vendorID string) string {
	switch strings.TrimPrefix(vendorID, "0x") {
	case "1002":
		return "AMD"
	case "10de":
		return "NVIDIA"
	case "8086":
		return "Intel"
	default:
		return ""
	}
}

// vendorFromName guesses the GPU vendor from a marketing name.
func vendorFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "nvidia"), strings.Contains(lower, "geforce"),
		strings.Contains(lower, "quadro"), strings.Contains(lower, "tesla"):
		return "NVIDIA"
	case strings.Contains(lower, "amd"), strings.Contains(lower, "radeon"),
		strings.Contains(lower, "ati "):
		return "AMD"
	case strings.Contains(lower, "intel"):
		return "Intel"
	case strings.Contains(lower, "apple"):
		return "Apple"
	default:
		return Unknown
	}
}
