package monitoring

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/shirou/gopsutil/v3/disk"
)

// Filesystems that never represent a physical volume.
var pseudoFilesystems = map[string]bool{
	"autofs": true, "binfmt_misc": true, "bpf": true, "cgroup": true, "cgroup2": true,
	"configfs": true, "debugfs": true, "devfs": true, "devpts": true, "devtmpfs": true,
	"efivarfs": true, "fdescfs": true, "fusectl": true, "hugetlbfs": true, "mqueue": true,
	"nsfs": true, "nullfs": true, "overlay": true, "proc": true, "procfs": true,
	"pstore": true, "ramfs": true, "rpc_pipefs": true, "securityfs": true, "squashfs": true,
	"sysfs": true, "tmpfs": true, "tracefs": true,
}

// selectPartitions drops pseudo filesystems, loop devices and duplicate
// devices, keeping the first mountpoint seen for each device.
func selectPartitions(parts []disk.PartitionStat, goos string) []disk.PartitionStat {
	seen := make(map[string]bool)
	var selected []disk.PartitionStat

	for _, part := range parts {
		fstype := strings.ToLower(part.Fstype)
		if pseudoFilesystems[fstype] || strings.HasPrefix(fstype, "fuse.") {
			continue
		}
		if part.Device == "" || part.Device == "none" || strings.HasPrefix(part.Device, "/dev/loop") {
			continue
		}
		if goos == "darwin" && strings.HasPrefix(part.Mountpoint, "/System/Volumes/") && part.Mountpoint != "/System/Volumes/Data" {
			continue
		}
		if seen[part.Device] {
			continue
		}
		seen[part.Device] = true
		selected = append(selected, part)
	}
	return selected
}

type diskSource struct {
	drives chain[[]Drive]
	smart  chain[smartSummary]
}

func (s *diskSource) Drives(ctx context.Context) ([]Drive, error) {
	drives, _, err := s.drives.run(ctx)
	return drives, err
}

func (s *diskSource) SmartStatus(ctx context.Context) string {
	summary, _, err := s.smart.run(ctx)
	if err != nil {
		return smartUnknown(err)
	}
	return summary.String()
}

func (p *platform) newDiskSource() *diskSource {
	lister := &driveLister{p: p, types: make(map[string]string)}

	var smart []Probe[smartSummary]
	switch p.goos {
	case "windows":
		smart = append(smart,
			Probe[smartSummary]{Name: "smartctl", Run: p.smartctlHealth},
			Probe[smartSummary]{Name: "wmic-diskdrive", Run: p.wmicDiskHealth},
		)
	case "darwin":
		smart = append(smart,
			Probe[smartSummary]{Name: "smartctl", Run: p.smartctlHealth},
			Probe[smartSummary]{Name: "diskutil-smart", Run: p.diskutilHealth},
		)
	default:
		smart = append(smart, Probe[smartSummary]{Name: "smartctl", Run: p.smartctlHealth})
	}

	return &diskSource{
		drives: newChain("disk", p.timeout, p.logger,
			Probe[[]Drive]{Name: "gopsutil-partitions", Run: lister.list},
		),
		smart: newChain("smart", p.timeout, p.logger, smart...),
	}
}

// driveLister enumerates volumes and remembers each device's SSD/HDD class.
type driveLister struct {
	p *platform

	mu    sync.Mutex
	types map[string]string
}

func (l *driveLister) list(ctx context.Context) ([]Drive, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil && len(parts) == 0 {
		return nil, newProbeError("gopsutil-partitions", ErrorCodeCommandFailed, "partitions unavailable", err)
	}

	drives := make([]Drive, 0, len(parts))
	for _, part := range selectPartitions(parts, l.p.goos) {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil || usage.Total == 0 {
			l.p.logger.Debug("skipping volume", "mountpoint", part.Mountpoint, "error", err)
			continue
		}
		drives = append(drives, Drive{
			Name:    part.Mountpoint,
			Used:    float64(usage.Used) / bytesPerGB,
			Total:   float64(usage.Total) / bytesPerGB,
			Percent: usage.UsedPercent,
			Type:    l.driveType(ctx, part),
		})
	}
	return drives, nil
}

func (l *driveLister) driveType(ctx context.Context, part disk.PartitionStat) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.types[part.Device]; ok {
		return t
	}

	var t string
	switch l.p.goos {
	case "linux":
		t = l.p.rotationalType(part.Device)
	case "darwin":
		t = l.p.diskutilType(ctx, part.Device)
	case "windows":
		t = l.p.physicalDiskType(ctx, part.Mountpoint)
	}
	if t == "" {
		// Unresolved lookups are retried next cycle.
		return Unknown
	}
	l.types[part.Device] = t
	return t
}

// parentBlockDevice maps a partition name to its whole-disk name:
// sda1 -> sda, nvme0n1p2 -> nvme0n1, mmcblk0p1 -> mmcblk0.
func parentBlockDevice(name string) string {
	if i := strings.LastIndex(name, "p"); i > 0 && i < len(name)-1 && unicode.IsDigit(rune(name[i-1])) && allDigits(name[i+1:]) {
		return name[:i]
	}
	trimmed := strings.TrimRightFunc(name, unicode.IsDigit)
	if trimmed == "" {
		return name
	}
	return trimmed
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func (p *platform) rotationalType(device string) string {
	name := strings.TrimPrefix(device, "/dev/")
	candidates := []string{name, parentBlockDevice(name)}

	for _, candidate := range candidates {
		path := filepath.Join(p.sysRoot, "block", candidate, "queue", "rotational")
		switch readSysfsString(path) {
		case "0":
			return DriveTypeSSD
		case "1":
			return DriveTypeHDD
		}
	}
	return ""
}

func (p *platform) diskutilType(ctx context.Context, device string) string {
	out, err := p.run(ctx, "diskutil", "info", device)
	if err != nil {
		return ""
	}
	return parseDiskutilSolidState(out)
}

func parseDiskutilSolidState(out []byte) string {
	for _, line := range nonEmptyLines(out) {
		key, value, ok := keyValue(line)
		if !ok || key != "Solid State" {
			continue
		}
		switch strings.ToLower(value) {
		case "yes":
			return DriveTypeSSD
		case "no":
			return DriveTypeHDD
		}
	}
	return ""
}

func (p *platform) physicalDiskType(ctx context.Context, mountpoint string) string {
	letter := strings.TrimRight(mountpoint, `:\/`)
	if len(letter) != 1 {
		return ""
	}
	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"(Get-Partition -DriveLetter "+letter+" | Get-Disk | Get-PhysicalDisk).MediaType")
	if err != nil {
		return ""
	}
	return parseMediaType(out)
}

func parseMediaType(out []byte) string {
	for _, line := range nonEmptyLines(out) {
		switch strings.ToUpper(line) {
		case "SSD":
			return DriveTypeSSD
		case "HDD":
			return DriveTypeHDD
		}
	}
	return ""
}
