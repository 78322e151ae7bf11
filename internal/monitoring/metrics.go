package monitoring

import (
	"math"
	"strings"
	"time"
)

// TimestampLayout is the local-time format used in the snapshot and history.
const TimestampLayout = "2006-01-02 15:04:05"

// Sentinel values written when a metric cannot be acquired.
const (
	Unknown         = "Unknown"
	NotConnected    = "Not Connected"
	NotAvailable    = "Not Available"
	DriveTypeSSD    = "SSD"
	DriveTypeHDD    = "HDD"
	GPUStatusActive = "Active"
)

// GPU status strings naming the tier that produced the reading.
const (
	GPUStatusSysfs        = "Active (sysfs)"
	GPUStatusPerfCounters = "Active (Perf Counters)"
	GPUStatusIOKit        = "Active (IOKit)"
	GPUStatusDetected     = "Detected (No Driver Stats)"
)

const bytesPerGB = 1024 * 1024 * 1024

// CPUMetrics holds processor load, temperature and model.
type CPUMetrics struct {
	Percent      float64 `json:"percent"`
	TemperatureC float64 `json:"temperature_c"`
	ModelName    string  `json:"cpu_model_name"`
}

// RAMMetrics holds physical memory figures in GB.
type RAMMetrics struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	Percent float64 `json:"percent"`
}

// Drive is one mounted fixed volume. Field names are capitalised in the
// published JSON.
type Drive struct {
	Name    string  `json:"Name"`
	Used    float64 `json:"Used"`
	Total   float64 `json:"Total"`
	Percent float64 `json:"Percent"`
	Type    string  `json:"Type"`
}

// DiskMetrics aggregates SMART health and per-volume usage.
type DiskMetrics struct {
	SmartStatus string  `json:"smart_status"`
	Drives      []Drive `json:"drives"`
}

// NetworkMetrics holds throughput and link metadata.
type NetworkMetrics struct {
	TotalKBSec float64 `json:"total_kb_sec"`
	LANSpeed   string  `json:"lan_speed"`
	WiFiSpeed  string  `json:"wifi_speed"`
	WiFiType   string  `json:"wifi_type"`
	WiFiModel  string  `json:"wifi_model"`
}

// GPUMetrics holds the primary GPU reading.
type GPUMetrics struct {
	Vendor          string  `json:"vendor"`
	Model           string  `json:"model"`
	UsagePercent    float64 `json:"usage_percent"`
	MemoryUsedGB    float64 `json:"memory_used_gb"`
	MemoryTotalGB   float64 `json:"memory_total_gb"`
	TemperatureC    float64 `json:"temperature_c"`
	PowerW          float64 `json:"power_w"`
	FanSpeedPercent float64 `json:"fan_speed_percent"`
	Status          string  `json:"status"`
}

// Snapshot is the complete metric document published once per cycle.
type Snapshot struct {
	Timestamp string         `json:"timestamp"`
	CPU       CPUMetrics     `json:"cpu"`
	RAM       RAMMetrics     `json:"ram"`
	Disk      DiskMetrics    `json:"disk"`
	Network   NetworkMetrics `json:"network"`
	GPU       GPUMetrics     `json:"gpu"`
	Alerts    []string       `json:"alerts"`
}

// NoGPU is the reading reported when every GPU probe fails.
func NoGPU() GPUMetrics {
	return GPUMetrics{
		Vendor: Unknown,
		Model:  Unknown,
		Status: NotAvailable,
	}
}

// NoLink is the link metadata reported when nothing is connected.
func NoLink() LinkInfo {
	return LinkInfo{
		LANSpeed:  NotConnected,
		WiFiSpeed: NotConnected,
		WiFiType:  Unknown,
		WiFiModel: Unknown,
	}
}

// Empty returns a snapshot with every field at its sentinel value.
func Empty() Snapshot {
	link := NoLink()
	return Snapshot{
		CPU:  CPUMetrics{ModelName: Unknown},
		Disk: DiskMetrics{SmartStatus: Unknown, Drives: []Drive{}},
		Network: NetworkMetrics{
			LANSpeed:  link.LANSpeed,
			WiFiSpeed: link.WiFiSpeed,
			WiFiType:  link.WiFiType,
			WiFiModel: link.WiFiModel,
		},
		GPU:    NoGPU(),
		Alerts: []string{},
	}
}

// Time parses the snapshot timestamp in local time.
func (s Snapshot) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s.Timestamp, time.Local)
}

// Normalize fills empty fields with sentinels, replaces nil slices, clamps
// out-of-range numbers and applies the published rounding. It is safe to
// call more than once.
func (s Snapshot) Normalize() Snapshot {
	s.CPU.Percent = round1(clampPercent(s.CPU.Percent))
	s.CPU.TemperatureC = round1(nonNegative(s.CPU.TemperatureC))
	s.CPU.ModelName = orSentinel(s.CPU.ModelName, Unknown)

	s.RAM.TotalGB = round2(nonNegative(s.RAM.TotalGB))
	s.RAM.UsedGB = round2(nonNegative(s.RAM.UsedGB))
	s.RAM.FreeGB = round2(nonNegative(s.RAM.FreeGB))
	s.RAM.Percent = round1(clampPercent(s.RAM.Percent))

	s.Disk.SmartStatus = orSentinel(s.Disk.SmartStatus, Unknown)
	drives := make([]Drive, 0, len(s.Disk.Drives))
	for _, d := range s.Disk.Drives {
		d.Name = orSentinel(d.Name, Unknown)
		d.Used = round2(nonNegative(d.Used))
		d.Total = round2(nonNegative(d.Total))
		d.Percent = round1(clampPercent(d.Percent))
		switch d.Type {
		case DriveTypeSSD, DriveTypeHDD:
		default:
			d.Type = Unknown
		}
		drives = append(drives, d)
	}
	s.Disk.Drives = drives

	s.Network.TotalKBSec = round1(nonNegative(s.Network.TotalKBSec))
	s.Network.LANSpeed = orSentinel(s.Network.LANSpeed, NotConnected)
	s.Network.WiFiSpeed = orSentinel(s.Network.WiFiSpeed, NotConnected)
	s.Network.WiFiType = orSentinel(s.Network.WiFiType, Unknown)
	s.Network.WiFiModel = orSentinel(s.Network.WiFiModel, Unknown)

	s.GPU.Vendor = orSentinel(s.GPU.Vendor, Unknown)
	s.GPU.Model = orSentinel(s.GPU.Model, Unknown)
	s.GPU.Status = orSentinel(s.GPU.Status, NotAvailable)
	s.GPU.UsagePercent = round1(clampPercent(s.GPU.UsagePercent))
	s.GPU.MemoryUsedGB = round2(nonNegative(s.GPU.MemoryUsedGB))
	s.GPU.MemoryTotalGB = round2(nonNegative(s.GPU.MemoryTotalGB))
	s.GPU.TemperatureC = round1(nonNegative(s.GPU.TemperatureC))
	s.GPU.PowerW = round1(nonNegative(s.GPU.PowerW))
	s.GPU.FanSpeedPercent = round1(clampPercent(s.GPU.FanSpeedPercent))

	if s.Alerts == nil {
		s.Alerts = []string{}
	}
	return s
}

// DiskTotals sums usage across all drives for the history projection.
func (d DiskMetrics) DiskTotals() (percent, usedGB, totalGB float64) {
	for _, drive := range d.Drives {
		usedGB += drive.Used
		totalGB += drive.Total
	}
	if totalGB > 0 {
		percent = usedGB / totalGB * 100
	}
	return round1(percent), round2(usedGB), round2(totalGB)
}

// RAMFromBytes derives the RAM figures from total and available bytes.
// Used is total minus available so that used + free equals total.
func RAMFromBytes(total, available uint64) RAMMetrics {
	if available > total {
		available = total
	}
	used := total - available

	ram := RAMMetrics{
		TotalGB: float64(total) / bytesPerGB,
		UsedGB:  float64(used) / bytesPerGB,
		FreeGB:  float64(available) / bytesPerGB,
	}
	if total > 0 {
		ram.Percent = float64(used) / float64(total) * 100
	}
	return ram
}

func orSentinel(value, sentinel string) string {
	if strings.TrimSpace(value) == "" {
		return sentinel
	}
	return value
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampPercent(v float64) float64 {
	v = nonNegative(v)
	if v > 100 {
		return 100
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
