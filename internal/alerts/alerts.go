// Package alerts derives threshold warnings from a metric snapshot.
package alerts

import (
	"fmt"
	"strings"

	"hwpulse/internal/monitoring"
)

// Fixed thresholds. A value must exceed its threshold to alert.
const (
	CPUUsageThreshold = 90.0
	CPUTempThreshold  = 80.0
	RAMUsageThreshold = 90.0
	DiskUsedThreshold = 90.0
	GPUUsageThreshold = 90.0
	GPUTempThreshold  = 85.0
)

// Evaluate returns the alerts for snap in a fixed order: CPU usage, CPU
// temperature, RAM, each drive, SMART, GPU usage, GPU temperature. It keeps
// no state between calls, so a condition alerts on every cycle it holds.
func Evaluate(snap monitoring.Snapshot) []string {
	alerts := []string{}

	if snap.CPU.Percent > CPUUsageThreshold {
		alerts = append(alerts, fmt.Sprintf("High CPU Usage: %.1f%%", snap.CPU.Percent))
	}
	if snap.CPU.TemperatureC > CPUTempThreshold {
		alerts = append(alerts, fmt.Sprintf("High CPU Temperature: %.1f°C", snap.CPU.TemperatureC))
	}
	if snap.RAM.Percent > RAMUsageThreshold {
		alerts = append(alerts, fmt.Sprintf("High RAM Usage: %.1f%%", snap.RAM.Percent))
	}
	for _, drive := range snap.Disk.Drives {
		if drive.Percent > DiskUsedThreshold {
			alerts = append(alerts, fmt.Sprintf("Low Disk Space on %s: %.1f%% used", drive.Name, drive.Percent))
		}
	}
	if smartWarning(snap.Disk.SmartStatus) {
		alerts = append(alerts, "SMART Warning: "+snap.Disk.SmartStatus)
	}
	if snap.GPU.UsagePercent > GPUUsageThreshold {
		alerts = append(alerts, fmt.Sprintf("High GPU Usage: %.1f%%", snap.GPU.UsagePercent))
	}
	if snap.GPU.TemperatureC > GPUTempThreshold {
		alerts = append(alerts, fmt.Sprintf("High GPU Temperature: %.1f°C", snap.GPU.TemperatureC))
	}

	return alerts
}

func smartWarning(status string) bool {
	return strings.Contains(status, "Warning") || strings.Contains(status, "Unhealthy")
}
