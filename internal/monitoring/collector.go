package monitoring

import (
	"context"
	"log/slog"
	"time"
)

// State carries the counters from the previous cycle that delta-based
// metrics need. The zero value means "no previous cycle".
type State struct {
	CPU *CPUReading
	Net *NetReading
}

// Collector turns one pass over the host sources into a normalized
// snapshot. It never fails: unavailable metrics keep their sentinels.
type Collector struct {
	host   Host
	logger *slog.Logger
	now    func() time.Time
}

// NewCollector samples host, logging per-family failures to logger.
func NewCollector(host Host, logger *slog.Logger) *Collector {
	return &Collector{
		host:   host,
		logger: loggerOrDiscard(logger),
		now:    time.Now,
	}
}

// Sample reads every metric family once. Alerts are left empty for the
// caller to evaluate.
func (c *Collector) Sample(ctx context.Context, prev State) (Snapshot, State) {
	snap := Empty()
	snap.Timestamp = c.now().Format(TimestampLayout)
	next := prev

	if src := c.host.CPU; src != nil {
		if reading, err := src.Reading(ctx); err == nil {
			if prev.CPU != nil {
				snap.CPU.Percent = CPUPercent(*prev.CPU, reading)
			}
			next.CPU = &reading
		} else {
			c.logger.Debug("cpu counters unavailable", "error", err)
		}
		snap.CPU.TemperatureC = src.Temperature(ctx)
		snap.CPU.ModelName = src.Model(ctx)
	}

	if src := c.host.Memory; src != nil {
		if ram, err := src.Memory(ctx); err == nil {
			snap.RAM = ram
		} else {
			c.logger.Debug("memory unavailable", "error", err)
		}
	}

	if src := c.host.Disk; src != nil {
		if drives, err := src.Drives(ctx); err == nil {
			snap.Disk.Drives = drives
		} else {
			c.logger.Debug("volumes unavailable", "error", err)
		}
		snap.Disk.SmartStatus = src.SmartStatus(ctx)
	}

	if src := c.host.Network; src != nil {
		if reading, err := src.Counters(ctx); err == nil {
			if prev.Net != nil {
				snap.Network.TotalKBSec = NetRate(*prev.Net, reading)
			}
			next.Net = &reading
		} else {
			c.logger.Debug("network counters unavailable", "error", err)
		}
		link := src.Link(ctx)
		snap.Network.LANSpeed = link.LANSpeed
		snap.Network.WiFiSpeed = link.WiFiSpeed
		snap.Network.WiFiType = link.WiFiType
		snap.Network.WiFiModel = link.WiFiModel
	}

	if src := c.host.GPU; src != nil {
		snap.GPU = src.GPU(ctx)
	}

	return snap.Normalize(), next
}
