package monitoring

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"time"
)

// CPUSource reads processor counters, temperature and model.
type CPUSource interface {
	Reading(ctx context.Context) (CPUReading, error)
	Temperature(ctx context.Context) float64
	Model(ctx context.Context) string
}

// MemorySource reads physical memory usage.
type MemorySource interface {
	Memory(ctx context.Context) (RAMMetrics, error)
}

// DiskSource lists fixed volumes and aggregates SMART health.
type DiskSource interface {
	Drives(ctx context.Context) ([]Drive, error)
	SmartStatus(ctx context.Context) string
}

// NetworkSource reads byte counters and link metadata.
type NetworkSource interface {
	Counters(ctx context.Context) (NetReading, error)
	Link(ctx context.Context) LinkInfo
}

// GPUSource reads the primary GPU.
type GPUSource interface {
	GPU(ctx context.Context) GPUMetrics
}

// Host is the capability set the collector samples from.
type Host struct {
	CPU     CPUSource
	Memory  MemorySource
	Disk    DiskSource
	Network NetworkSource
	GPU     GPUSource
}

// Options configures NewHost.
type Options struct {
	// Timeout bounds every individual probe.
	Timeout time.Duration
	Logger  *slog.Logger
}

// platform carries what the per-OS probes need. Roots and the command
// runner are fields so tests can point them at synthetic trees.
type platform struct {
	goos     string
	sysRoot  string
	procRoot string
	run      commandRunner
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHost assembles the probe chains for the running operating system.
func NewHost(opts Options) Host {
	return newHost(&platform{
		goos:     runtime.GOOS,
		sysRoot:  "/sys",
		procRoot: "/proc",
		run:      runCommand,
		timeout:  opts.Timeout,
		logger:   loggerOrDiscard(opts.Logger),
	})
}

func newHost(p *platform) Host {
	cpu := p.newCPUSource()
	memory := p.newMemorySource()
	disk := p.newDiskSource()
	network := p.newNetworkSource()
	gpu := p.newGPUSource()

	p.logger.Info("platform sources selected",
		"os", p.goos,
		"cpu_temperature", cpu.temperature.names(),
		"cpu_model", cpu.model.names(),
		"smart", disk.smart.names(),
		"network_link", network.link.names(),
		"gpu", gpu.gpu.names(),
		"probe_timeout", p.timeout)

	return Host{
		CPU:     cpu,
		Memory:  memory,
		Disk:    disk,
		Network: network,
		GPU:     gpu,
	}
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
