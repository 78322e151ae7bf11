package monitoring

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

type memorySource struct {
	memory chain[RAMMetrics]
}

func (s *memorySource) Memory(ctx context.Context) (RAMMetrics, error) {
	ram, _, err := s.memory.run(ctx)
	return ram, err
}

func (p *platform) newMemorySource() *memorySource {
	return &memorySource{
		memory: newChain("memory", p.timeout, p.logger,
			Probe[RAMMetrics]{Name: "gopsutil-virtual-memory", Run: gopsutilMemory},
		),
	}
}

func gopsutilMemory(ctx context.Context) (RAMMetrics, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return RAMMetrics{}, newProbeError("gopsutil-virtual-memory", ErrorCodeCommandFailed, "virtual memory unavailable", err)
	}
	return RAMFromBytes(v.Total, v.Available), nil
}
