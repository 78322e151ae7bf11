package monitoring

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type gpuSource struct {
	gpu chain[GPUMetrics]
}

// GPU returns the first usable reading, or NoGPU when every tier fails.
func (s *gpuSource) GPU(ctx context.Context) GPUMetrics {
	gpu, _, err := s.gpu.run(ctx)
	if err != nil {
		return NoGPU()
	}
	return gpu
}

func (p *platform) newGPUSource() *gpuSource {
	var probes []Probe[GPUMetrics]
	switch p.goos {
	case "linux":
		probes = []Probe[GPUMetrics]{
			{Name: "nvidia-smi", Run: p.nvidiaSMI},
			{Name: "rocm-smi", Run: p.rocmSMI},
			{Name: "drm-sysfs", Run: p.drmSysfs},
			{Name: "lspci", Run: p.lspciGPU},
		}
	case "windows":
		probes = []Probe[GPUMetrics]{
			{Name: "nvidia-smi", Run: p.nvidiaSMI},
			{Name: "gpu-perf-counters", Run: p.windowsPerfCounters},
			{Name: "wmic-video-controller", Run: p.wmicGPU},
		}
	case "darwin":
		probes = []Probe[GPUMetrics]{
			{Name: "ioreg", Run: p.ioregGPU},
			{Name: "system-profiler-displays", Run: p.systemProfilerGPU},
		}
	default:
		probes = []Probe[GPUMetrics]{
			{Name: "nvidia-smi", Run: p.nvidiaSMI},
		}
	}
	return &gpuSource{gpu: newChain("gpu", p.timeout, p.logger, probes...)}
}

const nvidiaQuery = "--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw,fan.speed"

func (p *platform) nvidiaSMI(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "nvidia-smi", nvidiaQuery, "--format=csv,noheader,nounits")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseNvidiaSMI(out)
}

// parseNvidiaSMI reads the first GPU row. Memory is reported in MiB;
// unsupported fields print as "[N/A]" and read as 0.
func parseNvidiaSMI(out []byte) (GPUMetrics, error) {
	lines := nonEmptyLines(out)
	if len(lines) == 0 {
		return GPUMetrics{}, noDevice("nvidia-smi", "no GPU rows")
	}

	fields := strings.Split(lines[0], ",")
	if len(fields) < 7 {
		return GPUMetrics{}, parseError("nvidia-smi", "unexpected nvidia-smi output format")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	return GPUMetrics{
		Vendor:          "NVIDIA",
		Model:           fields[0],
		UsagePercent:    parseNumber(fields[1]),
		MemoryUsedGB:    parseNumber(fields[2]) / 1024,
		MemoryTotalGB:   parseNumber(fields[3]) / 1024,
		TemperatureC:    parseNumber(fields[4]),
		PowerW:          parseNumber(fields[5]),
		FanSpeedPercent: parseNumber(fields[6]),
		Status:          GPUStatusActive,
	}, nil
}

func (p *platform) rocmSMI(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "rocm-smi", "--showproductname", "--showuse", "--showtemp",
		"--showmeminfo", "vram", "--showpower", "--showfan", "--json")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseROCmSMI(out)
}

// parseROCmSMI reads the lowest-numbered card from rocm-smi JSON output.
// Key names differ across ROCm releases, so fields are matched by
// substring.
func parseROCmSMI(out []byte) (GPUMetrics, error) {
	var cards map[string]map[string]any
	if err := json.Unmarshal(out, &cards); err != nil {
		return GPUMetrics{}, newProbeError("rocm-smi", ErrorCodeParse, "invalid json", err)
	}

	var names []string
	for name := range cards {
		if strings.HasPrefix(name, "card") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return GPUMetrics{}, noDevice("rocm-smi", "no cards reported")
	}
	sort.Strings(names)
	card := cards[names[0]]

	find := func(substrings ...string) string {
		keys := make([]string, 0, len(card))
		for k := range card {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, sub := range substrings {
			for _, k := range keys {
				if strings.Contains(strings.ToLower(k), sub) {
					if s, ok := card[k].(string); ok {
						return s
					}
				}
			}
		}
		return ""
	}

	gpu := GPUMetrics{
		Vendor:          "AMD",
		Model:           orSentinel(find("card series", "card model", "marketing name"), "AMD GPU"),
		UsagePercent:    parseNumber(find("gpu use")),
		MemoryUsedGB:    parseNumber(find("vram total used memory")) / bytesPerGB,
		MemoryTotalGB:   parseNumber(find("vram total memory")) / bytesPerGB,
		TemperatureC:    parseNumber(find("(sensor edge)", "(sensor junction)", "temperature")),
		PowerW:          parseNumber(find("graphics package power", "socket power")),
		FanSpeedPercent: parseNumber(find("fan speed (%)")),
		Status:          GPUStatusActive,
	}
	return gpu, nil
}

// drmSysfs reads amdgpu/i915/nouveau counters from /sys/class/drm. A card
// without gpu_busy_percent is still reported, as detected.
func (p *platform) drmSysfs(ctx context.Context) (GPUMetrics, error) {
	drmBase := filepath.Join(p.sysRoot, "class", "drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return GPUMetrics{}, noDevice("drm-sysfs", "no drm class directory")
	}

	var candidates []string
	for _, entry := range entries {
		if isCardDevice(entry.Name()) {
			candidates = append(candidates, filepath.Join(drmBase, entry.Name(), "device"))
		}
	}
	sort.Strings(candidates)

	// Prefer a card that exposes utilisation, then any with VRAM.
	best := ""
	for _, devicePath := range candidates {
		if sysfsExists(filepath.Join(devicePath, "gpu_busy_percent")) {
			best = devicePath
			break
		}
		if best == "" && sysfsExists(filepath.Join(devicePath, "uevent")) {
			best = devicePath
		}
	}
	if best == "" {
		return GPUMetrics{}, noDevice("drm-sysfs", "no drm cards")
	}
	return readDRMDevice(best), nil
}

func readDRMDevice(devicePath string) GPUMetrics {
	vendor, deviceID := parsePCIUevent(devicePath)
	if vendor == "" {
		vendor = pciVendorName(readSysfsString(filepath.Join(devicePath, "vendor")))
	}
	if vendor == "" {
		vendor = Unknown
	}

	model := readSysfsString(filepath.Join(devicePath, "product_name"))
	if model == "" {
		model = strings.TrimSpace(vendor + " GPU " + deviceID)
	}

	gpu := GPUMetrics{
		Vendor:        vendor,
		Model:         model,
		MemoryUsedGB:  float64(readSysfsInt64(filepath.Join(devicePath, "mem_info_vram_used"))) / bytesPerGB,
		MemoryTotalGB: float64(readSysfsInt64(filepath.Join(devicePath, "mem_info_vram_total"))) / bytesPerGB,
		Status:        GPUStatusDetected,
	}

	busyPath := filepath.Join(devicePath, "gpu_busy_percent")
	if busy := readSysfsString(busyPath); busy != "" {
		gpu.UsagePercent = parseNumber(busy)
		gpu.Status = GPUStatusSysfs
	}

	hwmons, _ := filepath.Glob(filepath.Join(devicePath, "hwmon", "hwmon*"))
	sort.Strings(hwmons)
	for _, hwmon := range hwmons {
		if gpu.TemperatureC == 0 {
			gpu.TemperatureC = float64(readSysfsInt64(filepath.Join(hwmon, "temp1_input"))) / 1000
		}
		if gpu.PowerW == 0 {
			microwatts := readSysfsInt64(filepath.Join(hwmon, "power1_average"))
			if microwatts == 0 {
				microwatts = readSysfsInt64(filepath.Join(hwmon, "power1_input"))
			}
			gpu.PowerW = float64(microwatts) / 1e6
		}
		if gpu.FanSpeedPercent == 0 {
			if pwm := readSysfsInt64(filepath.Join(hwmon, "pwm1")); pwm > 0 {
				gpu.FanSpeedPercent = float64(pwm) * 100 / 255
			}
		}
	}
	return gpu
}

const perfCounterScript = `$u = (Get-Counter '\GPU Engine(*engtype_3D)\Utilization Percentage' -ErrorAction SilentlyContinue).CounterSamples | Measure-Object -Property CookedValue -Sum; ` +
	`$m = (Get-Counter '\GPU Adapter Memory(*)\Dedicated Usage' -ErrorAction SilentlyContinue).CounterSamples | Measure-Object -Property CookedValue -Sum; ` +
	`Write-Output ("{0};{1}" -f $u.Sum, $m.Sum)`

func (p *platform) windowsPerfCounters(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", perfCounterScript)
	if err != nil {
		return GPUMetrics{}, err
	}
	gpu, err := parsePerfCounters(out)
	if err != nil {
		return GPUMetrics{}, err
	}

	// Counters carry no adapter name; borrow it from enumeration.
	if named, err := p.wmicGPU(ctx); err == nil {
		gpu.Vendor, gpu.Model = named.Vendor, named.Model
	}
	return gpu, nil
}

// parsePerfCounters reads "<utilisation sum>;<dedicated bytes sum>".
func parsePerfCounters(out []byte) (GPUMetrics, error) {
	lines := nonEmptyLines(out)
	if len(lines) == 0 {
		return GPUMetrics{}, parseError("gpu-perf-counters", "empty output")
	}
	usage, memory, ok := strings.Cut(lines[len(lines)-1], ";")
	if !ok || strings.TrimSpace(usage) == "" {
		return GPUMetrics{}, parseError("gpu-perf-counters", "no 3D engine counters")
	}
	return GPUMetrics{
		Vendor:       Unknown,
		Model:        Unknown,
		UsagePercent: parseNumber(usage),
		MemoryUsedGB: parseNumber(memory) / bytesPerGB,
		Status:       GPUStatusPerfCounters,
	}, nil
}

func (p *platform) wmicGPU(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "wmic", "path", "win32_VideoController", "get", "Name")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseWMICVideoControllers(out)
}

// parseWMICVideoControllers picks the first adapter that is not a
// Microsoft or virtual display driver.
func parseWMICVideoControllers(out []byte) (GPUMetrics, error) {
	for _, name := range wmicColumn(out, "Name") {
		if strings.Contains(name, "Microsoft") || strings.Contains(name, "Virtual") {
			continue
		}
		return detectedGPU(name), nil
	}
	return GPUMetrics{}, noDevice("wmic-video-controller", "no physical adapter")
}

var (
	ioregUtilization = regexp.MustCompile(`"Device Utilization %"\s*=\s*(\d+)`)
	ioregMemoryInUse = regexp.MustCompile(`"In use system memory"\s*=\s*(\d+)`)
	ioregModel       = regexp.MustCompile(`"model"\s*=\s*"([^"]+)"`)
)

func (p *platform) ioregGPU(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "ioreg", "-r", "-d", "1", "-w", "0", "-c", "IOAccelerator")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseIOReg(out)
}

// parseIOReg reads IOAccelerator PerformanceStatistics.
func parseIOReg(out []byte) (GPUMetrics, error) {
	m := ioregUtilization.FindSubmatch(out)
	if m == nil {
		return GPUMetrics{}, parseError("ioreg", "no PerformanceStatistics")
	}

	gpu := GPUMetrics{
		Vendor:       Unknown,
		Model:        Unknown,
		UsagePercent: parseNumber(string(m[1])),
		Status:       GPUStatusIOKit,
	}
	if mem := ioregMemoryInUse.FindSubmatch(out); mem != nil {
		gpu.MemoryUsedGB = parseNumber(string(mem[1])) / bytesPerGB
	}
	if model := ioregModel.FindSubmatch(out); model != nil {
		gpu.Model = string(model[1])
		gpu.Vendor = vendorFromName(gpu.Model)
	}
	return gpu, nil
}

func (p *platform) systemProfilerGPU(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "system_profiler", "SPDisplaysDataType")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseSPDisplays(out)
}

var vramGB = regexp.MustCompile(`(\d+)\s*GB`)

func parseSPDisplays(out []byte) (GPUMetrics, error) {
	var gpu GPUMetrics
	found := false
	for _, line := range nonEmptyLines(out) {
		key, value, ok := keyValue(line)
		if !ok {
			continue
		}
		switch {
		case key == "Chipset Model" && !found:
			gpu = detectedGPU(value)
			found = true
		case strings.HasPrefix(key, "VRAM") && found && gpu.MemoryTotalGB == 0:
			if m := vramGB.FindStringSubmatch(value); m != nil {
				gpu.MemoryTotalGB = parseNumber(m[1])
			}
		}
	}
	if !found {
		return GPUMetrics{}, noDevice("system-profiler-displays", "no Chipset Model")
	}
	return gpu, nil
}

func (p *platform) lspciGPU(ctx context.Context) (GPUMetrics, error) {
	out, err := p.run(ctx, "lspci")
	if err != nil {
		return GPUMetrics{}, err
	}
	return parseLSPCI(out)
}

var lspciRevision = regexp.MustCompile(`\s*\(rev [0-9a-fA-F]+\)$`)

// parseLSPCI returns the first display-class device, e.g.
// "00:02.0 VGA compatible controller: Intel Corporation UHD Graphics 620 (rev 07)".
func parseLSPCI(out []byte) (GPUMetrics, error) {
	for _, line := range nonEmptyLines(out) {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga compatible controller") &&
			!strings.Contains(lower, "3d controller") &&
			!strings.Contains(lower, "display controller") {
			continue
		}
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		return detectedGPU(lspciRevision.ReplaceAllString(strings.TrimSpace(parts[1]), "")), nil
	}
	return GPUMetrics{}, noDevice("lspci", "no display controller")
}

func detectedGPU(name string) GPUMetrics {
	return GPUMetrics{
		Vendor: vendorFromName(name),
		Model:  name,
		Status: GPUStatusDetected,
	}
}
