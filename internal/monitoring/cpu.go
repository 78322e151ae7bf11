package monitoring

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// CPUReading is a cumulative tick counter pair. Usage is derived from the
// difference between two readings.
type CPUReading struct {
	Busy  float64
	Total float64
}

// CPUPercent returns the busy share of the ticks elapsed between prev and
// cur. Counter resets and empty intervals yield 0.
func CPUPercent(prev, cur CPUReading) float64 {
	total := cur.Total - prev.Total
	busy := cur.Busy - prev.Busy
	if total <= 0 || busy < 0 {
		return 0
	}
	return clampPercent(busy / total * 100)
}

func readingFromTimes(t cpu.TimesStat) CPUReading {
	idle := t.Idle + t.Iowait
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	return CPUReading{Busy: total - idle, Total: total}
}

// cpuSource implements CPUSource over probe chains.
type cpuSource struct {
	reading     chain[CPUReading]
	temperature chain[float64]
	model       chain[string]

	mu          sync.Mutex
	cachedModel string
}

func (s *cpuSource) Reading(ctx context.Context) (CPUReading, error) {
	reading, _, err := s.reading.run(ctx)
	return reading, err
}

func (s *cpuSource) Temperature(ctx context.Context) float64 {
	temp, _, err := s.temperature.run(ctx)
	if err != nil {
		return 0
	}
	return temp
}

// Model is stable for the life of the process, so the first successful
// lookup is cached.
func (s *cpuSource) Model(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedModel != "" {
		return s.cachedModel
	}
	model, _, err := s.model.run(ctx)
	if err != nil || model == "" {
		return Unknown
	}
	s.cachedModel = model
	return model
}

func (p *platform) newCPUSource() *cpuSource {
	readings := []Probe[CPUReading]{
		{Name: "gopsutil-cpu-times", Run: gopsutilCPUTimes},
	}

	temps := []Probe[float64]{
		{Name: "gopsutil-sensors", Run: gopsutilSensorTemperature},
	}
	switch p.goos {
	case "linux":
		temps = append(temps, Probe[float64]{Name: "thermal-zone", Run: p.thermalZoneTemperature})
	case "windows":
		temps = append(temps, Probe[float64]{Name: "acpi-thermal-zone", Run: p.acpiTemperature})
	}

	models := []Probe[string]{
		{Name: "gopsutil-cpu-info", Run: gopsutilCPUModel},
	}
	switch p.goos {
	case "linux":
		models = append(models, Probe[string]{Name: "proc-cpuinfo", Run: p.procCPUModel})
	case "darwin":
		models = append(models, Probe[string]{Name: "sysctl", Run: p.sysctlCPUModel})
	case "windows":
		models = append(models, Probe[string]{Name: "wmic-cpu", Run: p.wmicCPUModel})
	}

	return &cpuSource{
		reading:     newChain("cpu", p.timeout, p.logger, readings...),
		temperature: newChain("cpu-temperature", p.timeout, p.logger, temps...),
		model:       newChain("cpu-model", p.timeout, p.logger, models...),
	}
}

func gopsutilCPUTimes(ctx context.Context) (CPUReading, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUReading{}, newProbeError("gopsutil-cpu-times", ErrorCodeCommandFailed, "cpu times unavailable", err)
	}
	if len(times) == 0 {
		return CPUReading{}, noDevice("gopsutil-cpu-times", "no cpu counters")
	}
	return readingFromTimes(times[0]), nil
}

// 패키지 단위 센서를 우선 선택
var cpuSensorKeys = []string{"package", "tctl", "tdie", "k10temp", "cpu"}

func plausibleTemperature(t float64) bool {
	return t > 0 && t < 125
}

// pickCPUTemperature prefers package-level sensors and otherwise returns
// the first plausible reading.
func pickCPUTemperature(temps []host.TemperatureStat) (float64, bool) {
	for _, key := range cpuSensorKeys {
		for _, t := range temps {
			if strings.Contains(strings.ToLower(t.SensorKey), key) && plausibleTemperature(t.Temperature) {
				return t.Temperature, true
			}
		}
	}
	for _, t := range temps {
		if plausibleTemperature(t.Temperature) {
			return t.Temperature, true
		}
	}
	return 0, false
}

func gopsutilSensorTemperature(ctx context.Context) (float64, error) {
	// Partial results come back alongside a warnings error.
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if len(temps) == 0 {
		if err != nil {
			return 0, newProbeError("gopsutil-sensors", ErrorCodeCommandFailed, "sensors unavailable", err)
		}
		return 0, noDevice("gopsutil-sensors", "no sensors reported")
	}
	t, ok := pickCPUTemperature(temps)
	if !ok {
		return 0, noDevice("gopsutil-sensors", "no plausible sensor")
	}
	return t, nil
}

func (p *platform) thermalZoneTemperature(ctx context.Context) (float64, error) {
	zones, _ := filepath.Glob(filepath.Join(p.sysRoot, "class", "thermal", "thermal_zone*"))
	sort.Strings(zones)

	var fallback float64
	for _, zone := range zones {
		millidegrees := readSysfsInt64(filepath.Join(zone, "temp"))
		t := float64(millidegrees) / 1000
		if !plausibleTemperature(t) {
			continue
		}
		kind := strings.ToLower(readSysfsString(filepath.Join(zone, "type")))
		if strings.Contains(kind, "x86_pkg") || strings.Contains(kind, "cpu") || strings.Contains(kind, "coretemp") {
			return t, nil
		}
		if fallback == 0 {
			fallback = t
		}
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, noDevice("thermal-zone", "no readable thermal zone")
}

func (p *platform) acpiTemperature(ctx context.Context) (float64, error) {
	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Get-CimInstance -Namespace root/wmi -ClassName MSAcpi_ThermalZoneTemperature | Select-Object -ExpandProperty CurrentTemperature")
	if err != nil {
		return 0, err
	}
	return parseACPITemperature(out)
}

// parseACPITemperature converts the first plausible ACPI reading, reported
// in tenths of a Kelvin, to Celsius.
func parseACPITemperature(out []byte) (float64, error) {
	for _, line := range nonEmptyLines(out) {
		t := parseNumber(line)/10 - 273.15
		if plausibleTemperature(t) {
			return t, nil
		}
	}
	return 0, parseError("acpi-thermal-zone", "no plausible temperature")
}

func gopsutilCPUModel(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", newProbeError("gopsutil-cpu-info", ErrorCodeCommandFailed, "cpu info unavailable", err)
	}
	if len(infos) == 0 || strings.TrimSpace(infos[0].ModelName) == "" {
		return "", noDevice("gopsutil-cpu-info", "empty model name")
	}
	return strings.TrimSpace(infos[0].ModelName), nil
}

func (p *platform) procCPUModel(ctx context.Context) (string, error) {
	model := readCPUModel(filepath.Join(p.procRoot, "cpuinfo"))
	if model == "" {
		return "", noDevice("proc-cpuinfo", "no model name line")
	}
	return model, nil
}

// readCPUModel extracts the first "model name" line from /proc/cpuinfo.
func readCPUModel(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := keyValue(scanner.Text())
		if ok && key == "model name" && value != "" {
			return value
		}
	}
	return ""
}

func (p *platform) sysctlCPUModel(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	if err != nil {
		return "", err
	}
	model := strings.TrimSpace(string(out))
	if model == "" {
		return "", parseError("sysctl", "empty brand string")
	}
	return model, nil
}

func (p *platform) wmicCPUModel(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "wmic", "cpu", "get", "Name")
	if err != nil {
		return "", err
	}
	values := wmicColumn(out, "Name")
	if len(values) == 0 {
		return "", parseError("wmic-cpu", "no Name column")
	}
	return values[0], nil
}

// wmicColumn returns the values below a single-column wmic header.
func wmicColumn(out []byte, header string) []string {
	var values []string
	for _, line := range nonEmptyLines(out) {
		if strings.EqualFold(line, header) {
			continue
		}
		values = append(values, line)
	}
	return values
}
