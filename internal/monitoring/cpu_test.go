package monitoring

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercent(t *testing.T) {
	prev := CPUReading{Busy: 100, Total: 1000}

	assert.InDelta(t, 95.0, CPUPercent(prev, CPUReading{Busy: 195, Total: 1100}), 1e-9)
	assert.InDelta(t, 0.0, CPUPercent(prev, CPUReading{Busy: 100, Total: 1100}), 1e-9)
	assert.Zero(t, CPUPercent(prev, prev), "no elapsed ticks")
	assert.Zero(t, CPUPercent(prev, CPUReading{Busy: 10, Total: 50}), "counter reset")
	assert.Zero(t, CPUPercent(prev, CPUReading{Busy: 90, Total: 1100}), "negative busy delta")
}

func TestReadingFromTimes(t *testing.T) {
	reading := readingFromTimes(cpu.TimesStat{User: 10, System: 5, Idle: 80, Iowait: 5})
	assert.Equal(t, CPUReading{Busy: 15, Total: 100}, reading)
}

func TestPickCPUTemperature(t *testing.T) {
	temp, found := pickCPUTemperature([]host.TemperatureStat{
		{SensorKey: "nvme_composite", Temperature: 40},
		{SensorKey: "coretemp_package_id_0", Temperature: 55},
	})
	assert.True(t, found)
	assert.Equal(t, 55.0, temp)

	temp, found = pickCPUTemperature([]host.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 0},
		{SensorKey: "nvme_composite", Temperature: 38},
	})
	assert.True(t, found, "falls back to first plausible sensor")
	assert.Equal(t, 38.0, temp)

	_, found = pickCPUTemperature([]host.TemperatureStat{{SensorKey: "k10temp_tctl", Temperature: 200}})
	assert.False(t, found)
}

func TestThermalZoneTemperature(t *testing.T) {
	p := testPlatform(t, "linux", nil)
	zones := filepath.Join(p.sysRoot, "class", "thermal")
	writeFile(t, filepath.Join(zones, "thermal_zone0", "type"), "acpitz\n")
	writeFile(t, filepath.Join(zones, "thermal_zone0", "temp"), "45000\n")
	writeFile(t, filepath.Join(zones, "thermal_zone1", "type"), "x86_pkg_temp\n")
	writeFile(t, filepath.Join(zones, "thermal_zone1", "temp"), "61000\n")

	temp, err := p.thermalZoneTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 61.0, temp)
}

func TestThermalZoneFallbackAndMissing(t *testing.T) {
	p := testPlatform(t, "linux", nil)

	_, err := p.thermalZoneTemperature(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)

	writeFile(t, filepath.Join(p.sysRoot, "class", "thermal", "thermal_zone0", "type"), "acpitz\n")
	writeFile(t, filepath.Join(p.sysRoot, "class", "thermal", "thermal_zone0", "temp"), "47500\n")

	temp, err := p.thermalZoneTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 47.5, temp)
}

func TestParseACPITemperature(t *testing.T) {
	temp, err := parseACPITemperature([]byte("0\r\n3132\r\n"))
	require.NoError(t, err)
	assert.InDelta(t, 40.05, temp, 1e-9)

	_, err = parseACPITemperature([]byte("\r\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestReadCPUModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	writeFile(t, path, "processor\t: 0\nvendor_id\t: AuthenticAMD\nmodel name\t: AMD Ryzen 7 5800X 8-Core Processor\n")

	assert.Equal(t, "AMD Ryzen 7 5800X 8-Core Processor", readCPUModel(path))
	assert.Empty(t, readCPUModel(filepath.Join(t.TempDir(), "missing")))
}

func TestPlatformCPUModelProbes(t *testing.T) {
	windows := testPlatform(t, "windows", fakeCommands{
		"wmic cpu get Name": ok("Name  \r\nIntel(R) Core(TM) i7-8700 CPU @ 3.20GHz  \r\n\r\n"),
	})
	model, err := windows.wmicCPUModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz", model)

	darwin := testPlatform(t, "darwin", fakeCommands{
		"sysctl -n machdep.cpu.brand_string": ok("Apple M2 Pro\n"),
	})
	model, err = darwin.sysctlCPUModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Apple M2 Pro", model)

	_, err = testPlatform(t, "darwin", nil).sysctlCPUModel(context.Background())
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestCPUModelIsCached(t *testing.T) {
	var calls atomic.Int32
	source := &cpuSource{
		model: newChain("cpu-model", time.Second, discardLogger(),
			Probe[string]{Name: "counting", Run: func(ctx context.Context) (string, error) {
				calls.Add(1)
				return "Test CPU", nil
			}},
		),
	}

	assert.Equal(t, "Test CPU", source.Model(context.Background()))
	assert.Equal(t, "Test CPU", source.Model(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCPUModelUnknownWhenEveryProbeFails(t *testing.T) {
	source := &cpuSource{
		model: newChain[string]("cpu-model", time.Second, discardLogger()),
	}
	assert.Equal(t, Unknown, source.Model(context.Background()))
}

func TestCPUTemperatureZeroWhenUnavailable(t *testing.T) {
	source := &cpuSource{
		temperature: newChain("cpu-temperature", time.Second, discardLogger(),
			Probe[float64]{Name: "none", Run: func(ctx context.Context) (float64, error) {
				return 0, noDevice("none", "no sensors")
			}},
		),
	}
	assert.Zero(t, source.Temperature(context.Background()))
}
