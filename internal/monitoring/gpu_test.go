package monitoring

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNvidiaSMI(t *testing.T) {
	gpu, err := parseNvidiaSMI([]byte("NVIDIA GeForce RTX 3080, 45, 2048, 10240, 62, 220.50, 55\n"))
	require.NoError(t, err)

	assert.Equal(t, GPUMetrics{
		Vendor:          "NVIDIA",
		Model:           "NVIDIA GeForce RTX 3080",
		UsagePercent:    45,
		MemoryUsedGB:    2,
		MemoryTotalGB:   10,
		TemperatureC:    62,
		PowerW:          220.5,
		FanSpeedPercent: 55,
		Status:          GPUStatusActive,
	}, gpu)
}

func TestParseNvidiaSMIUnsupportedFields(t *testing.T) {
	gpu, err := parseNvidiaSMI([]byte("Tesla T4, 0, 0, 15360, 35, [N/A], [N/A]\nTesla T4, 99, 0, 15360, 35, 70, [N/A]\n"))
	require.NoError(t, err)

	assert.Equal(t, "Tesla T4", gpu.Model)
	assert.Zero(t, gpu.UsagePercent, "first GPU row wins")
	assert.Equal(t, 15.0, gpu.MemoryTotalGB)
	assert.Zero(t, gpu.PowerW)
	assert.Zero(t, gpu.FanSpeedPercent)
}

func TestParseNvidiaSMIMalformed(t *testing.T) {
	_, err := parseNvidiaSMI([]byte("NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver."))
	assert.ErrorIs(t, err, ErrParse)

	_, err = parseNvidiaSMI(nil)
	assert.ErrorIs(t, err, ErrNoDevice)
}

const rocmJSON = `{
  "card1": {"GPU use (%)": "3"},
  "card0": {
    "Card series": "Radeon RX 7900 XTX",
    "GPU use (%)": "37",
    "Temperature (Sensor edge) (C)": "54.0",
    "Temperature (Sensor junction) (C)": "61.0",
    "VRAM Total Memory (B)": "25753026560",
    "VRAM Total Used Memory (B)": "2147483648",
    "Average Graphics Package Power (W)": "88.0",
    "Fan speed (%)": "31"
  },
  "system": {"Driver version": "6.8.0"}
}`

func TestParseROCmSMI(t *testing.T) {
	gpu, err := parseROCmSMI([]byte(rocmJSON))
	require.NoError(t, err)

	assert.Equal(t, "AMD", gpu.Vendor)
	assert.Equal(t, "Radeon RX 7900 XTX", gpu.Model)
	assert.Equal(t, 37.0, gpu.UsagePercent)
	assert.Equal(t, 54.0, gpu.TemperatureC)
	assert.InDelta(t, 2.0, gpu.MemoryUsedGB, 1e-9)
	assert.InDelta(t, 23.98, gpu.MemoryTotalGB, 0.01)
	assert.Equal(t, 88.0, gpu.PowerW)
	assert.Equal(t, 31.0, gpu.FanSpeedPercent)
	assert.Equal(t, GPUStatusActive, gpu.Status)
}

func TestParseROCmSMIErrors(t *testing.T) {
	_, err := parseROCmSMI([]byte("ERROR: GPU[0] : Unable to read"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = parseROCmSMI([]byte(`{"system": {}}`))
	assert.ErrorIs(t, err, ErrNoDevice)
}

func writeAMDCard(t *testing.T, sysRoot string, withBusy bool) string {
	t.Helper()
	device := filepath.Join(sysRoot, "class", "drm", "card0", "device")
	writeFile(t, filepath.Join(device, "uevent"), "DRIVER=amdgpu\nPCI_ID=1002:744C\nPCI_SLOT_NAME=0000:03:00.0\n")
	writeFile(t, filepath.Join(device, "mem_info_vram_used"), strconv.FormatInt(2*bytesPerGB, 10))
	writeFile(t, filepath.Join(device, "mem_info_vram_total"), strconv.FormatInt(8*bytesPerGB, 10))
	writeFile(t, filepath.Join(device, "hwmon", "hwmon3", "temp1_input"), "54000\n")
	writeFile(t, filepath.Join(device, "hwmon", "hwmon3", "power1_average"), "45000000\n")
	writeFile(t, filepath.Join(device, "hwmon", "hwmon3", "pwm1"), "51\n")
	if withBusy {
		writeFile(t, filepath.Join(device, "gpu_busy_percent"), "37\n")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(sysRoot, "class", "drm", "card0-DP-1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(sysRoot, "class", "drm", "renderD128"), 0755))
	return device
}

func TestDRMSysfs(t *testing.T) {
	p := testPlatform(t, "linux", nil)
	writeAMDCard(t, p.sysRoot, true)

	gpu, err := p.drmSysfs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "AMD", gpu.Vendor)
	assert.Equal(t, "AMD GPU 0x744c", gpu.Model)
	assert.Equal(t, 37.0, gpu.UsagePercent)
	assert.Equal(t, 2.0, gpu.MemoryUsedGB)
	assert.Equal(t, 8.0, gpu.MemoryTotalGB)
	assert.Equal(t, 54.0, gpu.TemperatureC)
	assert.Equal(t, 45.0, gpu.PowerW)
	assert.Equal(t, 20.0, gpu.FanSpeedPercent)
	assert.Equal(t, GPUStatusSysfs, gpu.Status)
}

func TestDRMSysfsWithoutUtilisation(t *testing.T) {
	p := testPlatform(t, "linux", nil)
	writeAMDCard(t, p.sysRoot, false)

	gpu, err := p.drmSysfs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GPUStatusDetected, gpu.Status)
	assert.Zero(t, gpu.UsagePercent)
}

func TestDRMSysfsNoCards(t *testing.T) {
	p := testPlatform(t, "linux", nil)
	_, err := p.drmSysfs(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestGPUChainNoGPU(t *testing.T) {
	for _, goos := range []string{"linux", "windows", "darwin", "freebsd"} {
		gpu := testPlatform(t, goos, nil).newGPUSource().GPU(context.Background())

		assert.Equal(t, Unknown, gpu.Vendor, goos)
		assert.Equal(t, Unknown, gpu.Model, goos)
		assert.Equal(t, NotAvailable, gpu.Status, goos)
		assert.Zero(t, gpu.UsagePercent, goos)
		assert.Zero(t, gpu.MemoryTotalGB, goos)
		assert.Zero(t, gpu.TemperatureC, goos)
	}
}

func TestGPUChainPrefersNvidia(t *testing.T) {
	p := testPlatform(t, "linux", fakeCommands{
		"nvidia-smi " + nvidiaQuery + " --format=csv,noheader,nounits": ok("NVIDIA RTX A2000, 12, 512, 6144, 48, 30.1, 30\n"),
		"lspci": ok("01:00.0 VGA compatible controller: NVIDIA Corporation GA106 [RTX A2000] (rev a1)\n"),
	})
	writeAMDCard(t, p.sysRoot, true)

	gpu := p.newGPUSource().GPU(context.Background())
	assert.Equal(t, "NVIDIA RTX A2000", gpu.Model)
	assert.Equal(t, GPUStatusActive, gpu.Status)
}

func TestGPUChainFallsBackToLSPCI(t *testing.T) {
	p := testPlatform(t, "linux", fakeCommands{
		"lspci": ok("00:00.0 Host bridge: Intel Corporation Device 9b61 (rev 0c)\n00:02.0 VGA compatible controller: Intel Corporation UHD Graphics 620 (rev 07)\n"),
	})

	gpu := p.newGPUSource().GPU(context.Background())
	assert.Equal(t, "Intel", gpu.Vendor)
	assert.Equal(t, "Intel Corporation UHD Graphics 620", gpu.Model)
	assert.Equal(t, GPUStatusDetected, gpu.Status)
}

func TestParsePerfCounters(t *testing.T) {
	gpu, err := parsePerfCounters([]byte("12.5;1073741824\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 12.5, gpu.UsagePercent)
	assert.Equal(t, 1.0, gpu.MemoryUsedGB)
	assert.Equal(t, GPUStatusPerfCounters, gpu.Status)

	_, err = parsePerfCounters([]byte(";\r\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestWindowsGPUChain(t *testing.T) {
	p := testPlatform(t, "windows", fakeCommands{
		"powershell -NoProfile -NonInteractive -Command " + perfCounterScript: ok("23.4;2147483648\r\n"),
		"wmic path win32_VideoController get Name": ok("Name\r\nMicrosoft Basic Display Adapter\r\nAMD Radeon RX 6600\r\n"),
	})

	gpu := p.newGPUSource().GPU(context.Background())
	assert.Equal(t, "AMD", gpu.Vendor)
	assert.Equal(t, "AMD Radeon RX 6600", gpu.Model)
	assert.Equal(t, 23.4, gpu.UsagePercent)
	assert.Equal(t, GPUStatusPerfCounters, gpu.Status)
}

func TestParseWMICVideoControllers(t *testing.T) {
	_, err := parseWMICVideoControllers([]byte("Name\r\nMicrosoft Basic Display Adapter\r\n"))
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestParseIOReg(t *testing.T) {
	out := `+-o AGXAcceleratorG14X  <class AGXAcceleratorG14X, id 0x1000003c0, registered, matched, active, busy 0 (0 ms), retain 60>
    {
      "model" = "Apple M2 Pro"
      "PerformanceStatistics" = {"In use system memory (driver)"=0,"Alloc system memory"=1234567890,"Tiler Utilization %"=8,"Renderer Utilization %"=14,"Device Utilization %"=17,"In use system memory"=1073741824}
    }
`
	gpu, err := parseIOReg([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "Apple", gpu.Vendor)
	assert.Equal(t, "Apple M2 Pro", gpu.Model)
	assert.Equal(t, 17.0, gpu.UsagePercent)
	assert.Equal(t, 1.0, gpu.MemoryUsedGB)
	assert.Equal(t, GPUStatusIOKit, gpu.Status)

	_, err = parseIOReg([]byte("no accelerators"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseSPDisplays(t *testing.T) {
	out := `Graphics/Displays:

    AMD Radeon Pro 5500M:

      Chipset Model: AMD Radeon Pro 5500M
      Type: GPU
      Bus: PCIe
      VRAM (Total): 8 GB
      Vendor: AMD (0x1002)
`
	gpu, err := parseSPDisplays([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "AMD", gpu.Vendor)
	assert.Equal(t, "AMD Radeon Pro 5500M", gpu.Model)
	assert.Equal(t, 8.0, gpu.MemoryTotalGB)
	assert.Equal(t, GPUStatusDetected, gpu.Status)

	_, err = parseSPDisplays([]byte("Graphics/Displays:\n"))
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestVendorFromName(t *testing.T) {
	assert.Equal(t, "NVIDIA", vendorFromName("NVIDIA GeForce GTX 1080"))
	assert.Equal(t, "AMD", vendorFromName("Advanced Micro Devices, Inc. [AMD/ATI] Navi 23"))
	assert.Equal(t, "Intel", vendorFromName("Intel(R) UHD Graphics 630"))
	assert.Equal(t, "Apple", vendorFromName("Apple M1"))
	assert.Equal(t, Unknown, vendorFromName("Matrox G200eR2"))
}

func TestIsCardDevice(t *testing.T) {
	for _, name := range []string{"card0", "card12"} {
		assert.True(t, isCardDevice(name), name)
	}
	for _, name := range []string{"card", "card0-DP-1", "renderD128", "cardX"} {
		assert.False(t, isCardDevice(name), name)
	}
}
