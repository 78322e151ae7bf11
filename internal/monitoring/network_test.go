package monitoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetRate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	prev := NetReading{Bytes: 1_000_000, At: t0}

	assert.InDelta(t, 5.0, NetRate(prev, NetReading{Bytes: 1_000_000 + 10*1024, At: t0.Add(2 * time.Second)}), 1e-9)
	assert.Zero(t, NetRate(prev, NetReading{Bytes: 10, At: t0.Add(2 * time.Second)}), "counter reset")
	assert.Zero(t, NetRate(prev, NetReading{Bytes: 2_000_000, At: t0}), "no elapsed time")
}

func TestSumCountersSkipsLoopback(t *testing.T) {
	total := sumCounters([]net.IOCountersStat{
		{Name: "lo", BytesSent: 500, BytesRecv: 500},
		{Name: "eth0", BytesSent: 100, BytesRecv: 200},
		{Name: "wlan0", BytesSent: 10, BytesRecv: 20},
		{Name: "Loopback Pseudo-Interface 1", BytesSent: 7, BytesRecv: 7},
	})
	assert.Equal(t, uint64(330), total)
}

func TestFormatLinkSpeed(t *testing.T) {
	assert.Equal(t, "1 Gbps", formatLinkSpeed(1000))
	assert.Equal(t, "866.7 Mbps", formatLinkSpeed(866.7))
	assert.Equal(t, NotConnected, formatLinkSpeed(0))
	assert.Equal(t, NotConnected, formatLinkSpeed(-1))
}

func TestWiFiGeneration(t *testing.T) {
	cases := map[string]string{
		"802.11ax":                     "Wi-Fi 6 (802.11ax)",
		"802.11ac":                     "Wi-Fi 5 (802.11ac)",
		"802.11n":                      "Wi-Fi 4 (802.11n)",
		" VHT-MCS 9 80MHz VHT-NSS 2":   "Wi-Fi 5 (802.11ac)",
		" HE-MCS 11 HE-NSS 2 HE-GI 0":  "Wi-Fi 6 (802.11ax)",
		" EHT-MCS 13 EHT-NSS 2":        "Wi-Fi 7 (802.11be)",
		" MCS 15 40MHz short GI":       "Wi-Fi 4 (802.11n)",
		"":                             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, wifiGeneration(in), in)
	}
}

const iwLink = `Connected to aa:bb:cc:dd:ee:ff (on wlan0)
	SSID: home
	freq: 5180
	RX: 123456 bytes (789 packets)
	TX: 65432 bytes (321 packets)
	signal: -52 dBm
	rx bitrate: 780.0 MBit/s VHT-MCS 8 80MHz short GI VHT-NSS 2
	tx bitrate: 866.7 MBit/s VHT-MCS 9 80MHz short GI VHT-NSS 2
`

func TestParseIWLink(t *testing.T) {
	speed, kind := parseIWLink([]byte(iwLink))
	assert.Equal(t, "866.7 Mbps", speed)
	assert.Equal(t, "Wi-Fi 5 (802.11ac)", kind)

	speed, kind = parseIWLink([]byte("Not connected.\n"))
	assert.Empty(t, speed)
	assert.Empty(t, kind)
}

func TestLinuxLink(t *testing.T) {
	p := testPlatform(t, "linux", fakeCommands{"iw dev wlan0 link": ok(iwLink)})
	netDir := filepath.Join(p.sysRoot, "class", "net")

	writeFile(t, filepath.Join(netDir, "lo", "operstate"), "unknown\n")

	writeFile(t, filepath.Join(netDir, "docker0", "operstate"), "up\n")
	writeFile(t, filepath.Join(netDir, "docker0", "speed"), "10000\n")

	writeFile(t, filepath.Join(netDir, "eth0", "operstate"), "up\n")
	writeFile(t, filepath.Join(netDir, "eth0", "speed"), "1000\n")
	require.NoError(t, os.MkdirAll(filepath.Join(netDir, "eth0", "device"), 0755))

	writeFile(t, filepath.Join(netDir, "wlan0", "operstate"), "up\n")
	require.NoError(t, os.MkdirAll(filepath.Join(netDir, "wlan0", "wireless"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(netDir, "wlan0", "device"), 0755))
	require.NoError(t, os.Symlink("../../../bus/pci/drivers/iwlwifi", filepath.Join(netDir, "wlan0", "device", "driver")))

	link, err := p.linuxLink(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LinkInfo{
		LANSpeed:  "1 Gbps",
		WiFiSpeed: "866.7 Mbps",
		WiFiType:  "Wi-Fi 5 (802.11ac)",
		WiFiModel: "iwlwifi",
	}, link)
}

func TestLinuxLinkNothingConnected(t *testing.T) {
	p := testPlatform(t, "linux", nil)
	writeFile(t, filepath.Join(p.sysRoot, "class", "net", "eth0", "operstate"), "down\n")

	source := p.newNetworkSource()
	assert.Equal(t, NoLink(), source.Link(context.Background()))
}

func TestNetworkLinkSentinelsWhenProbeFails(t *testing.T) {
	source := testPlatform(t, "darwin", nil).newNetworkSource()
	assert.Equal(t, NoLink(), source.Link(context.Background()))
}

const netshConnected = `
There is 1 interface on the system:

    Name                   : Wi-Fi
    Description            : Intel(R) Wi-Fi 6 AX201 160MHz
    GUID                   : 3f1e2d3c-1111-2222-3333-444455556666
    Physical address       : aa:bb:cc:dd:ee:ff
    State                  : connected
    SSID                   : home
    Radio type             : 802.11ax
    Receive rate (Mbps)    : 1201
    Transmit rate (Mbps)   : 1201
    Signal                 : 92%
`

func TestParseNetshWLAN(t *testing.T) {
	link := parseNetshWLAN([]byte(netshConnected))
	assert.Equal(t, "1.201 Gbps", link.WiFiSpeed)
	assert.Equal(t, "Wi-Fi 6 (802.11ax)", link.WiFiType)
	assert.Equal(t, "Intel(R) Wi-Fi 6 AX201 160MHz", link.WiFiModel)
	assert.Equal(t, NotConnected, link.LANSpeed)

	disconnected := parseNetshWLAN([]byte("    State                  : disconnected\n    Receive rate (Mbps)    : 0\n"))
	assert.Equal(t, NotConnected, disconnected.WiFiSpeed)
}

func TestWindowsLink(t *testing.T) {
	p := testPlatform(t, "windows", fakeCommands{
		"netsh wlan show interfaces": ok(netshConnected),
		"powershell -NoProfile -NonInteractive -Command Get-NetAdapter -Physical | Where-Object { $_.Status -eq 'Up' -and $_.MediaType -eq '802.3' } | Select-Object -First 1 -ExpandProperty LinkSpeed": ok("2.5 Gbps\r\n"),
	})

	link, err := p.windowsLink(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.5 Gbps", link.LANSpeed)
	assert.Equal(t, "Wi-Fi 6 (802.11ax)", link.WiFiType)
}

func TestParseAirPort(t *testing.T) {
	out := `Wi-Fi:

      Software Versions:
          CoreWLAN: 16.0 (1657)
      Interfaces:
        en0:
          Card Type: Wi-Fi  (0x14E4, 0x4378)
          Firmware Version: wl0: Apr 12 2024
          Supported PHY Modes: 802.11 a/b/g/n/ac/ax
          Status: Connected
          Current Network Information:
            home:
              PHY Mode: 802.11ax
              Channel: 149 (5GHz, 80MHz)
              Transmit Rate: 1200
`
	link := parseAirPort([]byte(out))
	assert.Equal(t, "Wi-Fi", link.WiFiModel)
	assert.Equal(t, "Wi-Fi 6 (802.11ax)", link.WiFiType)
	assert.Equal(t, "1.2 Gbps", link.WiFiSpeed)
	assert.Equal(t, NotConnected, link.LANSpeed)
}
