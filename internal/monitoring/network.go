package monitoring

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/net"
)

// NetReading is the cumulative non-loopback byte count at an instant.
type NetReading struct {
	Bytes uint64
	At    time.Time
}

// NetRate returns throughput in KB/s between two readings. Counter resets
// and non-positive intervals yield 0.
func NetRate(prev, cur NetReading) float64 {
	elapsed := cur.At.Sub(prev.At).Seconds()
	if elapsed <= 0 || cur.Bytes < prev.Bytes {
		return 0
	}
	return float64(cur.Bytes-prev.Bytes) / elapsed / 1024
}

// LinkInfo is best-effort link metadata.
type LinkInfo struct {
	LANSpeed  string
	WiFiSpeed string
	WiFiType  string
	WiFiModel string
}

func isLoopback(name string) bool {
	lower := strings.ToLower(name)
	return lower == "lo" || strings.HasPrefix(lower, "lo0") || strings.Contains(lower, "loopback")
}

// sumCounters adds sent and received bytes over non-loopback interfaces.
func sumCounters(counters []net.IOCountersStat) uint64 {
	var total uint64
	for _, c := range counters {
		if isLoopback(c.Name) {
			continue
		}
		total += c.BytesSent + c.BytesRecv
	}
	return total
}

// formatLinkSpeed renders a rate given in Mbit/s, e.g. 1000 -> "1 Gbps".
func formatLinkSpeed(mbps float64) string {
	if mbps <= 0 {
		return NotConnected
	}
	return humanize.SI(mbps*1e6, "bps")
}

// wifiGeneration maps an 802.11 amendment or iw bitrate flag to a name.
func wifiGeneration(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "802.11be"), strings.Contains(s, "EHT"):
		return "Wi-Fi 7 (802.11be)"
	case strings.Contains(lower, "802.11ax"), strings.Contains(s, "HE-"):
		return "Wi-Fi 6 (802.11ax)"
	case strings.Contains(lower, "802.11ac"), strings.Contains(s, "VHT"):
		return "Wi-Fi 5 (802.11ac)"
	case strings.Contains(lower, "802.11n"), strings.Contains(s, "MCS"):
		return "Wi-Fi 4 (802.11n)"
	case strings.Contains(lower, "802.11g"):
		return "802.11g"
	case strings.Contains(lower, "802.11a"):
		return "802.11a"
	case strings.Contains(lower, "802.11b"):
		return "802.11b"
	default:
		return ""
	}
}

type networkSource struct {
	counters chain[NetReading]
	link     chain[LinkInfo]
	now      func() time.Time
}

func (s *networkSource) Counters(ctx context.Context) (NetReading, error) {
	reading, _, err := s.counters.run(ctx)
	return reading, err
}

func (s *networkSource) Link(ctx context.Context) LinkInfo {
	link, _, err := s.link.run(ctx)
	if err != nil {
		return NoLink()
	}
	return fillLink(link)
}

func fillLink(link LinkInfo) LinkInfo {
	link.LANSpeed = orSentinel(link.LANSpeed, NotConnected)
	link.WiFiSpeed = orSentinel(link.WiFiSpeed, NotConnected)
	link.WiFiType = orSentinel(link.WiFiType, Unknown)
	link.WiFiModel = orSentinel(link.WiFiModel, Unknown)
	return link
}

func (p *platform) newNetworkSource() *networkSource {
	s := &networkSource{now: time.Now}

	s.counters = newChain("network", p.timeout, p.logger,
		Probe[NetReading]{Name: "gopsutil-io-counters", Run: func(ctx context.Context) (NetReading, error) {
			counters, err := net.IOCountersWithContext(ctx, true)
			if err != nil {
				return NetReading{}, newProbeError("gopsutil-io-counters", ErrorCodeCommandFailed, "io counters unavailable", err)
			}
			return NetReading{Bytes: sumCounters(counters), At: s.now()}, nil
		}},
	)

	var links []Probe[LinkInfo]
	switch p.goos {
	case "linux":
		links = append(links, Probe[LinkInfo]{Name: "sysfs-net", Run: p.linuxLink})
	case "windows":
		links = append(links, Probe[LinkInfo]{Name: "netsh-wlan", Run: p.windowsLink})
	case "darwin":
		links = append(links, Probe[LinkInfo]{Name: "system-profiler-airport", Run: p.darwinLink})
	}
	s.link = newChain("network-link", p.timeout, p.logger, links...)
	return s
}

func (p *platform) linuxLink(ctx context.Context) (LinkInfo, error) {
	base := filepath.Join(p.sysRoot, "class", "net")
	entries, err := os.ReadDir(base)
	if err != nil {
		return LinkInfo{}, noDevice("sysfs-net", "no network class directory")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	link := NoLink()
	for _, name := range names {
		if isLoopback(name) {
			continue
		}
		dir := filepath.Join(base, name)
		if readSysfsString(filepath.Join(dir, "operstate")) != "up" {
			continue
		}

		if sysfsExists(filepath.Join(dir, "wireless")) || sysfsExists(filepath.Join(dir, "phy80211")) {
			if link.WiFiSpeed != NotConnected {
				continue
			}
			link.WiFiModel = orSentinel(readDriverName(filepath.Join(dir, "device")), Unknown)
			if out, err := p.run(ctx, "iw", "dev", name, "link"); err == nil {
				speed, kind := parseIWLink(out)
				link.WiFiSpeed = orSentinel(speed, NotConnected)
				link.WiFiType = orSentinel(kind, Unknown)
			}
			continue
		}

		// Virtual interfaces (bridges, veth) have no device link.
		if !sysfsExists(filepath.Join(dir, "device")) || link.LANSpeed != NotConnected {
			continue
		}
		if mbps := readSysfsInt64(filepath.Join(dir, "speed")); mbps > 0 {
			link.LANSpeed = formatLinkSpeed(float64(mbps))
		}
	}
	return link, nil
}

var iwBitrate = regexp.MustCompile(`tx bitrate:\s*([\d.]+)\s*MBit/s(.*)`)

// parseIWLink reads the transmit bitrate and PHY generation from
// `iw dev <if> link` output.
func parseIWLink(out []byte) (speed, kind string) {
	m := iwBitrate.FindSubmatch(out)
	if m == nil {
		return "", ""
	}
	return formatLinkSpeed(parseNumber(string(m[1]))), wifiGeneration(string(m[2]))
}

func (p *platform) windowsLink(ctx context.Context) (LinkInfo, error) {
	link := NoLink()

	if out, err := p.run(ctx, "netsh", "wlan", "show", "interfaces"); err == nil {
		wifi := parseNetshWLAN(out)
		link.WiFiSpeed, link.WiFiType, link.WiFiModel = wifi.WiFiSpeed, wifi.WiFiType, wifi.WiFiModel
	}

	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Get-NetAdapter -Physical | Where-Object { $_.Status -eq 'Up' -and $_.MediaType -eq '802.3' } | Select-Object -First 1 -ExpandProperty LinkSpeed")
	if err == nil {
		if lines := nonEmptyLines(out); len(lines) > 0 {
			link.LANSpeed = lines[0]
		}
	}
	return fillLink(link), nil
}

// parseNetshWLAN reads the connected adapter from
// `netsh wlan show interfaces`.
func parseNetshWLAN(out []byte) LinkInfo {
	link := NoLink()
	connected := false
	for _, line := range nonEmptyLines(out) {
		key, value, ok := keyValue(line)
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "state":
			connected = strings.EqualFold(value, "connected")
		case "description":
			link.WiFiModel = value
		case "radio type":
			link.WiFiType = orSentinel(wifiGeneration(value), Unknown)
		case "receive rate (mbps)":
			link.WiFiSpeed = formatLinkSpeed(parseNumber(value))
		}
	}
	if !connected {
		link.WiFiSpeed = NotConnected
	}
	return fillLink(link)
}

func (p *platform) darwinLink(ctx context.Context) (LinkInfo, error) {
	out, err := p.run(ctx, "system_profiler", "SPAirPortDataType")
	if err != nil {
		return LinkInfo{}, err
	}
	return parseAirPort(out), nil
}

// parseAirPort reads the current network section of
// `system_profiler SPAirPortDataType`.
func parseAirPort(out []byte) LinkInfo {
	link := NoLink()
	for _, line := range nonEmptyLines(out) {
		key, value, ok := keyValue(line)
		if !ok {
			continue
		}
		switch key {
		case "Card Type":
			if model, _, _ := strings.Cut(value, "("); strings.TrimSpace(model) != "" {
				link.WiFiModel = strings.TrimSpace(model)
			}
		case "PHY Mode":
			if link.WiFiType == Unknown {
				link.WiFiType = orSentinel(wifiGeneration(value), Unknown)
			}
		case "Transmit Rate":
			if link.WiFiSpeed == NotConnected {
				link.WiFiSpeed = formatLinkSpeed(parseNumber(value))
			}
		}
	}
	return link
}
