package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type driveHealth int

const (
	healthUnknown driveHealth = iota
	healthOK
	healthFailing
)

// smartSummary counts drives by SMART verdict.
type smartSummary struct {
	Healthy   int
	Unhealthy int
}

func (s *smartSummary) add(h driveHealth) {
	switch h {
	case healthOK:
		s.Healthy++
	case healthFailing:
		s.Unhealthy++
	}
}

func (s smartSummary) total() int {
	return s.Healthy + s.Unhealthy
}

func (s smartSummary) String() string {
	if s.Unhealthy > 0 {
		return fmt.Sprintf("Warning (%d Unhealthy)", s.Unhealthy)
	}
	return fmt.Sprintf("Healthy (%d Drives)", s.Healthy)
}

// smartUnknown renders the status reported when no SMART probe succeeded.
func smartUnknown(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Unknown (requires root)"
	case errors.Is(err, ErrTimeout):
		return "Unknown (timed out)"
	case errors.Is(err, ErrToolNotFound):
		return "Unknown (smartctl not installed)"
	default:
		return "Unknown (no SMART data)"
	}
}

// smartctlBudget returns a context that ends a fifth of the remaining probe
// budget early, so verdicts already collected are returned before the
// chain gives up on the probe.
func smartctlBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	margin := time.Until(deadline) / 5
	return context.WithDeadline(ctx, deadline.Add(-margin))
}

// smartctlHealth asks smartctl for each scanned device's verdict. Drives in
// standby are skipped rather than spun up (-n standby).
func (p *platform) smartctlHealth(ctx context.Context) (smartSummary, error) {
	ctx, cancel := smartctlBudget(ctx)
	defer cancel()

	out, err := p.run(ctx, "smartctl", "--scan")
	if err != nil {
		return smartSummary{}, err
	}
	devices := parseSmartctlScan(out)
	if len(devices) == 0 {
		return smartSummary{}, noDevice("smartctl", "scan found no devices")
	}

	var summary smartSummary
	denied, skipped := 0, 0
	for i, device := range devices {
		if ctx.Err() != nil {
			skipped = len(devices) - i
			break
		}
		args := append([]string{"-n", "standby", "-H"}, device...)
		out, err := p.run(ctx, "smartctl", args...)
		if errors.Is(err, ErrTimeout) {
			skipped = len(devices) - i
			break
		}
		health := parseSmartctlHealth(out)
		if health == healthUnknown && errors.Is(err, ErrPermissionDenied) {
			denied++
		}
		summary.add(health)
	}

	if skipped > 0 {
		p.logger.Debug("smartctl ran out of time", "checked", len(devices)-skipped, "skipped", skipped)
	}
	if summary.total() == 0 {
		switch {
		case denied > 0:
			return summary, newProbeError("smartctl", ErrorCodePermissionDenied, "permission denied", nil)
		case skipped > 0:
			return summary, newProbeError("smartctl", ErrorCodeTimeout, "timed out before any verdict", ctx.Err())
		}
		return summary, parseError("smartctl", "no health verdicts")
	}
	return summary, nil
}

// parseSmartctlScan returns the device arguments from each scan line, for
// example ["/dev/nvme0", "-d", "nvme"] from
// "/dev/nvme0 -d nvme # /dev/nvme0, NVMe device".
func parseSmartctlScan(out []byte) [][]string {
	var devices [][]string
	for _, line := range nonEmptyLines(out) {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		devices = append(devices, fields)
	}
	return devices
}

func parseSmartctlHealth(out []byte) driveHealth {
	text := string(out)
	switch {
	case strings.Contains(text, "FAILED"):
		return healthFailing
	case strings.Contains(text, "PASSED"), strings.Contains(text, "SMART Health Status: OK"):
		return healthOK
	default:
		return healthUnknown
	}
}

func (p *platform) wmicDiskHealth(ctx context.Context) (smartSummary, error) {
	out, err := p.run(ctx, "wmic", "diskdrive", "get", "Status")
	if err != nil {
		return smartSummary{}, err
	}
	return parseWMICDiskStatus(out)
}

func parseWMICDiskStatus(out []byte) (smartSummary, error) {
	var summary smartSummary
	for _, status := range wmicColumn(out, "Status") {
		switch strings.ToLower(status) {
		case "ok":
			summary.add(healthOK)
		case "unknown":
		default:
			summary.add(healthFailing)
		}
	}
	if summary.total() == 0 {
		return summary, noDevice("wmic-diskdrive", "no drive status")
	}
	return summary, nil
}

func (p *platform) diskutilHealth(ctx context.Context) (smartSummary, error) {
	out, err := p.run(ctx, "diskutil", "info", "-all")
	if err != nil {
		return smartSummary{}, err
	}
	return parseDiskutilSMART(out)
}

func parseDiskutilSMART(out []byte) (smartSummary, error) {
	var summary smartSummary
	for _, line := range nonEmptyLines(out) {
		key, value, ok := keyValue(line)
		if !ok || key != "SMART Status" {
			continue
		}
		switch strings.ToLower(value) {
		case "verified":
			summary.add(healthOK)
		case "failing":
			summary.add(healthFailing)
		}
	}
	if summary.total() == 0 {
		return summary, noDevice("diskutil-smart", "no SMART capable disks")
	}
	return summary, nil
}
