package monitoring

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/spf13/cast"
)

// commandRunner executes an external tool and returns its stdout. It is a
// field on the platform sources so tests can substitute canned output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand executes name with args under ctx. Stdout is returned even
// when the tool exits non-zero, since several tools (smartctl) encode
// status in the exit code.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, newProbeError(name, ErrorCodeToolNotFound, "not installed", err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, newProbeError(name, ErrorCodeTimeout, "timed out", ctx.Err())
	}
	if err != nil {
		combined := string(out) + stderr.String()
		if looksLikePermissionError(combined) {
			return out, newProbeError(name, ErrorCodePermissionDenied, "permission denied", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, newProbeError(name, ErrorCodeCommandFailed, strings.TrimSpace(firstLine(stderr.String())), err)
		}
		return nil, newProbeError(name, ErrorCodeCommandFailed, "failed to start", err)
	}
	return out, nil
}

func looksLikePermissionError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "must be root") ||
		strings.Contains(lower, "access is denied") ||
		strings.Contains(lower, "operation not permitted")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// nonEmptyLines splits tool output into trimmed, non-blank lines.
func nonEmptyLines(out []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// keyValue splits "Key : Value" lines as printed by netsh, diskutil and
// system_profiler.
func keyValue(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// parseNumber converts tool output such as "45", " 12.5 " or "[N/A]" to a
// float. Anything unparseable yields 0.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	v, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
