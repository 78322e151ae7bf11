package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	out string
	err error
}

// fakeCommands maps "name arg1 arg2" to canned output. Unknown commands
// behave like a missing tool.
type fakeCommands map[string]fakeResult

func (f fakeCommands) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if r, ok := f[key]; ok {
		return []byte(r.out), r.err
	}
	return nil, newProbeError(name, ErrorCodeToolNotFound, "not installed", nil)
}

func ok(out string) fakeResult {
	return fakeResult{out: out}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlatform(t *testing.T, goos string, cmds fakeCommands) *platform {
	t.Helper()
	return &platform{
		goos:     goos,
		sysRoot:  t.TempDir(),
		procRoot: t.TempDir(),
		run:      cmds.run,
		timeout:  time.Second,
		logger:   discardLogger(),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
