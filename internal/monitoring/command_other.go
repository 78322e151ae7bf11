//go:build !windows

package monitoring

import "os/exec"

func hideWindow(cmd *exec.Cmd) {}
