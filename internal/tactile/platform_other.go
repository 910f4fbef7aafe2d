//go:build windows

package tactile

import "os/exec"

func setupProcessGroup(cmd *exec.Cmd) {}
