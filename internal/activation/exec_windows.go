//go:build windows

package activation

import "os/exec"

// configureProcessGroup keeps the default exec.CommandContext kill on Windows.
func configureProcessGroup(cmd *exec.Cmd) {}
