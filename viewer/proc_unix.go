//go:build !windows

package viewer

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// app servers may fork workers or reloaders, so each app gets its own process group
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signaling process group %d: %w", p.Pid, err)
	}
	return nil
}
