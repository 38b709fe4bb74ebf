//go:build windows

package viewer

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminateProcess(p *os.Process) error {
	return ErrUnsupportedPlatform
}
