package viewer

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// App describes how to run the web app. Args may contain the placeholders {host}, {port} and {prefix},
// which are replaced for each launch. The same values are also exported as HOST, PORT and,
// when a path prefix is in use, DASH_REQUESTS_PATHNAME_PREFIX and DASH_ROUTES_PATHNAME_PREFIX.
type App struct {
	Command string
	Args    []string
	Env     []string
	WD      string
}

// serverProcess is a started app process. exited is closed once the process is reaped.
type serverProcess struct {
	cmd  *exec.Cmd
	port int

	exited   chan struct{}
	exitCode int
	waitErr  error
}

type flusher interface {
	Flush() error
}

func startProcess(app App, host string, port int, prefix string, out io.Writer) (*serverProcess, error) {
	replacer := strings.NewReplacer("{host}", host, "{port}", strconv.Itoa(port), "{prefix}", prefix)
	args := make([]string, len(app.Args))
	for i, a := range app.Args {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.Command(app.Command, args...)
	cmd.Dir = app.WD
	cmd.Env = append(os.Environ(), app.Env...)
	cmd.Env = append(cmd.Env, "HOST="+host, "PORT="+strconv.Itoa(port))
	if prefix != "" {
		cmd.Env = append(cmd.Env,
			"DASH_REQUESTS_PATHNAME_PREFIX="+prefix,
			"DASH_ROUTES_PATHNAME_PREFIX="+prefix,
		)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = sysProcAttr()
	// don't let a grandchild holding the output pipe keep Wait from returning
	cmd.WaitDelay = time.Second

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("starting %q: %w", app.Command, err)
	}

	p := &serverProcess{
		cmd:    cmd,
		port:   port,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		p.exitCode = -1
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		if f, ok := out.(flusher); ok {
			f.Flush()
		}
		close(p.exited)
	}()
	return p, nil
}

func (p *serverProcess) pid() int {
	return p.cmd.Process.Pid
}

// hasExited reports whether the process was reaped. exitCode and waitErr are only valid once it returns true.
func (p *serverProcess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// terminate asks the process to stop and returns without waiting for it to do so.
func (p *serverProcess) terminate() error {
	if p.hasExited() {
		return nil
	}
	return terminateProcess(p.cmd.Process)
}
