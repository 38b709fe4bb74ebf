package viewer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errRelayEmpty = errors.New("no output")

// outputRelay is the stdout and stderr of an app process. Writes are split into lines and queued,
// so the viewer can scan the output without reading the pipes itself. The queue is unbounded.
type outputRelay struct {
	log *zap.SugaredLogger

	mut     sync.Mutex
	partial []byte
	lines   []string
	// queueing is false once nobody reads the queue anymore; lines are then only logged
	queueing bool
	// notify holds a token whenever lines were queued since the last read
	notify chan struct{}
}

func newOutputRelay(log *zap.SugaredLogger) *outputRelay {
	return &outputRelay{
		log:      log,
		notify:   make(chan struct{}, 1),
		queueing: true,
	}
}

func (r *outputRelay) Write(p []byte) (int, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	r.partial = append(r.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(r.partial[:i]), "\r"))
		r.partial = r.partial[i+1:]
	}
	if len(r.partial) == 0 {
		r.partial = nil
	}
	r.enqueueLocked(lines...)
	return len(p), nil
}

// Flush queues any trailing output that wasn't terminated by a newline.
func (r *outputRelay) Flush() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if len(r.partial) > 0 {
		r.enqueueLocked(string(r.partial))
		r.partial = nil
	}
	return nil
}

func (r *outputRelay) enqueueLocked(lines ...string) {
	if len(lines) == 0 {
		return
	}
	for _, l := range lines {
		r.log.Debugw("app output", "Line", l)
	}
	if !r.queueing {
		return
	}
	r.lines = append(r.lines, lines...)
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// stopQueueing drops everything queued and makes later output log-only.
func (r *outputRelay) stopQueueing() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.queueing = false
	r.lines = nil
}

func (r *outputRelay) pop() (string, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if len(r.lines) == 0 {
		return "", false
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, true
}

// Next returns the oldest queued line, waiting up to timeout for one to arrive.
// It returns errRelayEmpty if nothing arrived in time.
func (r *outputRelay) Next(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if line, ok := r.pop(); ok {
			return line, nil
		}
		select {
		case <-r.notify:
		case <-timer.C:
			if line, ok := r.pop(); ok {
				return line, nil
			}
			return "", errRelayEmpty
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
