package viewer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/appviewer/comm"
	inet "github.com/guseggert/appviewer/internal/net"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultReadySubstring = "Running on"
	DefaultReadyAttempts  = 100
	DefaultReadyInterval  = 100 * time.Millisecond
	DefaultBaseURLTimeout = 10 * time.Second

	baseURLRequestInterval = time.Second
)

var (
	goos     = runtime.GOOS
	hostname = os.Hostname

	unsupportedPlatforms = map[string]bool{"windows": true}
)

// Channel is the outgoing side of the messaging channel to the front-end. *comm.Conn implements it.
type Channel interface {
	Send(ctx context.Context, msg comm.Message) error
}

// AppViewer runs one web app at a time and announces it to the front-end.
// Show and Terminate are serialized, so an AppViewer may be shared between goroutines.
type AppViewer struct {
	log      *zap.SugaredLogger
	logLevel *zapcore.Level

	uid  string
	host string
	port int
	url  string

	channel        Channel
	baseURLs       *comm.BaseURLCache
	baseURLTimeout time.Duration

	readySubstring   string
	readyAttempts    int
	readyInterval    time.Duration
	portReleaseDelay time.Duration

	mut  sync.Mutex
	proc *serverProcess
}

type Option func(v *AppViewer)

func WithLogger(l *zap.Logger) Option {
	return func(v *AppViewer) {
		v.log = l.Named("appviewer").Sugar()
	}
}

// WithLogLevel raises the viewer's minimum log level. It applies to the logger from WithLogger regardless of option order.
func WithLogLevel(l zapcore.Level) Option {
	return func(v *AppViewer) {
		v.logLevel = &l
	}
}

// WithHost sets the interface the app listens on. Defaults to 127.0.0.1.
func WithHost(host string) Option {
	return func(v *AppViewer) {
		v.host = host
	}
}

// WithPort pins the app's port. Without it, every Show picks a fresh ephemeral port.
func WithPort(port int) Option {
	return func(v *AppViewer) {
		v.port = port
	}
}

// WithURL sets the URL announced to the front-end, bypassing base URL discovery.
func WithURL(u string) Option {
	return func(v *AppViewer) {
		v.url = u
	}
}

func WithChannel(c Channel) Option {
	return func(v *AppViewer) {
		v.channel = c
	}
}

// WithBaseURLCache makes the viewer serve the app behind the front-end's base URL, at <base>/proxy/<port>/.
// The cache should be fed by the channel's url_response messages, see comm.BaseURLCache.Handler.
func WithBaseURLCache(c *comm.BaseURLCache) Option {
	return func(v *AppViewer) {
		v.baseURLs = c
	}
}

func WithBaseURLTimeout(d time.Duration) Option {
	return func(v *AppViewer) {
		v.baseURLTimeout = d
	}
}

func WithReadySubstring(s string) Option {
	return func(v *AppViewer) {
		v.readySubstring = s
	}
}

// WithReadyPolling sets how many empty polls of the app's output, each lasting interval, Show tolerates
// before giving up on the app.
func WithReadyPolling(attempts int, interval time.Duration) Option {
	return func(v *AppViewer) {
		v.readyAttempts = attempts
		v.readyInterval = interval
	}
}

// WithPortReleaseDelay makes Show wait for d after stopping a previous app, giving the OS time to free its port.
func WithPortReleaseDelay(d time.Duration) Option {
	return func(v *AppViewer) {
		v.portReleaseDelay = d
	}
}

// NewAppViewer constructs a viewer. If a channel and a base URL cache are configured and the cache is empty,
// a url_request is sent to the front-end in the background.
func NewAppViewer(opts ...Option) (*AppViewer, error) {
	if unsupportedPlatforms[goos] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	v := &AppViewer{
		log:            logger.Named("appviewer").Sugar(),
		uid:            uuid.NewString(),
		host:           DefaultHost,
		baseURLTimeout: DefaultBaseURLTimeout,
		readySubstring: DefaultReadySubstring,
		readyAttempts:  DefaultReadyAttempts,
		readyInterval:  DefaultReadyInterval,
	}
	for _, o := range opts {
		o(v)
	}
	if v.logLevel != nil {
		v.log = v.log.WithOptions(zap.IncreaseLevel(*v.logLevel))
	}
	v.log = v.log.With("UID", v.uid)

	if v.needsBaseURL() {
		if _, ok := v.baseURLs.Get(); !ok {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), v.baseURLTimeout)
				defer cancel()
				v.requestBaseURL(ctx)
			}()
		}
	}
	return v, nil
}

func (v *AppViewer) UID() string {
	return v.uid
}

func (v *AppViewer) needsBaseURL() bool {
	return v.url == "" && v.channel != nil && v.baseURLs != nil
}

func (v *AppViewer) requestBaseURL(ctx context.Context) {
	err := v.channel.Send(ctx, comm.URLRequest())
	if err != nil {
		v.log.Debugf("error requesting base URL: %s", err)
	}
}

// Show stops the current app, if any, starts app and waits until it reports that it is serving.
// Once it is, the front-end is sent a show message and the app's URL is returned.
// No show message is sent when Show fails.
func (v *AppViewer) Show(ctx context.Context, app App) (string, error) {
	if app.Command == "" {
		return "", errors.New("app has no command")
	}

	v.mut.Lock()
	defer v.mut.Unlock()

	if v.proc != nil {
		err := v.terminateLocked()
		if err != nil {
			v.log.Warnf("error stopping previous app: %s", err)
		}
		if v.portReleaseDelay > 0 {
			select {
			case <-time.After(v.portReleaseDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	port := v.port
	if port == 0 {
		p, err := inet.GetEphemeralTCPPort(v.host)
		if err != nil {
			return "", fmt.Errorf("picking a port: %w", err)
		}
		port = p
	}

	appURL, prefix, err := v.resolveURL(ctx, port)
	if err != nil {
		return "", err
	}

	relay := newOutputRelay(v.log.Named("relay"))
	proc, err := startProcess(app, v.host, port, prefix, relay)
	if err != nil {
		return "", err
	}
	v.proc = proc
	v.log.Debugw("started app", "PID", proc.pid(), "Port", port, "Prefix", prefix)

	err = v.waitReady(ctx, relay, proc)
	if err != nil {
		return "", err
	}
	// the rest of the app's output is only logged
	relay.stopQueueing()
	v.log.Infow("app is serving", "URL", appURL)

	if v.channel != nil {
		err = v.channel.Send(ctx, comm.Show(v.uid, port, appURL))
		if err != nil {
			return "", fmt.Errorf("announcing app to front-end: %w", err)
		}
	}
	return appURL, nil
}

// Terminate signals the current app to stop. It does not wait for the app to exit.
func (v *AppViewer) Terminate() error {
	v.mut.Lock()
	defer v.mut.Unlock()
	return v.terminateLocked()
}

func (v *AppViewer) terminateLocked() error {
	if v.proc == nil {
		return nil
	}
	v.log.Debugw("terminating app", "PID", v.proc.pid(), "Port", v.proc.port)
	return v.proc.terminate()
}

// resolveURL returns the URL the app will be reachable at, and the path prefix it must serve under ("" for none).
func (v *AppViewer) resolveURL(ctx context.Context, port int) (string, string, error) {
	if v.url != "" {
		return v.url, "", nil
	}
	if v.baseURLs == nil {
		return directURL(v.host, port), "", nil
	}

	base, err := v.waitBaseURL(ctx)
	if err != nil {
		return "", "", err
	}
	return proxyURL(base, port)
}

// waitBaseURL waits for the front-end's base URL, asking for it again every so often.
func (v *AppViewer) waitBaseURL(ctx context.Context) (string, error) {
	if u, ok := v.baseURLs.Get(); ok {
		return u, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, v.baseURLTimeout)
	defer cancel()

	if v.channel != nil {
		go func() {
			ticker := time.NewTicker(baseURLRequestInterval)
			defer ticker.Stop()
			for {
				select {
				case <-waitCtx.Done():
					return
				case <-ticker.C:
				}
				if _, ok := v.baseURLs.Get(); ok {
					return
				}
				v.requestBaseURL(waitCtx)
			}
		}()
	}

	u, err := v.baseURLs.Wait(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: no base URL received within %s; make sure the front-end extension is installed and enabled, then call Show again", ErrFrontendUnreachable, v.baseURLTimeout)
	}
	return u, nil
}

// waitReady scans the app's output for the readiness substring. Only polls that find no output count
// against the attempt budget, and the total wait is capped at attempts*interval.
func (v *AppViewer) waitReady(ctx context.Context, relay *outputRelay, proc *serverProcess) error {
	deadline := time.Now().Add(time.Duration(v.readyAttempts) * v.readyInterval)
	emptyPolls := 0
	for emptyPolls < v.readyAttempts {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timeout := v.readyInterval
		if remaining < timeout {
			timeout = remaining
		}

		line, err := relay.Next(ctx, timeout)
		if errors.Is(err, errRelayEmpty) {
			emptyPolls++
			if proc.hasExited() {
				// output is fully relayed by the time the process is reaped, so one more look suffices
				if v.drainForReady(relay) {
					return nil
				}
				if proc.waitErr != nil {
					return fmt.Errorf("%w: process exited with code %d: %s", ErrServerNotStarted, proc.exitCode, proc.waitErr)
				}
				return fmt.Errorf("%w: process exited with code %d", ErrServerNotStarted, proc.exitCode)
			}
			continue
		}
		if err != nil {
			return err
		}
		if strings.Contains(line, v.readySubstring) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q not seen in app output", ErrServerNotStarted, v.readySubstring)
}

func (v *AppViewer) drainForReady(relay *outputRelay) bool {
	for {
		line, ok := relay.pop()
		if !ok {
			return false
		}
		if strings.Contains(line, v.readySubstring) {
			return true
		}
	}
}

// directURL is the app's URL when it is reached without a proxy.
// Loopback hosts are kept as is; anything else is replaced by this machine's hostname.
func directURL(host string, port int) string {
	h := host
	if host != "127.0.0.1" && host != "localhost" {
		if name, err := hostname(); err == nil && name != "" {
			h = name
		}
	}
	return "http://" + net.JoinHostPort(h, strconv.Itoa(port)) + "/"
}

// proxyURL places the app behind the notebook server's proxy at <base>/proxy/<port>/.
func proxyURL(base string, port int) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("parsing base URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("base URL %q is not absolute", base)
	}
	basePath := u.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	prefix := basePath + "proxy/" + strconv.Itoa(port) + "/"
	u.Path = prefix
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), prefix, nil
}
