package comm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar()
}

// Handler is called for every message received on a Conn, from the Conn's read goroutine.
type Handler func(msg Message)

// Conn is the viewer side of the messaging channel.
type Conn struct {
	log     *zap.SugaredLogger
	conn    *websocket.Conn
	ctx     context.Context
	cancel  func()
	handler Handler

	wg            sync.WaitGroup
	closeConnOnce sync.Once
}

type dialConfig struct {
	log                      *zap.SugaredLogger
	handler                  Handler
	customizeRetryableClient func(*retryablehttp.Client)
}

type DialOption func(c *dialConfig)

func WithDialLogger(l *zap.SugaredLogger) DialOption {
	return func(c *dialConfig) {
		c.log = l
	}
}

// WithHandler sets the handler for incoming messages. Without one, incoming messages are dropped.
func WithHandler(h Handler) DialOption {
	return func(c *dialConfig) {
		c.handler = h
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) DialOption {
	return func(c *dialConfig) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// Dial connects to the front-end's WebSocket endpoint at url.
// The handshake is retried a few times, so the front-end may still be starting when Dial is called.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Conn, error) {
	cfg := &dialConfig{log: defaultLogger}
	for _, o := range opts {
		o(cfg)
	}
	log := cfg.log.Named("comm_conn")

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 100 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: log}
	if cfg.customizeRetryableClient != nil {
		cfg.customizeRetryableClient(retryClient)
	}

	log.Debugw("dialing WebSocket", "URL", url)
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      retryClient.StandardClient(),
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to front-end: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		log:     log,
		conn:    wsConn,
		ctx:     connCtx,
		cancel:  cancel,
		handler: cfg.handler,
	}
	c.wg.Add(1)
	go c.readMessages()
	return c, nil
}

// Send writes msg to the front-end. It is safe to call concurrently.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	c.log.Debugw("sending message", "Type", msg.Type, "UID", msg.UID)
	err := wsjson.Write(ctx, c.conn, msg)
	if err != nil {
		return fmt.Errorf("sending %s message: %w", msg.Type, err)
	}
	return nil
}

// Done is closed once the connection stops reading, either because it was closed or because it broke.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Close() error {
	c.close(websocket.StatusNormalClosure, "")
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (c *Conn) readMessages() {
	defer c.wg.Done()
	defer c.cancel()
	for {
		var msg Message
		err := wsjson.Read(c.ctx, c.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			c.log.Debugf("conn closed: %s", err)
			return
		}
		if err != nil {
			c.log.Debugf("message reader got error: %s", err)
			c.close(websocket.StatusInternalError, err.Error())
			return
		}
		c.log.Debugw("received message", "Type", msg.Type)
		if c.handler != nil {
			c.handler(msg)
		}
	}
}
