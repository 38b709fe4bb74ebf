package comm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// BaseURLCache holds the notebook server's externally visible base URL as reported by the front-end.
// It starts unset and is set at most once: the first url_response wins and later responses with a
// different URL are dropped.
type BaseURLCache struct {
	log *zap.SugaredLogger

	mut sync.Mutex
	url string
	set chan struct{}
}

func NewBaseURLCache(log *zap.SugaredLogger) *BaseURLCache {
	if log == nil {
		log = defaultLogger
	}
	return &BaseURLCache{
		log: log.Named("base_url_cache"),
		set: make(chan struct{}),
	}
}

// Set stores u if the cache is still empty, and reports whether u is now the cached value.
func (c *BaseURLCache) Set(u string) bool {
	if u == "" {
		c.log.Debug("ignoring empty base URL")
		return false
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.url != "" {
		if c.url != u {
			c.log.Warnw("ignoring base URL that conflicts with the cached one", "Cached", c.url, "Received", u)
		}
		return c.url == u
	}
	c.url = u
	close(c.set)
	c.log.Debugw("cached base URL", "URL", u)
	return true
}

func (c *BaseURLCache) Get() (string, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.url, c.url != ""
}

// Wait blocks until the base URL is set or ctx is done.
func (c *BaseURLCache) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.set:
		u, _ := c.Get()
		return u, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handler returns a message handler that caches the URL of url_response messages.
func (c *BaseURLCache) Handler() Handler {
	return func(msg Message) {
		if msg.Type != MessageTypeURLResponse {
			return
		}
		c.Set(msg.URL)
	}
}
