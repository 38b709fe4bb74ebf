package comm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	log = l.Sugar()
}

func startHub(t *testing.T, baseURL string, opts ...HubOption) (*Hub, *httptest.Server) {
	hub := NewHub(baseURL, append([]HubOption{WithHubLogger(log)}, opts...)...)
	s := httptest.NewServer(hub)
	t.Cleanup(s.Close)
	return hub, s
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/comm"
}

func TestURLHandshake(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, s := startHub(t, "http://localhost:8888/")

	cache := NewBaseURLCache(log)
	conn, err := Dial(ctx, wsURL(s), WithDialLogger(log), WithHandler(cache.Handler()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, URLRequest()))

	u, err := cache.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888/", u)
}

func TestURLHandshakeNoBaseURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, s := startHub(t, "")

	cache := NewBaseURLCache(log)
	conn, err := Dial(ctx, wsURL(s), WithDialLogger(log), WithHandler(cache.Handler()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, URLRequest()))

	waitCtx, waitCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer waitCancel()
	_, err = cache.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShowCreatesAndUpdatesViews(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shown := make(chan View, 10)
	hub, s := startHub(t, "http://localhost:8888/", WithShowHandler(func(v View) { shown <- v }))

	conn, err := Dial(ctx, wsURL(s), WithDialLogger(log))
	require.NoError(t, err)
	defer conn.Close()

	cases := []struct {
		msg       Message
		expShows  int
		expNViews int
	}{
		{msg: Show("a", 8050, "http://localhost:8050/"), expShows: 1, expNViews: 1},
		{msg: Show("a", 8051, "http://localhost:8051/"), expShows: 2, expNViews: 1},
		{msg: Show("b", 8052, "http://localhost:8052/"), expShows: 1, expNViews: 2},
		// dropped, no uid
		{msg: Show("", 8053, "http://localhost:8053/")},
	}
	for _, c := range cases {
		require.NoError(t, conn.Send(ctx, c.msg))
		if c.msg.UID == "" {
			continue
		}
		select {
		case v := <-shown:
			assert.Equal(t, c.msg.UID, v.UID)
			assert.Equal(t, c.msg.URL, v.URL)
			assert.Equal(t, c.msg.Port, v.Port)
			assert.Equal(t, c.expShows, v.Shows)
		case <-ctx.Done():
			t.Fatal("timed out waiting for show")
		}
		assert.Len(t, hub.Views(), c.expNViews)
	}

	v, ok := hub.View("a")
	require.True(t, ok)
	assert.Equal(t, 8051, v.Port)
	_, ok = hub.View("")
	assert.False(t, ok)

	resp, err := http.Get(s.URL + "/views")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].UID)
	assert.Equal(t, "b", views[1].UID)
}

func TestHealthz(t *testing.T) {
	_, s := startHub(t, "")
	resp, err := http.Get(s.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDialUnreachable(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	u := wsURL(s)
	s.Close()

	_, err := Dial(context.Background(), u, WithDialLogger(log), WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	require.Error(t, err)
}
