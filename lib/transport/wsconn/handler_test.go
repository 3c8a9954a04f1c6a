package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/relay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	registry *registry.Registry
	handler  *Handler

	mu      sync.Mutex
	rejects []string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ts := &testServer{registry: registry.New()}
	opts.OnReject = func(reason string) {
		ts.mu.Lock()
		ts.rejects = append(ts.rejects, reason)
		ts.mu.Unlock()
	}
	r := relay.New(ts.registry, nil, relay.Options{})
	ts.handler = NewHandler(r, opts)
	ts.Server = httptest.NewServer(ts.handler)
	t.Cleanup(func() {
		ts.registry.CloseAll()
		ts.Server.Close()
	})
	return ts
}

func (ts *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/?" + query
}

func (ts *testServer) rejected() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.rejects...)
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestRelayOverWebSocket(t *testing.T) {
	ts := newTestServer(t, Options{})

	device := dial(t, ts.wsURL("deviceId=IOS-1"), nil)
	admin := dial(t, ts.wsURL("userId=12"), nil)
	require.Eventually(t, func() bool {
		c := ts.registry.Counts()
		return c.Devices == 1 && c.AdminSessions == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, admin.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"remote_control","deviceId":"IOS-1","command":"lock","params":{"pin":"0000"}}`)))
	assert.JSONEq(t,
		`{"type":"remote_control_command","command":"lock","params":{"pin":"0000"},"userId":12}`,
		readJSON(t, device))

	require.NoError(t, device.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"remote_control_response","command":"lock","params":{"ok":true}}`)))
	assert.JSONEq(t,
		`{"type":"remote_control_response","deviceId":"IOS-1","command":"lock","params":{"ok":true}}`,
		readJSON(t, admin))
}

func TestUnclassifiedRejectedBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, Options{})

	for _, q := range []string{"", "userId=abc", "deviceId=D&userId=1"} {
		_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(q), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake, q)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		resp.Body.Close()
	}
	assert.Equal(t, registry.Counts{}, ts.registry.Counts())
	assert.Equal(t, []string{RejectUnclassified, RejectUnclassified, RejectUnclassified}, ts.rejected())
}

func TestOriginCheck(t *testing.T) {
	ts := newTestServer(t, Options{AllowedOrigins: []string{"https://console.example.com"}})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("userId=1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{RejectOrigin}, ts.rejected())

	header = http.Header{"Origin": []string{"https://console.example.com"}}
	dial(t, ts.wsURL("userId=1"), header)
	require.Eventually(t, func() bool { return ts.registry.Counts().AdminSessions == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOriginAllowed(t *testing.T) {
	h := NewHandler(nil, Options{AllowedOrigins: []string{"https://a.example", "not a url", "http://b.example:8080"}})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://a.example", true},
		{"http://a.example", false},
		{"https://a.example.evil", false},
		{"http://b.example:8080", true},
		{"http://b.example", false},
		{"//a.example", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.originAllowed(tt.origin), tt.origin)
	}

	open := NewHandler(nil, Options{})
	assert.True(t, open.originAllowed("https://anything.example"))
}

func TestClientDisconnectDeregisters(t *testing.T) {
	ts := newTestServer(t, Options{})
	device := dial(t, ts.wsURL("deviceId=D1"), nil)
	require.Eventually(t, func() bool { return ts.registry.Counts().Devices == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, device.Close())
	require.Eventually(t, func() bool { return ts.registry.Counts().Devices == 0 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, ts.handler.Wait(ctx))
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	ts := newTestServer(t, Options{MaxFrameBytes: 64})
	admin := dial(t, ts.wsURL("userId=3"), nil)
	require.Eventually(t, func() bool { return ts.registry.Counts().AdminSessions == 1 }, 2*time.Second, 5*time.Millisecond)

	big := `{"type":"remote_control","deviceId":"D1","command":"` + strings.Repeat("x", 128) + `"}`
	require.NoError(t, admin.WriteMessage(websocket.TextMessage, []byte(big)))
	require.Eventually(t, func() bool { return ts.registry.Counts().AdminSessions == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSupersededSocketIsClosed(t *testing.T) {
	ts := newTestServer(t, Options{})
	first := dial(t, ts.wsURL("deviceId=D1"), nil)
	require.Eventually(t, func() bool { return ts.registry.Counts().Devices == 1 }, 2*time.Second, 5*time.Millisecond)
	before, _ := ts.registry.LookupDevice("D1")

	dial(t, ts.wsURL("deviceId=D1"), nil)
	require.Eventually(t, func() bool {
		h, ok := ts.registry.LookupDevice("D1")
		return ok && h != before
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConnSendAfterClose(t *testing.T) {
	accepted := make(chan *Conn, 1)
	h := NewHandler(acceptFunc(func(_ context.Context, _ relay.Identity, c relay.Conn) {
		accepted <- c.(*Conn)
		for {
			if _, err := c.ReadFrame(); err != nil {
				return
			}
		}
	}), Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/?deviceId=X", nil)

	var conn *Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not accepted")
	}
	assert.NotEmpty(t, conn.ID())
	assert.True(t, conn.Send([]byte(`{"type":"hello"}`)))
	assert.JSONEq(t, `{"type":"hello"}`, readJSON(t, client))

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "second close is a no-op")
	assert.False(t, conn.Send([]byte(`{}`)))
}

type acceptFunc func(ctx context.Context, id relay.Identity, conn relay.Conn)

func (f acceptFunc) Serve(ctx context.Context, id relay.Identity, conn relay.Conn) { f(ctx, id, conn) }

func TestNoUpgradesAfterWait(t *testing.T) {
	ts := newTestServer(t, Options{})
	admin := dial(t, ts.wsURL("userId=4"), nil)
	require.Eventually(t, func() bool { return ts.registry.Counts().AdminSessions == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waited := make(chan error, 1)
	go func() { waited <- ts.handler.Wait(ctx) }()

	require.Eventually(t, func() bool {
		ts.handler.mu.Lock()
		defer ts.handler.mu.Unlock()
		return ts.handler.closing
	}, 2*time.Second, 5*time.Millisecond)

	// the drain stays open until the existing connection goes away
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL("userId=5"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
	assert.Contains(t, ts.rejected(), RejectShuttingDown)
	assert.Equal(t, 1, ts.registry.Counts().AdminSessions)

	require.NoError(t, admin.Close())
	require.NoError(t, <-waited)
	assert.Zero(t, ts.registry.Counts().AdminSessions)
}
