package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/usecase"
)

func newTestServer(t *testing.T, opts Options) (*Server, *usecase.WebsiteTracker, *httptest.Server) {
	t.Helper()
	tracker := usecase.NewWebsiteTracker()
	s := New(opts, tracker, zap.NewNop())
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		hs.Close()
	})
	return s, tracker, hs
}

func wsURL(hs *httptest.Server) string {
	return "ws" + strings.TrimPrefix(hs.URL, "http") + DefaultPath
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(frame)))
}

func readCloseTab(t *testing.T, c *websocket.Conn) CloseTabMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg CloseTabMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_TabUpdateReplacesActiveSet(t *testing.T) {
	_, tracker, hs := newTestServer(t, Options{})
	c := dial(t, wsURL(hs))

	send(t, c, `{"type":"tabUpdate","urls":["https://www.youtube.com/watch?v=1","https://example.com/"]}`)
	require.Eventually(t, func() bool {
		return tracker.IsDomainActive("youtube.com") && tracker.IsDomainActive("example.com")
	}, 2*time.Second, 10*time.Millisecond)

	send(t, c, `{"type":"tabUpdate","urls":["https://example.com/"]}`)
	require.Eventually(t, func() bool {
		return !tracker.IsDomainActive("youtube.com")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, tracker.IsDomainActive("example.com"))
}

// TestServer_BadFramesKeepConnectionOpen verifies malformed JSON and unknown
// message types are skipped without dropping the extension.
func TestServer_BadFramesKeepConnectionOpen(t *testing.T) {
	s, tracker, hs := newTestServer(t, Options{})
	c := dial(t, wsURL(hs))

	send(t, c, `{not json`)
	send(t, c, `{"type":"mystery","urls":["https://evil.example/"]}`)
	require.NoError(t, c.Write(context.Background(), websocket.MessageBinary, []byte{0x01}))
	send(t, c, `{"type":"tabUpdate","urls":["https://reddit.com/r/golang"]}`)

	require.Eventually(t, func() bool {
		return tracker.IsDomainActive("reddit.com")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, tracker.IsDomainActive("evil.example"))
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestServer_SendCloseTabBroadcasts(t *testing.T) {
	s, _, hs := newTestServer(t, Options{})
	first := dial(t, wsURL(hs))
	second := dial(t, wsURL(hs))

	require.Eventually(t, func() bool { return s.ConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SendCloseTabCommand(context.Background(), "youtube.com"))

	for _, c := range []*websocket.Conn{first, second} {
		msg := readCloseTab(t, c)
		assert.Equal(t, CloseTabMessage{Type: MessageCloseTab, Domain: "youtube.com"}, msg)
	}
}

func TestServer_SendCloseTabWithoutConnections(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	assert.NoError(t, s.SendCloseTabCommand(context.Background(), "youtube.com"))
}

func TestServer_DisconnectRemovesOnlyThatConnection(t *testing.T) {
	s, _, hs := newTestServer(t, Options{})
	leaving := dial(t, wsURL(hs))
	staying := dial(t, wsURL(hs))
	require.Eventually(t, func() bool { return s.ConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, leaving.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SendCloseTabCommand(context.Background(), "example.com"))
	assert.Equal(t, "example.com", readCloseTab(t, staying).Domain)
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	_, _, hs := newTestServer(t, Options{MaxMessageBytes: 64})
	c := dial(t, wsURL(hs))

	send(t, c, `{"type":"tabUpdate","urls":["`+strings.Repeat("a", 256)+`"]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
}

func TestServer_Health(t *testing.T) {
	s, tracker, hs := newTestServer(t, Options{})
	tracker.UpdateUrls([]string{"https://youtube.com/", "https://example.com/"})
	dial(t, wsURL(hs))
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, healthResponse{Status: "ok", Connections: 1, Domains: 2}, health)
}

func TestServer_StartAndShutdown(t *testing.T) {
	tracker := usecase.NewWebsiteTracker()
	s := New(Options{ListenAddr: "127.0.0.1:0"}, tracker, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	require.NotEmpty(t, s.Addr())

	url := "ws://" + s.Addr() + DefaultPath
	c := dial(t, url)
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	closed := make(chan error, 1)
	go func() {
		_, _, err := c.Read(context.Background())
		closed <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-closed:
		assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	case <-time.After(5 * time.Second):
		t.Fatal("client was not closed")
	}
	assert.Equal(t, 0, s.ConnectionCount())

	dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Second)
	defer dialCancel()
	_, _, err := websocket.Dial(dialCtx, url, nil)
	assert.Error(t, err, "listener must be released")
}

func TestServer_RejectsUpgradesWhileClosing(t *testing.T) {
	s, _, hs := newTestServer(t, Options{})
	require.NoError(t, s.Shutdown(context.Background()))

	resp, err := http.Get(hs.URL + DefaultPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_OriginCheck(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantErr bool
	}{
		{name: "chrome extension", origin: "chrome-extension://abcdefghijklmnop"},
		{name: "firefox extension", origin: "moz-extension://1234-5678"},
		{name: "web page", origin: "https://evil.example", wantErr: true},
		{name: "configured origin", allowed: []string{"app.example"}, origin: "https://app.example"},
		{name: "extension outside configured list", allowed: []string{"app.example"}, origin: "chrome-extension://abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, hs := newTestServer(t, Options{AllowedOrigins: tt.allowed})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c, resp, err := websocket.Dial(ctx, wsURL(hs), &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{tt.origin}},
			})
			if tt.wantErr {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			_ = c.CloseNow()
		})
	}
}
