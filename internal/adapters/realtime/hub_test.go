package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/mockinterview/internal/domain"
)

func serve(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, domain.SessionID(strings.TrimPrefix(r.URL.Path, "/")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + session
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_SendToSessionReachesOnlyThatSession(t *testing.T) {
	hub := NewHub()
	srv := serve(t, hub)

	a1 := dial(t, srv, "s1")
	a2 := dial(t, srv, "s1")
	b := dial(t, srv, "s2")

	require.Eventually(t, func() bool {
		return hub.Clients("s1") == 2 && hub.Clients("s2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, hub.SendToSession("s1", []byte(`{"event_type":"interview.phase_changed"}`)))
	assert.Zero(t, hub.SendToSession("nobody", []byte("x")))

	for _, c := range []*websocket.Conn{a1, a2} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"event_type":"interview.phase_changed"}`, string(msg))
	}

	_ = b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "other sessions receive nothing")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := serve(t, hub)

	c := dial(t, srv, "s1")
	require.Eventually(t, func() bool { return hub.Clients("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return hub.Clients("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, hub.SendToSession("s1", []byte("late")))
}

func TestHub_RejectsPlainHTTP(t *testing.T) {
	srv := serve(t, NewHub())
	resp, err := http.Get(srv.URL + "/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
