package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveroom/pkg/types"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewRegistry(), nil)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })
	return hub
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitForSubscribers(t *testing.T, hub *Hub, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hub.registry.RoomConnections(room)) == n
	}, time.Second, 5*time.Millisecond)
}

func TestHub_StartStop(t *testing.T) {
	hub := NewHub(NewRegistry(), nil)
	assert.ErrorIs(t, hub.Publish(types.ChangeEvent{Room: "r"}), ErrHubNotRunning)

	require.NoError(t, hub.Start(context.Background()))
	assert.ErrorIs(t, hub.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, hub.Stop())
	assert.ErrorIs(t, hub.Stop(), ErrHubNotRunning)

	require.NoError(t, hub.Start(context.Background()), "restartable")
	require.NoError(t, hub.Stop())
}

func TestHandler_RejectsBadParameters(t *testing.T) {
	srv := httptest.NewServer(NewHandler(startHub(t), HandlerConfig{}, nil))
	defer srv.Close()

	for _, q := range []string{"room=&user_id=s1", "room=r1&user_id=bad%20id", "user_id=s1"} {
		resp, err := http.Get(srv.URL + "/ws?" + q)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestHub_DeliversOnlyToRoom(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}, nil))
	defer srv.Close()

	a := dial(t, srv, "room=r1&user_id=s1")
	b := dial(t, srv, "room=r1&user_id=s2")
	other := dial(t, srv, "room=r2&user_id=s3")
	waitForSubscribers(t, hub, "r1", 2)
	waitForSubscribers(t, hub, "r2", 1)

	evt := types.ChangeEvent{Room: "r1", Kind: types.ChangeMessages, ID: "m1", At: time.Now().UTC()}
	require.NoError(t, hub.Publish(evt))

	for _, ws := range []*websocket.Conn{a, b} {
		var got types.ChangeEvent
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		require.NoError(t, ws.ReadJSON(&got))
		assert.Equal(t, "r1", got.Room)
		assert.Equal(t, types.ChangeMessages, got.Kind)
		assert.Equal(t, "m1", got.ID)
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "room r2 receives nothing")
}

func TestHub_ReconnectReplacesSocket(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}, nil))
	defer srv.Close()

	first := dial(t, srv, "room=r1&user_id=s1")
	waitForSubscribers(t, hub, "r1", 1)
	second := dial(t, srv, "room=r1&user_id=s1")

	// the replaced socket is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	waitForSubscribers(t, hub, "r1", 1)
	require.NoError(t, hub.Publish(types.ChangeEvent{Room: "r1", Kind: types.ChangeInteractions}))
	var got types.ChangeEvent
	require.NoError(t, second.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, second.ReadJSON(&got))
	assert.Equal(t, types.ChangeInteractions, got.Kind)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}, nil))
	defer srv.Close()

	ws := dial(t, srv, "room=r1&user_id=s1")
	waitForSubscribers(t, hub, "r1", 1)
	require.NoError(t, ws.Close())
	waitForSubscribers(t, hub, "r1", 0)
	assert.Equal(t, 0, hub.registry.Stats()["active_rooms"])
}

func TestRegistry_StaleUnregisterKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	old := NewConnection(nil, "s1", "r1", 1, time.Second)
	replacement := NewConnection(nil, "s1", "r1", 1, time.Second)

	require.NoError(t, r.Register(old))
	require.NoError(t, r.Register(replacement))
	r.Unregister(old)

	conns := r.RoomConnections("r1")
	require.Len(t, conns, 1)
	assert.Same(t, replacement, conns[0])

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		t.Fatal("replaced connection was not closed")
	}
	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(nil, "s1", "r1", 1, time.Second)
	b := NewConnection(nil, "s2", "r2", 1, time.Second)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	assert.Equal(t, 2, r.CloseAll())
	assert.Equal(t, 0, r.Stats()["total_connections"])
	assert.ErrorIs(t, a.Send(types.ChangeEvent{}), ErrConnectionClosed)
	assert.ErrorIs(t, b.Send(types.ChangeEvent{}), ErrConnectionClosed)
}

func TestConnection_SendAfterClose(t *testing.T) {
	c := NewConnection(nil, "s1", "r1", 1, time.Second)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(types.ChangeEvent{}), ErrConnectionClosed)
}

func TestLocalBus(t *testing.T) {
	hub := NewHub(NewRegistry(), nil)
	bus := NewLocalBus(hub)
	assert.ErrorIs(t, bus.Publish(context.Background(), types.ChangeEvent{Room: "r1"}), ErrHubNotRunning)

	require.NoError(t, hub.Start(context.Background()))
	defer func() { _ = hub.Stop() }()
	assert.NoError(t, bus.Publish(context.Background(), types.ChangeEvent{Room: "r1"}))
	assert.NoError(t, bus.Close())
}

func TestEventCodec(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := encodeEvent(types.ChangeEvent{Room: "r1", Kind: types.ChangeMessages, ID: "m1", At: at})
	require.NoError(t, err)

	evt, err := decodeEvent(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "r1", evt.Room)
	assert.True(t, evt.At.Equal(at))

	_, err = decodeEvent("{")
	assert.Error(t, err)
	_, err = decodeEvent(`{"room":"bad room"}`)
	assert.ErrorIs(t, err, types.ErrInvalidRoomID)
}

// Set LIVEROOM_TEST_REDIS_ADDR to run against a real redis.
func TestRedisBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("LIVEROOM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVEROOM_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, HandlerConfig{}, nil))
	defer srv.Close()

	bus, err := NewRedisBus(ctx, RedisOptions{Addr: addr, Channel: "liveroom:test:" + t.Name()}, hub, nil)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()
	require.NoError(t, bus.StartForwarder(ctx))

	ws := dial(t, srv, "room=r1&user_id=s1")
	waitForSubscribers(t, hub, "r1", 1)

	require.NoError(t, bus.Publish(ctx, types.ChangeEvent{Room: "r1", Kind: types.ChangeMessages}))
	var got types.ChangeEvent
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, types.ChangeMessages, got.Kind)
}
