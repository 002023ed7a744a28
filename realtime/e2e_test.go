package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ddpServer speaks just enough of the realtime protocol to log a client in,
// accept its subscription and push one message per connection.
type ddpServer struct {
	t     *testing.T
	conns atomic.Int32

	// dropAfterPush closes each connection after its message was sent.
	dropAfterPush bool
}

func (s *ddpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer c.Close()
	n := s.conns.Add(1)

	_ = c.WriteJSON(map[string]any{"server_id": "0"})
	for {
		var f map[string]any
		if err := c.ReadJSON(&f); err != nil {
			return
		}
		switch f["msg"] {
		case "connect":
			_ = c.WriteJSON(map[string]any{"msg": "connected", "session": "sess"})
		case "ping":
			_ = c.WriteJSON(map[string]any{"msg": "pong"})
		case "method":
			if f["method"] != "login" {
				continue
			}
			_ = c.WriteJSON(map[string]any{"msg": "result", "id": f["id"], "result": map[string]any{"id": "alice", "token": "resume-token"}})
		case "sub":
			params, _ := f["params"].([]any)
			_ = c.WriteJSON(map[string]any{"msg": "ready", "subs": []any{f["id"]}})
			_ = c.WriteJSON(map[string]any{
				"msg":        "changed",
				"collection": "stream-room-messages",
				"id":         "id",
				"fields": map[string]any{
					"eventName": params[0],
					"args": []any{map[string]any{
						"_id": "m" + string(rune('0'+n)),
						"rid": params[0],
						"msg": "hello over the wire",
						"u":   map[string]any{"_id": "bob", "username": "bob"},
						"ts":  map[string]any{"$date": 1700000000000},
					}},
				},
			})
			if s.dropAfterPush {
				return
			}
		}
	}
}

func newDDPServer(t *testing.T, drop bool) (*ddpServer, *httptest.Server) {
	t.Helper()
	s := &ddpServer{t: t, dropAfterPush: drop}
	mux := http.NewServeMux()
	mux.Handle("/websocket", s)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func fastTimings() Timings {
	t := DefaultTimings()
	t.ReconnectDelay = 20 * time.Millisecond
	t.ShutdownGrace = 20 * time.Millisecond
	return t
}

func TestEndToEndOverWebSocket(t *testing.T) {
	_, srv := newDDPServer(t, false)
	api := newFakeAPI()
	sup := New(Credentials{Host: srv.URL, UserID: "alice", Token: "resume-token"}, api, WithTimings(fastTimings()))
	events := make(chan Event, 4)
	sup.OnMessage(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	require.NoError(t, sup.Start(context.Background(), Target{Origin: OriginRoom, RoomID: "R1"}))

	select {
	case ev := <-events:
		assert.Equal(t, "hello over the wire", ev.Message.Text)
		assert.Equal(t, "bob", ev.Message.User.Username)
		assert.Equal(t, int64(1700000000000), ev.Message.Timestamp.UnixMilli())

		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.JSONEq(t, `{"$date":1700000000000}`, string(payload["ts"]))
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	require.Eventually(t, func() bool { return len(api.readCalls()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateSubscribed, sup.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
	assert.Equal(t, StateClosed, sup.State())
}

func TestEndToEndReconnect(t *testing.T) {
	server, srv := newDDPServer(t, true)
	sup := New(Credentials{Host: srv.URL, UserID: "alice", Token: "resume-token"}, newFakeAPI(), WithTimings(fastTimings()))
	events := make(chan Event, 8)
	sup.OnMessage(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	require.NoError(t, sup.Start(context.Background(), Target{Origin: OriginRoom, RoomID: "R1"}))

	ids := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(ids) < 2 {
		select {
		case ev := <-events:
			ids[ev.Message.ID] = true
		case <-deadline:
			t.Fatalf("only saw %v", ids)
		}
	}
	assert.GreaterOrEqual(t, server.conns.Load(), int32(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}
