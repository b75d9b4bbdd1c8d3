package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispr/client/internal/models"
	"whispr/client/internal/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer runs handler for every accepted connection and counts dials.
type wsServer struct {
	srv   *httptest.Server
	dials atomic.Int32
}

func newWSServer(t *testing.T, handler func(conn *websocket.Conn, dial int)) *wsServer {
	t.Helper()
	ws := &wsServer{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, int(ws.dials.Add(1)))
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func runChannel(t *testing.T, ch *realtime.Channel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go ch.Run(ctx)
	t.Cleanup(func() {
		ch.Close()
		cancel()
	})
}

// TestChannelSyncsBeforeReady verifies the open sequence: the bulk sync runs
// first and the channel only reports ready once it finished.
func TestChannelSyncsBeforeReady(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	syncRan := atomic.Bool{}
	var ch *realtime.Channel
	ch = realtime.NewChannel(realtime.Options{
		ChatID: "chat-1",
		URL:    server.url(),
		Sync: func(context.Context) error {
			assert.False(t, ch.Ready(), "ready before sync finished")
			syncRan.Store(true)
			return nil
		},
	})
	runChannel(t, ch)

	require.Eventually(t, ch.Ready, time.Second, 5*time.Millisecond)
	assert.True(t, syncRan.Load())
	assert.Equal(t, realtime.StateOpen, ch.State())
}

// TestSendWhileDisconnectedDrops verifies the at-most-once rule: a send with
// no open connection returns false and nothing is queued for later.
func TestSendWhileDisconnectedDrops(t *testing.T) {
	ch := realtime.NewChannel(realtime.Options{ChatID: "chat-1", URL: "ws://127.0.0.1:1/nope"})

	ok := ch.Send(models.Event{Action: models.ActionMessage, ID: "m1"})

	assert.False(t, ok)
	assert.Equal(t, realtime.StateDisconnected, ch.State())
}

// TestMalformedFrameIsDroppedConnectionSurvives verifies that a frame failing
// to parse does not take the connection down or reach the event callback.
func TestMalformedFrameIsDroppedConnectionSurvives(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"no-such-action"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"message","id":"m1","content":"hi"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	events := make(chan models.Event, 8)
	ch := realtime.NewChannel(realtime.Options{
		ChatID:  "chat-1",
		URL:     server.url(),
		OnEvent: func(ev models.Event) { events <- ev },
	})
	runChannel(t, ch)

	select {
	case ev := <-events:
		assert.Equal(t, "m1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event arrived")
	}
	assert.Empty(t, events, "malformed frames must not surface")
	assert.Equal(t, realtime.StateOpen, ch.State())
}

// TestReconnectAfterDrop verifies that a dropped connection is redialed after
// the back-off and the channel becomes ready again.
func TestReconnectAfterDrop(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, dial int) {
		if dial == 1 {
			return // slam the first connection shut
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch := realtime.NewChannel(realtime.Options{
		ChatID:         "chat-1",
		URL:            server.url(),
		ReconnectDelay: 10 * time.Millisecond,
	})
	runChannel(t, ch)

	require.Eventually(t, ch.Ready, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, int(server.dials.Load()), 2)
}

// TestSyncFailureClosesAndRetries verifies that a failed bulk sync tears the
// fresh connection down and the next attempt runs the sync again.
func TestSyncFailureClosesAndRetries(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var attempts atomic.Int32
	ch := realtime.NewChannel(realtime.Options{
		ChatID:         "chat-1",
		URL:            server.url(),
		ReconnectDelay: 10 * time.Millisecond,
		Sync: func(context.Context) error {
			if attempts.Add(1) == 1 {
				return assert.AnError
			}
			return nil
		},
	})
	runChannel(t, ch)

	require.Eventually(t, ch.Ready, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, int(attempts.Load()), 2)
}

// TestSendReachesServer verifies an outbound frame round trip.
func TestSendReachesServer(t *testing.T) {
	received := make(chan models.Event, 1)
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if ev, err := models.ParseEvent(data); err == nil {
				received <- ev
			}
		}
	})

	ch := realtime.NewChannel(realtime.Options{ChatID: "chat-1", URL: server.url()})
	runChannel(t, ch)
	require.Eventually(t, ch.Ready, time.Second, 5*time.Millisecond)

	ok := ch.Send(models.Event{Action: models.ActionMessage, ID: "m1", Content: "hello"})

	require.True(t, ok)
	select {
	case ev := <-received:
		assert.Equal(t, "hello", ev.Content)
	case <-time.After(time.Second):
		t.Fatal("frame never reached the server")
	}
}

// TestCloseStopsSupervisor verifies that Close ends the loop instead of
// triggering a reconnect.
func TestCloseStopsSupervisor(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch := realtime.NewChannel(realtime.Options{
		ChatID:         "chat-1",
		URL:            server.url(),
		ReconnectDelay: 10 * time.Millisecond,
	})
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		ch.Run(ctx)
		close(done)
	}()
	require.Eventually(t, ch.Ready, time.Second, 5*time.Millisecond)

	ch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, realtime.StateClosed, ch.State())
	assert.False(t, ch.Send(models.Event{Action: models.ActionMessage, ID: "m2"}))
}
