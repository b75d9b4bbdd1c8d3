// Package realtime owns the persistent bidirectional connection of the
// currently open chat. A Channel is built once per selected chat, run by a
// supervisor goroutine that drives the connection state machine, and torn down
// when the selection changes - at most one live connection system-wide.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"whispr/client/internal/config"
	"whispr/client/internal/models"
)

// Options configures a Channel for one chat.
type Options struct {
	ChatID string
	URL    string

	// OnEvent receives every well-formed inbound frame.
	OnEvent func(models.Event)

	// Sync runs each time the connection reaches Open, before any user input
	// is accepted, so a local send can never race an unseeded store.
	Sync func(ctx context.Context) error

	// ReconnectDelay overrides the fixed back-off (tests); zero means the
	// configured default.
	ReconnectDelay time.Duration

	Dialer *websocket.Dialer
}

// Channel is the realtime connection for one chat.
type Channel struct {
	opts  Options
	state atomic.Int32

	// synced flips to true once the post-open bulk sync finished and back to
	// false the moment the connection drops. Sends are gated on it.
	synced atomic.Bool

	mu   sync.Mutex
	send chan models.Event // per-connection; abandoned wholesale on drop

	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel builds a channel in the Disconnected state. Run starts it.
func NewChannel(o Options) *Channel {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = config.ReconnectDelay
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return &Channel{opts: o, done: make(chan struct{})}
}

// ChatID returns the chat this channel belongs to.
func (c *Channel) ChatID() string { return c.opts.ChatID }

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Ready reports whether the channel accepts outbound messages: the socket is
// open and the bulk sync has completed.
func (c *Channel) Ready() bool {
	return c.State() == StateOpen && c.synced.Load()
}

// Send transmits one frame, at most once. If the channel is not ready the
// frame is dropped - never queued, never retried - and false is returned.
func (c *Channel) Send(ev models.Event) bool {
	if !c.Ready() {
		return false
	}
	c.mu.Lock()
	ch := c.send
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Close force-closes the channel deterministically. Safe to call more than
// once; the supervisor stops instead of reconnecting.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Run drives the connection state machine until Close is called or ctx ends.
// Reconnects after a transport error are unbounded, separated by the fixed
// back-off; there is no watchdog timer, only transport error events.
func (c *Channel) Run(ctx context.Context) {
	defer c.state.Store(int32(StateClosed))

	for {
		if c.stopped(ctx) {
			return
		}
		c.state.Store(int32(StateConnecting))

		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			c.state.Store(int32(StateError))
			log.Printf("realtime: dial %s: %v", c.opts.ChatID, err)
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.state.Store(int32(StateOpen))
		if c.opts.Sync != nil {
			if err := c.opts.Sync(ctx); err != nil {
				log.Printf("realtime: bulk sync %s: %v", c.opts.ChatID, err)
				conn.Close()
				c.state.Store(int32(StateError))
				if !c.backoff(ctx) {
					return
				}
				continue
			}
		}
		c.synced.Store(true)

		quit := make(chan struct{})
		c.mu.Lock()
		c.send = make(chan models.Event, 256)
		c.mu.Unlock()

		go c.writePump(conn, quit)
		c.readPump(conn) // blocks until the connection drops

		c.synced.Store(false)
		close(quit)
		conn.Close()
		c.mu.Lock()
		c.send = nil
		c.mu.Unlock()

		if c.stopped(ctx) {
			return
		}
		c.state.Store(int32(StateError))
		if !c.backoff(ctx) {
			return
		}
	}
}

func (c *Channel) stopped(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Channel) backoff(ctx context.Context) bool {
	select {
	case <-time.After(c.opts.ReconnectDelay):
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// readPump consumes inbound frames until the connection drops. A frame that
// fails to parse is a protocol error: logged, dropped, and the connection
// stays up. Only transport errors end the pump.
func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read %s: %v", c.opts.ChatID, err)
			}
			return
		}

		ev, err := models.ParseEvent(data)
		if err != nil {
			log.Printf("realtime: dropping malformed frame on %s: %v", c.opts.ChatID, err)
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

// writePump drains the per-connection send channel and keeps the connection
// alive with pings, paired with the read pump's pong deadline.
func (c *Channel) writePump(conn *websocket.Conn, quit chan struct{}) {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	c.mu.Lock()
	send := c.send
	c.mu.Unlock()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("realtime: encode frame on %s: %v", c.opts.ChatID, err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-quit:
			conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
