package stubserver

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"whispr/client/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one live connection to a chat. Writes are serialized through
// its own mutex so broadcasts from concurrent handlers never interleave.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func (w *wsClient) writeJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return websocket.ErrCloseSent
	}
	return w.conn.WriteJSON(v)
}

func (w *wsClient) close() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	deadline := time.Now().Add(time.Second)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	w.conn.Close()
}

// connSnapshot copies the chat's connections, optionally filtered by user id.
// The caller holds s.mu; the returned slice is safe to use after unlocking.
func (ch *chat) connSnapshot(keep func(userID string) bool) []*wsClient {
	var out []*wsClient
	for wc, userID := range ch.conns {
		if keep == nil || keep(userID) {
			out = append(out, wc)
		}
	}
	return out
}

func broadcast(conns []*wsClient, ev models.Event) {
	for _, wc := range conns {
		if err := wc.writeJSON(ev); err != nil {
			log.Printf("stubserver: broadcast failed: %v", err)
		}
	}
}

func (s *Server) handleContinueChat(c *gin.Context) {
	userID, err := s.validateToken(c.Query("authToken"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	s.mu.Lock()
	ch, ok := s.chats[c.Param("chatID")]
	if ok && ch.Participants[0] != userID && ch.Participants[1] != userID {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("stubserver: upgrade failed: %v", err)
		return
	}
	wc := &wsClient{conn: conn}

	s.mu.Lock()
	ch.conns[wc] = userID
	s.mu.Unlock()

	s.readLoop(ch, wc, userID)

	s.mu.Lock()
	delete(ch.conns, wc)
	s.mu.Unlock()
	wc.close()
}

// readLoop consumes frames from one connection until it drops. Message frames
// are appended to the chat's recent tail and fanned out to every connection,
// so the sender's own echo doubles as a delivery confirmation.
func (s *Server) readLoop(ch *chat, wc *wsClient, userID string) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := models.ParseEvent(data)
		if err != nil {
			log.Printf("stubserver: dropping frame: %v", err)
			continue
		}
		if ev.Action != models.ActionMessage {
			continue
		}
		m := ev.Message()
		m.SenderID = userID // never trust the frame's sender
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}

		s.mu.Lock()
		ch.Recent = append(ch.Recent, m)
		conns := ch.connSnapshot(nil)
		s.mu.Unlock()

		broadcast(conns, models.SendFrame(m))
	}
}
