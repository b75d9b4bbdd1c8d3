package stubserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whispr/client/internal/models"
)

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[body.Username]; exists {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}
	a := &account{
		ID:       uuid.NewString(),
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	}
	s.users[a.Username] = a
	s.usersByID[a.ID] = a
	c.JSON(http.StatusCreated, gin.H{"_id": a.ID})
}

func (s *Server) handleLogin(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	s.mu.Lock()
	a, ok := s.users[body.Username]
	s.mu.Unlock()
	if !ok || a.Password != body.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := s.mintToken(a.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

func (s *Server) handleFetchUser(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profileID := c.Query("profile_id"); profileID != "" {
		a, ok := s.usersByID[profileID]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, models.Profile{ID: a.ID, Username: a.Username})
		return
	}

	a, ok := s.usersByID[c.GetString(userIDKey)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	info := models.UserInfo{ID: a.ID, Username: a.Username, Email: a.Email}
	for _, chatID := range a.ChatIDs {
		ch, ok := s.chats[chatID]
		if !ok {
			continue
		}
		info.Inbox.Chats = append(info.Inbox.Chats, models.InboxChat{
			ChatID:        ch.ID,
			ParticipantID: ch.otherParticipant(a.ID),
			LastMessage:   ch.lastMessage(),
		})
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	query := strings.ToLower(c.Query("username"))

	s.mu.Lock()
	defer s.mu.Unlock()
	results := []models.Profile{}
	for _, a := range s.users {
		if query != "" && strings.Contains(strings.ToLower(a.Username), query) {
			results = append(results, models.Profile{ID: a.ID, Username: a.Username})
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleCreateChat(c *gin.Context) {
	participantID := c.Param("participantID")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByID[participantID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}
	ch := s.addChatLocked(c.GetString(userIDKey), participantID)
	c.JSON(http.StatusOK, gin.H{"chat_id": ch.ID})
}

func (s *Server) handleFetchRecent(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":     append([]models.Message{}, ch.Recent...),
		"bucket_count": len(ch.Pages),
	})
}

func (s *Server) handleFetchOlder(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket index"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		return
	}
	if index < 0 || index >= len(ch.Pages) {
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": gin.H{
		"index":    index,
		"messages": append([]models.Message{}, ch.Pages[index]...),
	}})
}

func (s *Server) handleUnsendRecent(c *gin.Context) {
	messageID := c.Param("messageID")

	s.mu.Lock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	removed := false
	for i := range ch.Recent {
		if ch.Recent[i].ID == messageID {
			ch.Recent = append(ch.Recent[:i], ch.Recent[i+1:]...)
			removed = true
			break
		}
	}
	conns := ch.connSnapshot(nil)
	s.mu.Unlock()

	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	broadcast(conns, models.Event{Action: models.ActionDelete, MessageID: messageID})
	c.JSON(http.StatusOK, gin.H{"status": "unsent"})
}

func (s *Server) handleUnsendOlder(c *gin.Context) {
	messageID := c.Param("messageID")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket index"})
		return
	}

	s.mu.Lock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	removed := false
	if index >= 0 && index < len(ch.Pages) {
		page := ch.Pages[index]
		for i := range page {
			if page[i].ID == messageID {
				ch.Pages[index] = append(page[:i], page[i+1:]...)
				removed = true
				break
			}
		}
	}
	conns := ch.connSnapshot(nil)
	s.mu.Unlock()

	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	broadcast(conns, models.Event{Action: models.ActionDelete, MessageID: messageID})
	c.JSON(http.StatusOK, gin.H{"status": "unsent"})
}

func (s *Server) handleMarkAsSeen(c *gin.Context) {
	ts, err := time.Parse(time.RFC3339Nano, c.Param("timestamp"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp"})
		return
	}
	reader := c.GetString(userIDKey)

	s.mu.Lock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	for i := range ch.Recent {
		if ch.Recent[i].SenderID != reader && !ch.Recent[i].Seen {
			stamp := ts
			ch.Recent[i].Seen = true
			ch.Recent[i].SeenTimestamp = &stamp
		}
	}
	// The read receipt is only meaningful to the other side: it marks the
	// partner's outbound messages as seen.
	partner := ch.otherParticipant(reader)
	conns := ch.connSnapshot(func(userID string) bool { return userID == partner })
	s.mu.Unlock()

	broadcast(conns, models.Event{Action: models.ActionSeen, SeenTimestamp: &ts})
	c.JSON(http.StatusOK, gin.H{"status": "seen"})
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	s.mu.Lock()
	ch, ok := s.memberChatLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.chats, ch.ID)
	conns := ch.connSnapshot(nil)
	s.mu.Unlock()

	for _, wc := range conns {
		wc.close()
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// memberChatLocked resolves the :chatID parameter and enforces membership.
// The caller holds s.mu; on failure the response has been written already.
func (s *Server) memberChatLocked(c *gin.Context) (*chat, bool) {
	ch, ok := s.chats[c.Param("chatID")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return nil, false
	}
	userID := c.GetString(userIDKey)
	if ch.Participants[0] != userID && ch.Participants[1] != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return nil, false
	}
	return ch, true
}

func (ch *chat) otherParticipant(userID string) string {
	if ch.Participants[0] == userID {
		return ch.Participants[1]
	}
	return ch.Participants[0]
}

func (ch *chat) lastMessage() models.LastMessage {
	if n := len(ch.Recent); n > 0 {
		m := ch.Recent[n-1]
		return models.LastMessage{Content: m.Content, CreatedAt: m.CreatedAt, SentBy: m.SenderID}
	}
	for i := len(ch.Pages) - 1; i >= 0; i-- {
		if n := len(ch.Pages[i]); n > 0 {
			m := ch.Pages[i][n-1]
			return models.LastMessage{Content: m.Content, CreatedAt: m.CreatedAt, SentBy: m.SenderID}
		}
	}
	return models.LastMessage{}
}
