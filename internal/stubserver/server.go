// Package stubserver is an in-memory implementation of the chat service
// contract, used by the integration tests and as a local development backend.
// It keeps recent tails and numbered history pages per chat (page 0 oldest)
// and pushes realtime frames to every connection of a chat.
package stubserver

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whispr/client/internal/models"
)

// DefaultPageSize is how many messages an archived history page holds.
const DefaultPageSize = 15

type account struct {
	ID       string
	Username string
	Email    string
	Password string
	ChatIDs  []string
}

type chat struct {
	ID           string
	Participants [2]string

	Pages  [][]models.Message // index 0 = oldest archived page
	Recent []models.Message

	conns map[*wsClient]string // connection -> user id
}

// Server holds the whole in-memory world behind the HTTP and WS handlers.
type Server struct {
	mu     sync.Mutex
	secret []byte

	pageSize  int
	users     map[string]*account // by username
	usersByID map[string]*account
	chats     map[string]*chat
}

// New builds an empty server with the default page size.
func New() *Server {
	return &Server{
		secret:    []byte("whispr-stub-secret"),
		pageSize:  DefaultPageSize,
		users:     make(map[string]*account),
		usersByID: make(map[string]*account),
		chats:     make(map[string]*chat),
	}
}

// Router wires the service contract onto a gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/user/signup", s.handleSignup)
	r.POST("/api/user/login", s.handleLogin)

	authed := r.Group("/", s.authMiddleware)
	authed.GET("/api/user/fetch-user", s.handleFetchUser)
	authed.GET("/api/search/search-users", s.handleSearchUsers)
	authed.POST("/api/chat/create-chat/:participantID", s.handleCreateChat)
	authed.GET("/api/chat/fetch-recent-chat/:chatID", s.handleFetchRecent)
	authed.GET("/api/chat/fetch-older-chat/:chatID/:index", s.handleFetchOlder)
	authed.DELETE("/api/chat/unsend-recent-message/:chatID/:messageID", s.handleUnsendRecent)
	authed.DELETE("/api/chat/unsend-older-message/:chatID/:messageID/:index", s.handleUnsendOlder)
	authed.POST("/api/chat/mark-as-seen/:chatID/:timestamp", s.handleMarkAsSeen)
	authed.DELETE("/api/chat/delete-chat/:chatID", s.handleDeleteChat)

	// The websocket endpoint authenticates via query parameter, the way the
	// browser client connects.
	r.GET("/api/chat/continue-chat/:chatID", s.handleContinueChat)

	return r
}

// --- test/fixture helpers ---

// AddUser registers an account and returns its id and a valid token.
func (s *Server) AddUser(username, email, password string) (id, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &account{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Password: password,
	}
	s.users[username] = a
	s.usersByID[a.ID] = a
	tok, err := s.mintToken(a.ID)
	if err != nil {
		panic(err)
	}
	return a.ID, tok
}

// AddChat creates a chat between two user ids and returns its id.
func (s *Server) AddChat(user1, user2 string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addChatLocked(user1, user2).ID
}

func (s *Server) addChatLocked(user1, user2 string) *chat {
	for _, c := range s.chats {
		if (c.Participants[0] == user1 && c.Participants[1] == user2) ||
			(c.Participants[0] == user2 && c.Participants[1] == user1) {
			return c
		}
	}
	c := &chat{
		ID:           uuid.NewString(),
		Participants: [2]string{user1, user2},
		conns:        make(map[*wsClient]string),
	}
	s.chats[c.ID] = c
	if a := s.usersByID[user1]; a != nil {
		a.ChatIDs = append(a.ChatIDs, c.ID)
	}
	if a := s.usersByID[user2]; a != nil {
		a.ChatIDs = append(a.ChatIDs, c.ID)
	}
	return c
}

// SeedChat installs history pages (index 0 oldest) and a recent tail.
func (s *Server) SeedChat(chatID string, pages [][]models.Message, recent []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return
	}
	c.Pages = pages
	c.Recent = recent
}

// ArchiveRecent rolls the oldest pageSize messages of the recent tail into a
// new highest-index history page, the way the real service ages messages out.
func (s *Server) ArchiveRecent(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return
	}
	n := s.pageSize
	if n > len(c.Recent) {
		n = len(c.Recent)
	}
	if n == 0 {
		return
	}
	page := append([]models.Message(nil), c.Recent[:n]...)
	c.Pages = append(c.Pages, page)
	c.Recent = append([]models.Message(nil), c.Recent[n:]...)
}
