// Package auth covers the client's slice of authentication: durable storage
// for the bearer token and identity extraction from its claims. Verification
// is the server's job; the client only needs to know who it is.
package auth

import (
	"errors"
	"os"
	"strings"
	"sync"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no credential is stored (logged out).
var ErrNoToken = errors.New("no auth token stored")

// FileTokenStore keeps the auth token in a file, the client's durable local
// storage. The file is re-read on every Token call so a logout from another
// process is picked up immediately.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileTokenStore uses path as the token's storage location.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Token returns the stored credential.
func (s *FileTokenStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Save persists a fresh credential (login).
func (s *FileTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, []byte(token+"\n"), 0o600)
}

// Clear removes the credential (logout). Clearing an empty store is fine.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// UserID extracts the user id claim from the token without verifying the
// signature - the server verifies, the client just reads its own identity.
func UserID(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", err
	}
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", errors.New("token has no user_id claim")
	}
	return id, nil
}
