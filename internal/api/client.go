// Package api is the HTTP boundary of the chat client. It only speaks the
// service's request/response contract; all state lives in the message store.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"whispr/client/internal/config"
	"whispr/client/internal/models"
)

// TokenSource yields the bearer credential. It is consulted on every
// authenticated request so a token cleared by logout stops working immediately.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the chat service over HTTP.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: config.RequestTimeout},
		tokens: tokens,
	}
}

// RecentPage is the bulk fetch of a chat's live tail. BucketCount reports how
// many numbered history pages the server holds for the chat.
type RecentPage struct {
	Messages    []models.Message `json:"messages"`
	BucketCount int              `json:"bucket_count"`
}

// HistoryPage is one numbered history bucket.
type HistoryPage struct {
	Bucket struct {
		Index    int              `json:"index"`
		Messages []models.Message `json:"messages"`
	} `json:"bucket"`
}

// FetchRecent loads the chat's recent messages plus the history page count.
func (c *Client) FetchRecent(ctx context.Context, chatID string) (RecentPage, error) {
	var page RecentPage
	err := c.do(ctx, http.MethodGet, "/api/chat/fetch-recent-chat/"+url.PathEscape(chatID), true, nil, &page)
	return page, err
}

// FetchOlder loads the numbered history page for the chat.
func (c *Client) FetchOlder(ctx context.Context, chatID string, index int) (HistoryPage, error) {
	var page HistoryPage
	path := fmt.Sprintf("/api/chat/fetch-older-chat/%s/%d", url.PathEscape(chatID), index)
	err := c.do(ctx, http.MethodGet, path, true, nil, &page)
	return page, err
}

// UnsendRecent deletes a message still living in the recent tier.
func (c *Client) UnsendRecent(ctx context.Context, chatID, messageID string) error {
	path := fmt.Sprintf("/api/chat/unsend-recent-message/%s/%s", url.PathEscape(chatID), url.PathEscape(messageID))
	return c.do(ctx, http.MethodDelete, path, true, nil, nil)
}

// UnsendOlder deletes a message that has been archived into the numbered
// history page. The tier split mirrors the server's retention layout.
func (c *Client) UnsendOlder(ctx context.Context, chatID, messageID string, index int) error {
	path := fmt.Sprintf("/api/chat/unsend-older-message/%s/%s/%d", url.PathEscape(chatID), url.PathEscape(messageID), index)
	return c.do(ctx, http.MethodDelete, path, true, nil, nil)
}

// MarkAsSeen records the read cursor for the chat at the given timestamp.
func (c *Client) MarkAsSeen(ctx context.Context, chatID string, ts time.Time) error {
	path := fmt.Sprintf("/api/chat/mark-as-seen/%s/%s", url.PathEscape(chatID), url.PathEscape(ts.UTC().Format(time.RFC3339Nano)))
	return c.do(ctx, http.MethodPost, path, true, nil, nil)
}

// CreateChat opens (or returns) the one-to-one chat with the participant.
func (c *Client) CreateChat(ctx context.Context, participantID string) (string, error) {
	var resp struct {
		ChatID string `json:"chat_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/chat/create-chat/"+url.PathEscape(participantID), true, nil, &resp)
	return resp.ChatID, err
}

// DeleteChat removes the whole conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chat/delete-chat/"+url.PathEscape(chatID), true, nil, nil)
}

// FetchUser loads the authenticated user's profile and inbox.
func (c *Client) FetchUser(ctx context.Context) (models.UserInfo, error) {
	var info models.UserInfo
	err := c.do(ctx, http.MethodGet, "/api/user/fetch-user", true, nil, &info)
	return info, err
}

// FetchProfile loads another user's public profile.
func (c *Client) FetchProfile(ctx context.Context, profileID string) (models.Profile, error) {
	var p models.Profile
	err := c.do(ctx, http.MethodGet, "/api/user/fetch-user?profile_id="+url.QueryEscape(profileID), true, nil, &p)
	return p, err
}

// SearchUsers finds accounts by username prefix.
func (c *Client) SearchUsers(ctx context.Context, username string) ([]models.Profile, error) {
	var resp struct {
		Results []models.Profile `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, "/api/search/search-users?username="+url.QueryEscape(username), true, nil, &resp)
	return resp.Results, err
}

// Login exchanges credentials for an access token. The caller persists it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/user/login", false, body, &resp)
	return resp.AccessToken, err
}

// Signup registers an account.
func (c *Client) Signup(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/api/user/signup", false, body, nil)
}

// WebSocketURL builds the realtime endpoint for a chat, with the auth
// credential as a query parameter the way the service expects it.
func (c *Client) WebSocketURL(chatID string) (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/chat/continue-chat/" + chatID
	u.RawQuery = "authToken=" + url.QueryEscape(tok)
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("read auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
