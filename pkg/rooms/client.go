package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hivechat/callbridge/pkg/callerr"
)

// Config holds chat backend client configuration
type Config struct {
	// BaseURL is the chat backend base URL, e.g. "http://chat:4000"
	BaseURL string

	// ServiceToken authenticates the bridge itself for event pushes
	ServiceToken string

	// Timeout bounds each request to the chat backend
	Timeout time.Duration
}

// Client is the HTTP implementation of Resolver and ChatNotifier against
// the chat backend's internal API
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new chat backend client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chat backend base URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Members resolves room membership via the chat backend.
// GET /internal/rooms/{roomID}/members
func (c *Client) Members(ctx context.Context, roomID, credential string) ([]Member, error) {
	endpoint := fmt.Sprintf("%s/internal/rooms/%s/members", c.config.BaseURL, url.PathEscape(roomID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, callerr.Upstream(callerr.CodeResolveMembers, "build membership request", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, callerr.Upstream(callerr.CodeResolveMembers, "membership request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, callerr.Upstream(callerr.CodeResolveMembers, "membership lookup rejected",
			fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out struct {
		Members []Member `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, callerr.Upstream(callerr.CodeResolveMembers, "decode membership response", err)
	}
	return out.Members, nil
}

// PushEvent sends an informational event into a chat room, authenticated
// as the bridge service. Used for push-notification fan-out on call start.
// POST /internal/rooms/{roomID}/events
func (c *Client) PushEvent(ctx context.Context, roomID, eventType string, content map[string]any) error {
	endpoint := fmt.Sprintf("%s/internal/rooms/%s/events", c.config.BaseURL, url.PathEscape(roomID))

	payload, err := json.Marshal(map[string]any{
		"type":    eventType,
		"content": content,
	})
	if err != nil {
		return callerr.Upstream(callerr.CodeChatPush, "encode chat event", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return callerr.Upstream(callerr.CodeChatPush, "build chat event request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.ServiceToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return callerr.Upstream(callerr.CodeChatPush, "chat event push failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return callerr.Upstream(callerr.CodeChatPush, "chat event push rejected",
			fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	return nil
}
