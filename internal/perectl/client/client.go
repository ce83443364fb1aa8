// Package client is the perectl-side client for the peregrined daemon: a
// WebSocket stream connection plus small REST helpers.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// Client talks to a peregrined daemon.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Stream is one live WebSocket connection to the daemon.
type Stream struct {
	ws *websocket.Conn
}

// Dial opens the WebSocket stream endpoint.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/ws"

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %w: %s", u.String(), err, string(body))
		}
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return &Stream{ws: ws}, nil
}

// Send writes one command to the daemon.
func (s *Stream) Send(cmd *entity.ClientCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// Recv reads the next event from the daemon. It blocks until an event
// arrives or the connection dies.
func (s *Stream) Recv() (*entity.Event, error) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		var ev entity.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			// Skip frames we cannot decode rather than killing the stream.
			continue
		}
		return &ev, nil
	}
}

// Close tears down the socket.
func (s *Stream) Close() error {
	return s.ws.Close()
}

// --- REST helpers ---

// ConversationSummary mirrors the daemon's conversation response.
type ConversationSummary struct {
	ID        string             `json:"id"`
	Title     string             `json:"title,omitempty"`
	TurnCount int                `json:"turn_count"`
	Usage     *entity.TokenUsage `json:"usage,omitempty"`
	CostUSD   float64            `json:"cost_usd,omitempty"`
	Active    bool               `json:"active"`
	CreatedAt string             `json:"created_at"`
	UpdatedAt string             `json:"updated_at"`
}

// TranscriptMessage mirrors the daemon's transcript row response.
type TranscriptMessage struct {
	ID            string                `json:"id"`
	Role          entity.Role           `json:"role"`
	Content       []entity.ContentBlock `json:"content"`
	ParentBlockID string                `json:"parent_block_id,omitempty"`
	Synthetic     bool                  `json:"synthetic,omitempty"`
	Final         bool                  `json:"final"`
	Timestamp     string                `json:"timestamp"`
}

// ListConversations fetches the conversation registry.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Data []ConversationSummary `json:"data"`
	}
	if err := c.get(ctx, "/v1/conversations", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetConversation fetches one registry row.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationSummary, error) {
	var out ConversationSummary
	if err := c.get(ctx, "/v1/conversations/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches a conversation's transcript in emission order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]TranscriptMessage, error) {
	var out struct {
		Data []TranscriptMessage `json:"data"`
	}
	if err := c.get(ctx, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Abort requests cancellation of the conversation's in-flight turn.
func (c *Client) Abort(ctx context.Context, conversationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/conversations/"+url.PathEscape(conversationID)+"/abort", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
