package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"liveroom/internal/api"
	"liveroom/internal/logger"
	"liveroom/pkg/types"
)

// Client talks to a liveroom server on behalf of one user in one room and
// satisfies interfaces.Store, so an engine can run against it unchanged.
type Client struct {
	baseURL    *url.URL
	room       string
	userID     string
	httpClient *http.Client
	log        *logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used by Watch.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackoff bounds the delay between change-feed reconnect attempts.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = limit
	}
}

// New validates the addressing and returns a client for room as userID.
func New(baseURL, room, userID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if !types.IsValidRoomID(room) {
		return nil, types.ErrInvalidRoomID
	}
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}

	c := &Client{
		baseURL:    u,
		room:       room,
		userID:     userID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrNop(c.log).With("component", "remote", "room", room)
	return c, nil
}

func (c *Client) roomPath(suffix string) string {
	return "/api/rooms/" + url.PathEscape(c.room) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.UserIDHeader, c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return &APIError{Status: resp.StatusCode, Reason: apiErr.Reason, Message: apiErr.Message}
		}
		return &APIError{Status: resp.StatusCode, Reason: "internal", Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) ListInteractions(ctx context.Context, statuses []types.InteractionStatus) ([]types.InteractionRecord, error) {
	path := c.roomPath("/interactions")
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		path += "?status=" + url.QueryEscape(strings.Join(parts, ","))
	}
	var out api.InteractionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Interactions, nil
}

func (c *Client) InsertInteraction(ctx context.Context, record *types.InteractionRecord) error {
	var out api.InteractionResponse
	err := c.do(ctx, http.MethodPost, c.roomPath("/interactions"), api.CreateInteractionRequest{
		ParticipantID: record.ParticipantID,
		DisplayName:   record.DisplayName,
	}, &out)
	if err != nil {
		return err
	}
	if out.Interaction != nil {
		*record = *out.Interaction
	}
	return nil
}

func (c *Client) UpdateInteractionStatus(ctx context.Context, id string, status types.InteractionStatus) error {
	return c.do(ctx, http.MethodPatch, c.roomPath("/interactions/"+url.PathEscape(id)),
		api.UpdateInteractionRequest{Status: status}, nil)
}

func (c *Client) BulkEndWaiting(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.roomPath("/interactions/end-waiting"), nil, nil)
}

func (c *Client) ListRecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	var out api.MessagesResponse
	path := c.roomPath("/messages?limit=" + strconv.Itoa(limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) InsertMessage(ctx context.Context, message *types.ChatMessage) error {
	var out api.MessageResponse
	err := c.do(ctx, http.MethodPost, c.roomPath("/messages"), api.CreateMessageRequest{
		AuthorID:   message.AuthorID,
		AuthorName: message.AuthorName,
		AuthorRole: message.AuthorRole,
		Body:       message.Body,
		IsQuestion: message.IsQuestion,
	}, &out)
	if err != nil {
		return err
	}
	if out.Message != nil {
		message.ID = out.Message.ID
		message.RoomID = out.Message.RoomID
		message.CreatedAt = out.Message.CreatedAt
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
