// Package upstream implements a streaming client for a Dify-compatible
// chat-completions API. The wire format is newline-delimited "data: <json>"
// events typed message, message_replace, message_end and error, terminated
// by a literal [DONE] sentinel.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured indicates the client has no base URL.
var ErrNotConfigured = errors.New("upstream base URL not configured")

// maxLineSize bounds a single upstream event line.
const maxLineSize = 1024 * 1024

// Event types emitted by the upstream API.
const (
	EventMessage        = "message"
	EventMessageReplace = "message_replace"
	EventMessageEnd     = "message_end"
	EventError          = "error"
)

// doneSentinel ends the transmission.
const doneSentinel = "[DONE]"

// Event is one decoded upstream stream event. Fields not present on a given
// event type decode to their zero values.
type Event struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Request describes one streaming chat call.
type Request struct {
	// Query is the user's message.
	Query string
	// ConversationID continues an existing upstream conversation; empty
	// starts a new one.
	ConversationID string
	// User identifies the end user to the upstream.
	User string
	// APIKey is the bearer credential for this call.
	APIKey string
}

// chatBody is the JSON body of the chat-messages endpoint.
type chatBody struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

// Client calls the upstream chat API.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client. The timeout covers the whole streaming call.
func New(base string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Chat opens a streaming chat call. The returned Stream must be closed by
// the caller. A non-2xx response is returned as an error carrying the
// upstream body.
func (c *Client) Chat(ctx context.Context, req Request) (*Stream, error) {
	if c.base == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(chatBody{
		Inputs:         map[string]any{},
		Query:          req.Query,
		ResponseMode:   "streaming",
		ConversationID: req.ConversationID,
		User:           req.User,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.logger.Warn("upstream returned error status", "status", resp.StatusCode)
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Stream{resp: resp, scanner: sc}, nil
}

// Stream reads decoded events from one streaming response.
type Stream struct {
	resp    *http.Response
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next decoded event. It skips blank lines, lines without
// the data marker and unparsable payloads; the [DONE] sentinel and the end
// of the response both surface as io.EOF.
func (s *Stream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			s.done = true
			return Event{}, io.EOF
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		return ev, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}
