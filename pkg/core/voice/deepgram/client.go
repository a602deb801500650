// Package deepgram speaks the Deepgram voice agent WebSocket protocol.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://agent.deepgram.com/v1/agent/converse"

// CloseHangup is the code the provider uses when the agent ends the call.
const CloseHangup = websocket.CloseAbnormalClosure

var (
	ErrMissingAPIKey = errors.New("deepgram api key is required")
	ErrClosed        = errors.New("deepgram connection closed")
)

type ClientConfig struct {
	APIKey           string
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg}
}

// Connect opens an authenticated agent connection. The API key travels as the
// second WebSocket subprotocol.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	key := strings.TrimSpace(c.cfg.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     []string{"token", key},
	}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Conn{ws: ws, writeTimeout: c.cfg.WriteTimeout, logger: c.cfg.Logger}, nil
}

// Conn is one live agent connection. Sends are safe for concurrent use;
// Receive must be called from a single goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Configure sends Settings and then waits settle for the provider to apply
// them. The wait is cut short if ctx ends.
func (c *Conn) Configure(ctx context.Context, s Settings, settle time.Duration) error {
	if err := c.SendSettings(s); err != nil {
		return err
	}
	c.logger.Debug("deepgram settings sent", "functions", len(s.Agent.Think.Functions), "settle", settle)
	if settle <= 0 {
		return nil
	}
	t := time.NewTimer(settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Conn) SendSettings(s Settings) error {
	if s.Type == "" {
		s.Type = "Settings"
	}
	return c.writeJSON(s)
}

func (c *Conn) SendAudio(chunk []byte) error {
	return c.write(websocket.BinaryMessage, chunk)
}

func (c *Conn) SendFunctionCallResponse(id, name, content string) error {
	return c.writeJSON(FunctionCallResponse{Type: "FunctionCallResponse", ID: id, Name: name, Content: content})
}

// SendClose asks the provider to end the conversation.
func (c *Conn) SendClose() error {
	return c.writeJSON(map[string]string{"type": "Close"})
}

// Receive blocks for the next frame. Malformed text frames return an error
// wrapping ErrMalformedEvent and leave the connection usable.
func (c *Conn) Receive() (Event, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return Event{}, ErrClosed
			}
			return Event{}, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return Event{Type: EventAudio, Audio: data}, nil
		case websocket.TextMessage:
			return ParseEvent(data)
		}
	}
}

// Close sends a normal close frame and releases the connection. Safe to call
// more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.write(websocket.TextMessage, payload)
}

func (c *Conn) write(messageType int, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// CloseCode extracts the close code from a Receive error.
func CloseCode(err error) (int, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// ExpectedClose reports whether code ends a call without error: a normal
// closure or the provider's hangup code.
func ExpectedClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == CloseHangup
}
