package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/core/voice"
)

// Conn is the subset of *websocket.Conn the bridge needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Config struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Bridge reads the Twilio media stream into an AudioBuffer and writes agent
// audio back to the caller.
type Bridge struct {
	conn         Conn
	buffer       *voice.AudioBuffer
	sid          *StreamSID
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu     sync.Mutex
	running     atomic.Bool
	stopSending atomic.Bool
	closed      atomic.Bool
	stopped     atomic.Bool

	callMu  sync.Mutex
	callSID string
}

func NewBridge(conn Conn, buffer *voice.AudioBuffer, cfg Config) *Bridge {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		conn:         conn,
		buffer:       buffer,
		sid:          NewStreamSID(),
		logger:       cfg.Logger,
		writeTimeout: cfg.WriteTimeout,
	}
	b.running.Store(true)
	return b
}

// CallSID returns the call id from the start event, if seen.
func (b *Bridge) CallSID() string {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	return b.callSID
}

// StopReceived reports whether Twilio sent a stop event.
func (b *Bridge) StopReceived() bool { return b.stopped.Load() }

// Run consumes inbound frames until Twilio sends stop, the socket closes, or
// Stop is called. Malformed frames are logged and skipped.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.running.Store(false)
	b.logger.Info("twilio receiver started")
	defer b.logger.Info("twilio receiver stopped")

	for b.running.Load() {
		if ctx.Err() != nil {
			return nil
		}
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			if b.closed.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Twilio hangs up with a close frame; a dropped caller leg shows up as 1006.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Info("twilio stream closed", "err", err)
				return nil
			}
			return fmt.Errorf("read twilio frame: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("invalid twilio frame", "err", err)
			continue
		}
		b.handle(frame)
	}
	return nil
}

func (b *Bridge) handle(frame inboundFrame) {
	switch frame.Event {
	case EventStart:
		if frame.Start == nil {
			b.logger.Warn("twilio start without payload")
			return
		}
		sid := frame.Start.StreamSID
		if sid == "" {
			sid = frame.StreamSID
		}
		b.sid.Set(sid)
		b.callMu.Lock()
		b.callSID = frame.Start.CallSID
		b.callMu.Unlock()
		b.logger.Info("twilio call started", "stream_sid", sid, "call_sid", frame.Start.CallSID)
	case EventMedia:
		if frame.Media == nil {
			return
		}
		if frame.Media.Track != "" && frame.Media.Track != "inbound" {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil {
			b.logger.Warn("invalid twilio media payload", "err", err)
			return
		}
		b.buffer.Enqueue(chunk)
	case EventStop:
		b.logger.Info("twilio stop received")
		b.stopped.Store(true)
		b.running.Store(false)
		b.buffer.SignalStop()
	case EventConnected, EventMark:
		b.logger.Debug("twilio event", "event", frame.Event)
	case EventDTMF:
		if frame.DTMF != nil {
			b.logger.Info("twilio dtmf", "digit", frame.DTMF.Digit)
		}
	default:
		b.logger.Debug("unhandled twilio event", "event", frame.Event)
	}
}

// SendAudio forwards agent audio to the caller. It waits for the stream id if
// the start event has not arrived yet. Write failures are logged and stop
// further sends; they are not returned.
func (b *Bridge) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return b.send(ctx, "media", func(sid string) any {
		return outboundMedia{
			Event:     "media",
			StreamSID: sid,
			Media:     outboundMediaChunk{Payload: base64.StdEncoding.EncodeToString(audio)},
		}
	})
}

// SendClear asks Twilio to discard audio it has queued for playback.
func (b *Bridge) SendClear(ctx context.Context) error {
	return b.send(ctx, "clear", func(sid string) any {
		return outboundClear{Event: "clear", StreamSID: sid}
	})
}

func (b *Bridge) send(ctx context.Context, kind string, build func(sid string) any) error {
	if !b.running.Load() || b.stopSending.Load() || b.closed.Load() {
		b.logger.Debug("twilio send skipped", "kind", kind)
		return nil
	}
	return b.sid.Use(ctx, func(sid string) error {
		payload, err := json.Marshal(build(sid))
		if err != nil {
			return fmt.Errorf("marshal %s frame: %w", kind, err)
		}
		if err := b.write(payload); err != nil {
			b.stopSending.Store(true)
			b.logger.Warn("twilio send failed, stopping outbound audio", "kind", kind, "err", err)
		}
		return nil
	})
}

func (b *Bridge) write(payload []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, payload)
}

// Keepalive pings the caller socket every interval until ctx ends or a ping
// fails.
func (b *Bridge) Keepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b.closed.Load() {
			return
		}
		b.writeMu.Lock()
		err := b.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(b.writeTimeout))
		b.writeMu.Unlock()
		if err != nil {
			b.logger.Debug("twilio ping failed", "err", err)
			return
		}
	}
}

// Stop ends the receive loop after the current frame and disables sends.
func (b *Bridge) Stop() {
	b.running.Store(false)
	b.stopSending.Store(true)
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call has an effect.
func (b *Bridge) Close(code int, reason string) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(b.writeTimeout))
	b.writeMu.Unlock()
	return b.conn.Close()
}
