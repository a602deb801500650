package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/core/voice"
)

type readResult struct {
	mt   int
	data []byte
	err  error
}

type fakeConn struct {
	reads chan readResult

	mu       sync.Mutex
	writes   [][]byte
	controls []int
	writeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (f *fakeConn) push(frame string) {
	f.reads <- readResult{mt: websocket.TextMessage, data: []byte(frame)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-f.reads
	if !ok {
		return 0, nil, net.ErrClosed
	}
	return r.mt, r.data, r.err
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func (f *fakeConn) written() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.writes))
	for _, w := range f.writes {
		var m map[string]any
		_ = json.Unmarshal(w, &m)
		out = append(out, m)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBridge_StartMediaStop(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	buf := voice.NewAudioBuffer()
	b := NewBridge(conn, buf, Config{Logger: quietLogger()})

	conn.push(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	conn.push(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	conn.push(`{"event":"media","media":{"track":"inbound","payload":"AQID"}}`)
	conn.push(`{bad json`)
	conn.push(`{"event":"media","media":{"track":"inbound","payload":"!!!"}}`)
	conn.push(`{"event":"media","media":{"track":"inbound","payload":"BA=="}}`)
	conn.push(`{"event":"stop","stop":{"callSid":"CA1"}}`)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !b.StopReceived() {
		t.Fatalf("StopReceived()=false")
	}
	if b.CallSID() != "CA1" {
		t.Fatalf("call sid=%q", b.CallSID())
	}

	ctx := context.Background()
	first, err := buf.Dequeue(ctx)
	if err != nil || string(first) != "\x01\x02\x03" {
		t.Fatalf("first=%v err=%v", first, err)
	}
	second, err := buf.Dequeue(ctx)
	if err != nil || string(second) != "\x04" {
		t.Fatalf("second=%v err=%v", second, err)
	}
	if _, err := buf.Dequeue(ctx); !errors.Is(err, voice.ErrBufferStopped) {
		t.Fatalf("err=%v, want stop marker after stop event", err)
	}

	sid, err := b.sid.Take(ctx)
	if err != nil || sid != "MZ1" {
		t.Fatalf("sid=%q err=%v", sid, err)
	}
}

func TestBridge_SendAudioReusesStreamSID(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})
	b.sid.Set("MZ7")

	ctx := context.Background()
	if err := b.SendAudio(ctx, []byte{0xFF}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := b.SendAudio(ctx, []byte{0x7F}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := b.SendClear(ctx); err != nil {
		t.Fatalf("SendClear: %v", err)
	}

	writes := conn.written()
	if len(writes) != 3 {
		t.Fatalf("writes=%d, want 3", len(writes))
	}
	media := writes[0]["media"].(map[string]any)
	if writes[0]["event"] != "media" || writes[0]["streamSid"] != "MZ7" || media["payload"] != "/w==" {
		t.Fatalf("media frame=%v", writes[0])
	}
	if writes[1]["streamSid"] != "MZ7" {
		t.Fatalf("second frame lost stream sid: %v", writes[1])
	}
	if writes[2]["event"] != "clear" || writes[2]["streamSid"] != "MZ7" {
		t.Fatalf("clear frame=%v", writes[2])
	}
}

func TestBridge_SendWaitsForStart(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})

	done := make(chan error, 1)
	go func() { done <- b.SendAudio(context.Background(), []byte{1}) }()

	select {
	case <-done:
		t.Fatalf("SendAudio returned before stream sid was known")
	case <-time.After(20 * time.Millisecond):
	}
	b.sid.Set("MZ2")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendAudio did not resume after start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	empty := NewBridge(newFakeConn(), voice.NewAudioBuffer(), Config{Logger: quietLogger()})
	if err := empty.SendAudio(ctx, []byte{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestBridge_WriteFailureStopsSending(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.writeErr = websocket.ErrCloseSent
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})
	b.sid.Set("MZ3")

	ctx := context.Background()
	if err := b.SendAudio(ctx, []byte{1}); err != nil {
		t.Fatalf("SendAudio returned %v, want failure swallowed", err)
	}
	conn.mu.Lock()
	conn.writeErr = nil
	conn.mu.Unlock()
	if err := b.SendAudio(ctx, []byte{2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if n := len(conn.written()); n != 0 {
		t.Fatalf("writes=%d after failure, want 0", n)
	}
}

func TestBridge_CloseIsIdempotentAndEndsRun(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	if err := b.Close(websocket.ClosePolicyViolation, "Business not available"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Close")
	}
	conn.mu.Lock()
	controls := len(conn.controls)
	conn.mu.Unlock()
	if controls != 1 {
		t.Fatalf("close frames=%d, want 1", controls)
	}
}

func TestBridge_CallerDropIsNotAnError(t *testing.T) {
	t.Parallel()
	for _, code := range []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure} {
		conn := newFakeConn()
		b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})
		conn.reads <- readResult{err: &websocket.CloseError{Code: code}}
		if err := b.Run(context.Background()); err != nil {
			t.Fatalf("code %d: Run returned %v, want nil", code, err)
		}
	}
}

func TestBridge_UnexpectedReadErrorIsReturned(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})
	conn.reads <- readResult{err: &websocket.CloseError{Code: websocket.CloseInternalServerErr}}

	if err := b.Run(context.Background()); err == nil {
		t.Fatalf("expected error for abnormal close")
	}
}

func TestStreamSID_SetReplaces(t *testing.T) {
	t.Parallel()
	s := NewStreamSID()
	s.Set("a")
	s.Set("b")
	ctx := context.Background()
	err := s.Use(ctx, func(sid string) error {
		if sid != "b" {
			t.Fatalf("sid=%q, want b", sid)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if sid, _ := s.Take(ctx); sid != "b" {
		t.Fatalf("sid=%q after Use, want value given back", sid)
	}
}

func TestBridge_KeepaliveSendsPings(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	b := NewBridge(conn, voice.NewAudioBuffer(), Config{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Keepalive(ctx, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.controls)
		conn.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pings=%d, want at least 2", n)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.controls[0] != websocket.PingMessage {
		t.Fatalf("control=%d, want ping", conn.controls[0])
	}
}
