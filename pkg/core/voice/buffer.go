// Package voice carries telephony audio: the inbound buffer, mu-law
// decoding and per-message WAV recordings.
package voice

import (
	"context"
	"errors"
	"sync"
)

// ErrBufferStopped is returned by Dequeue once the stop marker is reached.
var ErrBufferStopped = errors.New("audio buffer stopped")

// AudioBuffer decouples inbound telephony audio from the speech provider.
//
// Enqueued chunks flow through an unbounded FIFO to a single consumer and are
// also kept in a caller-audio list for recording. Agent audio is collected in
// a separate list. The recording lists are handed off with TakeCallerAudio and
// TakeAgentAudio whenever a turn is persisted.
type AudioBuffer struct {
	mu      sync.Mutex
	queue   [][]byte
	stopped bool
	notify  chan struct{}

	caller []byte
	agent  []byte
}

func NewAudioBuffer() *AudioBuffer {
	return &AudioBuffer{notify: make(chan struct{}, 1)}
}

// Enqueue never blocks. Empty chunks and chunks arriving after SignalStop are
// dropped; the return value reports whether the chunk was queued.
func (b *AudioBuffer) Enqueue(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, chunk)
	b.caller = append(b.caller, chunk...)
	b.mu.Unlock()
	b.wake()
	return true
}

// Dequeue blocks until a chunk is available. Chunks queued before SignalStop
// are still delivered; after the last one it returns ErrBufferStopped.
func (b *AudioBuffer) Dequeue(ctx context.Context) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			chunk := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return chunk, nil
		}
		stopped := b.stopped
		b.mu.Unlock()
		if stopped {
			return nil, ErrBufferStopped
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// SignalStop places the stop marker. Calling it more than once is harmless.
func (b *AudioBuffer) SignalStop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.wake()
}

func (b *AudioBuffer) AppendAgentAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	b.agent = append(b.agent, chunk...)
	b.mu.Unlock()
}

// TakeCallerAudio returns the accumulated caller audio and clears it.
func (b *AudioBuffer) TakeCallerAudio() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.caller
	b.caller = nil
	return out
}

// TakeAgentAudio returns the accumulated agent audio and clears it.
func (b *AudioBuffer) TakeAgentAudio() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.agent
	b.agent = nil
	return out
}

// Reset drops queued chunks and both recording lists.
func (b *AudioBuffer) Reset() {
	b.mu.Lock()
	b.queue = nil
	b.caller = nil
	b.agent = nil
	b.mu.Unlock()
}

func (b *AudioBuffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
