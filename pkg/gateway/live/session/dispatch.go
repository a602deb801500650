package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/tools"
)

const unexpectedEndMessage = "Call ended unexpectedly"

// receiveSpeech dispatches voice agent events until the connection closes.
// Per-event failures are logged and never end the loop.
func (s *Session) receiveSpeech(ctx context.Context) error {
	s.logger.Info("speech receiver started")
	defer s.logger.Info("speech receiver stopped")

	for {
		ev, err := s.speech.Receive()
		if err != nil {
			if errors.Is(err, deepgram.ErrMalformedEvent) {
				s.logger.Warn("invalid speech provider frame", "err", err)
				continue
			}
			return s.speechClosed(ctx, err)
		}
		s.dispatch(ctx, ev)
	}
}

func (s *Session) speechClosed(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, deepgram.ErrClosed) {
		return nil
	}
	if code, ok := deepgram.CloseCode(err); ok {
		if deepgram.ExpectedClose(code) {
			s.logger.Info("speech provider closed the connection", "code", code)
			return nil
		}
		s.logger.Warn("speech provider closed unexpectedly", "code", code, "err", err)
		s.recordSystemMessage(unexpectedEndMessage)
		return nil
	}
	s.recordSystemMessage(unexpectedEndMessage)
	return fmt.Errorf("receive speech event: %w", err)
}

func (s *Session) dispatch(ctx context.Context, ev deepgram.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("speech event handler panic", "type", string(ev.Type), "panic", rec)
		}
	}()

	switch ev.Type {
	case deepgram.EventConversationText:
		s.handleConversationText(ctx, ev)
	case deepgram.EventFunctionCallRequest:
		s.handleFunctionCall(ctx, ev)
	case deepgram.EventUserStartedSpeaking:
		s.logger.Info("user started speaking")
		if err := s.bridge.SendClear(ctx); err != nil {
			s.logger.Debug("send clear skipped", "err", err)
		}
	case deepgram.EventAudio:
		s.buffer.AppendAgentAudio(ev.Audio)
		if err := s.bridge.SendAudio(ctx, ev.Audio); err != nil {
			s.logger.Debug("send agent audio skipped", "err", err)
		}
	case deepgram.EventWelcome, deepgram.EventSettingsApplied:
		s.logger.Info("speech provider event", "type", string(ev.Type))
	case deepgram.EventError:
		s.logger.Error("speech provider error", "code", ev.Code, "description", ev.Description)
	case deepgram.EventWarning:
		s.logger.Warn("speech provider warning", "code", ev.Code, "description", ev.Description)
	default:
		s.logger.Debug("speech provider event", "type", string(ev.Type))
	}
}

// handleConversationText stores the utterance, then saves the matching audio
// in the background against the committed message id.
func (s *Session) handleConversationText(ctx context.Context, ev deepgram.Event) {
	msg, err := s.store.AddMessage(context.WithoutCancel(ctx), store.NewMessage{
		ConversationID: s.conversationID,
		Role:           ev.Role,
		Content:        ev.Content,
	})
	if errors.Is(err, store.ErrEmptyContent) {
		s.logger.Debug("empty conversation text skipped", "role", ev.Role)
		return
	}
	if err != nil {
		s.logger.Error("persist message failed", "role", ev.Role, "err", err)
		return
	}
	s.logger.Info("message stored", "role", msg.Role, "message_id", msg.ID, "sequence", msg.SequenceNumber)
	if s.observer != nil {
		s.observer.MessagePersisted(msg.Role)
	}

	var audio []byte
	switch msg.Role {
	case store.RoleUser:
		audio = s.buffer.TakeCallerAudio()
	case store.RoleAssistant:
		audio = s.buffer.TakeAgentAudio()
	}
	if len(audio) == 0 {
		return
	}
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		s.saveAudio(msg.ID, audio)
	}()
}

func (s *Session) saveAudio(messageID string, audio []byte) {
	path, err := s.recorder.Save(s.conversationID, messageID, audio)
	if err != nil {
		s.logger.Error("save message audio failed", "message_id", messageID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.store.AttachAudio(ctx, messageID, path); err != nil {
		s.logger.Error("attach message audio failed", "message_id", messageID, "err", err)
		return
	}
	s.logger.Debug("message audio saved", "message_id", messageID, "path", path, "bytes", len(audio))
}

// handleFunctionCall runs the first requested function and always answers
// with a FunctionCallResponse.
func (s *Session) handleFunctionCall(ctx context.Context, ev deepgram.Event) {
	if len(ev.Functions) == 0 {
		s.logger.Warn("function call request without functions")
		return
	}
	fn := ev.Functions[0]

	args, err := fn.Args()
	if err != nil {
		s.logger.Warn("invalid function arguments", "function", fn.Name, "err", err)
	}
	s.logger.Info("function call requested", "function", fn.Name, "function_call_id", fn.ID)

	result := s.tools.Execute(context.WithoutCancel(ctx), tools.ExecuteRequest{
		ConversationID: s.conversationID,
		AgentID:        s.agentID,
		Name:           fn.Name,
		Arguments:      args,
	})
	hangup := tools.ShouldClose(result)

	payload := make(map[string]any, len(result))
	for k, v := range result {
		if k == tools.TriggerCloseKey {
			continue
		}
		payload[k] = v
	}
	content, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode function result failed", "function", fn.Name, "err", err)
		content, _ = json.Marshal(map[string]any{"success": false, "error": err.Error()})
	}
	if err := s.speech.SendFunctionCallResponse(fn.ID, fn.Name, string(content)); err != nil {
		s.logger.Warn("send function call response failed", "function", fn.Name, "err", err)
		return
	}
	if hangup {
		s.logger.Info("hangup requested by agent", "reason", result["reason"])
		if err := s.speech.SendClose(); err != nil {
			s.logger.Warn("send close failed", "err", err)
		}
	}
}

func (s *Session) recordSystemMessage(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	_, err := s.store.AddMessage(ctx, store.NewMessage{
		ConversationID: s.conversationID,
		Role:           store.RoleSystem,
		Content:        content,
		MessageType:    store.MessageTypeSystem,
	})
	if err != nil {
		s.logger.Error("persist system message failed", "err", err)
		return
	}
	if s.observer != nil {
		s.observer.MessagePersisted(store.RoleSystem)
	}
}
