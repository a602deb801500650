package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-phone/pkg/gateway/apierror"
	"github.com/vango-go/vai-phone/pkg/gateway/mw"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

var errPhoneMismatch = errors.New("phone number mismatch")

// WebhookStore is the persistence used by the Twilio webhooks.
type WebhookStore interface {
	GetActiveAgent(ctx context.Context, agentID string) (store.Agent, error)
	CreateConversation(ctx context.Context, in store.NewConversation) (store.Conversation, error)
	AddMessage(ctx context.Context, in store.NewMessage) (store.Message, error)
}

// validateAgent returns the agent when it is active and owns the dialed
// number.
func validateAgent(ctx context.Context, st WebhookStore, agentID, to string) (store.Agent, error) {
	agent, err := st.GetActiveAgent(ctx, agentID)
	if err != nil {
		return store.Agent{}, err
	}
	if strings.TrimSpace(to) != agent.Phone() {
		return store.Agent{}, errPhoneMismatch
	}
	return agent, nil
}

// VoiceHandler answers an incoming call with TwiML that connects the call
// audio to the media-stream WebSocket.
type VoiceHandler struct {
	Store   WebhookStore
	BaseURL string
	Logger  *slog.Logger
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerOr(h.Logger)
	agentID := r.PathValue("agent_id")
	if err := r.ParseForm(); err != nil {
		writeTwiML(w, twimlResponse{Say: &twimlSay{Voice: sayVoice, Text: msgInvalidRequest}})
		return
	}
	callSID := r.PostForm.Get("CallSid")
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")
	logger.Info("incoming call", "agent_id", agentID, "call_sid", callSID)

	agent, err := validateAgent(r.Context(), h.Store, agentID, to)
	if err != nil {
		logger.Warn("call rejected", "agent_id", agentID, "call_sid", callSID, "err", err)
		text := msgCallUnavailable
		if errors.Is(err, errPhoneMismatch) {
			text = msgInvalidRequest
		}
		writeTwiML(w, twimlResponse{Say: &twimlSay{Voice: sayVoice, Text: text}})
		return
	}

	conv, err := h.Store.CreateConversation(r.Context(), store.NewConversation{
		AgentID:     agent.ID,
		Type:        store.ConversationTypeVoice,
		CallerPhone: from,
		TwilioSID:   callSID,
	})
	if err != nil {
		logger.Error("create conversation failed", "agent_id", agentID, "call_sid", callSID, "err", err)
		writeTwiML(w, twimlResponse{Say: &twimlSay{Voice: sayVoice, Text: msgCallUnavailable}})
		return
	}

	url := streamURL(h.BaseURL, r.Host, agent.ID, conv.ID)
	logger.Info("call connected", "agent_id", agentID, "conversation_id", conv.ID, "stream_url", url)
	writeTwiML(w, twimlResponse{Connect: &twimlConnect{Stream: twimlStream{URL: url}}})
}

// SMSHandler records an inbound text as a new message conversation.
type SMSHandler struct {
	Store  WebhookStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (h SMSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerOr(h.Logger)
	agentID := r.PathValue("agent_id")
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, apierror.ErrInvalidRequest, "", "invalid form body")
		return
	}
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")
	body := r.PostForm.Get("Body")
	messageSID := r.PostForm.Get("MessageSid")
	for _, f := range []struct{ name, val string }{{"From", from}, {"To", to}, {"Body", body}, {"MessageSid", messageSID}} {
		if strings.TrimSpace(f.val) == "" {
			writeError(w, r, http.StatusBadRequest, apierror.ErrInvalidRequest, "missing_field", f.name+" is required")
			return
		}
	}

	agent, err := validateAgent(r.Context(), h.Store, agentID, to)
	if err != nil {
		logger.Warn("sms rejected", "agent_id", agentID, "message_sid", messageSID, "err", err)
		text := msgTextUnavailable
		if errors.Is(err, errPhoneMismatch) {
			text = msgInvalidRequest
		}
		writeTwiML(w, twimlResponse{Message: text})
		return
	}

	conv, err := h.Store.CreateConversation(r.Context(), store.NewConversation{
		AgentID:     agent.ID,
		Type:        store.ConversationTypeMessage,
		CallerPhone: from,
		TwilioSID:   messageSID,
	})
	if err != nil {
		logger.Error("create conversation failed", "agent_id", agentID, "message_sid", messageSID, "err", err)
		reqID, _ := mw.RequestIDFrom(r.Context())
		apierror.WriteError(w, err, reqID)
		return
	}
	if _, err := h.Store.AddMessage(r.Context(), store.NewMessage{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        body,
		MessageType:    store.MessageTypeConversation,
	}); err != nil {
		logger.Error("store sms failed", "conversation_id", conv.ID, "err", err)
		reqID, _ := mw.RequestIDFrom(r.Context())
		apierror.WriteError(w, err, reqID)
		return
	}

	logger.Info("sms received", "agent_id", agentID, "conversation_id", conv.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "SMS received",
		"conversation_id": conv.ID,
		"agent_id":        agentID,
		"timestamp":       nowOr(h.Now)().Format(time.RFC3339),
	})
}

// CallbackHandler acknowledges Twilio status callbacks.
type CallbackHandler struct {
	Store  WebhookStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (h CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	ts := nowOr(h.Now)().Format(time.RFC3339)

	if _, err := h.Store.GetActiveAgent(r.Context(), agentID); err != nil {
		loggerOr(h.Logger).Warn("callback rejected", "agent_id", agentID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "callback rejected",
			"reason":    "business not available",
			"agent_id":  agentID,
			"timestamp": ts,
		})
		return
	}

	_ = r.ParseForm()
	data := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		data[k] = r.PostForm.Get(k)
	}
	loggerOr(h.Logger).Info("callback received", "agent_id", agentID, "call_status", data["CallStatus"])
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "callback received",
		"agent_id":  agentID,
		"data":      data,
		"timestamp": ts,
	})
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func nowOr(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
