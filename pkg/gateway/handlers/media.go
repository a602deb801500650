package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/gateway/apierror"
	"github.com/vango-go/vai-phone/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-phone/pkg/gateway/live/session"
	"github.com/vango-go/vai-phone/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-phone/pkg/gateway/ratelimit"
)

// MediaStreamHandler upgrades Twilio's media-stream connection and runs a
// session for the call on it.
type MediaStreamHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker
	// Limiter caps simultaneous calls per agent; nil means unlimited.
	Limiter *ratelimit.Limiter
	// Template carries the shared collaborators; the per-call fields are
	// filled in for every connection.
	Template session.Dependencies
	Upgrader websocket.Upgrader
	Logger   *slog.Logger
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := loggerOr(h.Logger)
	if h.Lifecycle.IsDraining() {
		writeError(w, r, http.StatusServiceUnavailable, apierror.ErrOverloaded, "draining", "server is draining")
		return
	}
	agentID := r.PathValue("agent_id")
	conversationID := r.PathValue("conversation_id")
	if agentID == "" || conversationID == "" {
		writeError(w, r, http.StatusBadRequest, apierror.ErrInvalidRequest, "", "agent_id and conversation_id are required")
		return
	}

	dec := h.Limiter.AcquireCall(agentID)
	if !dec.Allowed {
		logger.Warn("call limit reached", "agent_id", agentID, "conversation_id", conversationID)
		w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
		writeError(w, r, http.StatusTooManyRequests, apierror.ErrRateLimit, "too_many_calls", "too many simultaneous calls for this agent")
		return
	}
	defer dec.Permit.Release()

	upgrader := h.Upgrader
	if upgrader.CheckOrigin == nil {
		// Twilio does not send an Origin header.
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("media stream upgrade failed", "agent_id", agentID, "conversation_id", conversationID, "err", err)
		return
	}

	deps := h.Template
	deps.Conn = conn
	deps.AgentID = agentID
	deps.ConversationID = conversationID
	deps.SessionID = "s_" + randHex(8)
	if deps.Logger == nil {
		deps.Logger = logger
	}

	sess, err := session.New(deps)
	if err != nil {
		logger.Error("session init failed", "conversation_id", conversationID, "err", err)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, session.ReasonAgentConfig), deadline)
		_ = conn.Close()
		return
	}

	unregister := h.Tracker.Register(sess.ID(), sessions.Handle{
		ConversationID: conversationID,
		Cancel:         sess.Cancel,
	})
	defer unregister()

	if err := sess.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("session ended with error", "session_id", sess.ID(), "conversation_id", conversationID, "err", err)
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
