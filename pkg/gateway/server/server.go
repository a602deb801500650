// Package server wires the phone gateway's HTTP and WebSocket routes.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/core/voice"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/handlers"
	"github.com/vango-go/vai-phone/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-phone/pkg/gateway/live/session"
	"github.com/vango-go/vai-phone/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	"github.com/vango-go/vai-phone/pkg/gateway/mw"
	"github.com/vango-go/vai-phone/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

// Deps are the collaborators built by the binary.
type Deps struct {
	Store      *store.Store
	Recorder   *voice.Recorder
	Speech     session.SpeechDialer
	Settings   session.SettingsBuilder
	Tools      session.ToolRunner
	Summarizer session.Summarizer
	Metrics    *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
	limiter   *ratelimit.Limiter
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = voice.NewRecorder(cfg.AudioDir)
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                cfg.LimitRPS,
			Burst:              cfg.LimitBurst,
			MaxConcurrentCalls: cfg.MaxCallsPerAgent,
		}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
		DB:        pinger(s.deps.Store),
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("POST /agent/{agent_id}/voice", handlers.VoiceHandler{
		Store:   s.deps.Store,
		BaseURL: s.cfg.BaseURL,
		Logger:  s.logger,
	})
	s.mux.Handle("POST /agent/{agent_id}/messages", handlers.SMSHandler{Store: s.deps.Store, Logger: s.logger})
	s.mux.Handle("POST /agent/{agent_id}/callback", handlers.CallbackHandler{Store: s.deps.Store, Logger: s.logger})

	media := handlers.MediaStreamHandler{
		Lifecycle: s.lifecycle,
		Tracker:   s.sessions,
		Limiter:   s.limiter,
		Template: session.Dependencies{
			Store:      s.deps.Store,
			Settings:   s.deps.Settings,
			Speech:     s.deps.Speech,
			Tools:      s.deps.Tools,
			Recorder:   s.deps.Recorder,
			Summarizer: s.deps.Summarizer,
			Observer:   s.deps.Metrics,
			Logger:     s.logger,
			Config: session.Config{
				ConfigSettleDelay: s.cfg.ConfigSettleDelay,
				AudioStartDelay:   s.cfg.AudioStartDelay,
				WriteTimeout:      s.cfg.WSWriteTimeout,
				PingInterval:      s.cfg.WSPingInterval,
				PersistTimeout:    s.cfg.PersistTimeout,
			},
		},
		Upgrader: websocket.Upgrader{
			HandshakeTimeout: s.cfg.WSHandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		Logger: s.logger,
	}
	s.mux.Handle("GET /agent/ws/{agent_id}/twilio/{conversation_id}", media)
	s.mux.Handle("GET /agent/ws/{agent_id}/twilio/{conversation_id}/{$}", media)

	s.mux.Handle("GET /conversations/{conversation_id}/messages/{message_id}/audio", handlers.MessageAudioHandler{
		Store:    s.deps.Store,
		Recorder: s.deps.Recorder,
		Logger:   s.logger,
	})
	s.mux.Handle("GET /conversations/{conversation_id}/recordings", handlers.RecordingsHandler{Recorder: s.deps.Recorder})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Recover(s.logger, h)
	h = mw.Observe(s.logger, s.deps.Metrics, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the live call registry for the sweeper.
func (s *Server) Sessions() *sessions.Tracker { return s.sessions }

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining logs the calls still running when drain starts.
func (s *Server) WarnLiveSessionsDraining() {
	active := s.sessions.Snapshot()
	if len(active) == 0 {
		return
	}
	s.logger.Warn("waiting for live calls to finish", "count", len(active))
	for _, a := range active {
		s.logger.Info("live call", "session_id", a.SessionID, "conversation_id", a.ConversationID, "started_at", a.StartedAt)
	}
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	n := s.sessions.CancelAll()
	if n > 0 {
		s.logger.Warn("cancelled live calls", "count", n)
	}
	return n
}

// pinger keeps a nil store from becoming a non-nil interface.
func pinger(st *store.Store) handlers.Pinger {
	if st == nil {
		return nil
	}
	return st
}
