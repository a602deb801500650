// Package session runs one phone call: it bridges the Twilio media stream to a
// Deepgram voice agent and persists what is said.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/core/voice"
	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
	"github.com/vango-go/vai-phone/pkg/gateway/live/twilio"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/tools"
)

// Close reasons sent to Twilio when a call cannot start.
const (
	ReasonBusinessUnavailable = "Business not available"
	ReasonConversationMissing = "Conversation not found"
	ReasonAgentConfig         = "Agent configuration error"
	ReasonSpeechUnavailable   = "Speech service unavailable"
)

const (
	taskAudioSender       = "audio_sender"
	taskSpeechReceiver    = "speech_receiver"
	taskTelephonyReceiver = "telephony_receiver"
)

type Store interface {
	GetActiveAgent(ctx context.Context, agentID string) (store.Agent, error)
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	AddMessage(ctx context.Context, in store.NewMessage) (store.Message, error)
	AttachAudio(ctx context.Context, messageID, path string) error
	EndConversation(ctx context.Context, conversationID string) (store.Conversation, error)
}

type SettingsBuilder interface {
	Build(ctx context.Context, agent store.Agent, conversation store.Conversation) (deepgram.Settings, error)
}

// SpeechConn is one voice agent connection.
type SpeechConn interface {
	Configure(ctx context.Context, s deepgram.Settings, settle time.Duration) error
	SendAudio(chunk []byte) error
	SendFunctionCallResponse(id, name, content string) error
	SendClose() error
	Receive() (deepgram.Event, error)
	Close() error
}

type SpeechDialer interface {
	Connect(ctx context.Context) (SpeechConn, error)
}

// DeepgramDialer adapts a deepgram.Client to SpeechDialer.
type DeepgramDialer struct {
	Client *deepgram.Client
}

func (d DeepgramDialer) Connect(ctx context.Context) (SpeechConn, error) {
	if d.Client == nil {
		return nil, fmt.Errorf("deepgram client is nil")
	}
	conn, err := d.Client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type ToolRunner interface {
	Execute(ctx context.Context, req tools.ExecuteRequest) map[string]any
}

// Summarizer queues a post-call summary. It must not block.
type Summarizer interface {
	Schedule(conversationID string)
}

type Observer interface {
	SessionStarted()
	SessionFinished(outcome string, elapsed time.Duration)
	MessagePersisted(role string)
}

type Config struct {
	ConfigSettleDelay time.Duration
	AudioStartDelay   time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	PersistTimeout    time.Duration
}

type Dependencies struct {
	Conn       twilio.Conn
	Store      Store
	Settings   SettingsBuilder
	Speech     SpeechDialer
	Tools      ToolRunner
	Recorder   *voice.Recorder
	Summarizer Summarizer
	Observer   Observer
	Logger     *slog.Logger

	SessionID      string
	AgentID        string
	ConversationID string

	Config Config
	Now    func() time.Time
}

// Session owns one call from the media-stream upgrade until cleanup.
type Session struct {
	id             string
	agentID        string
	conversationID string

	store      Store
	settings   SettingsBuilder
	dialer     SpeechDialer
	tools      ToolRunner
	recorder   *voice.Recorder
	summarizer Summarizer
	observer   Observer
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
	startTime  time.Time

	buffer *voice.AudioBuffer
	bridge *twilio.Bridge
	speech SpeechConn

	ctx    context.Context
	cancel context.CancelFunc

	state       atomic.Int32
	cleanupOnce sync.Once
	saves       sync.WaitGroup
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings builder is required")
	}
	if deps.Speech == nil {
		return nil, fmt.Errorf("speech dialer is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if strings.TrimSpace(deps.AgentID) == "" || strings.TrimSpace(deps.ConversationID) == "" {
		return nil, fmt.Errorf("agent id and conversation id are required")
	}
	if deps.Recorder == nil {
		deps.Recorder = voice.NewRecorder("")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SessionID == "" {
		deps.SessionID = deps.ConversationID
	}
	if deps.Config.ConfigSettleDelay <= 0 {
		deps.Config.ConfigSettleDelay = 500 * time.Millisecond
	}
	if deps.Config.AudioStartDelay <= 0 {
		deps.Config.AudioStartDelay = 200 * time.Millisecond
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.PingInterval <= 0 {
		deps.Config.PingInterval = 20 * time.Second
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	logger := deps.Logger.With(
		"session_id", deps.SessionID,
		"agent_id", deps.AgentID,
		"conversation_id", deps.ConversationID,
	)
	buffer := voice.NewAudioBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             deps.SessionID,
		agentID:        deps.AgentID,
		conversationID: deps.ConversationID,
		store:          deps.Store,
		settings:       deps.Settings,
		dialer:         deps.Speech,
		tools:          deps.Tools,
		recorder:       deps.Recorder,
		summarizer:     deps.Summarizer,
		observer:       deps.Observer,
		logger:         logger,
		cfg:            deps.Config,
		now:            deps.Now,
		startTime:      deps.Now(),
		buffer:         buffer,
		bridge:         twilio.NewBridge(deps.Conn, buffer, twilio.Config{WriteTimeout: deps.Config.WriteTimeout, Logger: logger}),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.state.Store(int32(StateInitializing))
	return s, nil
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) State() State           { return State(s.state.Load()) }

// Cancel ends the call from outside; Run performs the cleanup.
func (s *Session) Cancel() { s.cancel() }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

// Run validates the call, connects the voice agent and bridges audio until
// either side hangs up. It returns after cleanup has finished. Task errors
// are joined into the returned error.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	defer s.cancel()

	if s.observer != nil {
		s.observer.SessionStarted()
	}

	settings, err := s.setup()
	if err != nil {
		s.finish(OutcomeSetupFailed)
		return err
	}

	s.setState(StateConnecting)
	if err := s.connect(settings); err != nil {
		s.logger.Error("speech provider connection failed", "err", err)
		s.cleanup(websocket.CloseInternalServerErr, ReasonSpeechUnavailable, StateError)
		s.finish(OutcomeConnectFailed)
		return err
	}

	s.setState(StateActive)
	s.logger.Info("session active")
	err = s.runTasks()

	outcome := OutcomeCompleted
	if err != nil {
		outcome = OutcomeFailed
	}
	s.finish(outcome)
	if s.summarizer != nil {
		s.summarizer.Schedule(s.conversationID)
	}
	return err
}

func (s *Session) setup() (deepgram.Settings, error) {
	agent, err := s.store.GetActiveAgent(s.ctx, s.agentID)
	if err != nil {
		s.abort(websocket.ClosePolicyViolation, ReasonBusinessUnavailable, err)
		return deepgram.Settings{}, fmt.Errorf("load agent: %w", err)
	}

	conversation, err := s.store.GetConversation(s.ctx, s.conversationID)
	if err == nil && conversation.AgentID != agent.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		s.abort(websocket.CloseInternalServerErr, ReasonConversationMissing, err)
		return deepgram.Settings{}, fmt.Errorf("load conversation: %w", err)
	}

	settings, err := s.settings.Build(s.ctx, agent, conversation)
	if err != nil {
		s.abort(websocket.CloseInternalServerErr, ReasonAgentConfig, err)
		return deepgram.Settings{}, fmt.Errorf("build agent settings: %w", err)
	}
	s.logger.Info("session setup complete", "functions", len(settings.Agent.Think.Functions))
	return settings, nil
}

// abort closes the telephony socket before any task has started. The
// conversation row is left for the sweeper.
func (s *Session) abort(code int, reason string, cause error) {
	s.logger.Warn("session setup failed", "reason", reason, "err", cause)
	s.cleanupOnce.Do(func() {
		s.setState(StateError)
		s.cancel()
		if err := s.bridge.Close(code, reason); err != nil {
			s.logger.Debug("close telephony socket", "err", err)
		}
	})
}

func (s *Session) connect(settings deepgram.Settings) error {
	conn, err := s.dialer.Connect(s.ctx)
	if err != nil {
		return fmt.Errorf("connect speech provider: %w", err)
	}
	s.speech = conn
	if err := conn.Configure(s.ctx, settings, s.cfg.ConfigSettleDelay); err != nil {
		return fmt.Errorf("configure speech provider: %w", err)
	}
	return nil
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

type taskResult struct {
	name string
	err  error
}

func (s *Session) runTasks() error {
	tasks := []task{
		{name: taskAudioSender, run: s.sendAudio},
		{name: taskSpeechReceiver, run: s.receiveSpeech},
		{name: taskTelephonyReceiver, run: s.bridge.Run},
	}

	results := make(chan taskResult, len(tasks))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.bridge.Keepalive(s.ctx, s.cfg.PingInterval)
	}()
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			err := s.runTask(t)
			results <- taskResult{name: t.name, err: err}
			if t.name == taskTelephonyReceiver && err == nil && s.bridge.StopReceived() {
				// The sender drains what is queued, then ends the session.
				s.logger.Info("telephony stop received, draining caller audio")
				return
			}
			s.cancel()
		}(t)
	}

	<-s.ctx.Done()
	s.cleanup(websocket.CloseNormalClosure, "", StateClosed)
	wg.Wait()
	close(results)

	var errs []error
	for r := range results {
		if r.err != nil {
			s.logger.Error("session task failed", "task", r.name, "err", r.err)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
		}
	}
	s.saves.Wait()
	return errors.Join(errs...)
}

func (s *Session) runTask(t task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("session task panic", "task", t.name, "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.run(s.ctx)
}

// cleanup tears the call down exactly once, whichever path gets here first.
func (s *Session) cleanup(code int, reason string, final State) {
	s.cleanupOnce.Do(func() {
		s.setState(StateClosing)
		s.logger.Info("session cleanup started")
		s.cancel()

		if s.speech != nil {
			if err := s.speech.Close(); err != nil {
				s.logger.Debug("close speech connection", "err", err)
			}
		}
		s.buffer.SignalStop()
		s.buffer.Reset()
		s.bridge.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()
		if conv, err := s.store.EndConversation(ctx, s.conversationID); err != nil {
			s.logger.Error("end conversation failed", "err", err)
		} else {
			s.logger.Info("conversation ended", "call_sid", s.bridge.CallSID(), "duration_seconds", conv.DurationSeconds)
		}

		if err := s.bridge.Close(code, reason); err != nil {
			s.logger.Debug("close telephony socket", "err", err)
		}
		s.setState(final)
		s.logger.Info("session cleanup completed", "state", final.String())
	})
}

func (s *Session) finish(outcome string) {
	elapsed := s.now().Sub(s.startTime)
	s.logger.Info("session finished", "outcome", outcome, "elapsed_ms", elapsed.Milliseconds())
	if s.observer != nil {
		s.observer.SessionFinished(outcome, elapsed)
	}
}

// sendAudio forwards queued caller audio to the voice agent until the buffer
// is stopped or the connection goes away.
func (s *Session) sendAudio(ctx context.Context) error {
	if !sleepCtx(ctx, s.cfg.AudioStartDelay) {
		return nil
	}
	s.logger.Info("audio sender started")
	defer s.logger.Info("audio sender stopped")

	for {
		chunk, err := s.buffer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, voice.ErrBufferStopped) {
				s.logger.Info("audio sender received stop")
			}
			return nil
		}
		if err := s.speech.SendAudio(chunk); err != nil {
			if errors.Is(err, deepgram.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("speech connection closed, audio sender exiting")
				return nil
			}
			return fmt.Errorf("send audio: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
