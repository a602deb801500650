// Package sweeper ends conversations left active by calls that never cleaned
// up, for example after a crash.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vango-go/vai-phone/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

// Parser accepts 5-field cron expressions and descriptors such as "@hourly"
// or "@every 30m".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Store interface {
	ListStaleConversations(ctx context.Context, cutoff time.Time) ([]store.Conversation, error)
	EndConversation(ctx context.Context, conversationID string) (store.Conversation, error)
}

// LiveSessions reports calls running in this process; their conversations
// are never swept.
type LiveSessions interface {
	Snapshot() []sessions.Active
}

type Summarizer interface {
	Schedule(conversationID string)
}

type Observer interface {
	ConversationsSwept(n int)
}

type Config struct {
	Store      Store
	Live       LiveSessions
	Summarizer Summarizer
	Observer   Observer
	StaleAfter time.Duration
	Schedule   string
	Timeout    time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

type Sweeper struct {
	store      Store
	live       LiveSessions
	summarizer Summarizer
	observer   Observer
	staleAfter time.Duration
	schedule   cron.Schedule
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sweeper: store is required")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("sweeper: stale-after must be > 0")
	}
	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		expr = "@every 1h"
	}
	sched, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:      cfg.Store,
		live:       cfg.Live,
		summarizer: cfg.Summarizer,
		observer:   cfg.Observer,
		staleAfter: cfg.StaleAfter,
		schedule:   sched,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// RunOnce ends every stale conversation and returns how many were ended.
// A failure on one conversation does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.store.ListStaleConversations(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	live := map[string]struct{}{}
	if s.live != nil {
		for _, a := range s.live.Snapshot() {
			live[a.ConversationID] = struct{}{}
		}
	}

	ended := 0
	var errs []error
	for _, conv := range stale {
		if _, ok := live[conv.ID]; ok {
			continue
		}
		if _, err := s.store.EndConversation(ctx, conv.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("end conversation %s: %w", conv.ID, err))
			continue
		}
		ended++
		s.logger.Info("stale conversation ended", "conversation_id", conv.ID, "started_at", conv.StartedAt)
		if s.summarizer != nil {
			s.summarizer.Schedule(conv.ID)
		}
	}
	if s.observer != nil {
		s.observer.ConversationsSwept(ended)
	}
	return ended, errors.Join(errs...)
}

// Run sweeps on the configured schedule until ctx ends. Runs never overlap.
func (s *Sweeper) Run(ctx context.Context) {
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		n, err := s.RunOnce(runCtx)
		if err != nil {
			s.logger.Error("sweep failed", "ended", n, "err", err)
			return
		}
		s.logger.Debug("sweep finished", "ended", n)
	}))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
