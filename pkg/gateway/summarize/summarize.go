// Package summarize writes a business summary onto a conversation after the
// call ends.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

const DefaultModel = "gemini-2.0-flash"

// ErrNoMessages is returned when a conversation has nothing to summarize.
var ErrNoMessages = errors.New("no conversation messages")

const instructions = `You are an expert conversation summarizer for business phone calls.

Analyze the conversation and provide a summary in the following exact format:

**KEY POINTS:**
• Customer's primary need or request
• Main services/information discussed
• Any searches performed (menu, pricing, hours, policies)
• Specific results or data provided
• Actions taken or next steps
• Call outcome

**DETAILED SUMMARY:**

Provide a narrative summary of the entire conversation. Include why the customer called, how the agent responded, any function calls made and their results, the overall tone of the interaction and any follow-up actions.

Keep the summary professional and focused on business-relevant information.`

type Store interface {
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	UpdateConversationSummary(ctx context.Context, conversationID, summary string) error
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Store     Store
	Generator Generator
	Timeout   time.Duration
	Logger    *slog.Logger
}

type Service struct {
	store   Store
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("summarize: store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("summarize: generator is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{store: cfg.Store, gen: cfg.Generator, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

// Schedule summarizes the conversation in the background. Failures are only
// logged. Calls after Wait has started are dropped.
func (s *Service) Schedule(conversationID string) {
	if s == nil || strings.TrimSpace(conversationID) == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("summary dropped during shutdown", "conversation_id", conversationID)
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Summarize(ctx, conversationID); err != nil {
			if errors.Is(err, ErrNoMessages) {
				s.logger.Info("summary skipped", "conversation_id", conversationID, "reason", "no messages")
				return
			}
			s.logger.Error("summary failed", "conversation_id", conversationID, "err", err)
		}
	}()
}

// Wait stops accepting new work and blocks until scheduled summaries finish
// or ctx ends. It reports whether everything finished.
func (s *Service) Wait(ctx context.Context) bool {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Summarize generates and stores the summary for one conversation.
func (s *Service) Summarize(ctx context.Context, conversationID string) (string, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("load messages: %w", err)
	}
	transcript := FormatTranscript(msgs)
	if transcript == "" {
		return "", ErrNoMessages
	}

	prompt := instructions + "\n\nConversation to summarize:\n\n" + transcript
	summary, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("generate summary: empty response")
	}
	if err := s.store.UpdateConversationSummary(ctx, conversationID, summary); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}
	s.logger.Info("summary stored", "conversation_id", conversationID, "chars", len(summary))
	return summary, nil
}

// FormatTranscript renders conversation messages as "[001] USER: text" lines.
// System notes are left out.
func FormatTranscript(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.MessageType != "" && m.MessageType != store.MessageTypeConversation {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%03d] %s: %s", m.SequenceNumber, strings.ToUpper(m.Role), m.Content)
	}
	return b.String()
}

// Gemini generates text with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
