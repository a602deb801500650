// Package agentconfig turns an agent row into the Settings message that opens
// a voice agent connection.
package agentconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/tools"
)

const (
	DefaultLanguage         = "en"
	DefaultVoice            = "aura-2-thalia-en"
	DefaultListenModel      = "nova-3"
	DefaultThinkProvider    = "open_ai"
	DefaultThinkModel       = "gpt-4o-mini"
	DefaultThinkTemperature = 0.4

	// placeholderGreeting is the greeting new agents are created with; it is
	// replaced by a named one.
	placeholderGreeting = "Hello! How can I help you today?"
	placeholderPrompt   = "You are a helpful AI assistant."

	recentConversationLimit = 3
)

var ErrInvalidAgent = errors.New("agent has no id")

// Data is the slice of the store the builder reads.
type Data interface {
	ListMenu(ctx context.Context, agentID string) ([]store.MenuItem, error)
	RecentCallerConversations(ctx context.Context, agentID, callerPhone, excludeID string, limit int) ([]store.Conversation, error)
}

type Config struct {
	Data     Data
	Registry *tools.Registry

	BusinessName     string
	DefaultVoice     string
	ListenModel      string
	ThinkProvider    string
	ThinkModel       string
	ThinkTemperature float64

	Logger *slog.Logger
	Now    func() time.Time
}

type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultVoice
	}
	if cfg.ListenModel == "" {
		cfg.ListenModel = DefaultListenModel
	}
	if cfg.ThinkProvider == "" {
		cfg.ThinkProvider = DefaultThinkProvider
	}
	if cfg.ThinkModel == "" {
		cfg.ThinkModel = DefaultThinkModel
	}
	if cfg.ThinkTemperature <= 0 {
		cfg.ThinkTemperature = DefaultThinkTemperature
	}
	if cfg.BusinessName == "" {
		cfg.BusinessName = "the business"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{cfg: cfg}
}

// Build assembles the Settings for one conversation. Menu and caller history
// lookups degrade to placeholder text on failure; only a missing agent id is
// fatal.
func (b *Builder) Build(ctx context.Context, agent store.Agent, conversation store.Conversation) (deepgram.Settings, error) {
	if strings.TrimSpace(agent.ID) == "" {
		return deepgram.Settings{}, ErrInvalidAgent
	}

	language := strings.TrimSpace(agent.Language)
	if language == "" {
		language = DefaultLanguage
	}
	voice := strings.TrimSpace(agent.VoiceModel)
	if voice == "" {
		voice = b.cfg.DefaultVoice
	}
	temperature := b.cfg.ThinkTemperature

	s := deepgram.NewTelephonySettings()
	s.Agent = deepgram.AgentSettings{
		Language: language,
		Listen:   deepgram.Listen{Provider: deepgram.Provider{Type: "deepgram", Model: b.cfg.ListenModel}},
		Think: deepgram.Think{
			Provider:  deepgram.Provider{Type: b.cfg.ThinkProvider, Model: b.cfg.ThinkModel, Temperature: &temperature},
			Prompt:    b.prompt(ctx, agent, conversation, voice),
			Functions: b.cfg.Registry.Definitions(agent.Tools),
		},
		Speak:    deepgram.Speak{Provider: deepgram.Provider{Type: "deepgram", Model: voice}},
		Greeting: b.greeting(agent),
	}
	return s, nil
}

func (b *Builder) greeting(agent store.Agent) string {
	g := strings.TrimSpace(agent.Greeting)
	if g != "" && g != placeholderGreeting {
		return agent.Greeting
	}
	return fmt.Sprintf("Hello! I'm %s. How can I help you today?", agent.Name)
}

func (b *Builder) prompt(ctx context.Context, agent store.Agent, conversation store.Conversation, voice string) string {
	var sb strings.Builder

	custom := strings.TrimSpace(agent.SystemPrompt)
	if custom != "" && custom != placeholderPrompt {
		sb.WriteString(agent.SystemPrompt)
	} else {
		fmt.Fprintf(&sb, "You are %s, a friendly and professional representative for %s. "+
			"Your role is to assist customers with their inquiries, provide information about services, "+
			"and help with general business questions.", VoiceName(voice), b.cfg.BusinessName)
	}

	now := b.cfg.Now()
	fmt.Fprintf(&sb, "\n\nToday is %s. The current time is %s.", now.Format("Monday, January 02, 2006"), now.Format("15:04"))

	sb.WriteString("\n\n")
	sb.WriteString(b.menuContext(ctx, agent.ID))

	if history := b.callerContext(ctx, agent.ID, conversation); history != "" {
		sb.WriteString("\n\nCUSTOMER CONTEXT:\n")
		sb.WriteString(history)
		sb.WriteString("\nUse this customer history to provide personalized service. Reference previous interactions when relevant, but be natural about it.")
	}
	return sb.String()
}

func (b *Builder) menuContext(ctx context.Context, agentID string) string {
	if b.cfg.Data == nil {
		return "MENU: No items available"
	}
	items, err := b.cfg.Data.ListMenu(ctx, agentID)
	if err != nil {
		b.cfg.Logger.Error("build menu context failed", "agent_id", agentID, "err", err)
		return "MENU: Temporarily unavailable"
	}
	return FormatMenu(items)
}

func (b *Builder) callerContext(ctx context.Context, agentID string, conversation store.Conversation) string {
	if b.cfg.Data == nil || strings.TrimSpace(conversation.CallerPhone) == "" {
		return ""
	}
	past, err := b.cfg.Data.RecentCallerConversations(ctx, agentID, conversation.CallerPhone, conversation.ID, recentConversationLimit)
	if err != nil {
		b.cfg.Logger.Warn("load caller history failed", "agent_id", agentID, "err", err)
		return ""
	}
	var sb strings.Builder
	for _, c := range past {
		summary := strings.TrimSpace(c.Summary)
		if summary == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.StartedAt.Format("2006-01-02"), summary)
	}
	return sb.String()
}

// FormatMenu renders menu items grouped by category, in the order given.
func FormatMenu(items []store.MenuItem) string {
	if len(items) == 0 {
		return "MENU: No items available"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "CURRENT MENU (%d items):\n", len(items))
	current := ""
	for i, item := range items {
		if i == 0 || item.Category != current {
			current = item.Category
			fmt.Fprintf(&sb, "\n%s:\n", strings.ToUpper(current))
		}
		fmt.Fprintf(&sb, "• Item Id: %s - %s - $%.2f", item.ID, item.Name, item.Price)
		if item.Number != "" {
			fmt.Fprintf(&sb, " (#%s)", item.Number)
		}
		var tags []string
		if item.IsPopular {
			tags = append(tags, "POPULAR")
		}
		if item.IsSpecial {
			tags = append(tags, "SPECIAL")
		}
		if len(tags) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(tags, ", "))
		}
		sb.WriteString("\n")
		if item.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", item.Description)
		}
	}
	sb.WriteString("\nIMPORTANT: Only offer items from this menu. Never suggest unavailable items.")
	return sb.String()
}

// VoiceName extracts the speaker name from a model id such as
// "aura-2-thalia-en".
func VoiceName(model string) string {
	parts := strings.Split(model, "-")
	if len(parts) < 3 || parts[2] == "" {
		return "Assistant"
	}
	return strings.ToUpper(parts[2][:1]) + parts[2][1:]
}
