package agentconfig

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/tools"
)

type fakeData struct {
	menu    []store.MenuItem
	menuErr error
	past    []store.Conversation

	gotExclude string
	gotLimit   int
}

func (f *fakeData) ListMenu(context.Context, string) ([]store.MenuItem, error) {
	return f.menu, f.menuErr
}

func (f *fakeData) RecentCallerConversations(_ context.Context, _, _, excludeID string, limit int) ([]store.Conversation, error) {
	f.gotExclude = excludeID
	f.gotLimit = limit
	return f.past, nil
}

type noopBackend struct{}

func (noopBackend) SearchKnowledge(context.Context, string, string, string, int) ([]store.KnowledgeHit, error) {
	return nil, nil
}

func (noopBackend) AddOrderItem(context.Context, string, string, int) (store.AddedOrderItem, error) {
	return store.AddedOrderItem{}, nil
}

func fixedNow() time.Time { return time.Date(2026, 3, 6, 18, 30, 0, 0, time.UTC) }

func newTestBuilder(t *testing.T, data Data) *Builder {
	t.Helper()
	reg, err := tools.NewDefaultRegistry(noopBackend{})
	if err != nil {
		t.Fatalf("NewDefaultRegistry: %v", err)
	}
	return NewBuilder(Config{Data: data, Registry: reg, BusinessName: "Luigi's", Now: fixedNow})
}

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t, &fakeData{})

	s, err := b.Build(context.Background(), store.Agent{ID: "a1", Name: "Sofia"}, store.Conversation{ID: "c1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Type != "Settings" || s.Audio.Input.Encoding != "mulaw" || s.Audio.Output.SampleRate != 8000 {
		t.Fatalf("audio=%+v", s.Audio)
	}
	if s.Agent.Language != "en" {
		t.Fatalf("language=%q, want en", s.Agent.Language)
	}
	if s.Agent.Listen.Provider.Model != "nova-3" {
		t.Fatalf("listen=%+v", s.Agent.Listen)
	}
	think := s.Agent.Think.Provider
	if think.Type != "open_ai" || think.Model != "gpt-4o-mini" || think.Temperature == nil || *think.Temperature != 0.4 {
		t.Fatalf("think=%+v", think)
	}
	if s.Agent.Speak.Provider.Model != DefaultVoice {
		t.Fatalf("voice=%q", s.Agent.Speak.Provider.Model)
	}
	if s.Agent.Greeting != "Hello! I'm Sofia. How can I help you today?" {
		t.Fatalf("greeting=%q", s.Agent.Greeting)
	}
	if got := strings.Join(s.FunctionNames(), ","); got != "hangup_function,search_collection,add_order_item" {
		t.Fatalf("functions=%s", got)
	}
	prompt := s.Agent.Think.Prompt
	for _, want := range []string{"You are Thalia", "Luigi's", "Today is Friday, March 06, 2026", "MENU: No items available"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuild_AgentOverrides(t *testing.T) {
	t.Parallel()
	data := &fakeData{
		menu: []store.MenuItem{
			{ID: "m2", Name: "Tiramisu", Category: "dessert", Price: 6},
			{ID: "m1", Name: "Margherita", Category: "pizza", Price: 12.5, Number: "7", IsPopular: true, Description: "Tomato, basil"},
		},
		past: []store.Conversation{
			{ID: "old1", Summary: "Ordered two pizzas.", StartedAt: fixedNow().Add(-48 * time.Hour)},
			{ID: "old2"},
		},
	}
	b := newTestBuilder(t, data)
	agent := store.Agent{
		ID:           "a1",
		Name:         "Sofia",
		Language:     "es",
		VoiceModel:   "aura-2-celeste-es",
		Greeting:     "Hola, Luigi's!",
		SystemPrompt: "You take pizza orders.",
		Tools:        []string{tools.ToolHangup},
	}

	s, err := b.Build(context.Background(), agent, store.Conversation{ID: "c9", CallerPhone: "+15551234"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Agent.Language != "es" || s.Agent.Speak.Provider.Model != "aura-2-celeste-es" || s.Agent.Greeting != "Hola, Luigi's!" {
		t.Fatalf("agent=%+v", s.Agent)
	}
	if got := s.FunctionNames(); len(got) != 1 || got[0] != tools.ToolHangup {
		t.Fatalf("functions=%v", got)
	}
	if data.gotExclude != "c9" || data.gotLimit != 3 {
		t.Fatalf("history lookup exclude=%q limit=%d", data.gotExclude, data.gotLimit)
	}
	prompt := s.Agent.Think.Prompt
	for _, want := range []string{
		"You take pizza orders.",
		"CURRENT MENU (2 items):",
		"DESSERT:",
		"• Item Id: m1 - Margherita - $12.50 (#7) [POPULAR]",
		"  Tomato, basil",
		"CUSTOMER CONTEXT:",
		"- 2026-03-04: Ordered two pizzas.",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "You are Celeste") {
		t.Fatalf("custom prompt should replace the default identity")
	}
}

func TestBuild_MenuFailureDegrades(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t, &fakeData{menuErr: errors.New("db locked")})

	s, err := b.Build(context.Background(), store.Agent{ID: "a1", Name: "Sofia"}, store.Conversation{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(s.Agent.Think.Prompt, "MENU: Temporarily unavailable") {
		t.Fatalf("prompt=%s", s.Agent.Think.Prompt)
	}
}

func TestBuild_RejectsMissingAgentID(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t, &fakeData{})
	if _, err := b.Build(context.Background(), store.Agent{}, store.Conversation{}); !errors.Is(err, ErrInvalidAgent) {
		t.Fatalf("err=%v, want ErrInvalidAgent", err)
	}
}

func TestVoiceName(t *testing.T) {
	t.Parallel()
	if got := VoiceName("aura-2-thalia-en"); got != "Thalia" {
		t.Fatalf("VoiceName=%q, want Thalia", got)
	}
	if got := VoiceName("custom"); got != "Assistant" {
		t.Fatalf("VoiceName=%q, want Assistant", got)
	}
}
