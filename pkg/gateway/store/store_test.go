package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "nested", "calls.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *Store) (Agent, Conversation) {
	t.Helper()
	ctx := context.Background()
	phone := "+15550001111"
	agent, err := s.CreateAgent(ctx, Agent{Name: "Luigi's", PhoneNumber: &phone, Active: true})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	conv, err := s.CreateConversation(ctx, NewConversation{
		AgentID:     agent.ID,
		Type:        ConversationTypeVoice,
		CallerPhone: "+15559998888",
		TwilioSID:   "CA123",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return agent, conv
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Options{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), Options{Driver: DriverPostgres}); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}

func TestGetActiveAgent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	agent, _ := seedConversation(t, s)
	got, err := s.GetActiveAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetActiveAgent: %v", err)
	}
	if got.Name != "Luigi's" || got.Phone() != "+15550001111" {
		t.Fatalf("agent=%+v", got)
	}
	if got.Language != "en" {
		t.Fatalf("language=%q, want en", got.Language)
	}

	inactive, err := s.CreateAgent(ctx, Agent{Name: "Closed", Active: false})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if _, err := s.GetActiveAgent(ctx, inactive.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := s.GetActiveAgent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestCreateConversation_SessionName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	agent, conv := seedConversation(t, s)

	if conv.SessionName != "Voice call from +15559998888" {
		t.Fatalf("session_name=%q", conv.SessionName)
	}
	sms, err := s.CreateConversation(ctx, NewConversation{AgentID: agent.ID, Type: ConversationTypeMessage, CallerPhone: "+1444"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if sms.SessionName != "SMS from +1444" {
		t.Fatalf("session_name=%q", sms.SessionName)
	}
	if sms.Status != ConversationStatusActive {
		t.Fatalf("status=%q, want active", sms.Status)
	}
}

func TestAddMessage_SequenceIsGapFree(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s)

	first, err := s.AddMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: "Hi"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	second, err := s.AddMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleAssistant, Content: "Hello!"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if first.SequenceNumber != 1 || second.SequenceNumber != 2 {
		t.Fatalf("sequence=%d,%d, want 1,2", first.SequenceNumber, second.SequenceNumber)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("messages=%+v", msgs)
	}
	if msgs[0].MessageType != MessageTypeConversation {
		t.Fatalf("message_type=%q", msgs[0].MessageType)
	}
}

func TestAddMessage_ConcurrentWritersStaySequential(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.AddMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: "x"})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("len=%d, want %d", len(msgs), n)
	}
	for i, m := range msgs {
		if m.SequenceNumber != int64(i+1) {
			t.Fatalf("msgs[%d].sequence=%d, want %d", i, m.SequenceNumber, i+1)
		}
	}
}

func TestAddMessage_SkipsBlankContent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, conv := seedConversation(t, s)

	if _, err := s.AddMessage(context.Background(), NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: "  \n"}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err=%v, want ErrEmptyContent", err)
	}
}

func TestAttachAudio(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s)

	msg, err := s.AddMessage(ctx, NewMessage{ConversationID: conv.ID, Role: RoleUser, Content: "Hi"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.AttachAudio(ctx, msg.ID, "store/audio/c/m.wav"); err != nil {
		t.Fatalf("AttachAudio: %v", err)
	}
	got, err := s.GetMessage(ctx, conv.ID, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.AudioFilePath != "store/audio/c/m.wav" {
		t.Fatalf("audio_file_path=%q", got.AudioFilePath)
	}
	if err := s.AttachAudio(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := s.GetMessage(ctx, "other", msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestEndConversation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	_, conv := seedConversation(t, s)

	s.now = func() time.Time { return start.Add(95*time.Second + 400*time.Millisecond) }
	ended, err := s.EndConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if ended.Status != ConversationStatusCompleted {
		t.Fatalf("status=%q", ended.Status)
	}
	if ended.DurationSeconds != "95" {
		t.Fatalf("duration_seconds=%q, want 95", ended.DurationSeconds)
	}

	s.now = func() time.Time { return start.Add(time.Hour) }
	again, err := s.EndConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("second EndConversation: %v", err)
	}
	if again.DurationSeconds != "95" {
		t.Fatalf("second end changed duration to %q", again.DurationSeconds)
	}

	stored, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if stored.EndedAt == nil || stored.Status != ConversationStatusCompleted {
		t.Fatalf("stored=%+v", stored)
	}
}

func TestListStaleConversations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	_, stale := seedConversation(t, s)

	fresh := old.Add(3 * time.Hour)
	s.now = func() time.Time { return fresh }
	if _, err := s.CreateConversation(ctx, NewConversation{AgentID: stale.AgentID, Type: ConversationTypeVoice, CallerPhone: "+1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rows, err := s.ListStaleConversations(ctx, fresh.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleConversations: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("rows=%+v, want only %s", rows, stale.ID)
	}
}

func TestRecentCallerConversations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	agent, first := seedConversation(t, s)

	if _, err := s.EndConversation(ctx, first.ID); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if err := s.UpdateConversationSummary(ctx, first.ID, "Ordered a pizza."); err != nil {
		t.Fatalf("UpdateConversationSummary: %v", err)
	}
	current, err := s.CreateConversation(ctx, NewConversation{AgentID: agent.ID, Type: ConversationTypeVoice, CallerPhone: first.CallerPhone})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rows, err := s.RecentCallerConversations(ctx, agent.ID, first.CallerPhone, current.ID, 3)
	if err != nil {
		t.Fatalf("RecentCallerConversations: %v", err)
	}
	if len(rows) != 1 || rows[0].Summary != "Ordered a pizza." {
		t.Fatalf("rows=%+v", rows)
	}
	if err := s.UpdateConversationSummary(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestToolCallLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	_, conv := seedConversation(t, s)

	call, err := s.StartToolCall(ctx, conv.ID, "hangup_function", map[string]any{"reason": "done"})
	if err != nil {
		t.Fatalf("StartToolCall: %v", err)
	}
	if call.Status != ToolCallStatusStarted {
		t.Fatalf("status=%q, want started", call.Status)
	}
	pending, err := s.ListToolCalls(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(pending) != 1 || pending[0].Status != ToolCallStatusStarted || len(pending[0].Result) != 0 || pending[0].CompletedAt != nil {
		t.Fatalf("pending=%+v", pending)
	}
	result := map[string]any{"success": true, "action": "hangup"}
	if err := s.FinishToolCall(ctx, call.ID, ToolCallStatusSuccess, result, 1500*time.Millisecond); err != nil {
		t.Fatalf("FinishToolCall: %v", err)
	}
	if err := s.FinishToolCall(ctx, call.ID, ToolCallStatusFailed, nil, time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second finish err=%v, want ErrNotFound", err)
	}
	if err := s.FinishToolCall(ctx, call.ID, ToolCallStatusStarted, nil, 0); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}

	calls, err := s.ListToolCalls(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("len=%d, want 1", len(calls))
	}
	got := calls[0]
	if got.Status != ToolCallStatusSuccess || got.ExecutionTime != 1.5 || got.CompletedAt == nil {
		t.Fatalf("call=%+v", got)
	}
	if got.Result["action"] != "hangup" || got.Parameters["reason"] != "done" {
		t.Fatalf("result=%v params=%v", got.Result, got.Parameters)
	}
}

func TestAddOrderItem(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	agent, conv := seedConversation(t, s)

	pizza, err := s.CreateMenuItem(ctx, MenuItem{AgentID: agent.ID, Name: "Margherita", Category: "pizza", Price: 12.5, Available: true, Active: true})
	if err != nil {
		t.Fatalf("CreateMenuItem: %v", err)
	}
	soldOut, err := s.CreateMenuItem(ctx, MenuItem{AgentID: agent.ID, Name: "Calzone", Category: "pizza", Price: 14, Available: false, Active: true})
	if err != nil {
		t.Fatalf("CreateMenuItem: %v", err)
	}
	order, err := s.CreateOrder(ctx, NewOrder{AgentID: agent.ID, ConversationID: conv.ID, CustomerPhone: conv.CallerPhone})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	added, err := s.AddOrderItem(ctx, order.ID, pizza.ID, 2)
	if err != nil {
		t.Fatalf("AddOrderItem: %v", err)
	}
	if added.ItemTotal != 25 || added.OrderTotal != 25 || added.Item.Name != "Margherita" {
		t.Fatalf("added=%+v", added)
	}
	added, err = s.AddOrderItem(ctx, order.ID, pizza.ID, 1)
	if err != nil {
		t.Fatalf("AddOrderItem: %v", err)
	}
	if added.OrderTotal != 37.5 {
		t.Fatalf("order_total=%v, want 37.5", added.OrderTotal)
	}

	if _, err := s.AddOrderItem(ctx, order.ID, soldOut.ID, 1); !errors.Is(err, ErrMenuItemUnavailable) {
		t.Fatalf("err=%v, want ErrMenuItemUnavailable", err)
	}
	if _, err := s.AddOrderItem(ctx, "missing", pizza.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := s.AddOrderItem(ctx, order.ID, pizza.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err=%v, want ErrInvalidQuantity", err)
	}

	items, err := s.ListOrderItems(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListOrderItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len=%d, want 2", len(items))
	}
	stored, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.TotalPrice != 37.5 {
		t.Fatalf("total_price=%v, want 37.5", stored.TotalPrice)
	}
}

func TestListMenu_HidesUnavailable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	agent, _ := seedConversation(t, s)

	items := []MenuItem{
		{AgentID: agent.ID, Name: "Tiramisu", Category: "dessert", Price: 6, Available: true, Active: true},
		{AgentID: agent.ID, Name: "Secret", Category: "dessert", Price: 6, Available: true, Active: true, IsHidden: true},
		{AgentID: agent.ID, Name: "Bruschetta", Category: "appetizer", Price: 7, Available: true, Active: true},
		{AgentID: agent.ID, Name: "Retired", Category: "appetizer", Price: 7, Available: true, Active: false},
	}
	for _, it := range items {
		if _, err := s.CreateMenuItem(ctx, it); err != nil {
			t.Fatalf("CreateMenuItem: %v", err)
		}
	}
	menu, err := s.ListMenu(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListMenu: %v", err)
	}
	if len(menu) != 2 || menu[0].Name != "Bruschetta" || menu[1].Name != "Tiramisu" {
		t.Fatalf("menu=%+v", menu)
	}
}

func TestSearchKnowledge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	agent, _ := seedConversation(t, s)

	chunks := []KnowledgeChunk{
		{AgentID: agent.ID, CollectionName: "delivery_policies", Content: "We deliver within 5 miles.", ChunkIndex: 0},
		{AgentID: agent.ID, CollectionName: "delivery_policies", Content: "Delivery fee is $3 for orders under $20.", ChunkIndex: 1, SourceSection: "fees"},
		{AgentID: agent.ID, CollectionName: "restaurant_menu", Content: "Delivery fee waived for pizza.", ChunkIndex: 0},
	}
	for _, c := range chunks {
		if _, err := s.AddKnowledgeChunk(ctx, c); err != nil {
			t.Fatalf("AddKnowledgeChunk: %v", err)
		}
	}

	hits, err := s.SearchKnowledge(ctx, agent.ID, "delivery_policies", "delivery fee", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len=%d, want 1 (%+v)", len(hits), hits)
	}
	if hits[0].Chunk.SourceSection != "fees" || hits[0].RelevanceScore != 1 {
		t.Fatalf("hit=%+v", hits[0])
	}

	hits, err = s.SearchKnowledge(ctx, agent.ID, "delivery_policies", "deliver", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ChunkIndex != 0 {
		t.Fatalf("hits=%+v", hits)
	}

	hits, err = s.SearchKnowledge(ctx, agent.ID, "delivery_policies", "parking", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits=%+v, want none", hits)
	}
}
