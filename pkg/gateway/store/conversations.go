package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) CreateAgent(ctx context.Context, agent Agent) (Agent, error) {
	if strings.TrimSpace(agent.Name) == "" {
		return Agent{}, fmt.Errorf("agent name is required")
	}
	now := s.now()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Language == "" {
		agent.Language = "en"
	}
	if agent.Tools == nil {
		agent.Tools = []string{}
	}
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&agent).Error; err != nil {
		return Agent{}, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

// GetActiveAgent returns the agent only when it is active.
func (s *Store) GetActiveAgent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).
		Where("id = ? AND active = ?", agentID, true).
		Take(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

type NewConversation struct {
	AgentID     string
	Type        string
	CallerPhone string
	TwilioSID   string
}

func (s *Store) CreateConversation(ctx context.Context, in NewConversation) (Conversation, error) {
	if strings.TrimSpace(in.AgentID) == "" {
		return Conversation{}, fmt.Errorf("agent_id is required")
	}
	name := "SMS from " + in.CallerPhone
	if in.Type == ConversationTypeVoice {
		name = "Voice call from " + in.CallerPhone
	}
	now := s.now()
	conv := Conversation{
		ID:               uuid.NewString(),
		AgentID:          in.AgentID,
		SessionName:      name,
		ConversationType: in.Type,
		CallerPhone:      in.CallerPhone,
		TwilioSID:        in.TwilioSID,
		Status:           ConversationStatusActive,
		StartedAt:        now,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns the conversation if it has not been soft-deleted.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND active = ?", conversationID, true).
		Take(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// EndConversation marks the conversation completed and records its duration.
// Ending an already completed conversation is a no-op.
func (s *Store) EndConversation(ctx context.Context, conversationID string) (Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conv.Status == ConversationStatusCompleted {
		return conv, nil
	}

	now := s.now()
	duration := strconv.FormatInt(int64(now.Sub(conv.StartedAt)/time.Second), 10)
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ? AND status = ?", conversationID, ConversationStatusActive).
		Updates(map[string]any{
			"status":           ConversationStatusCompleted,
			"ended_at":         now,
			"duration_seconds": duration,
			"updated_at":       now,
		})
	if res.Error != nil {
		return Conversation{}, fmt.Errorf("end conversation: %w", res.Error)
	}
	conv.Status = ConversationStatusCompleted
	conv.EndedAt = &now
	conv.DurationSeconds = duration
	conv.UpdatedAt = now
	return conv, nil
}

func (s *Store) UpdateConversationSummary(ctx context.Context, conversationID, summary string) error {
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{"summary": summary, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("update summary: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStaleConversations returns conversations still marked active that
// started before cutoff.
func (s *Store) ListStaleConversations(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	var rows []Conversation
	err := s.db.WithContext(ctx).
		Where("status = ? AND active = ? AND started_at < ?", ConversationStatusActive, true, cutoff.UTC()).
		Order("started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list stale conversations: %w", err)
	}
	return rows, nil
}

// RecentCallerConversations returns the caller's most recent completed
// conversations with the agent, newest first.
func (s *Store) RecentCallerConversations(ctx context.Context, agentID, callerPhone, excludeID string, limit int) ([]Conversation, error) {
	if strings.TrimSpace(callerPhone) == "" {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Where("agent_id = ? AND caller_phone = ? AND status = ? AND id <> ?", agentID, callerPhone, ConversationStatusCompleted, excludeID).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Conversation
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list caller conversations: %w", err)
	}
	return rows, nil
}
