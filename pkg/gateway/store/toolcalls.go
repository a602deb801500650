package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartToolCall records an invocation before the tool runs so a crash mid-call
// still leaves a trace.
func (s *Store) StartToolCall(ctx context.Context, conversationID, toolName string, params map[string]any) (ToolCall, error) {
	if params == nil {
		params = map[string]any{}
	}
	now := s.now()
	row := ToolCall{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ToolName:       toolName,
		Parameters:     params,
		Result:         map[string]any{},
		Status:         ToolCallStatusStarted,
		ExecutedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ToolCall{}, fmt.Errorf("create tool call: %w", err)
	}
	return row, nil
}

// FinishToolCall moves a started call to its terminal status. A call that is
// already terminal is left untouched and ErrNotFound is returned.
func (s *Store) FinishToolCall(ctx context.Context, id, status string, result map[string]any, elapsed time.Duration) error {
	switch status {
	case ToolCallStatusSuccess, ToolCallStatusFailed:
	default:
		return fmt.Errorf("invalid terminal tool call status %q", status)
	}
	if result == nil {
		result = map[string]any{}
	}
	now := s.now()
	row := ToolCall{
		Status:        status,
		Result:        result,
		ExecutionTime: elapsed.Seconds(),
		CompletedAt:   &now,
		UpdatedAt:     now,
	}
	res := s.db.WithContext(ctx).Model(&ToolCall{}).
		Where("id = ? AND status = ?", id, ToolCallStatusStarted).
		Select("status", "result", "execution_time", "completed_at", "updated_at").
		Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("finish tool call: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListToolCalls(ctx context.Context, conversationID string) ([]ToolCall, error) {
	var rows []ToolCall
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("executed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	return rows, nil
}
