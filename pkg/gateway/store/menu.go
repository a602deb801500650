package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Store) CreateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error) {
	if strings.TrimSpace(item.AgentID) == "" || strings.TrimSpace(item.Name) == "" {
		return MenuItem{}, fmt.Errorf("agent_id and name are required")
	}
	if item.Price < 0 {
		return MenuItem{}, fmt.Errorf("price must be >= 0")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Category == "" {
		item.Category = "other"
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return MenuItem{}, fmt.Errorf("create menu item: %w", err)
	}
	return item, nil
}

// ListMenu returns the items a caller can order: active, available and not
// hidden, ordered by category then name.
func (s *Store) ListMenu(ctx context.Context, agentID string) ([]MenuItem, error) {
	var rows []MenuItem
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND active = ? AND available = ? AND is_hidden = ?", agentID, true, true, false).
		Order("category ASC").
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list menu: %w", err)
	}
	return rows, nil
}
