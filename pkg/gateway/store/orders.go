package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NewOrder struct {
	AgentID         string
	ConversationID  string
	CustomerPhone   string
	CustomerName    string
	SpecialRequests string
}

func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	if strings.TrimSpace(in.AgentID) == "" || strings.TrimSpace(in.ConversationID) == "" {
		return Order{}, fmt.Errorf("agent_id and conversation_id are required")
	}
	now := s.now()
	order := Order{
		ID:              uuid.NewString(),
		AgentID:         in.AgentID,
		ConversationID:  in.ConversationID,
		CustomerPhone:   in.CustomerPhone,
		CustomerName:    in.CustomerName,
		Status:          "pending",
		SpecialRequests: in.SpecialRequests,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// AddedOrderItem is the outcome of AddOrderItem: the new line plus the
// order total after it was applied.
type AddedOrderItem struct {
	Item       OrderItem
	UnitPrice  float64
	ItemTotal  float64
	OrderTotal float64
}

// AddOrderItem copies the menu item's name and price into a new order line
// and adds price*quantity to the order total in the same transaction.
func (s *Store) AddOrderItem(ctx context.Context, orderID, menuItemID string, quantity int) (AddedOrderItem, error) {
	if quantity < 1 {
		return AddedOrderItem{}, ErrInvalidQuantity
	}

	var out AddedOrderItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order Order
		if err := tx.Where("id = ?", orderID).Take(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load order: %w", err)
		}

		var item MenuItem
		if err := tx.Where("id = ? AND active = ? AND available = ?", menuItemID, true, true).Take(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMenuItemUnavailable
			}
			return fmt.Errorf("load menu item: %w", err)
		}

		line := OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Name:      item.Name,
			Quantity:  quantity,
			Price:     item.Price,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&line).Error; err != nil {
			return fmt.Errorf("create order item: %w", err)
		}

		itemTotal := item.Price * float64(quantity)
		total := order.TotalPrice + itemTotal
		if err := tx.Model(&Order{}).Where("id = ?", order.ID).
			Updates(map[string]any{"total_price": total, "updated_at": s.now()}).Error; err != nil {
			return fmt.Errorf("update order total: %w", err)
		}

		out = AddedOrderItem{Item: line, UnitPrice: item.Price, ItemTotal: itemTotal, OrderTotal: total}
		return nil
	})
	if err != nil {
		return AddedOrderItem{}, err
	}
	return out, nil
}

func (s *Store) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	var rows []OrderItem
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return rows, nil
}
