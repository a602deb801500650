package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

const (
	ToolHangup           = "hangup_function"
	ToolSearchCollection = "search_collection"
	ToolAddOrderItem     = "add_order_item"

	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

type KnowledgeSearcher interface {
	SearchKnowledge(ctx context.Context, agentID, collection, query string, limit int) ([]store.KnowledgeHit, error)
}

type OrderWriter interface {
	AddOrderItem(ctx context.Context, orderID, menuItemID string, quantity int) (store.AddedOrderItem, error)
}

// Backend is everything the built-in tools read or write.
type Backend interface {
	KnowledgeSearcher
	OrderWriter
}

// NewDefaultRegistry registers every built-in tool.
func NewDefaultRegistry(backend Backend) (*Registry, error) {
	r := NewRegistry()
	for _, h := range []Handler{
		HangupTool{},
		SearchCollectionTool{Searcher: backend},
		AddOrderItemTool{Orders: backend},
	} {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type HangupTool struct{}

func (HangupTool) Name() string { return ToolHangup }

func (HangupTool) Definition() deepgram.Function {
	return deepgram.Function{
		Name:        ToolHangup,
		Description: "Signal to end the conversation and close the connection",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Brief reason for hanging up (e.g., 'conversation_complete', 'user_inactive', 'user_goodbye')",
					"default":     "conversation_complete",
				},
			},
			"required": []string{},
		},
	}
}

func (HangupTool) Execute(_ context.Context, input map[string]any) (map[string]any, error) {
	reason := stringArg(input, "reason")
	if reason == "" {
		reason = "conversation_complete"
	}
	return map[string]any{
		"success": true,
		"action":  "hangup",
		"reason":  reason,
		"message": "Ending conversation: " + reason,
	}, nil
}

type SearchCollectionTool struct {
	Searcher KnowledgeSearcher
}

func (SearchCollectionTool) Name() string { return ToolSearchCollection }

func (SearchCollectionTool) Definition() deepgram.Function {
	return deepgram.Function{
		Name:        ToolSearchCollection,
		Description: "Search a specific document collection for relevant information",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_id": map[string]any{
					"type":        "string",
					"description": "ID of the agent (automatically injected)",
				},
				"collection_name": map[string]any{
					"type":        "string",
					"description": "Name of the collection to search (e.g., 'restaurant_menu', 'delivery_policies')",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "What you're looking for in natural language",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (default 10, max 50)",
					"default":     DefaultSearchLimit,
				},
			},
			"required": []string{"agent_id", "collection_name", "query"},
		},
	}
}

func (t SearchCollectionTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	agentID := stringArg(input, "agent_id")
	collection := stringArg(input, "collection_name")
	query := stringArg(input, "query")
	if agentID == "" || collection == "" || query == "" {
		return map[string]any{
			"success": false,
			"error":   "Missing required parameters: agent_id, collection_name, or query",
		}, nil
	}
	limit := DefaultSearchLimit
	if v, ok := intArg(input, "limit"); ok && v > 0 {
		limit = v
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	if t.Searcher == nil {
		return nil, fmt.Errorf("knowledge search is not configured")
	}
	hits, err := t.Searcher.SearchKnowledge(ctx, agentID, collection, query, limit)
	if err != nil {
		return map[string]any{
			"success":         false,
			"collection_name": collection,
			"data":            []map[string]any{},
			"count":           0,
			"error":           err.Error(),
			"message":         fmt.Sprintf("Error searching collection '%s': %s", collection, err.Error()),
		}, nil
	}
	if len(hits) == 0 {
		return map[string]any{
			"success":         false,
			"collection_name": collection,
			"data":            []map[string]any{},
			"count":           0,
			"message":         fmt.Sprintf("No results found in '%s': No results found", collection),
		}, nil
	}

	data := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		data = append(data, map[string]any{
			"content":         h.Chunk.Content,
			"relevance_score": h.RelevanceScore,
			"source_section":  h.Chunk.SourceSection,
			"content_type":    h.Chunk.ContentType,
			"chunk_index":     h.Chunk.ChunkIndex,
		})
	}
	return map[string]any{
		"success":         true,
		"collection_name": collection,
		"data":            data,
		"count":           len(data),
		"message":         fmt.Sprintf("Found %d relevant results in '%s' collection", len(data), collection),
	}, nil
}

type AddOrderItemTool struct {
	Orders OrderWriter
}

func (AddOrderItemTool) Name() string { return ToolAddOrderItem }

func (AddOrderItemTool) Definition() deepgram.Function {
	return deepgram.Function{
		Name:        ToolAddOrderItem,
		Description: "Add an item to an existing order by looking up menu item details",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{
					"type":        "string",
					"description": "ID of the order to add the item to",
				},
				"menu_item_id": map[string]any{
					"type":        "string",
					"description": "ID of the menu item to add",
				},
				"quantity": map[string]any{
					"type":        "integer",
					"description": "Quantity of this item (minimum 1)",
					"minimum":     1,
				},
			},
			"required": []string{"order_id", "menu_item_id", "quantity"},
		},
	}
}

func (t AddOrderItemTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	orderID := stringArg(input, "order_id")
	menuItemID := stringArg(input, "menu_item_id")
	quantity, _ := intArg(input, "quantity")
	if orderID == "" || menuItemID == "" || quantity == 0 {
		return map[string]any{"error": "order_id, menu_item_id, and quantity are required"}, nil
	}
	if quantity < 1 {
		return map[string]any{"error": "Quantity must be at least 1"}, nil
	}
	if t.Orders == nil {
		return nil, fmt.Errorf("orders are not configured")
	}

	added, err := t.Orders.AddOrderItem(ctx, orderID, menuItemID, quantity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return map[string]any{"error": fmt.Sprintf("Order with ID %s not found", orderID)}, nil
	case errors.Is(err, store.ErrMenuItemUnavailable):
		return map[string]any{"error": fmt.Sprintf("Menu item with ID %s not found or unavailable", menuItemID)}, nil
	case err != nil:
		return map[string]any{"error": "Failed to add order item: " + err.Error()}, nil
	}

	return map[string]any{
		"success":       true,
		"order_item_id": added.Item.ID,
		"order_id":      orderID,
		"item_name":     added.Item.Name,
		"quantity":      quantity,
		"unit_price":    added.UnitPrice,
		"item_total":    added.ItemTotal,
		"order_total":   added.OrderTotal,
		"message":       fmt.Sprintf("Added %dx %s to order %s", quantity, added.Item.Name, orderID),
	}, nil
}

func stringArg(input map[string]any, key string) string {
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func intArg(input map[string]any, key string) (int, bool) {
	switch v := input[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
