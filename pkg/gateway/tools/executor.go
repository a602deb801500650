package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

// AgentScopedTools receive the conversation's agent_id regardless of what the
// model sent.
var AgentScopedTools = map[string]bool{
	ToolSearchCollection: true,
}

// TriggerCloseKey is set on a result whose tool asked to end the call.
const TriggerCloseKey = "_trigger_close"

type ToolCallStore interface {
	StartToolCall(ctx context.Context, conversationID, toolName string, params map[string]any) (store.ToolCall, error)
	FinishToolCall(ctx context.Context, id, status string, result map[string]any, elapsed time.Duration) error
}

// Observer receives the outcome of every audited tool call.
type Observer interface {
	ObserveToolCall(name, status string, elapsed time.Duration)
}

type ExecutorConfig struct {
	Registry *Registry
	Calls    ToolCallStore
	Observer Observer
	Logger   *slog.Logger
}

type Executor struct {
	registry *Registry
	calls    ToolCallStore
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	return &Executor{
		registry: cfg.Registry,
		calls:    cfg.Calls,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

type ExecuteRequest struct {
	ConversationID string
	AgentID        string
	Name           string
	Arguments      map[string]any
}

// Execute runs a tool and always returns a result map suitable for a function
// call response. Unknown tools are answered without creating an audit row.
// Otherwise the audit row is created before the tool runs and finished
// exactly once afterwards.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) map[string]any {
	handler, ok := e.registry.Lookup(req.Name)
	if !ok {
		e.logger.Error("tool not found", "tool", req.Name)
		return map[string]any{"success": false, "error": fmt.Sprintf("Tool '%s' not found", req.Name)}
	}

	args := make(map[string]any, len(req.Arguments)+1)
	for k, v := range req.Arguments {
		args[k] = v
	}
	if AgentScopedTools[req.Name] {
		args["agent_id"] = req.AgentID
	}

	start := e.now()
	var callID string
	if e.calls != nil {
		call, err := e.calls.StartToolCall(ctx, req.ConversationID, req.Name, args)
		if err != nil {
			e.logger.Error("record tool call failed", "tool", req.Name, "err", err)
			return map[string]any{"success": false, "error": err.Error()}
		}
		callID = call.ID
	}
	e.logger.Info("tool call started", "tool", req.Name, "tool_call_id", callID)

	result, err := e.run(ctx, handler, args)
	elapsed := e.now().Sub(start)

	status := store.ToolCallStatusSuccess
	if err != nil {
		status = store.ToolCallStatusFailed
		result = map[string]any{"error": err.Error()}
	} else if failedResult(result) {
		status = store.ToolCallStatusFailed
	}

	if e.calls != nil {
		if ferr := e.calls.FinishToolCall(ctx, callID, status, result, elapsed); ferr != nil {
			e.logger.Error("finish tool call failed", "tool", req.Name, "tool_call_id", callID, "err", ferr)
		}
	}
	if e.observer != nil {
		e.observer.ObserveToolCall(req.Name, status, elapsed)
	}
	e.logger.Info("tool call finished", "tool", req.Name, "status", status, "elapsed_ms", elapsed.Milliseconds())

	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if action, _ := result["action"].(string); action == "hangup" {
		result[TriggerCloseKey] = true
	}
	return result
}

func (e *Executor) run(ctx context.Context, h Handler, args map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool panic", "tool", h.Name(), "panic", rec)
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", h.Name(), rec)
		}
	}()
	result, err = h.Execute(ctx, args)
	if err == nil && result == nil {
		result = map[string]any{}
	}
	return result, err
}

// ShouldClose reports whether a tool result asks for the call to end.
func ShouldClose(result map[string]any) bool {
	v, _ := result[TriggerCloseKey].(bool)
	return v
}

func failedResult(result map[string]any) bool {
	if ok, present := result["success"].(bool); present && !ok {
		return true
	}
	_, hasErr := result["error"]
	return hasErr
}
