// Package tools holds the functions a voice agent can call during a
// conversation and the executor that audits each call.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-go/vai-phone/pkg/core/voice/deepgram"
)

// Handler is one callable tool.
type Handler interface {
	Name() string
	Definition() deepgram.Function
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Registry maps tool names to handlers. It is built once at startup and only
// read afterwards.
type Registry struct {
	byName map[string]Handler
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil tool handler")
	}
	name := strings.TrimSpace(h.Name())
	if name == "" {
		return fmt.Errorf("tool name must be non-empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = h
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.byName[strings.TrimSpace(name)]
	return h, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Definitions returns the function definitions for the enabled tools, in
// registration order. An empty enabled list selects every tool; unknown
// names are ignored.
func (r *Registry) Definitions(enabled []string) []deepgram.Function {
	if r == nil {
		return nil
	}
	var allow map[string]struct{}
	if len(enabled) > 0 {
		allow = make(map[string]struct{}, len(enabled))
		for _, name := range enabled {
			allow[strings.TrimSpace(name)] = struct{}{}
		}
	}
	out := make([]deepgram.Function, 0, len(r.order))
	for _, name := range r.order {
		if allow != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		out = append(out, r.byName[name].Definition())
	}
	return out
}
