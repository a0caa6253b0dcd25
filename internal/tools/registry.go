package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ent0n29/voxbridge/internal/conversation"
)

// Handler runs one tool call. The returned value is encoded as the call output.
type Handler func(ctx context.Context, args json.RawMessage, tc conversation.ToolContext) (any, error)

type Tool struct {
	Schema  conversation.ToolSchema
	Handler Handler
}

// Registry routes tool calls by name. Unknown tools, bad arguments and handler
// failures become error outputs the model can read. Only cancellation is
// returned as an error.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger.With("component", "tools")}
}

func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Schema.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	t.Schema.Name = name
	if t.Schema.Parameters == nil {
		t.Schema.Parameters = objectSchema(nil)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Schemas lists tools in registration order.
func (r *Registry) Schemas() []conversation.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]conversation.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

func (r *Registry) Route(ctx context.Context, call conversation.ToolCall, tc conversation.ToolContext) (conversation.ToolResult, error) {
	res := conversation.ToolResult{CallID: call.ID}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Output = conversation.ErrorOutput(fmt.Errorf("unknown tool %q", call.Name))
		return res, nil
	}

	args := json.RawMessage(strings.TrimSpace(call.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		res.Output = conversation.ErrorOutput(fmt.Errorf("invalid arguments for %s", call.Name))
		return res, nil
	}

	value, err := tool.Handler(ctx, args, tc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return conversation.ToolResult{}, err
		}
		r.logger.Warn("tool failed", "tool", call.Name, "err", err, "turn_id", tc.TurnID)
		res.Output = conversation.ErrorOutput(err)
		return res, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return conversation.ToolResult{}, fmt.Errorf("encode %s output: %w", call.Name, err)
	}
	res.Output = string(raw)
	return res, nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
