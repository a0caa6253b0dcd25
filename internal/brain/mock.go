package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voxbridge/internal/conversation"
)

// MockBackend is an offline backend for local runs and tests. It answers time
// questions through the current_time tool when that tool is offered.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (MockBackend) Respond(ctx context.Context, items []conversation.Item, tools []conversation.ToolSchema) (conversation.Response, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Response{}, err
	}
	if len(items) == 0 {
		return conversation.Response{}, nil
	}

	last := items[len(items)-1]
	if last.Type == conversation.ItemFunctionCallOutput {
		return conversation.Response{Texts: []string{"Tool result: " + last.Output}}, nil
	}
	if last.Type != conversation.ItemMessage || last.Role != conversation.RoleUser {
		return conversation.Response{}, nil
	}

	text := strings.TrimSpace(last.Text)
	if asksForTime(text) && offers(tools, "current_time") {
		return conversation.Response{ToolCalls: []conversation.ToolCall{{
			ID:        "call_" + uuid.NewString(),
			Name:      "current_time",
			Arguments: "{}",
		}}}, nil
	}
	return conversation.Response{Texts: []string{fmt.Sprintf("I heard you: %s", text)}}, nil
}

func asksForTime(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "what time") || strings.Contains(text, "何時")
}

func offers(tools []conversation.ToolSchema, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
