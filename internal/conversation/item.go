package conversation

import "context"

type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Item is one entry of the conversation history. Which fields are set depends on Type.
type Item struct {
	Type      ItemType `json:"type"`
	Role      Role     `json:"role,omitempty"`
	Text      string   `json:"text,omitempty"`
	CallID    string   `json:"call_id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Arguments string   `json:"arguments,omitempty"`
	Output    string   `json:"output,omitempty"`
}

func (i Item) IsSystem() bool {
	return i.Type == ItemMessage && i.Role == RoleSystem
}

func SystemMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleSystem, Text: text}
}

func UserMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleUser, Text: text}
}

func AssistantMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleAssistant, Text: text}
}

func FunctionCall(call ToolCall) Item {
	return Item{Type: ItemFunctionCall, CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
}

func FunctionCallOutput(result ToolResult) Item {
	return Item{Type: ItemFunctionCallOutput, CallID: result.CallID, Output: result.Output}
}

// ToolSchema describes one callable tool. Parameters is a JSON schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolResult struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// Response is one backend round: zero or more texts and zero or more tool calls.
type Response struct {
	Texts     []string
	ToolCalls []ToolCall
}

// ToolContext is handed to the router with every call.
type ToolContext struct {
	TurnID           string
	UserText         string
	Timestamp        int64
	ConversationSize int
	Sinks            Sinks
}

// Backend is a language model. Implementations must be safe for sequential use
// from the loop worker.
type Backend interface {
	Respond(ctx context.Context, items []Item, tools []ToolSchema) (Response, error)
}

type ToolRouter interface {
	Schemas() []ToolSchema
	Route(ctx context.Context, call ToolCall, tc ToolContext) (ToolResult, error)
}

// Sinks receive spoken assistant text. Nil funcs are skipped.
type Sinks struct {
	Speak     func(text string)
	Broadcast func(text string)
}

func (s Sinks) emit(text string) {
	if s.Speak != nil {
		s.Speak(text)
	}
	if s.Broadcast != nil {
		s.Broadcast(text)
	}
}
