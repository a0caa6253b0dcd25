package brain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/observability"
)

// ChatBackend talks to a chat-completions endpoint with function calling.
type ChatBackend struct {
	client  openai.Client
	model   string
	metrics *observability.Metrics
}

func NewChatBackend(cfg Config) *ChatBackend {
	return &ChatBackend{
		client:  openai.NewClient(clientOptions(cfg)...),
		model:   cfg.Model,
		metrics: cfg.Metrics,
	}
}

func (b *ChatBackend) Respond(ctx context.Context, items []conversation.Item, tools []conversation.ToolSchema) (conversation.Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages: chatMessages(items),
		Model:    openai.ChatModel(b.model),
	}
	for _, t := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		b.metrics.ObserveProviderError("chat", providerErrorCode(err))
		return conversation.Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return conversation.Response{}, errors.New("chat completion: no choices in response")
	}

	msg := resp.Choices[0].Message
	var out conversation.Response
	if text := strings.TrimSpace(msg.Content); text != "" {
		out.Texts = append(out.Texts, text)
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// chatMessages folds consecutive function_call items into one assistant message,
// together with the assistant text right before them.
func chatMessages(items []conversation.Item) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(items))
	var pending *openai.ChatCompletionAssistantMessageParam

	flush := func() {
		if pending != nil {
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: pending})
			pending = nil
		}
	}

	for _, item := range items {
		switch item.Type {
		case conversation.ItemFunctionCall:
			if pending == nil {
				pending = &openai.ChatCompletionAssistantMessageParam{}
			}
			pending.ToolCalls = append(pending.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: item.CallID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				},
			})
		case conversation.ItemFunctionCallOutput:
			flush()
			out = append(out, openai.ToolMessage(item.Output, item.CallID))
		default:
			flush()
			switch item.Role {
			case conversation.RoleSystem:
				out = append(out, openai.SystemMessage(item.Text))
			case conversation.RoleAssistant:
				pending = &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(item.Text)},
				}
			default:
				out = append(out, openai.UserMessage(item.Text))
			}
		}
	}
	flush()
	return out
}

func providerErrorCode(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "transport"
}
