package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/observability"
)

// ResponsesBackend sends the whole conversation to the Responses API in one call.
type ResponsesBackend struct {
	client  openai.Client
	model   string
	metrics *observability.Metrics
}

func NewResponsesBackend(cfg Config) *ResponsesBackend {
	return &ResponsesBackend{
		client:  openai.NewClient(clientOptions(cfg)...),
		model:   cfg.Model,
		metrics: cfg.Metrics,
	}
}

// clientOptions is shared by the SDK backends. Retryable statuses (408, 429,
// 5xx) and connection errors are retried by the client itself.
func clientOptions(cfg Config) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(maxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return opts
}

func (b *ResponsesBackend) Respond(ctx context.Context, items []conversation.Item, tools []conversation.ToolSchema) (conversation.Response, error) {
	params := responses.ResponseNewParams{
		Model: b.model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: responsesInput(items)},
		Tools: responsesTools(tools),
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		b.metrics.ObserveProviderError("responses", providerErrorCode(err))
		return conversation.Response{}, fmt.Errorf("responses: %w", err)
	}
	if resp.Error.Message != "" {
		b.metrics.ObserveProviderError("responses", string(resp.Error.Code))
		return conversation.Response{}, fmt.Errorf("responses error %s: %s", resp.Error.Code, resp.Error.Message)
	}

	var out conversation.Response
	for _, o := range resp.Output {
		switch o.Type {
		case "message":
			var text strings.Builder
			for _, part := range o.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
			if s := strings.TrimSpace(text.String()); s != "" {
				out.Texts = append(out.Texts, s)
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{ID: o.CallID, Name: o.Name, Arguments: o.Arguments})
		}
	}
	return out, nil
}

func responsesInput(items []conversation.Item) responses.ResponseInputParam {
	out := make(responses.ResponseInputParam, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case conversation.ItemFunctionCall:
			out = append(out, responses.ResponseInputItemParamOfFunctionCall(item.Arguments, item.CallID, item.Name))
		case conversation.ItemFunctionCallOutput:
			out = append(out, responses.ResponseInputItemParamOfFunctionCallOutput(item.CallID, item.Output))
		default:
			out = append(out, responses.ResponseInputItemParamOfMessage(item.Text, responses.EasyInputMessageRole(item.Role)))
		}
	}
	return out
}

func responsesTools(tools []conversation.ToolSchema) []responses.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tool := responses.ToolParamOfFunction(t.Name, params, false)
		if t.Description != "" {
			tool.OfFunction.Description = openai.String(t.Description)
		}
		out = append(out, tool)
	}
	return out
}
