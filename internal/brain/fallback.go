package brain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/voxbridge/internal/conversation"
)

// FallbackBackend tries the primary backend first and falls back on error.
// Cancellation is returned as-is and never retried on the fallback.
type FallbackBackend struct {
	primary  conversation.Backend
	fallback conversation.Backend
}

func NewFallbackBackend(primary, fallback conversation.Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, fallback: fallback}
}

func (b *FallbackBackend) Primary() conversation.Backend   { return b.primary }
func (b *FallbackBackend) Secondary() conversation.Backend { return b.fallback }

func (b *FallbackBackend) Respond(ctx context.Context, items []conversation.Item, tools []conversation.ToolSchema) (conversation.Response, error) {
	if b.primary == nil {
		if b.fallback != nil {
			return b.fallback.Respond(ctx, items, tools)
		}
		return conversation.Response{}, errors.New("fallback backend misconfigured")
	}

	resp, err := b.primary.Respond(ctx, items, tools)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || b.fallback == nil {
		return conversation.Response{}, err
	}

	fallbackResp, fallbackErr := b.fallback.Respond(ctx, items, tools)
	if fallbackErr != nil {
		return conversation.Response{}, fmt.Errorf("primary backend error: %w; fallback backend error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
