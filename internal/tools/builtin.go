package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/policy"
	"github.com/ent0n29/voxbridge/internal/session"
)

type StatusSource interface {
	Status(now time.Time) session.Status
}

// TargetSender delivers text to the selected dispatch target.
type TargetSender interface {
	SendToTarget(ctx context.Context, text string) (session.Target, error)
}

type BuiltinDeps struct {
	Status StatusSource
	Sender TargetSender
	Now    func() time.Time
}

// RegisterBuiltins adds current_time and announce, plus session_status and
// send_to_target when their dependencies are present.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	tools := []Tool{
		{
			Schema: conversation.ToolSchema{
				Name:        "current_time",
				Description: "Returns the current local date and time.",
			},
			Handler: func(context.Context, json.RawMessage, conversation.ToolContext) (any, error) {
				t := now()
				zone, _ := t.Zone()
				return map[string]any{
					"time":     t.Format(time.RFC3339),
					"timezone": zone,
					"weekday":  t.Weekday().String(),
				}, nil
			},
		},
		{
			Schema: conversation.ToolSchema{
				Name:        "announce",
				Description: "Speaks a short notice to the user immediately, before the final answer.",
				Parameters: objectSchema(map[string]any{
					"text": map[string]any{"type": "string"},
				}, "text"),
			},
			Handler: func(_ context.Context, args json.RawMessage, tc conversation.ToolContext) (any, error) {
				text, err := textArg(args)
				if err != nil {
					return nil, err
				}
				if tc.Sinks.Speak != nil {
					tc.Sinks.Speak(text)
				}
				if tc.Sinks.Broadcast != nil {
					tc.Sinks.Broadcast(text)
				}
				return map[string]any{"announced": true}, nil
			},
		},
	}

	if deps.Status != nil {
		tools = append(tools, Tool{
			Schema: conversation.ToolSchema{
				Name:        "session_status",
				Description: "Reports the capture mode, dispatch targets and the selected target.",
			},
			Handler: func(context.Context, json.RawMessage, conversation.ToolContext) (any, error) {
				return deps.Status.Status(now()), nil
			},
		})
	}
	if deps.Sender != nil {
		tools = append(tools, Tool{
			Schema: conversation.ToolSchema{
				Name:        "send_to_target",
				Description: "Types text into the selected dispatch target, for example a terminal window.",
				Parameters: objectSchema(map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to send."},
				}, "text"),
			},
			Handler: func(ctx context.Context, args json.RawMessage, _ conversation.ToolContext) (any, error) {
				text, err := textArg(args)
				if err != nil {
					return nil, err
				}
				review := policy.ReviewDispatch(text)
				if review.Blocked {
					return nil, fmt.Errorf("refused: %s", review.Reason)
				}
				target, err := deps.Sender.SendToTarget(ctx, text)
				if err != nil {
					return nil, err
				}
				return map[string]any{"sent": true, "target_id": target.ID, "target": target.Title, "risk": review.Risk}, nil
			},
		})
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func textArg(args json.RawMessage) (string, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", errors.New("text is required")
	}
	return text, nil
}
