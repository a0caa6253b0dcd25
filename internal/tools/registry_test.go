package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/voxbridge/internal/conversation"
	"github.com/ent0n29/voxbridge/internal/session"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendToTarget(_ context.Context, text string) (session.Target, error) {
	if f.err != nil {
		return session.Target{}, f.err
	}
	f.sent = append(f.sent, text)
	return session.Target{ID: "w1", Title: "shell"}, nil
}

type fakeStatus struct{}

func (fakeStatus) Status(time.Time) session.Status {
	return session.Status{Mode: session.ModeDetect}
}

func newTestRegistry(t *testing.T, sender TargetSender) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	fixed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	err := RegisterBuiltins(r, BuiltinDeps{
		Status: fakeStatus{},
		Sender: sender,
		Now:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	return r
}

func decodeOutput(t *testing.T, res conversation.ToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatalf("output %q is not JSON: %v", res.Output, err)
	}
	return out
}

func TestSchemasInRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t, &fakeSender{})
	var names []string
	for _, s := range r.Schemas() {
		names = append(names, s.Name)
		if s.Parameters["type"] != "object" {
			t.Fatalf("%s parameters = %v, want object schema", s.Name, s.Parameters)
		}
	}
	if got := strings.Join(names, ","); got != "current_time,announce,session_status,send_to_target" {
		t.Fatalf("schemas = %s", got)
	}
}

func TestRouteCurrentTime(t *testing.T) {
	r := newTestRegistry(t, nil)
	res, err := r.Route(context.Background(), conversation.ToolCall{ID: "c1", Name: "current_time"}, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.CallID != "c1" {
		t.Fatalf("CallID = %q, want c1", res.CallID)
	}
	if got := decodeOutput(t, res)["time"]; got != "2026-03-04T12:00:00Z" {
		t.Fatalf("time = %v", got)
	}
}

func TestRouteUnknownToolAndBadArgs(t *testing.T) {
	r := newTestRegistry(t, nil)

	res, err := r.Route(context.Background(), conversation.ToolCall{ID: "c1", Name: "rm_rf"}, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if msg, _ := decodeOutput(t, res)["error"].(string); !strings.Contains(msg, "unknown tool") {
		t.Fatalf("error output = %q", res.Output)
	}

	res, err = r.Route(context.Background(), conversation.ToolCall{ID: "c2", Name: "announce", Arguments: "{not json"}, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if _, ok := decodeOutput(t, res)["error"]; !ok {
		t.Fatalf("output = %q, want error", res.Output)
	}
}

func TestRouteSendToTarget(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)

	call := conversation.ToolCall{ID: "c1", Name: "send_to_target", Arguments: `{"text":" ls -la "}`}
	res, err := r.Route(context.Background(), call, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "ls -la" {
		t.Fatalf("sent = %v", sender.sent)
	}
	if decodeOutput(t, res)["target_id"] != "w1" {
		t.Fatalf("output = %s", res.Output)
	}

	sender.err = session.ErrNoTarget
	res, err = r.Route(context.Background(), call, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v, want error output instead", err)
	}
	if msg, _ := decodeOutput(t, res)["error"].(string); msg != session.ErrNoTarget.Error() {
		t.Fatalf("error output = %q", res.Output)
	}
}

func TestSendToTargetRefusesDestructiveText(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)
	call := conversation.ToolCall{ID: "c1", Name: "send_to_target", Arguments: `{"text":"rm -rf /"}`}
	res, err := r.Route(context.Background(), call, conversation.ToolContext{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %v, want nothing", sender.sent)
	}
	if msg, _ := decodeOutput(t, res)["error"].(string); !strings.HasPrefix(msg, "refused") {
		t.Fatalf("error output = %q", res.Output)
	}
}

func TestRouteReturnsCancellation(t *testing.T) {
	r := newTestRegistry(t, &fakeSender{err: context.Canceled})
	call := conversation.ToolCall{ID: "c1", Name: "send_to_target", Arguments: `{"text":"x"}`}
	if _, err := r.Route(context.Background(), call, conversation.ToolContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Route() error = %v, want context.Canceled", err)
	}
}

func TestAnnounceUsesSinks(t *testing.T) {
	r := newTestRegistry(t, nil)
	var spoken []string
	tc := conversation.ToolContext{Sinks: conversation.Sinks{Speak: func(s string) { spoken = append(spoken, s) }}}
	call := conversation.ToolCall{ID: "c1", Name: "announce", Arguments: `{"text":"one moment"}`}
	if _, err := r.Route(context.Background(), call, tc); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if len(spoken) != 1 || spoken[0] != "one moment" {
		t.Fatalf("spoken = %v", spoken)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	tool := Tool{
		Schema:  conversation.ToolSchema{Name: "x"},
		Handler: func(context.Context, json.RawMessage, conversation.ToolContext) (any, error) { return nil, nil },
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(tool); err == nil {
		t.Fatalf("second Register() error = nil, want duplicate error")
	}
	if err := r.Register(Tool{Schema: conversation.ToolSchema{Name: "y"}}); err == nil {
		t.Fatalf("Register() without handler error = nil")
	}
}
