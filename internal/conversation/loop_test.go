package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voxbridge/internal/transcript"
)

type scriptedBackend struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     [][]Item
	tools     [][]ToolSchema
	block     chan struct{}
}

func (b *scriptedBackend) Respond(ctx context.Context, items []Item, tools []ToolSchema) (Response, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, items)
	b.tools = append(b.tools, tools)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return Response{}, err
		}
	}
	if len(b.responses) == 0 {
		return Response{}, nil
	}
	r := b.responses[0]
	b.responses = b.responses[1:]
	return r, nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type fakeRouter struct {
	mu     sync.Mutex
	err    error
	routed []ToolContext
}

func (r *fakeRouter) Schemas() []ToolSchema {
	return []ToolSchema{{Name: "current_time", Description: "time"}}
}

func (r *fakeRouter) Route(_ context.Context, call ToolCall, tc ToolContext) (ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, tc)
	if r.err != nil {
		return ToolResult{}, r.err
	}
	return ToolResult{CallID: call.ID, Output: `{"ok":true}`}, nil
}

type spoken struct {
	ch chan string
}

func newSpoken() *spoken { return &spoken{ch: make(chan string, 16)} }

func (s *spoken) sinks() Sinks {
	return Sinks{Speak: func(text string) { s.ch <- text }}
}

func (s *spoken) next(t *testing.T) string {
	t.Helper()
	select {
	case text := <-s.ch:
		return text
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for spoken text")
		return ""
	}
}

func waitIdle(t *testing.T, l *Loop) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("loop still has %d pending turns", l.Pending())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoopTextOnlyTurn(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{{Texts: []string{"晴れです。"}}}}
	out := newSpoken()
	conv := NewConversation("sys", 40)
	l := NewLoop(backend, conv, LoopConfig{}, LoopOptions{Sinks: out.sinks()})
	defer l.Close()

	if err := l.Enqueue(transcript.Utterance{Text: "天気は？", Timestamp: 1}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if got := out.next(t); got != "晴れです。" {
		t.Fatalf("spoken = %q, want %q", got, "晴れです。")
	}
	waitIdle(t, l)

	got := texts(conv.Items())
	want := []string{"sys", "天気は？", "晴れです。"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("history = %v, want %v", got, want)
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.callCount())
	}
}

func TestLoopRunsToolsThenAnswers(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "current_time", Arguments: "{}"}}},
		{Texts: []string{"It is noon."}},
	}}
	router := &fakeRouter{}
	out := newSpoken()
	conv := NewConversation("", 40)
	l := NewLoop(backend, conv, LoopConfig{}, LoopOptions{Router: router, Sinks: out.sinks()})
	defer l.Close()

	l.Enqueue(transcript.Utterance{Text: "what time is it", Timestamp: 42})
	if got := out.next(t); got != "It is noon." {
		t.Fatalf("spoken = %q", got)
	}
	waitIdle(t, l)

	got := strings.Join(texts(conv.Items()), "|")
	if got != "what time is it|call:c1|out:c1|It is noon." {
		t.Fatalf("history = %s", got)
	}
	if len(router.routed) != 1 || router.routed[0].UserText != "what time is it" || router.routed[0].Timestamp != 42 {
		t.Fatalf("tool context = %+v", router.routed)
	}
	if len(backend.tools[0]) != 1 {
		t.Fatalf("backend saw %d tools, want 1", len(backend.tools[0]))
	}
}

func TestLoopStopsAtIterationCap(t *testing.T) {
	call := Response{ToolCalls: []ToolCall{{Name: "current_time"}}}
	backend := &scriptedBackend{responses: []Response{call, call, call, call}}
	conv := NewConversation("", 0)
	l := NewLoop(backend, conv, LoopConfig{MaxToolIterations: 2}, LoopOptions{Router: &fakeRouter{}})
	defer l.Close()

	l.Enqueue(transcript.Utterance{Text: "loop"})
	waitIdle(t, l)

	if backend.callCount() != 2 {
		t.Fatalf("backend calls = %d, want 2", backend.callCount())
	}
	assertPaired(t, conv.Items())
}

func TestLoopToolErrorAbortsTurnButNotQueue(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "current_time"}, {ID: "c2", Name: "current_time"}}},
		{Texts: []string{"second turn"}},
	}}
	router := &fakeRouter{err: errors.New("router down")}
	out := newSpoken()
	conv := NewConversation("", 0)
	l := NewLoop(backend, conv, LoopConfig{}, LoopOptions{Router: router, Sinks: out.sinks()})
	defer l.Close()

	l.Enqueue(transcript.Utterance{Text: "one"})
	l.Enqueue(transcript.Utterance{Text: "two"})
	if got := out.next(t); got != "second turn" {
		t.Fatalf("spoken = %q, want second turn", got)
	}
	waitIdle(t, l)

	got := strings.Join(texts(conv.Items()), "|")
	if got != "one|call:c1|out:c1|two|second turn" {
		t.Fatalf("history = %s", got)
	}
	assertPaired(t, conv.Items())
}

func TestLoopBackendErrorContinuesWithNextUtterance(t *testing.T) {
	backend := &scriptedBackend{
		errs:      []error{errors.New("503"), nil},
		responses: []Response{{Texts: []string{"ok"}}},
	}
	out := newSpoken()
	l := NewLoop(backend, NewConversation("", 0), LoopConfig{}, LoopOptions{Sinks: out.sinks()})
	defer l.Close()

	l.Enqueue(transcript.Utterance{Text: "first"})
	l.Enqueue(transcript.Utterance{Text: "second"})
	if got := out.next(t); got != "ok" {
		t.Fatalf("spoken = %q, want ok", got)
	}
}

func TestLoopSuppressesSilenceSentinels(t *testing.T) {
	backend := &scriptedBackend{responses: []Response{
		{Texts: []string{"NO_RESPONSE", "  ", "（無言）"}},
		{Texts: []string{"spoken"}},
	}}
	out := newSpoken()
	conv := NewConversation("", 0)
	l := NewLoop(backend, conv, LoopConfig{}, LoopOptions{Sinks: out.sinks()})
	defer l.Close()

	l.Enqueue(transcript.Utterance{Text: "a"})
	l.Enqueue(transcript.Utterance{Text: "b"})
	if got := out.next(t); got != "spoken" {
		t.Fatalf("first spoken = %q, want spoken", got)
	}
	waitIdle(t, l)

	got := strings.Join(texts(conv.Items()), "|")
	if got != "a|NO_RESPONSE|（無言）|b|spoken" {
		t.Fatalf("history = %s", got)
	}
}

func TestLoopProcessesFIFOOneAtATime(t *testing.T) {
	backend := &scriptedBackend{
		block:     make(chan struct{}),
		responses: []Response{{Texts: []string{"r1"}}, {Texts: []string{"r2"}}, {Texts: []string{"r3"}}},
	}
	out := newSpoken()
	conv := NewConversation("", 0)
	l := NewLoop(backend, conv, LoopConfig{}, LoopOptions{Sinks: out.sinks()})
	defer l.Close()

	for _, text := range []string{"u1", "u2", "u3"} {
		l.Enqueue(transcript.Utterance{Text: text})
	}
	if got := l.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}
	close(backend.block)
	for _, want := range []string{"r1", "r2", "r3"} {
		if got := out.next(t); got != want {
			t.Fatalf("spoken = %q, want %q", got, want)
		}
	}
	waitIdle(t, l)

	got := strings.Join(texts(conv.Items()), "|")
	if got != "u1|r1|u2|r2|u3|r3" {
		t.Fatalf("history = %s", got)
	}
}

func TestLoopCloseDiscardsPending(t *testing.T) {
	backend := &scriptedBackend{block: make(chan struct{})}
	l := NewLoop(backend, NewConversation("", 0), LoopConfig{}, LoopOptions{})

	l.Enqueue(transcript.Utterance{Text: "u1"})
	l.Enqueue(transcript.Utterance{Text: "u2"})

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close() blocked on the turn in flight")
	}
	if err := l.Enqueue(transcript.Utterance{Text: "late"}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Enqueue() after Close error = %v, want ErrLoopClosed", err)
	}
	if backend.callCount() != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.callCount())
	}
}

func assertPaired(t *testing.T, items []Item) {
	t.Helper()
	open := map[string]int{}
	for _, item := range items {
		switch item.Type {
		case ItemFunctionCall:
			open[item.CallID]++
		case ItemFunctionCallOutput:
			if open[item.CallID] == 0 {
				t.Fatalf("output %q has no preceding call", item.CallID)
			}
			open[item.CallID]--
		}
	}
	for id, n := range open {
		if n != 0 {
			t.Fatalf("call %q has no output", id)
		}
	}
}
