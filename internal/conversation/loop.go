package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/transcript"
)

var ErrLoopClosed = errors.New("conversation loop closed")

const DefaultMaxToolIterations = 3

// TurnLog persists user and spoken assistant text. Failures are logged only.
type TurnLog interface {
	Record(ctx context.Context, turnID string, role Role, text string) error
}

type LoopConfig struct {
	MaxToolIterations int
	Silence           *SilenceFilter
}

// Loop processes finalized utterances one turn at a time, in arrival order.
type Loop struct {
	backend Backend
	router  ToolRouter
	conv    *Conversation
	sinks   Sinks
	turnLog TurnLog
	cfg     LoopConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending []transcript.Utterance
	busy    bool
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type LoopOptions struct {
	Router  ToolRouter
	Sinks   Sinks
	TurnLog TurnLog
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewLoop starts the worker goroutine. Close stops it.
func NewLoop(backend Backend, conv *Conversation, cfg LoopConfig, opts LoopOptions) *Loop {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.Silence == nil {
		cfg.Silence = NewSilenceFilter(DefaultSilenceSentinels)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		backend: backend,
		router:  opts.Router,
		conv:    conv,
		sinks:   opts.Sinks,
		turnLog: opts.TurnLog,
		cfg:     cfg,
		logger:  logger.With("component", "conversation"),
		metrics: opts.Metrics,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Enqueue queues one utterance behind any turn in flight.
func (l *Loop) Enqueue(u transcript.Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.pending = append(l.pending, u)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending counts queued utterances plus the one in flight.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	if l.busy {
		n++
	}
	return n
}

func (l *Loop) Conversation() *Conversation { return l.conv }

// Close discards queued utterances, cancels the turn in flight and waits for the worker.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	dropped := len(l.pending)
	l.pending = nil
	l.mu.Unlock()

	l.cancel()
	<-l.done
	if dropped > 0 {
		l.logger.Info("discarded queued utterances", "count", dropped)
	}
	return nil
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		u, ok := l.next()
		if !ok {
			select {
			case <-l.ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		l.processTurn(l.ctx, u)
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}
}

func (l *Loop) next() (transcript.Utterance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.pending) == 0 {
		return transcript.Utterance{}, false
	}
	u := l.pending[0]
	l.pending = l.pending[1:]
	l.busy = true
	return u, true
}

func (l *Loop) processTurn(ctx context.Context, u transcript.Utterance) {
	start := time.Now()
	turnID := uuid.NewString()
	logger := l.logger.With("turn_id", turnID)
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r)
			outcome = "panic"
		}
		l.metrics.ObserveTurn(outcome, time.Since(start))
	}()

	l.conv.Append(UserMessage(u.Text))
	l.record(ctx, turnID, RoleUser, u.Text)

	var tools []ToolSchema
	if l.router != nil {
		tools = l.router.Schemas()
	}

	for iter := 0; iter < l.cfg.MaxToolIterations; iter++ {
		if ctx.Err() != nil {
			outcome = "canceled"
			return
		}
		callStart := time.Now()
		resp, err := l.backend.Respond(ctx, l.conv.Items(), tools)
		if iter == 0 {
			l.metrics.ObserveStage("final_to_backend", time.Since(callStart))
		}
		if err != nil {
			if ctx.Err() != nil {
				outcome = "canceled"
				return
			}
			logger.Error("backend call failed, turn aborted", "err", err, "iteration", iter)
			outcome = "backend_error"
			return
		}

		for _, text := range resp.Texts {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			l.conv.Append(AssistantMessage(text))
			if l.cfg.Silence.Suppress(text) {
				logger.Debug("assistant output suppressed", "text", text)
				continue
			}
			l.sinks.emit(text)
			l.record(ctx, turnID, RoleAssistant, text)
		}

		if len(resp.ToolCalls) == 0 {
			return
		}
		if err := l.runTools(ctx, turnID, u, resp.ToolCalls); err != nil {
			logger.Error("tool call failed, turn aborted", "err", err)
			outcome = "tool_error"
			return
		}
	}

	logger.Warn("tool loop limit reached", "max_iterations", l.cfg.MaxToolIterations)
	outcome = "loop_limit"
}

// runTools executes calls in order. Every call gets an output item, even on
// failure, so history never holds an unanswered call.
func (l *Loop) runTools(ctx context.Context, turnID string, u transcript.Utterance, calls []ToolCall) error {
	for _, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		l.conv.Append(FunctionCall(call))

		if l.router == nil {
			err := errors.New("no tool router configured")
			l.answerFailed(call.ID, err)
			return err
		}

		tc := ToolContext{
			TurnID:           turnID,
			UserText:         u.Text,
			Timestamp:        u.Timestamp,
			ConversationSize: l.conv.Len(),
			Sinks:            l.sinks,
		}
		res, err := l.router.Route(ctx, call, tc)
		if err != nil {
			l.metrics.ObserveToolCall(call.Name, "error")
			l.answerFailed(call.ID, err)
			return err
		}
		l.metrics.ObserveToolCall(call.Name, "ok")
		if res.CallID == "" {
			res.CallID = call.ID
		}
		l.conv.Append(FunctionCallOutput(res))
	}
	return nil
}

// answerFailed closes the failed call with an error output. Later calls of the
// same batch are never appended.
func (l *Loop) answerFailed(callID string, cause error) {
	l.conv.Append(FunctionCallOutput(ToolResult{CallID: callID, Output: ErrorOutput(cause)}))
}

func (l *Loop) record(ctx context.Context, turnID string, role Role, text string) {
	if l.turnLog == nil {
		return
	}
	if err := l.turnLog.Record(ctx, turnID, role, text); err != nil {
		l.logger.Warn("turn log write failed", "err", err, "role", role)
	}
}

// ErrorOutput renders err as a tool output JSON object.
func ErrorOutput(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}
