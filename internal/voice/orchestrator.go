package voice

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/dispatch"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/playback"
	"github.com/ent0n29/voxbridge/internal/protocol"
	"github.com/ent0n29/voxbridge/internal/session"
	"github.com/ent0n29/voxbridge/internal/transcript"
)

var (
	// ErrTranscriptionClosed is returned by Run when the transcription socket
	// closes while the process is not shutting down.
	ErrTranscriptionClosed = errors.New("transcription connection closed")
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

const (
	defaultTargetRefresh = 5 * time.Second
	targetListTimeout    = 10 * time.Second
	countdownInterval    = time.Second
	sendErrorLogInterval = 5 * time.Second
)

// TurnSink receives finalized utterances. conversation.Loop satisfies it.
type TurnSink interface {
	Enqueue(transcript.Utterance) error
}

// Dispatcher queues utterances for an external target. dispatch.Worker satisfies it.
type Dispatcher interface {
	Submit(target session.Target, text string) (<-chan error, error)
}

// Broadcaster fans messages out to browser clients. It must not block.
type Broadcaster interface {
	Broadcast(msg any)
}

// FrameWriter records forwarded microphone frames, for example a WAV dump.
type FrameWriter interface {
	Write(samples []int16) error
}

type Options struct {
	Machine *session.Machine
	// STT and Events come from one STTProvider.StartSession call.
	STT    STTSession
	Events <-chan STTEvent

	Turns         TurnSink
	Dispatcher    Dispatcher
	Targets       dispatch.Lister
	TargetRefresh time.Duration

	// Mic delivers 24 kHz mono frames from the local microphone. Nil when the
	// browser is the capture source.
	Mic          <-chan []int16
	BrowserInput bool

	Broadcast Broadcaster
	DebugMic  bool
	MicDump   FrameWriter
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

type targetResult struct {
	targets []session.Target
	err     error
}

type dispatchResult struct {
	target session.Target
	text   string
	err    error
}

// Orchestrator owns the session state and runs the single event loop that
// serializes transcription events, audio frames, timers and control commands.
type Orchestrator struct {
	machine    *session.Machine
	finalizer  *transcript.Finalizer
	stt        STTSession
	events     <-chan STTEvent
	turns      TurnSink
	dispatcher Dispatcher
	lister     dispatch.Lister
	refreshDur time.Duration
	mic        <-chan []int16
	browserIn  bool
	broadcast  Broadcaster
	debugMic   bool
	micDump    FrameWriter
	logger     *slog.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	browser         chan audio.Segment
	playbackStates  chan playback.State
	cmds            chan func(now time.Time)
	targetResults   chan targetResult
	dispatchResults chan dispatchResult

	stopping atomic.Bool
	started  atomic.Bool
	stopped  chan struct{}

	// Loop-owned state.
	ducked         bool
	refreshing     bool
	lastTargets    []session.Target
	utteranceStart time.Time
	sendErrAt      time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	machine := opts.Machine
	if machine == nil {
		machine = session.NewMachine(session.Config{})
	}
	refresh := opts.TargetRefresh
	if refresh <= 0 {
		refresh = defaultTargetRefresh
	}
	bc := opts.Broadcast
	if bc == nil {
		bc = nopBroadcaster{}
	}
	return &Orchestrator{
		machine:         machine,
		finalizer:       transcript.NewFinalizer(),
		stt:             opts.STT,
		events:          opts.Events,
		turns:           opts.Turns,
		dispatcher:      opts.Dispatcher,
		lister:          opts.Targets,
		refreshDur:      refresh,
		mic:             opts.Mic,
		browserIn:       opts.BrowserInput,
		broadcast:       bc,
		debugMic:        opts.DebugMic,
		micDump:         opts.MicDump,
		logger:          logger.With("component", "orchestrator"),
		metrics:         opts.Metrics,
		now:             time.Now,
		browser:         make(chan audio.Segment, 64),
		playbackStates:  make(chan playback.State, 8),
		cmds:            make(chan func(time.Time)),
		targetResults:   make(chan targetResult, 1),
		dispatchResults: make(chan dispatchResult, 16),
		stopped:         make(chan struct{}),
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(any) {}

// loopTimers are created and stopped by Run.
type loopTimers struct {
	deadline  *time.Timer
	armed     bool
	armedAt   time.Time
	refresh   *time.Ticker
	countdown *time.Ticker
}

// Run processes events until ctx ends or the transcription socket closes. It
// must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	defer close(o.stopped)

	t := &loopTimers{
		deadline:  time.NewTimer(time.Hour),
		refresh:   time.NewTicker(o.refreshDur),
		countdown: time.NewTicker(countdownInterval),
	}
	t.deadline.Stop()
	defer t.deadline.Stop()
	defer t.refresh.Stop()
	defer t.countdown.Stop()

	o.startRefresh(ctx)
	o.broadcastStatus("")
	o.logger.Info("event loop started", "mode", o.machine.Mode())

	for {
		stop, err := o.step(ctx, t)
		if stop {
			o.logger.Info("event loop stopped", "err", err)
			return err
		}
		o.rearm(t)
	}
}

func (o *Orchestrator) step(ctx context.Context, t *loopTimers) (stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handler panicked", "panic", r)
		}
	}()

	select {
	case <-ctx.Done():
		return true, nil
	case evt, ok := <-o.events:
		if !ok {
			if o.stopping.Load() || ctx.Err() != nil {
				return true, nil
			}
			return true, ErrTranscriptionClosed
		}
		o.handleSTT(evt)
	case frame, ok := <-o.mic:
		if !ok {
			o.logger.Info("microphone closed")
			o.mic = nil
			return false, nil
		}
		o.handleFrame(ctx, "mic", frame)
	case seg := <-o.browser:
		o.handleFrame(ctx, "browser", playback.Resample(seg.Samples, seg.SampleRate, audio.SampleRate))
	case state := <-o.playbackStates:
		o.ducked = state == playback.StateStart
		o.broadcast.Broadcast(protocol.PlaybackState{Type: protocol.TypePlaybackState, State: string(state)})
	case cmd := <-o.cmds:
		cmd(o.now())
	case res := <-o.targetResults:
		o.applyTargets(res)
	case res := <-o.dispatchResults:
		o.applyDispatch(res)
	case <-t.deadline.C:
		t.armed = false
		if tr, ok := o.machine.Expire(o.now()); ok {
			o.applyTransition(tr)
		}
	case <-t.refresh.C:
		o.startRefresh(ctx)
	case <-t.countdown.C:
		if o.machine.Mode() != session.ModeOff {
			o.broadcastStatus("")
		}
	}
	return false, nil
}

// rearm points the one-shot deadline timer at the machine's next expiry.
func (o *Orchestrator) rearm(t *loopTimers) {
	next, ok := o.machine.NextDeadline()
	if !ok {
		if t.armed {
			t.deadline.Stop()
			t.armed = false
		}
		return
	}
	if t.armed && next.Equal(t.armedAt) {
		return
	}
	t.deadline.Stop()
	t.deadline.Reset(max(next.Sub(o.now()), 0))
	t.armed = true
	t.armedAt = next
}

func (o *Orchestrator) handleSTT(evt STTEvent) {
	if evt.Type == STTEventError {
		o.logger.Warn("transcription error", "code", evt.Code, "detail", evt.Detail, "retryable", evt.Retryable)
		o.broadcast.Broadcast(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      evt.Code,
			Source:    "stt",
			Retryable: evt.Retryable,
			Detail:    evt.Detail,
		})
		return
	}

	now := o.now()
	if strings.TrimSpace(evt.Text) != "" {
		o.machine.NoteTranscriptActivity(now)
	}
	res, ok := o.finalizer.Process(evt.Text, evt.Stage)
	if !ok {
		o.logger.Debug("ignoring transcription event", "stage", evt.Stage)
		return
	}

	switch res.Kind {
	case transcript.KindPartial:
		if o.utteranceStart.IsZero() {
			o.utteranceStart = now
		}
		o.metrics.ObserveTranscript("partial")
		o.broadcast.Broadcast(protocol.TranscriptPartial{Type: protocol.TypeTranscriptPartial, Text: res.Partial})
	case transcript.KindCleared:
		o.utteranceStart = time.Time{}
		o.metrics.ObserveTranscript("cleared")
		o.broadcast.Broadcast(protocol.TranscriptPartial{Type: protocol.TypeTranscriptPartial})
	case transcript.KindFinal:
		o.finalize(res.Utterance, now)
	}
}

func (o *Orchestrator) finalize(u transcript.Utterance, now time.Time) {
	if !o.utteranceStart.IsZero() {
		o.metrics.ObserveStage("utterance", now.Sub(o.utteranceStart))
		o.utteranceStart = time.Time{}
	}
	o.metrics.ObserveTranscript("final")
	o.broadcast.Broadcast(protocol.TranscriptFinal{Type: protocol.TypeTranscriptFinal, Text: u.Text, TSMs: u.Timestamp})

	if o.machine.Mode() == session.ModeOff {
		o.logger.Debug("utterance after capture stopped, dropping", "text", u.Text)
		return
	}
	o.machine.NoteUtterance()
	o.logger.Info("utterance", "text", u.Text)

	if o.turns != nil {
		if err := o.turns.Enqueue(u); err != nil {
			o.logger.Warn("utterance not queued for conversation", "err", err)
		}
	}
	if target, ok := o.machine.DispatchTarget(); ok {
		if _, err := o.submitDispatch(target, u.Text); err != nil {
			o.logger.Warn("dispatch not queued", "target", target.ID, "err", err)
		}
	}
}

func (o *Orchestrator) handleFrame(ctx context.Context, source string, frame []int16) {
	if len(frame) == 0 {
		return
	}
	result := "forwarded"
	switch {
	case !o.machine.ShouldForwardAudio():
		result = "gated"
	case o.ducked:
		result = "ducked"
	}
	o.metrics.ObserveMicFrame(source, result)
	if o.debugMic {
		o.logger.Debug("mic frame", "source", source, "samples", len(frame), "rms", audio.RMS(frame), "result", result)
	}
	if result != "forwarded" {
		return
	}

	if o.micDump != nil {
		if err := o.micDump.Write(frame); err != nil {
			o.logger.Warn("mic dump write failed, disabling", "err", err)
			o.micDump = nil
		}
	}
	if err := o.stt.SendAudio(ctx, frame); err != nil {
		if now := o.now(); now.Sub(o.sendErrAt) >= sendErrorLogInterval {
			o.sendErrAt = now
			o.logger.Warn("sending audio to transcription failed", "err", err)
			o.broadcast.Broadcast(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "stt_send_audio_failed",
				Source:    "stt",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	}
}

func (o *Orchestrator) applyTransition(tr session.Transition) {
	if tr.Changed() {
		o.logger.Info("mode changed", "from", tr.From, "to", tr.To, "reason", tr.Reason)
		o.metrics.ObserveMode(string(tr.From), string(tr.To), tr.To.Ordinal())
		if tr.To == session.ModeOff {
			o.finalizer.Reset()
			o.utteranceStart = time.Time{}
		}
	} else if tr.Reason != "" {
		o.logger.Info("mode unchanged", "mode", tr.To, "reason", tr.Reason)
	}
	o.broadcastStatus(tr.Reason)
}

func (o *Orchestrator) broadcastStatus(reason string) {
	o.broadcast.Broadcast(protocol.ModeStatus{
		Type:   protocol.TypeModeStatus,
		Status: o.machine.Status(o.now()),
		Reason: reason,
	})
}

func (o *Orchestrator) startRefresh(ctx context.Context) {
	if o.lister == nil || o.refreshing {
		return
	}
	o.refreshing = true
	go func() {
		var res targetResult
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("target refresh panicked", "panic", r)
				res = targetResult{err: errors.New("target refresh panicked")}
			}
			select {
			case o.targetResults <- res:
			case <-o.stopped:
			}
		}()
		listCtx, cancel := context.WithTimeout(ctx, targetListTimeout)
		defer cancel()
		res.targets, res.err = o.lister.List(listCtx)
	}()
}

func (o *Orchestrator) applyTargets(res targetResult) {
	o.refreshing = false
	if res.err != nil {
		o.logger.Warn("target refresh failed", "err", res.err)
		return
	}
	listChanged := !slices.Equal(o.lastTargets, res.targets)
	o.lastTargets = res.targets
	if listChanged {
		o.logger.Debug("dispatch targets updated", "count", len(res.targets))
	}
	if tr, ok := o.machine.SetTargets(res.targets, o.now()); ok {
		o.applyTransition(tr)
		return
	}
	if listChanged {
		o.broadcastStatus("")
	}
}

// submitDispatch queues text and reports the outcome both to the returned
// channel and back into the event loop.
func (o *Orchestrator) submitDispatch(target session.Target, text string) (<-chan error, error) {
	if o.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}
	done, err := o.dispatcher.Submit(target, text)
	if err != nil {
		return nil, err
	}
	out := make(chan error, 1)
	go func() {
		var err error
		select {
		case err = <-done:
		case <-o.stopped:
			err = ErrOrchestratorStopped
		}
		out <- err
		select {
		case o.dispatchResults <- dispatchResult{target: target, text: text, err: err}:
		case <-o.stopped:
		}
	}()
	return out, nil
}

func (o *Orchestrator) applyDispatch(res dispatchResult) {
	msg := protocol.DispatchEvent{
		Type:     protocol.TypeDispatchEvent,
		TargetID: res.target.ID,
		Text:     res.text,
		OK:       res.err == nil,
	}
	if res.err != nil {
		msg.Detail = res.err.Error()
	} else {
		o.machine.NoteDispatched()
	}
	o.broadcast.Broadcast(msg)
}

// do runs fn on the event loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})
	cmd := func(now time.Time) {
		defer close(done)
		fn(now)
	}
	select {
	case o.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrOrchestratorStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrOrchestratorStopped
		}
	}
}

// Advance moves the capture mode one step, OFF to DETECT to ACTIVE to OFF.
func (o *Orchestrator) Advance(ctx context.Context) (session.Transition, error) {
	var tr session.Transition
	err := o.do(ctx, func(now time.Time) {
		tr = o.machine.Advance(now)
		o.applyTransition(tr)
	})
	return tr, err
}

func (o *Orchestrator) Select(ctx context.Context, targetID string) (session.Target, error) {
	var (
		target session.Target
		selErr error
	)
	err := o.do(ctx, func(time.Time) {
		target, selErr = o.machine.Select(targetID)
		if selErr == nil {
			o.logger.Info("dispatch target selected", "target", target.ID)
			o.broadcastStatus("target selected")
		}
	})
	if err != nil {
		return session.Target{}, err
	}
	return target, selErr
}

// SendToTarget dispatches assistant-authored text to the selected target and
// waits for the send to finish.
func (o *Orchestrator) SendToTarget(ctx context.Context, text string) (session.Target, error) {
	var (
		target session.Target
		done   <-chan error
		subErr error
	)
	err := o.do(ctx, func(time.Time) {
		t, ok := o.machine.DispatchTarget()
		if !ok {
			subErr = session.ErrNoTarget
			return
		}
		target = t
		done, subErr = o.submitDispatch(t, text)
	})
	if err != nil {
		return session.Target{}, err
	}
	if subErr != nil {
		return session.Target{}, subErr
	}
	select {
	case err := <-done:
		return target, err
	case <-ctx.Done():
		return target, ctx.Err()
	}
}

// Status is safe to call from any goroutine.
func (o *Orchestrator) Status(now time.Time) session.Status {
	return o.machine.Status(now)
}

// PushBrowserAudio queues a browser microphone chunk. Chunks are dropped when
// the browser is not the capture source or the loop is backed up.
func (o *Orchestrator) PushBrowserAudio(samples []int16, sampleRate int) {
	if !o.browserIn {
		o.metrics.ObserveMicFrame("browser", "ignored")
		return
	}
	select {
	case o.browser <- audio.Segment{Samples: samples, SampleRate: sampleRate}:
	default:
		o.metrics.ObserveMicFrame("browser", "dropped")
	}
}

// OnPlaybackState is registered with the playback engine. It never blocks.
func (o *Orchestrator) OnPlaybackState(state playback.State) {
	select {
	case o.playbackStates <- state:
	default:
		o.logger.Warn("playback state dropped", "state", state)
	}
}

// BeginShutdown marks the coming transcription close as expected.
func (o *Orchestrator) BeginShutdown() {
	o.stopping.Store(true)
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.stopped }
