package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ent0n29/voxbridge/internal/session"
)

// TargetEnv carries the selected target id to the dispatch command.
const TargetEnv = "VOXBRIDGE_TARGET_ID"

// Lister reports the dispatch targets currently available.
type Lister interface {
	List(ctx context.Context) ([]session.Target, error)
}

// Sink delivers one finalized utterance to a target.
type Sink interface {
	Send(ctx context.Context, target session.Target, text string) error
}

// StaticLister serves a fixed list, typically parsed from TARGETS.
type StaticLister struct {
	Targets []session.Target
}

func (s StaticLister) List(context.Context) ([]session.Target, error) {
	return append([]session.Target(nil), s.Targets...), nil
}

// ParseStatic parses comma separated id=title pairs. A bare id is its own title.
func ParseStatic(entries []string) []session.Target {
	out := make([]session.Target, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		id, title, _ := strings.Cut(strings.TrimSpace(entry), "=")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title = strings.TrimSpace(title)
		if title == "" {
			title = id
		}
		out = append(out, session.Target{ID: id, Title: title})
	}
	return out
}

// CommandLister runs a shell command that prints one target per line as
// id<TAB>title.
type CommandLister struct {
	command string
}

func NewCommandLister(command string) *CommandLister {
	return &CommandLister{command: strings.TrimSpace(command)}
}

func (l *CommandLister) List(ctx context.Context) ([]session.Target, error) {
	out, err := run(ctx, l.command, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return parseTargetLines(out), nil
}

func parseTargetLines(out []byte) []session.Target {
	var targets []session.Target
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, title, _ := strings.Cut(line, "\t")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title = strings.TrimSpace(title)
		if title == "" {
			title = id
		}
		targets = append(targets, session.Target{ID: id, Title: title})
	}
	return targets
}

// CommandSink pipes the utterance to a shell command on stdin, with the target
// id in TargetEnv.
type CommandSink struct {
	command string
}

func NewCommandSink(command string) *CommandSink {
	return &CommandSink{command: strings.TrimSpace(command)}
}

func (s *CommandSink) Send(ctx context.Context, target session.Target, text string) error {
	env := append(os.Environ(), TargetEnv+"="+target.ID)
	if _, err := run(ctx, s.command, strings.NewReader(text), env); err != nil {
		return fmt.Errorf("dispatch to %s: %w", target.ID, err)
	}
	return nil
}

// LogSink only logs. It stands in when no dispatch command is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, target session.Target, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dispatch", "target", target.ID, "text", text)
	return nil
}

var errNoCommand = errors.New("command not configured")

func run(ctx context.Context, command string, stdin *strings.Reader, env []string) ([]byte, error) {
	if command == "" {
		return nil, errNoCommand
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if env != nil {
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// CommandContext reports "signal: killed" rather than the context error.
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
