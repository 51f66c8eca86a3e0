// Package bridge runs the Claude Code CLI as a subprocess, with bounded
// concurrency, a hard per-call timeout and per-chat conversation
// continuity via persisted session tokens.
//
// Requirements:
//   - Claude Code CLI installed: npm install -g @anthropic-ai/claude-code
//   - Authenticated: claude setup-token or claude login
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/session"
)

// Config mirrors the `claude` section of the config file.
type Config struct {
	// Command is the CLI binary to invoke. Defaults to "claude".
	Command string `yaml:"command,omitempty"`

	// AllowedTools restricts the CLI's tool access, e.g. ["Read", "Grep"].
	// Empty leaves the CLI's own defaults in place.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`

	// MaxTurns caps agentic turns per invocation. 0 means no flag.
	MaxTurns int `yaml:"max_turns"`

	// TimeoutSeconds is the hard per-invocation limit; the process is
	// killed when it elapses.
	TimeoutSeconds int `yaml:"timeout"`
}

// QueueConfig mirrors the `queue` section: backpressure for concurrent
// CLI invocations.
type QueueConfig struct {
	// MaxConcurrent is how many CLI processes may run at once.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxQueueSize caps in-flight plus waiting requests; past it, Send
	// fails immediately with ErrQueueFull instead of blocking.
	MaxQueueSize int `yaml:"max_queue_size"`

	// WaitTimeoutSeconds bounds how long an admitted request may wait
	// for a free run slot.
	WaitTimeoutSeconds int `yaml:"timeout"`
}

// DefaultConfig returns the default CLI settings.
func DefaultConfig() Config {
	return Config{
		Command:        "claude",
		MaxTurns:       10,
		TimeoutSeconds: 300,
	}
}

// DefaultQueueConfig returns the default backpressure settings: one
// process at a time, up to ten requests waiting.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent:      1,
		MaxQueueSize:       10,
		WaitTimeoutSeconds: 600,
	}
}

// Response is the parsed outcome of one CLI invocation. Success is true
// only when Result holds usable assistant output; otherwise Err carries
// one of the package's error kinds.
type Response struct {
	Result       string
	SessionToken string
	Success      bool
	Err          error
}

// runFunc executes one prepared CLI invocation and returns its stdout,
// stderr and run error. Tests substitute this to avoid spawning anything.
type runFunc func(ctx context.Context, command string, args []string) (stdout, stderr []byte, err error)

// Bridge owns the admission queue, the run semaphore and the session
// store. Safe for concurrent use.
type Bridge struct {
	cfg      Config
	queue    QueueConfig
	sessions *session.Store
	logger   *slog.Logger

	sem chan struct{}

	mu       sync.Mutex
	admitted int

	run runFunc
}

// New builds a bridge over the given session store. Call
// sessions.Load beforehand to resume previous conversations.
func New(cfg Config, queue QueueConfig, sessions *session.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if queue.MaxConcurrent <= 0 {
		queue.MaxConcurrent = 1
	}
	if queue.MaxQueueSize <= 0 {
		queue.MaxQueueSize = 10
	}

	b := &Bridge{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		logger:   logger.With("component", "bridge"),
		sem:      make(chan struct{}, queue.MaxConcurrent),
	}
	b.run = b.runCLI
	return b
}

// Send forwards a prompt to the CLI for the given chat and returns the
// parsed response. Backpressure comes first: past the queue limit the call
// fails immediately, without spawning anything. Admitted calls wait for a
// run slot, bounded by the queue wait timeout and ctx.
func (b *Bridge) Send(ctx context.Context, prompt, chatID, systemPrompt string) Response {
	b.mu.Lock()
	if b.admitted >= b.queue.MaxQueueSize {
		b.mu.Unlock()
		b.logger.Warn("queue full, rejecting request",
			"chat_id", chatID, "limit", b.queue.MaxQueueSize)
		return Response{Err: fmt.Errorf("%w (limit %d)", ErrQueueFull, b.queue.MaxQueueSize)}
	}
	b.admitted++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.admitted--
		b.mu.Unlock()
	}()

	waitCtx := ctx
	if b.queue.WaitTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(b.queue.WaitTimeoutSeconds)*time.Second)
		defer cancel()
	}
	select {
	case b.sem <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Response{Err: ctx.Err()}
		}
		return Response{Err: fmt.Errorf("%w waiting %ds for a free slot",
			ErrTimeout, b.queue.WaitTimeoutSeconds)}
	}
	defer func() { <-b.sem }()

	return b.invoke(ctx, prompt, chatID, systemPrompt)
}

// invoke builds the CLI argument list, runs the process and handles the
// outcome. A system prompt deliberately starts a fresh conversation: a
// one-off instruction mixed with resumed history is not meaningful, so
// --resume is only passed when no system prompt is supplied.
func (b *Bridge) invoke(ctx context.Context, prompt, chatID, systemPrompt string) Response {
	args := []string{"-p", prompt, "--output-format", "json"}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	} else if sess, ok := b.sessions.Get(chatID); ok {
		args = append(args, "--resume", sess.SessionToken)
	}
	if len(b.cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(b.cfg.AllowedTools, ","))
	}
	if b.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(b.cfg.MaxTurns))
	}

	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	b.logger.Debug("invoking claude", "chat_id", chatID, "prompt_chars", len(prompt))

	stdout, stderr, err := b.run(execCtx, b.cfg.Command, args)
	if err != nil {
		if execCtx.Err() != nil && ctx.Err() == nil {
			b.logger.Error("claude killed on timeout", "chat_id", chatID, "timeout", timeout)
			return Response{Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
		}
		if ctx.Err() != nil {
			return Response{Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(stderr))
			if msg == "" {
				msg = err.Error()
			}
			b.logger.Error("claude exited with error",
				"chat_id", chatID, "code", exitErr.ExitCode(), "stderr", truncate(msg, 500))
			return Response{Err: fmt.Errorf("%w: exit code %d: %s", ErrExit, exitErr.ExitCode(), msg)}
		}
		return Response{Err: fmt.Errorf("running claude CLI: %w", err)}
	}

	resp := parseOutput(stdout)
	if resp.Err != nil {
		b.logger.Error("claude response unusable", "chat_id", chatID, "error", resp.Err)
		return resp
	}

	if resp.SessionToken != "" {
		if err := b.sessions.Update(chatID, resp.SessionToken); err != nil {
			// Continuity is lost on restart but the exchange itself
			// succeeded; keep going.
			b.logger.Warn("persisting session failed", "chat_id", chatID, "error", err)
		}
	}

	b.logger.Info("claude exchange complete",
		"chat_id", chatID,
		"duration", time.Since(started).Round(time.Millisecond),
		"result_chars", len(resp.Result))
	return resp
}

// ClearSession forgets the chat's conversation so the next Send starts
// fresh. Reports whether a session existed.
func (b *Bridge) ClearSession(chatID string) (bool, error) {
	return b.sessions.Clear(chatID)
}

// LoadSessions reads the persisted session table. Missing or corrupt
// files leave the table empty; resuming is best effort.
func (b *Bridge) LoadSessions() {
	b.sessions.Load()
}

// SaveSessions persists the session table. Updates already write through;
// this exists for the shutdown path.
func (b *Bridge) SaveSessions() error {
	return b.sessions.Save()
}

// Pending reports admitted requests currently in flight or waiting.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admitted
}

// CheckCLI verifies the CLI binary is reachable and reports its version.
func (b *Bridge) CheckCLI() (path, version string, err error) {
	path, err = exec.LookPath(b.cfg.Command)
	if err != nil {
		return "", "", fmt.Errorf("claude CLI not found (install: npm install -g @anthropic-ai/claude-code): %w", err)
	}
	out, _ := exec.Command(b.cfg.Command, "--version").CombinedOutput()
	return path, strings.TrimSpace(string(out)), nil
}

// runCLI is the real runFunc. Stdout and stderr stay separate: stdout is
// parsed, stderr feeds exit errors.
func (b *Bridge) runCLI(ctx context.Context, command string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	// Drop ANTHROPIC_API_KEY so the CLI authenticates with its own
	// subscription login instead of burning API credits.
	cmd.Env = environWithout("ANTHROPIC_API_KEY")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func environWithout(key string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
