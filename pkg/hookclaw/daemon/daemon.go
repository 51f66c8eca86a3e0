// Package daemon assembles the channels, trigger router, debouncer,
// dispatcher, Claude bridge and job scheduler into the long-running
// message loop behind `hookclaw serve`.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/bridge"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/config"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/debounce"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/dispatch"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/schedule"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/session"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// State is the runner's lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Runner owns every moving part of the daemon: the registered channels,
// the shared message stream, and the pipeline that turns an incoming
// message into a reply. A runner is single-use; after Stop it cannot be
// started again.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	sessions   *session.Store
	claude     *bridge.Bridge
	dispatcher *dispatch.Dispatcher
	router     *trigger.Router
	debouncer  *debounce.Debouncer
	scheduler  *schedule.Scheduler

	mu       sync.RWMutex
	channels map[string]channels.Channel

	// messages is the fan-in point: every channel's listener forwards
	// into it, and the event loop consumes from it.
	messages chan *channels.IncomingMessage
	listenWg sync.WaitGroup

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a runner from a validated config. Channels are added
// separately via Register so the caller controls which platforms the
// process actually talks to.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:      cfg,
		logger:   logger.With("component", "daemon"),
		channels: make(map[string]channels.Channel),
		messages: make(chan *channels.IncomingMessage, 100),
	}
	r.sessions = session.NewStore(cfg.Sessions, logger)
	r.claude = bridge.New(cfg.Claude, cfg.Queue, r.sessions, logger)
	r.dispatcher = dispatch.New(r.claude, logger)
	r.router = trigger.NewRouter(cfg.Triggers)
	r.debouncer = debounce.New(logger)
	r.scheduler = schedule.New(r.runScheduledJob, logger)

	// A scheduled prompt may sit in the bridge queue for the full wait
	// window before its CLI run even starts, so the job deadline covers
	// both plus slack for delivery.
	claudeTimeout := cfg.Claude.TimeoutSeconds
	if claudeTimeout <= 0 {
		claudeTimeout = bridge.DefaultConfig().TimeoutSeconds
	}
	queueWait := cfg.Queue.WaitTimeoutSeconds
	if queueWait <= 0 {
		queueWait = bridge.DefaultQueueConfig().WaitTimeoutSeconds
	}
	r.scheduler.SetJobTimeout(time.Duration(claudeTimeout+queueWait+60) * time.Second)
	return r
}

// Register adds a channel to the runner. Must be called before Start.
func (r *Runner) Register(ch channels.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := ch.Name()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = ch
	r.logger.Info("channel registered", "channel", name)
	return nil
}

// State reports the runner's current lifecycle phase.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Start brings the daemon up: loads persisted sessions, connects every
// registered channel, arms the job scheduler and starts the event loop.
// A channel that fails to connect is logged and skipped; Start only
// fails when channels were registered and none of them came up, or when
// a scheduled job is unusable.
func (r *Runner) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("daemon already started (state %s)", r.State())
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.claude.LoadSessions()

	if path, version, err := r.claude.CheckCLI(); err != nil {
		r.logger.Warn("claude CLI not found, assistant actions will fail",
			"command", r.cfg.Claude.Command, "error", err)
	} else {
		r.logger.Info("claude CLI detected", "path", path, "version", version)
	}

	if err := WritePidFile(r.cfg.PidFile); err != nil {
		r.logger.Warn("pid file write failed", "path", r.cfg.PidFile, "error", err)
	}

	r.mu.RLock()
	registered := make(map[string]channels.Channel, len(r.channels))
	for name, ch := range r.channels {
		registered[name] = ch
	}
	r.mu.RUnlock()

	// Connect channels one by one. A single misconfigured platform must
	// not take the others down, so individual failures only log.
	var connected int
	for name, ch := range registered {
		if err := ch.Connect(r.ctx); err != nil {
			r.logger.Error("channel connect failed", "channel", name, "error", err)
			continue
		}
		connected++
		r.listenWg.Add(1)
		go func(c channels.Channel) {
			defer r.listenWg.Done()
			r.listen(c)
		}(ch)
	}
	if len(registered) > 0 && connected == 0 {
		r.rollbackStart()
		return fmt.Errorf("no channel could connect")
	}

	for _, job := range r.cfg.Jobs {
		if err := r.scheduler.Add(job); err != nil {
			r.rollbackStart()
			return fmt.Errorf("scheduled job: %w", err)
		}
	}
	if err := r.scheduler.Start(r.ctx); err != nil {
		r.rollbackStart()
		return fmt.Errorf("scheduler: %w", err)
	}

	go r.eventLoop()

	r.state.Store(int32(StateRunning))
	r.logger.Info("daemon running",
		"channels", connected,
		"triggers", len(r.cfg.Triggers),
		"jobs", len(r.cfg.Jobs))
	return nil
}

// Stop shuts the daemon down in order: pending debounce timers are
// cancelled, the scheduler stops, channels disconnect, and sessions are
// persisted one final time. Safe to call when not running.
func (r *Runner) Stop() {
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		r.logger.Debug("stop ignored", "state", r.State())
		return
	}
	r.logger.Info("daemon stopping")

	r.debouncer.CancelAll()
	r.scheduler.Stop()

	r.cancel()
	r.disconnectAll()
	r.listenWg.Wait()
	close(r.messages)

	if err := r.claude.SaveSessions(); err != nil {
		r.logger.Error("final session save failed", "error", err)
	}

	RemovePidFile(r.cfg.PidFile)
	r.state.Store(int32(StateStopped))
	r.logger.Info("daemon stopped")
}

// rollbackStart unwinds a partially completed Start so the runner lands
// back in Stopped with nothing leaked.
func (r *Runner) rollbackStart() {
	r.cancel()
	r.disconnectAll()
	r.listenWg.Wait()
	RemovePidFile(r.cfg.PidFile)
	r.state.Store(int32(StateStopped))
}

func (r *Runner) disconnectAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, ch := range r.channels {
		if err := ch.Disconnect(); err != nil {
			r.logger.Warn("channel disconnect failed", "channel", name, "error", err)
		}
	}
}

// listen forwards one channel's messages into the shared stream. It
// exits when the channel closes its stream or the runner context ends;
// the latter matters because not every platform closes its stream on
// Disconnect.
func (r *Runner) listen(ch channels.Channel) {
	recv := ch.Receive()
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				return
			}
			select {
			case r.messages <- msg:
			case <-r.ctx.Done():
				return
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// eventLoop consumes the shared stream and hands each message to its own
// handler goroutine, so one slow CLI call never blocks the intake of
// other chats.
func (r *Runner) eventLoop() {
	for {
		select {
		case msg, ok := <-r.messages:
			if !ok {
				return
			}
			go r.handleMessage(msg)
		case <-r.ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound message through the trigger table and
// runs or debounces the matched action. Panics are contained here so a
// misbehaving handler cannot kill the daemon.
func (r *Runner) handleMessage(msg *channels.IncomingMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling message",
				"channel", msg.Channel, "chat_id", msg.ChatID, "panic", rec)
		}
	}()

	match, ok := r.router.Match(msg.Channel, chatCandidates(msg), msg.Content)
	if !ok {
		r.logger.Debug("no trigger matched",
			"channel", msg.Channel, "chat_id", msg.ChatID, "chat_name", msg.ChatName)
		return
	}
	rule := match.Rule

	if rule.DebounceSeconds > 0 {
		r.debouncer.Schedule(debounce.Message{
			Channel:   msg.Channel,
			ChatID:    msg.ChatID,
			Text:      msg.Content,
			Captured:  match.Captured,
			MessageID: msg.ID,
		}, rule, time.Duration(rule.DebounceSeconds)*time.Second, r.fireDebounced)
		return
	}

	r.dispatchAndReply(rule, msg.Channel, msg.ChatID, msg.Content, match.Captured, msg.ID)
}

// fireDebounced runs on a debounce timer goroutine with the burst's
// final message, so it needs its own panic containment.
func (r *Runner) fireDebounced(msg debounce.Message, rule *trigger.Rule) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling debounced message",
				"channel", msg.Channel, "chat_id", msg.ChatID, "panic", rec)
		}
	}()
	r.dispatchAndReply(rule, msg.Channel, msg.ChatID, msg.Text, msg.Captured, msg.MessageID)
}

// dispatchAndReply executes the rule's action and delivers the reply, if
// any. Action failures are logged and swallowed: raw tool errors never
// reach the chat.
func (r *Runner) dispatchAndReply(rule *trigger.Rule, channelName, chatID, text, captured, messageID string) {
	res := r.dispatcher.Handle(r.ctx, rule, chatID, text, captured, messageID)
	if res.Err != nil {
		r.logger.Error("action failed",
			"channel", channelName, "chat_id", chatID,
			"pattern", rule.Pattern, "error", res.Err)
		return
	}
	if !res.ShouldReply || res.Response == "" {
		return
	}
	r.send(channelName, chatID, res.Response, res.ReplyTo)
}

// send delivers a response through the named channel.
func (r *Runner) send(channelName, chatID, content, replyTo string) {
	r.mu.RLock()
	ch, ok := r.channels[channelName]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("reply targets unknown channel", "channel", channelName)
		return
	}
	out := &channels.OutgoingMessage{Content: content, ReplyTo: replyTo}
	if err := ch.Send(r.ctx, chatID, out); err != nil {
		r.logger.Error("send failed",
			"channel", channelName, "chat_id", chatID, "error", err)
	}
}

// runScheduledJob pushes a standing prompt through the normal dispatch
// path, so scheduled prompts share session continuity and SKIP handling
// with chat-triggered ones. The reply is always a standalone message.
func (r *Runner) runScheduledJob(ctx context.Context, job *schedule.Job) (string, error) {
	rule := &trigger.Rule{
		Chat:         trigger.Any,
		Action:       trigger.ActionClaude,
		ReplyMode:    trigger.ReplyNew,
		SystemPrompt: job.SystemPrompt,
	}
	res := r.dispatcher.Handle(ctx, rule, job.ChatID, job.Prompt, "", "")
	if res.Err != nil {
		return "", res.Err
	}
	if res.ShouldReply && res.Response != "" {
		r.send(job.Channel, job.ChatID, res.Response, "")
	}
	return res.Response, nil
}

// chatCandidates lists every identifier the chat is known by, for rule
// matching: the display name, the platform id, and for direct messages
// the sender's name.
func chatCandidates(msg *channels.IncomingMessage) []string {
	names := []string{msg.ChatName, msg.ChatID}
	if !msg.IsGroup && msg.FromName != "" {
		names = append(names, msg.FromName)
	}
	return names
}
