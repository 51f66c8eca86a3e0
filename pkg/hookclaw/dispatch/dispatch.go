// Package dispatch executes the action of a matched trigger rule and
// shapes the outcome into a uniform result for the daemon's send path.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/bridge"
	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// SkipSentinel is the reply-suppression marker. A Claude result equal to
// it (trimmed, any case) means "say nothing", letting a system prompt
// instruct Claude to stay quiet on messages that need no answer.
const SkipSentinel = "SKIP"

// Result is the outcome of one dispatched event. Err is only set on
// failure; ShouldReply false with Success true means a deliberate silence.
type Result struct {
	Success  bool
	Response string
	Err      error

	ShouldReply bool

	// ReplyTo carries the triggering message id for inline replies;
	// empty for standalone responses.
	ReplyTo string
}

// Bridge is the slice of the Claude bridge the dispatcher needs.
type Bridge interface {
	Send(ctx context.Context, prompt, chatID, systemPrompt string) bridge.Response
}

// Dispatcher maps matched rules onto their action handlers.
type Dispatcher struct {
	claude Bridge
	logger *slog.Logger
}

// New builds a dispatcher over the given bridge.
func New(claude Bridge, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		claude: claude,
		logger: logger.With("component", "dispatch"),
	}
}

// Handle runs the rule's action for one message. Bridge failures come back
// as failed results with ShouldReply false: the daemon logs them and stays
// silent rather than leaking tool errors into the chat.
func (d *Dispatcher) Handle(ctx context.Context, rule *trigger.Rule, chatID, text, captured, messageID string) Result {
	switch rule.Action {
	case trigger.ActionIgnore:
		d.logger.Debug("ignoring message", "chat_id", chatID, "pattern", rule.Pattern)
		return Result{Success: true}

	case trigger.ActionReply:
		return Result{
			Success:     true,
			Response:    rule.ReplyText,
			ShouldReply: true,
			ReplyTo:     replyTarget(rule, messageID),
		}

	case trigger.ActionClaude:
		prompt := captured
		if prompt == "" {
			prompt = text
		}
		resp := d.claude.Send(ctx, prompt, chatID, rule.SystemPrompt)
		if !resp.Success {
			return Result{Err: resp.Err}
		}
		if isSkip(resp.Result) {
			d.logger.Info("claude returned SKIP, not replying", "chat_id", chatID)
			return Result{Success: true}
		}
		return Result{
			Success:     true,
			Response:    resp.Result,
			ShouldReply: true,
			ReplyTo:     replyTarget(rule, messageID),
		}

	default:
		return Result{Err: fmt.Errorf("unknown action: %s", rule.Action)}
	}
}

func replyTarget(rule *trigger.Rule, messageID string) string {
	if rule.ReplyMode == trigger.ReplyInline {
		return messageID
	}
	return ""
}

func isSkip(result string) bool {
	return strings.EqualFold(strings.TrimSpace(result), SkipSentinel)
}
