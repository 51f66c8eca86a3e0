// Package trigger defines the declarative rules that bind incoming chat
// messages to actions, and the router that matches messages against them
// in declaration order.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// Action names what happens when a rule matches.
type Action string

const (
	// ActionIgnore drops the message silently. Useful to shadow a later,
	// broader rule.
	ActionIgnore Action = "ignore"

	// ActionReply sends the rule's fixed reply text.
	ActionReply Action = "reply"

	// ActionClaude forwards the message to the Claude CLI bridge.
	ActionClaude Action = "claude"
)

// ReplyMode controls where a response lands.
type ReplyMode string

const (
	// ReplyInline replies to the triggering message.
	ReplyInline ReplyMode = "inline"

	// ReplyNew sends a standalone message to the chat.
	ReplyNew ReplyMode = "new"
)

// Any is the wildcard chat/channel selector.
const Any = "*"

// Rule binds a chat and message pattern to an action.
type Rule struct {
	// Channel restricts the rule to one channel ("whatsapp", "telegram",
	// "discord"). Empty or "*" matches every channel.
	Channel string `yaml:"channel,omitempty"`

	// Chat is the chat to match, or "*" for any chat. It is compared
	// case-insensitively against the chat's display name and its platform
	// identifier, so a WhatsApp JID or Telegram @username works too.
	Chat string `yaml:"chat"`

	// Pattern is a regular expression matched against the start of the
	// message text. The first capturing group, when present, becomes the
	// text forwarded to the action.
	Pattern string `yaml:"pattern"`

	// Action is "ignore", "reply" or "claude".
	Action Action `yaml:"action"`

	// ReplyMode is "inline" (reply to the triggering message) or "new"
	// (standalone message). Defaults to inline.
	ReplyMode ReplyMode `yaml:"reply_mode,omitempty"`

	// ReplyText is the canned response for action "reply".
	ReplyText string `yaml:"reply_text,omitempty"`

	// DebounceSeconds coalesces bursts: the action runs once, this many
	// seconds after the last matching message. 0 runs immediately.
	DebounceSeconds int `yaml:"debounce_seconds,omitempty"`

	// SystemPrompt overrides the Claude system prompt for this rule.
	// Setting it starts a fresh conversation instead of resuming the
	// chat's session.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	re *regexp.Regexp
}

// Compile validates the rule and precompiles its pattern. Patterns are
// anchored at the start of the message, so "hi" matches "hi there" but not
// "oh hi". Invalid rules are a configuration error and must abort startup.
func (r *Rule) Compile() error {
	if r.Chat == "" {
		return fmt.Errorf("missing chat selector")
	}
	if r.Pattern == "" {
		return fmt.Errorf("chat %q: missing pattern", r.Chat)
	}
	switch r.Action {
	case ActionIgnore, ActionReply, ActionClaude:
	case "":
		return fmt.Errorf("chat %q: missing action", r.Chat)
	default:
		return fmt.Errorf("chat %q: unknown action %q", r.Chat, r.Action)
	}
	if r.ReplyMode == "" {
		r.ReplyMode = ReplyInline
	}
	if r.ReplyMode != ReplyInline && r.ReplyMode != ReplyNew {
		return fmt.Errorf("chat %q: unknown reply_mode %q", r.Chat, r.ReplyMode)
	}
	if r.Action == ActionReply && r.ReplyText == "" {
		return fmt.Errorf("chat %q: action reply requires reply_text", r.Chat)
	}
	if r.DebounceSeconds < 0 {
		return fmt.Errorf("chat %q: negative debounce_seconds", r.Chat)
	}

	// Wrap in a non-capturing group so alternations anchor as a whole and
	// the rule's own group 1 keeps its index.
	re, err := regexp.Compile(`\A(?:` + r.Pattern + `)`)
	if err != nil {
		return fmt.Errorf("chat %q: invalid pattern %q: %w", r.Chat, r.Pattern, err)
	}
	r.re = re
	return nil
}

// MatchesChannel reports whether the rule applies to the named channel.
func (r *Rule) MatchesChannel(channel string) bool {
	if r.Channel == "" || r.Channel == Any {
		return true
	}
	return strings.EqualFold(r.Channel, channel)
}

// MatchesChat reports whether the rule applies to a chat known by any of
// the given names (display name, @username, platform ID).
func (r *Rule) MatchesChat(names ...string) bool {
	if r.Chat == Any {
		return true
	}
	for _, name := range names {
		if name != "" && strings.EqualFold(r.Chat, name) {
			return true
		}
	}
	return false
}

// MatchText runs the anchored pattern match. captured is the first
// capturing group when the pattern has one; empty means the caller should
// fall back to the full message text. Compile must have succeeded first.
func (r *Rule) MatchText(text string) (captured string, ok bool) {
	m := r.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return "", true
}

// Key identifies the rule for debounce bookkeeping. Rules sharing a
// pattern share a burst window within a chat.
func (r *Rule) Key() string {
	return r.Pattern
}

// CompileRules compiles every rule in order. Rule numbering in errors is
// 1-based to line up with the config file.
func CompileRules(rules []*Rule) error {
	for i, rule := range rules {
		if err := rule.Compile(); err != nil {
			return fmt.Errorf("trigger %d: %w", i+1, err)
		}
	}
	return nil
}
