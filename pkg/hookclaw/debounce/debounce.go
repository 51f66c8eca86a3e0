// Package debounce coalesces bursts of chat messages into a single delayed
// action per (channel, chat, rule) key, restarting the delay on every new
// message in the burst.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

// Message is the burst content carried to the fire callback. Only the most
// recent message of a burst survives; earlier ones are discarded when
// superseded.
type Message struct {
	Channel   string
	ChatID    string
	Text      string
	Captured  string
	MessageID string
}

// Callback runs once per burst, after the window elapses with no further
// resets, with the latest message and the rule that matched it.
type Callback func(msg Message, rule *trigger.Rule)

type pending struct {
	msg       Message
	rule      *trigger.Rule
	updatedAt time.Time
	onFire    Callback
	timer     *time.Timer

	// gen invalidates timers armed before the latest reset. A fired timer
	// whose gen no longer matches must do nothing.
	gen uint64
}

// Debouncer tracks pending bursts. All map access is mutex-guarded; the
// fire callback runs outside the lock.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pending
	logger  *slog.Logger
}

// New returns an empty debouncer.
func New(logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		pending: make(map[string]*pending),
		logger:  logger.With("component", "debounce"),
	}
}

func burstKey(channel, chatID string, rule *trigger.Rule) string {
	return channel + "\x00" + chatID + "\x00" + rule.Key()
}

// Schedule arms or resets the burst window for the message's key. It
// returns true when the message starts a new burst and false when it
// extends one. window is normally rule.DebounceSeconds expressed as a
// duration; it restarts in full on every reset.
func (d *Debouncer) Schedule(msg Message, rule *trigger.Rule, window time.Duration, onFire Callback) bool {
	k := burstKey(msg.Channel, msg.ChatID, rule)

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[k]; ok {
		p.timer.Stop()
		p.gen++
		p.msg = msg
		p.updatedAt = time.Now()
		p.onFire = onFire
		gen := p.gen
		p.timer = time.AfterFunc(window, func() { d.fire(k, gen) })
		d.logger.Debug("debounce reset",
			"chat_id", msg.ChatID, "pattern", rule.Pattern, "window", window)
		return false
	}

	p := &pending{
		msg:       msg,
		rule:      rule,
		updatedAt: time.Now(),
		onFire:    onFire,
	}
	p.timer = time.AfterFunc(window, func() { d.fire(k, 0) })
	d.pending[k] = p
	d.logger.Debug("debounce armed",
		"chat_id", msg.ChatID, "pattern", rule.Pattern, "window", window)
	return true
}

// fire runs on the timer goroutine. The entry may have been reset (gen
// mismatch) or canceled (gone from the map) between the timer elapsing and
// the lock being acquired; both mean this firing is stale.
func (d *Debouncer) fire(k string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[k]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	d.mu.Unlock()

	d.logger.Debug("debounce fired",
		"chat_id", p.msg.ChatID, "pattern", p.rule.Pattern)
	p.onFire(p.msg, p.rule)
}

// Cancel drops the pending burst for (channel, chatID, rule), if any. A
// timer already elapsed but not yet run will find the entry gone and do
// nothing. Safe to call repeatedly.
func (d *Debouncer) Cancel(channel, chatID string, rule *trigger.Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := burstKey(channel, chatID, rule)
	if p, ok := d.pending[k]; ok {
		p.timer.Stop()
		delete(d.pending, k)
	}
}

// CancelAll drops every pending burst. Called at shutdown so no callback
// fires after the daemon starts disconnecting.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, k)
	}
}

// Pending reports the number of armed bursts.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
