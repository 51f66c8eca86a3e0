package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/trigger"
)

func testRule(t *testing.T, pattern string) *trigger.Rule {
	t.Helper()
	r := &trigger.Rule{Chat: "*", Pattern: pattern, Action: trigger.ActionClaude, DebounceSeconds: 5}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func TestScheduleCoalescesBurst(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rule := testRule(t, `^/ask (.+)$`)
	window := 60 * time.Millisecond

	var calls atomic.Int32
	got := make(chan Message, 4)
	onFire := func(msg Message, _ *trigger.Rule) {
		calls.Add(1)
		got <- msg
	}

	msg := Message{Channel: "telegram", ChatID: "42", Text: "/ask a", Captured: "a", MessageID: "1"}
	if !d.Schedule(msg, rule, window, onFire) {
		t.Fatal("first message should start a new burst")
	}
	time.Sleep(15 * time.Millisecond)

	msg.Text, msg.Captured, msg.MessageID = "/ask ab", "ab", "2"
	if d.Schedule(msg, rule, window, onFire) {
		t.Fatal("second message should extend the burst, not start one")
	}
	time.Sleep(15 * time.Millisecond)

	msg.Text, msg.Captured, msg.MessageID = "/ask abc", "abc", "3"
	if d.Schedule(msg, rule, window, onFire) {
		t.Fatal("third message should extend the burst")
	}

	select {
	case fired := <-got:
		if fired.Captured != "abc" {
			t.Errorf("fired with captured %q, want last message's %q", fired.Captured, "abc")
		}
		if fired.MessageID != "3" {
			t.Errorf("fired with message id %q, want %q", fired.MessageID, "3")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounce never fired")
	}

	// Let any stale timer from the resets get its chance to misfire.
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("fired %d times, want exactly 1", n)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d after firing, want 0", d.Pending())
	}
}

func TestScheduleAfterWindowStartsNewBurst(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rule := testRule(t, `^/ask (.+)$`)
	window := 30 * time.Millisecond

	got := make(chan Message, 2)
	onFire := func(msg Message, _ *trigger.Rule) { got <- msg }

	d.Schedule(Message{Channel: "telegram", ChatID: "42", Captured: "first"}, rule, window, onFire)
	select {
	case fired := <-got:
		if fired.Captured != "first" {
			t.Errorf("captured = %q, want %q", fired.Captured, "first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first burst never fired")
	}

	if !d.Schedule(Message{Channel: "telegram", ChatID: "42", Captured: "second"}, rule, window, onFire) {
		t.Fatal("message after an elapsed window should start a new burst")
	}
	select {
	case fired := <-got:
		if fired.Captured != "second" {
			t.Errorf("captured = %q, want %q", fired.Captured, "second")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second burst never fired")
	}
}

func TestIndependentKeys(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rule := testRule(t, `^/ask (.+)$`)
	other := testRule(t, `^/other$`)
	window := 30 * time.Millisecond

	var calls atomic.Int32
	onFire := func(Message, *trigger.Rule) { calls.Add(1) }

	// Distinct chats, distinct channels and distinct rules each get their
	// own burst.
	d.Schedule(Message{Channel: "telegram", ChatID: "1"}, rule, window, onFire)
	d.Schedule(Message{Channel: "telegram", ChatID: "2"}, rule, window, onFire)
	d.Schedule(Message{Channel: "discord", ChatID: "1"}, rule, window, onFire)
	d.Schedule(Message{Channel: "telegram", ChatID: "1"}, other, window, onFire)

	if d.Pending() != 4 {
		t.Fatalf("pending = %d, want 4", d.Pending())
	}

	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 4 {
		t.Errorf("fired %d times, want 4", n)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rule := testRule(t, `^/ask (.+)$`)

	var calls atomic.Int32
	onFire := func(Message, *trigger.Rule) { calls.Add(1) }

	d.Schedule(Message{Channel: "telegram", ChatID: "42"}, rule, 80*time.Millisecond, onFire)
	d.Cancel("telegram", "42", rule)
	d.Cancel("telegram", "42", rule) // idempotent
	d.Cancel("telegram", "nope", rule)

	time.Sleep(250 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("canceled burst fired %d times", n)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d, want 0", d.Pending())
	}
}

func TestCancelAllPreventsFiring(t *testing.T) {
	t.Parallel()

	d := New(nil)
	rule := testRule(t, `^/ask (.+)$`)

	var calls atomic.Int32
	onFire := func(Message, *trigger.Rule) { calls.Add(1) }

	for _, chat := range []string{"1", "2", "3"} {
		d.Schedule(Message{Channel: "telegram", ChatID: chat}, rule, 80*time.Millisecond, onFire)
	}
	d.CancelAll()
	d.CancelAll() // idempotent

	time.Sleep(250 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("canceled bursts fired %d times", n)
	}
}
