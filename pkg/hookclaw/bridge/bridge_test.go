package bridge

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/hookclaw/pkg/hookclaw/session"
)

func newTestBridge(t *testing.T, cfg Config, queue QueueConfig) (*Bridge, *session.Store) {
	t.Helper()
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"), nil)
	return New(cfg, queue, store, nil), store
}

// fakeRun returns canned CLI output and records the args it was called
// with.
type fakeRun struct {
	mu     sync.Mutex
	calls  [][]string
	stdout []byte
	stderr []byte
	err    error
}

func (f *fakeRun) fn(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(args))
	f.mu.Unlock()
	return f.stdout, f.stderr, f.err
}

func (f *fakeRun) lastArgs(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("CLI was never invoked")
	}
	return f.calls[len(f.calls)-1]
}

func hasFlag(args []string, flag, value string) bool {
	for i, a := range args {
		if a == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestSendBuildsCLIArgs(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t, Config{
		AllowedTools:   []string{"Read", "Edit"},
		MaxTurns:       5,
		TimeoutSeconds: 60,
	}, DefaultQueueConfig())
	fake := &fakeRun{stdout: []byte(`{"type":"result","result":"ok","session_id":"sess-1"}`)}
	b.run = fake.fn

	resp := b.Send(context.Background(), "Test prompt", "123", "")
	if !resp.Success {
		t.Fatalf("Send failed: %v", resp.Err)
	}

	args := fake.lastArgs(t)
	if !hasFlag(args, "-p", "Test prompt") {
		t.Errorf("missing -p prompt in %v", args)
	}
	if !hasFlag(args, "--output-format", "json") {
		t.Errorf("missing --output-format json in %v", args)
	}
	if !hasFlag(args, "--allowedTools", "Read,Edit") {
		t.Errorf("missing --allowedTools in %v", args)
	}
	if !hasFlag(args, "--max-turns", "5") {
		t.Errorf("missing --max-turns in %v", args)
	}
	if slices.Contains(args, "--resume") {
		t.Errorf("first exchange must not resume: %v", args)
	}
}

func TestSendSessionLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("first exchange creates the session", func(t *testing.T) {
		b, store := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte(`{"type":"result","result":"hi","session_id":"sess-abc"}`)}
		b.run = fake.fn

		if resp := b.Send(context.Background(), "hello", "42", ""); !resp.Success {
			t.Fatalf("Send failed: %v", resp.Err)
		}
		sess, ok := store.Get("42")
		if !ok {
			t.Fatal("expected stored session")
		}
		if sess.SessionToken != "sess-abc" {
			t.Errorf("token = %q", sess.SessionToken)
		}
		if sess.ExchangeCount != 0 {
			t.Errorf("count = %d, want 0", sess.ExchangeCount)
		}
	})

	t.Run("later exchanges resume and rotate the token", func(t *testing.T) {
		b, store := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte(`{"type":"result","result":"hi","session_id":"sess-new"}`)}
		b.run = fake.fn
		if err := store.Update("42", "sess-old"); err != nil {
			t.Fatal(err)
		}

		if resp := b.Send(context.Background(), "again", "42", ""); !resp.Success {
			t.Fatalf("Send failed: %v", resp.Err)
		}
		if !hasFlag(fake.lastArgs(t), "--resume", "sess-old") {
			t.Errorf("missing --resume sess-old in %v", fake.lastArgs(t))
		}
		sess, _ := store.Get("42")
		if sess.SessionToken != "sess-new" {
			t.Errorf("token = %q, want rotated sess-new", sess.SessionToken)
		}
		if sess.ExchangeCount != 1 {
			t.Errorf("count = %d, want 1", sess.ExchangeCount)
		}
	})

	t.Run("system prompt starts fresh", func(t *testing.T) {
		b, store := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte(`{"type":"result","result":"hi","session_id":"sess-new"}`)}
		b.run = fake.fn
		if err := store.Update("42", "sess-old"); err != nil {
			t.Fatal(err)
		}

		b.Send(context.Background(), "review this", "42", "You are a code reviewer")
		args := fake.lastArgs(t)
		if !hasFlag(args, "--system-prompt", "You are a code reviewer") {
			t.Errorf("missing --system-prompt in %v", args)
		}
		if slices.Contains(args, "--resume") {
			t.Errorf("system prompt must suppress --resume: %v", args)
		}
	})

	t.Run("failed exchange leaves the session alone", func(t *testing.T) {
		b, store := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte(`[{"type":"result","is_error":true,"result":"nope"}]`)}
		b.run = fake.fn

		if resp := b.Send(context.Background(), "hello", "42", ""); resp.Success {
			t.Fatal("expected failure")
		}
		if _, ok := store.Get("42"); ok {
			t.Error("failed exchange must not create a session")
		}
	})

	t.Run("clear session forces a fresh start", func(t *testing.T) {
		b, _ := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte(`{"type":"result","result":"hi","session_id":"sess-1"}`)}
		b.run = fake.fn

		b.Send(context.Background(), "hello", "42", "")
		existed, err := b.ClearSession("42")
		if err != nil || !existed {
			t.Fatalf("ClearSession = %v, %v", existed, err)
		}
		b.Send(context.Background(), "hello again", "42", "")
		if slices.Contains(fake.lastArgs(t), "--resume") {
			t.Errorf("cleared session must not resume: %v", fake.lastArgs(t))
		}
	})
}

func TestSendErrorKinds(t *testing.T) {
	t.Parallel()

	t.Run("nonzero exit with stderr", func(t *testing.T) {
		exitErr := exec.Command("false").Run()
		var asExit *exec.ExitError
		if !errors.As(exitErr, &asExit) {
			t.Skipf("no ExitError from `false`: %v", exitErr)
		}

		b, _ := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stderr: []byte("auth expired\n"), err: exitErr}
		b.run = fake.fn

		resp := b.Send(context.Background(), "hello", "42", "")
		if !errors.Is(resp.Err, ErrExit) {
			t.Fatalf("err = %v, want ErrExit", resp.Err)
		}
		if got := resp.Err.Error(); !containsAll(got, "exit code 1", "auth expired") {
			t.Errorf("err = %q", got)
		}
	})

	t.Run("unparseable stdout", func(t *testing.T) {
		b, _ := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		fake := &fakeRun{stdout: []byte("segfault into stdout")}
		b.run = fake.fn

		resp := b.Send(context.Background(), "hello", "42", "")
		if !errors.Is(resp.Err, ErrParse) {
			t.Errorf("err = %v, want ErrParse", resp.Err)
		}
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		b, _ := newTestBridge(t, Config{TimeoutSeconds: 1}, DefaultQueueConfig())
		b.run = func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}

		resp := b.Send(context.Background(), "hello", "42", "")
		if !errors.Is(resp.Err, ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", resp.Err)
		}
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		b, _ := newTestBridge(t, DefaultConfig(), DefaultQueueConfig())
		b.run = func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		resp := b.Send(ctx, "hello", "42", "")
		if !errors.Is(resp.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", resp.Err)
		}
	})
}

func TestQueueBackpressure(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t, DefaultConfig(), QueueConfig{
		MaxConcurrent: 1,
		MaxQueueSize:  2,
	})

	release := make(chan struct{})
	var spawned atomic.Int32
	b.run = func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
		spawned.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		return []byte(`{"type":"result","result":"ok","session_id":"s"}`), nil, nil
	}

	results := make(chan Response, 2)
	go func() { results <- b.Send(context.Background(), "first", "1", "") }()

	waitFor(t, func() bool { return b.Pending() == 1 })
	go func() { results <- b.Send(context.Background(), "second", "2", "") }()
	waitFor(t, func() bool { return b.Pending() == 2 })

	// Queue is at capacity: in-flight plus waiting == 2. The third call
	// must fail fast without spawning a process.
	resp := b.Send(context.Background(), "third", "3", "")
	if !errors.Is(resp.Err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", resp.Err)
	}
	if n := spawned.Load(); n != 1 {
		t.Errorf("spawned = %d before release, want 1 (queued call must wait, rejected call must not spawn)", n)
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if !r.Success {
				t.Errorf("admitted call failed: %v", r.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("admitted calls never finished")
		}
	}
	if n := spawned.Load(); n != 2 {
		t.Errorf("spawned = %d, want 2", n)
	}
	waitFor(t, func() bool { return b.Pending() == 0 })
}

func TestQueueWaitTimeout(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(t, DefaultConfig(), QueueConfig{
		MaxConcurrent:      1,
		MaxQueueSize:       10,
		WaitTimeoutSeconds: 1,
	})

	release := make(chan struct{})
	defer close(release)
	b.run = func(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
		<-release
		return []byte(`{"type":"result","result":"ok"}`), nil, nil
	}

	go b.Send(context.Background(), "first", "1", "")
	waitFor(t, func() bool { return b.Pending() == 1 })

	resp := b.Send(context.Background(), "second", "2", "")
	if !errors.Is(resp.Err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout for exhausted slot wait", resp.Err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
