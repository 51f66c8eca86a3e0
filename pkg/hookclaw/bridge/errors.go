package bridge

import "errors"

// Send failures come in distinct kinds so callers can tell backpressure
// from a slow CLI from garbage output. All are per-call failures; none is
// fatal to the daemon.
var (
	// ErrQueueFull rejects a request before any process is spawned, once
	// in-flight plus waiting requests reach the configured maximum.
	ErrQueueFull = errors.New("queue is full - too many pending requests")

	// ErrTimeout marks an invocation killed for exceeding its deadline,
	// or a request that waited too long for a free slot.
	ErrTimeout = errors.New("claude timed out")

	// ErrExit marks a nonzero CLI exit.
	ErrExit = errors.New("claude exited with an error")

	// ErrParse marks CLI output that is not valid JSON.
	ErrParse = errors.New("failed to parse claude output")

	// ErrNoResult marks valid JSON with no terminal result event in it.
	ErrNoResult = errors.New("no result in claude output")
)
