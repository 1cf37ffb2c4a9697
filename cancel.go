package taproot

import (
	"context"
	"fmt"
	"time"
)

// CancellationFlag is polled at every traversal step of the finder and the
// stitcher, so cancellation latency is proportional to one step, not to the
// total path count. Timeouts are deadline-aware flags, not timers inside the
// algorithms.
type CancellationFlag interface {
	// Check returns a *CancelledError when execution should stop. at
	// names the traversal phase for diagnostics.
	Check(at string) error
}

// CancelledError is the cooperative-abort outcome. Callers receive it
// alongside whatever results were found before the abort, so "no results"
// and "search aborted" are never conflated.
type CancelledError struct {
	At string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled at %q", e.At)
}

// NoCancellation never cancels.
type NoCancellation struct{}

func (NoCancellation) Check(string) error { return nil }

// CancelAfterDuration cancels once the given duration has elapsed since
// construction.
type CancelAfterDuration struct {
	limit time.Duration
	start time.Time
}

func NewCancelAfterDuration(limit time.Duration) *CancelAfterDuration {
	return &CancelAfterDuration{limit: limit, start: time.Now()}
}

func (c *CancelAfterDuration) Check(at string) error {
	if time.Since(c.start) > c.limit {
		return &CancelledError{At: at}
	}
	return nil
}

// ContextCancellation adapts a context's cancellation and deadline to a
// CancellationFlag.
type ContextCancellation struct {
	Ctx context.Context
}

func (c ContextCancellation) Check(at string) error {
	if c.Ctx.Err() != nil {
		return &CancelledError{At: at}
	}
	return nil
}
