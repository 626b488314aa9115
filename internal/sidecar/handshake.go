package sidecar

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Outcome classifies a handshake.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeTimedOut
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	}
	return "failed"
}

// HandshakeResult is Ready, TimedOut or Failed(Err).
type HandshakeResult struct {
	Outcome  Outcome
	Attempts int
	Elapsed  time.Duration
	// Err is ErrTimeout for TimedOut and the cause for Failed.
	Err error
}

// Ready reports whether the handshake succeeded.
func (r HandshakeResult) Ready() bool {
	return r.Outcome == OutcomeReady
}

// BackoffPolicy bounds the delay between connection attempts.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used when a zero policy is configured.
var DefaultBackoff = BackoffPolicy{Initial: 50 * time.Millisecond, Max: 2 * time.Second}

// maxAttemptTime caps a single probe so a worker that accepts connections
// but never answers cannot consume the whole window in one attempt.
const maxAttemptTime = 2 * time.Second

// probeFunc performs one connection attempt.
type probeFunc func(ctx context.Context) error

// handshake retries probe until it succeeds, the timeout elapses, ctx is
// cancelled, or exited is closed. It sleeps between attempts with capped
// exponential backoff and never sleeps past the deadline.
func handshake(ctx context.Context, probe probeFunc, timeout time.Duration, policy BackoffPolicy, exited <-chan struct{}) HandshakeResult {
	if policy.Initial <= 0 {
		policy = DefaultBackoff
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     policy.Initial,
		RandomizationFactor: 0.2,
		Multiplier:          1.6,
		MaxInterval:         max(policy.Max, policy.Initial),
	}
	b.Reset()

	start := time.Now()
	deadline := start.Add(timeout)
	res := HandshakeResult{}

	for {
		res.Attempts++
		attemptDeadline := time.Now().Add(maxAttemptTime)
		if attemptDeadline.After(deadline) {
			attemptDeadline = deadline
		}
		attemptCtx, cancel := context.WithDeadline(ctx, attemptDeadline)
		err := probe(attemptCtx)
		cancel()

		res.Elapsed = time.Since(start)
		if err == nil {
			res.Outcome = OutcomeReady
			return res
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Outcome, res.Err = OutcomeFailed, ctxErr
			return res
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.Outcome, res.Err = OutcomeTimedOut, ErrTimeout
			return res
		}

		wait := b.NextBackOff()
		if wait < 0 || wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Elapsed = time.Since(start)
			res.Outcome, res.Err = OutcomeFailed, ctx.Err()
			return res
		case <-exited:
			timer.Stop()
			res.Elapsed = time.Since(start)
			res.Outcome, res.Err = OutcomeFailed, ErrWorkerExited
			return res
		case <-timer.C:
		}
	}
}
