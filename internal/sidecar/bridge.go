package sidecar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jward/orchard/internal/rpc"
)

// Bridge owns one worker process and proxies the worker contract to it.
// Calls are serialized: the worker channel is not assumed to be multiplexed.
type Bridge struct {
	spec     LaunchSpec
	resolver FileResolver
	logger   *log.Logger

	stateMu sync.RWMutex
	state   State
	lastErr error

	callMu sync.Mutex
	conn   *grpc.ClientConn
	client rpc.WorkerServer

	proc   Process
	exited chan struct{}
}

func newBridge(spec LaunchSpec, resolver FileResolver, logger *log.Logger) *Bridge {
	return &Bridge{
		spec:     spec,
		resolver: resolver,
		logger:   logger.With("language", spec.Language, "port", spec.Port),
		state:    Starting,
		exited:   make(chan struct{}),
	}
}

func (b *Bridge) Language() string { return b.spec.Language }
func (b *Bridge) Port() int        { return b.spec.Port }

// Addr is the loopback address the worker listens on.
func (b *Bridge) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(b.spec.Port))
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Err returns the reason the bridge left Ready, if any.
func (b *Bridge) Err() error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.lastErr
}

// transition moves to next unless the bridge already reached a terminal
// state. It reports whether the move happened.
func (b *Bridge) transition(next State, cause error) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state.terminal() {
		return false
	}
	if b.state == Ready && next == Starting {
		return false
	}
	b.state = next
	if cause != nil {
		b.lastErr = cause
	}
	return true
}

func (b *Bridge) markUnavailable(cause error) {
	if b.transition(Unavailable, cause) {
		b.logger.Warn("sidecar unavailable", "err", cause)
	}
}

// start launches the worker and blocks until the handshake finishes.
func (b *Bridge) start(ctx context.Context, launcher Launcher, timeout time.Duration, policy BackoffPolicy) HandshakeResult {
	ctx, span := tracer.Start(ctx, "Bridge.start")
	defer span.End()

	proc, err := launcher.Launch(ctx, b.spec)
	if err != nil {
		b.markUnavailable(err)
		res := HandshakeResult{Outcome: OutcomeFailed, Err: err}
		recordHandshake(ctx, b.spec.Language, res)
		return res
	}
	b.proc = proc
	go b.watch(proc)

	b.logger.Debug("waiting for sidecar", "timeout", timeout)
	res := handshake(ctx, b.probe, timeout, policy, b.exited)
	recordHandshake(ctx, b.spec.Language, res)

	if res.Ready() {
		if b.transition(Ready, nil) {
			b.logger.Info("sidecar ready", "attempts", res.Attempts, "elapsed", res.Elapsed.Round(time.Millisecond))
			return res
		}
		// The worker exited between the last probe and now.
		res = HandshakeResult{Outcome: OutcomeFailed, Attempts: res.Attempts, Elapsed: res.Elapsed, Err: b.Err()}
		return res
	}

	b.markUnavailable(res.Err)
	b.closeConn()
	if res.Outcome == OutcomeTimedOut {
		// A worker that never answered is not left running.
		_ = proc.Kill()
	}
	return res
}

// probe makes one connection attempt with a fresh channel, keeping it on
// success. A fresh channel per attempt avoids inheriting gRPC's own
// reconnect backoff from earlier refused attempts.
func (b *Bridge) probe(ctx context.Context) error {
	conn, err := rpc.Dial(b.Addr())
	if err != nil {
		return err
	}
	client := rpc.NewClient(conn)
	if _, err := client.Ping(ctx, &rpc.PingRequest{Nonce: time.Now().UnixNano()}); err != nil {
		conn.Close()
		return err
	}
	b.callMu.Lock()
	b.conn, b.client = conn, client
	b.callMu.Unlock()
	return nil
}

func (b *Bridge) watch(proc Process) {
	err := proc.Wait()
	if err == nil {
		err = ErrWorkerExited
	} else {
		err = fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}
	b.markUnavailable(err)
	close(b.exited)
}

// Stop shuts the worker down. It is idempotent.
func (b *Bridge) Stop(ctx context.Context) error {
	b.stateMu.Lock()
	if b.state == Stopped {
		b.stateMu.Unlock()
		return nil
	}
	b.state = Stopped
	b.lastErr = ErrStopped
	b.stateMu.Unlock()

	b.closeConn()
	if b.proc == nil {
		return nil
	}
	select {
	case <-b.exited:
		return nil
	default:
	}
	if err := b.proc.Kill(); err != nil {
		return fmt.Errorf("sidecar: stop %s: %w", b.spec.Language, err)
	}
	select {
	case <-b.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (b *Bridge) closeConn() {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn, b.client = nil, nil
	}
}

func (b *Bridge) unavailable() error {
	if err := b.Err(); err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s is %s: %v", ErrBackendUnavailable, b.spec.Language, b.State(), err)
	}
	return fmt.Errorf("%w: %s is %s", ErrBackendUnavailable, b.spec.Language, b.State())
}

// call runs fn against the worker under the call lock. It fails fast when
// the bridge is not Ready and marks the bridge Unavailable when the channel
// reports the worker unreachable.
func call[Resp any](ctx context.Context, b *Bridge, op string, fn func(context.Context, rpc.WorkerServer) (*Resp, error)) (*Resp, error) {
	if b.State() != Ready {
		return nil, b.unavailable()
	}

	b.callMu.Lock()
	defer b.callMu.Unlock()
	if b.State() != Ready || b.client == nil {
		return nil, b.unavailable()
	}

	ctx, span := startCallSpan(ctx, op, b.spec.Language)
	defer span.End()

	start := time.Now()
	resp, err := fn(ctx, b.client)
	recordCall(ctx, op, b.spec.Language, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		if status.Code(err) == codes.Unavailable {
			b.markUnavailable(err)
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
		}
		return nil, fmt.Errorf("sidecar: %s: %w", op, err)
	}
	return resp, nil
}
