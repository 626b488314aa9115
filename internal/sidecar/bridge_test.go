package sidecar

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
)

// fakeWorker answers with worker-native paths only.
type fakeWorker struct {
	rpc.WorkerServer
}

func (fakeWorker) Ping(_ context.Context, in *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Nonce: in.Nonce, Language: "go"}, nil
}

func (fakeWorker) GetAstNodeInfo(_ context.Context, in *rpc.NodeRequest) (*rpc.NodeInfoResponse, error) {
	if in.NodeID != 42 {
		return &rpc.NodeInfoResponse{}, nil
	}
	return &rpc.NodeInfoResponse{Found: true, Node: rpc.AstNodeInfo{
		ID: 42, Value: "main", Range: rpc.FileRange{FilePath: "/a/b.x", StartLine: 3, EndLine: 9},
	}}, nil
}

// GetAstNodeInfoByPosition echoes the path it was asked about.
func (fakeWorker) GetAstNodeInfoByPosition(_ context.Context, in *rpc.PositionRequest) (*rpc.NodeInfoResponse, error) {
	if in.FilePath == "" {
		return &rpc.NodeInfoResponse{}, nil
	}
	return &rpc.NodeInfoResponse{Found: true, Node: rpc.AstNodeInfo{
		ID: 43, Value: in.FilePath, Range: rpc.FileRange{FilePath: in.FilePath, StartLine: in.Line},
	}}, nil
}

func (fakeWorker) GetReferences(context.Context, *rpc.ReferenceRequest) (*rpc.NodeListResponse, error) {
	return &rpc.NodeListResponse{Nodes: []rpc.AstNodeInfo{
		{ID: 1, Range: rpc.FileRange{FilePath: "/a/b.x"}},
		{ID: 2, Range: rpc.FileRange{FilePath: "/gone.x"}},
		{ID: 3, Range: rpc.FileRange{FilePath: "/a/c.x"}},
	}}, nil
}

// mapResolver resolves a fixed set of paths.
type mapResolver map[string]int64

func (m mapResolver) FileByPath(_ context.Context, path string) (*store.File, error) {
	if id, ok := m[path]; ok {
		return &store.File{ID: id, Path: path}, nil
	}
	return nil, nil
}

func (m mapResolver) FileByID(_ context.Context, id int64) (*store.File, error) {
	for p, fid := range m {
		if fid == id {
			return &store.File{ID: id, Path: p}, nil
		}
	}
	return nil, nil
}

// fakeProcess is an in-process worker whose lifetime is a channel.
type fakeProcess struct {
	srv  *grpc.Server
	done chan struct{}
	once sync.Once
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		if p.srv != nil {
			p.srv.Stop()
		}
		close(p.done)
	})
	return nil
}

func (p *fakeProcess) Pid() int { return 0 }

// fakeLauncher serves fakeWorker on the allocated port unless silent is set.
type fakeLauncher struct {
	silent bool
	err    error

	mu    sync.Mutex
	procs []*fakeProcess
	specs []LaunchSpec
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProcess{done: make(chan struct{})}
	if !l.silent {
		lis, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(spec.Port)))
		if err != nil {
			return nil, err
		}
		p.srv = rpc.NewServer(fakeWorker{})
		go p.srv.Serve(lis)
	}
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.specs = append(l.specs, spec)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

// freePort finds a base port for a registry. Ports above it are assumed
// free for the short life of a test.
func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func newTestRegistry(t *testing.T, l Launcher, opts ...Option) *Registry {
	t.Helper()
	base := []Option{
		WithLauncher(l),
		WithHandshakeTimeout(2 * time.Second),
		WithBackoff(BackoffPolicy{Initial: 5 * time.Millisecond, Max: 50 * time.Millisecond}),
	}
	r := NewRegistry("/tmp/index.db", freePort(t), mapResolver{"/a/b.x": 7, "/a/c.x": 8}, append(base, opts...)...)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestRegistry_PortsAreUnique(t *testing.T) {
	t.Parallel()
	r := NewRegistry("db", 20000, nil)

	const n = 200
	ports := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ports <- r.AllocatePort()
		}()
	}
	wg.Wait()
	close(ports)

	seen := make(map[int]bool)
	for p := range ports {
		assert.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
		assert.GreaterOrEqual(t, p, 20000)
		assert.Less(t, p, 20000+n)
	}
	assert.Len(t, seen, n)
}

func TestRegistry_StartPassesDatabaseAndPort(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l, WithWorker("Go", config.WorkerCommand{Command: "go-worker", Args: []string{"--quiet"}}))

	b, res := r.Start(context.Background(), "go")
	require.True(t, res.Ready(), "handshake: %v", res.Err)
	assert.Equal(t, Ready, b.State())

	spec := l.specs[0]
	assert.Equal(t, "go-worker", spec.Command)
	assert.Equal(t, []string{"--quiet", "/tmp/index.db", strconv.Itoa(b.Port())}, spec.Argv())

	got, err := r.Bridge("go")
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestRegistry_UnknownLanguage(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, &fakeLauncher{})

	_, err := r.Bridge("cobol")
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

func TestRegistry_LanguageKeysAreCaseInsensitive(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l)
	ctx := context.Background()

	b, res := r.Start(ctx, "Go")
	require.True(t, res.Ready(), "handshake: %v", res.Err)

	got, err := r.Bridge("go")
	require.NoError(t, err)
	assert.Same(t, b, got)

	again, res := r.Start(ctx, "GO")
	require.True(t, res.Ready())
	assert.Same(t, b, again)
	assert.Len(t, l.specs, 1)
	assert.Equal(t, []string{"go"}, r.Languages())
}

func TestRegistry_ConcurrentStartsShareOneWorker(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l)
	ctx := context.Background()

	const n = 8
	bridges := make([]*Bridge, n)
	results := make([]HandshakeResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridges[i], results[i] = r.Start(ctx, "go")
		}()
	}
	wg.Wait()

	l.mu.Lock()
	launched := len(l.specs)
	l.mu.Unlock()
	assert.Equal(t, 1, launched)

	for i := range n {
		require.True(t, results[i].Ready(), "caller %d: %v", i, results[i].Err)
		assert.Same(t, bridges[0], bridges[i])
		assert.Equal(t, Ready, bridges[i].State())
		node, err := bridges[i].AstNodeInfo(ctx, 42)
		require.NoError(t, err, "caller %d", i)
		assert.NotNil(t, node)
	}
}

func TestBridge_CanceledCallKeepsBridgeReady(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, &fakeLauncher{})
	b, res := r.Start(context.Background(), "go")
	require.True(t, res.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.AstNodeInfo(ctx, 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, Ready, b.State())

	node, err := b.AstNodeInfo(context.Background(), 42)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestRegistry_RestartUsesNewPort(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l)
	ctx := context.Background()

	first, res := r.Start(ctx, "go")
	require.True(t, res.Ready())

	second, res := r.Restart(ctx, "go")
	require.True(t, res.Ready(), "restart: %v", res.Err)
	assert.NotEqual(t, first.Port(), second.Port())
	assert.Equal(t, Stopped, first.State())
	assert.Equal(t, Ready, second.State())
}

func TestBridge_TranslatesPathsToIDs(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, &fakeLauncher{})
	ctx := context.Background()
	b, res := r.Start(ctx, "go")
	require.True(t, res.Ready())

	node, err := b.AstNodeInfo(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, int64(7), node.Range.FileID)
	assert.Equal(t, "/a/b.x", node.Range.FilePath)

	missing, err := b.AstNodeInfo(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	refs, err := b.References(ctx, 42, 1)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, int64(7), refs[0].Range.FileID)
	// Unresolvable paths are left untranslated, not dropped.
	assert.Equal(t, int64(0), refs[1].Range.FileID)
	assert.Equal(t, "/gone.x", refs[1].Range.FilePath)
	assert.Equal(t, int64(8), refs[2].Range.FileID)
}

func TestBridge_TranslatesIDsToPaths(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, &fakeLauncher{})
	ctx := context.Background()
	b, res := r.Start(ctx, "go")
	require.True(t, res.Ready())

	node, err := b.AstNodeInfoByPosition(ctx, FilePosition{FileID: 8, Line: 4, Col: 1})
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/a/c.x", node.Value)
	assert.Equal(t, int64(8), node.Range.FileID)

	node, err = b.AstNodeInfoByPosition(ctx, FilePosition{FileID: 999, Line: 1})
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestBridge_SilentWorkerTimesOut(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{silent: true}
	r := newTestRegistry(t, l, WithHandshakeTimeout(200*time.Millisecond))

	b, res := r.Start(context.Background(), "go")
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.GreaterOrEqual(t, res.Elapsed, 200*time.Millisecond)
	assert.Equal(t, Unavailable, b.State())

	select {
	case <-l.last().done:
	case <-time.After(time.Second):
		t.Fatal("timed out worker was not killed")
	}

	_, err := b.SourceText(context.Background(), 1)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestBridge_LaunchFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("no such binary")
	r := newTestRegistry(t, &fakeLauncher{err: boom})

	b, res := r.Start(context.Background(), "go")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, Unavailable, b.State())
}

func TestBridge_WorkerExitFailsFast(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l)
	ctx := context.Background()
	b, res := r.Start(ctx, "go")
	require.True(t, res.Ready())

	require.NoError(t, l.last().Kill())
	require.Eventually(t, func() bool { return b.State() == Unavailable }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Err(), ErrWorkerExited)

	start := time.Now()
	_, err := b.Properties(ctx, 42)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBridge_NoTransitionLeavesTerminalState(t *testing.T) {
	t.Parallel()
	b := newBridge(LaunchSpec{Language: "go"}, nil, logging.Discard())

	assert.True(t, b.transition(Ready, nil))
	assert.True(t, b.transition(Unavailable, ErrWorkerExited))
	assert.False(t, b.transition(Ready, nil))
	assert.False(t, b.transition(Stopped, nil))
	assert.Equal(t, Unavailable, b.State())
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	r := newTestRegistry(t, l)
	ctx := context.Background()
	b, res := r.Start(ctx, "go")
	require.True(t, res.Ready())

	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, Stopped, b.State())

	_, err := b.Documentation(ctx, 42)
	assert.ErrorIs(t, err, ErrStopped)
}
