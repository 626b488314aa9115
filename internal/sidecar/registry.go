package sidecar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/logging"
)

// DefaultHandshakeTimeout bounds worker startup when no timeout is configured.
const DefaultHandshakeTimeout = 25 * time.Second

// Registry owns the workers of one server: the port counter, the launch
// commands and one bridge per language. Independent registries never share
// ports with each other's counters, so callers give them disjoint bases.
type Registry struct {
	nextPort atomic.Int64

	database string
	resolver FileResolver
	launcher Launcher
	commands map[string]config.WorkerCommand
	timeout  time.Duration
	policy   BackoffPolicy
	logger   *log.Logger

	mu      sync.Mutex
	bridges map[string]*Bridge
	starts  singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *log.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithLauncher(l Launcher) Option { return func(r *Registry) { r.launcher = l } }

func WithHandshakeTimeout(d time.Duration) Option { return func(r *Registry) { r.timeout = d } }

func WithBackoff(p BackoffPolicy) Option { return func(r *Registry) { r.policy = p } }

// WithWorker sets the launch command for a language.
func WithWorker(language string, cmd config.WorkerCommand) Option {
	return func(r *Registry) { r.commands[languageKey(language)] = cmd }
}

// NewRegistry creates a registry allocating ports from basePort upward.
// database is handed to every worker as its connection string.
func NewRegistry(database string, basePort int, resolver FileResolver, opts ...Option) *Registry {
	r := &Registry{
		database: database,
		resolver: resolver,
		commands: make(map[string]config.WorkerCommand),
		timeout:  DefaultHandshakeTimeout,
		policy:   DefaultBackoff,
		logger:   logging.Discard(),
		bridges:  make(map[string]*Bridge),
	}
	r.nextPort.Store(int64(basePort))
	for _, opt := range opts {
		opt(r)
	}
	if r.launcher == nil {
		r.launcher = ExecLauncher{Logger: r.logger}
	}
	return r
}

// FromConfig builds a registry from the sidecar section of cfg.
func FromConfig(cfg *config.Config, resolver FileResolver, opts ...Option) *Registry {
	base := []Option{
		WithHandshakeTimeout(cfg.Sidecar.HandshakeTimeout),
		WithBackoff(BackoffPolicy{Initial: cfg.Sidecar.Backoff.Initial, Max: cfg.Sidecar.Backoff.Max}),
	}
	for lang, cmd := range cfg.Sidecar.Workers {
		base = append(base, WithWorker(lang, cmd))
	}
	return NewRegistry(cfg.Database, cfg.Sidecar.BasePort, resolver, append(base, opts...)...)
}

// AllocatePort returns the next unused port. Safe for concurrent use.
func (r *Registry) AllocatePort() int {
	return int(r.nextPort.Add(1) - 1)
}

// languageKey normalizes language names used as registry keys.
func languageKey(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

func (r *Registry) command(language string) config.WorkerCommand {
	if cmd, ok := r.commands[language]; ok {
		return cmd
	}
	return config.DefaultWorker(language)
}

// Start launches a worker for language on a fresh port and blocks until the
// handshake finishes. The bridge is registered whatever the outcome, so a
// failed start is visible as an Unavailable bridge. Starting a language that
// already has a live bridge returns that bridge. Concurrent starts for one
// language share a single launch and all receive its outcome.
func (r *Registry) Start(ctx context.Context, language string) (*Bridge, HandshakeResult) {
	language = languageKey(language)
	if b := r.ready(language); b != nil {
		return b, HandshakeResult{Outcome: OutcomeReady}
	}

	v, _, _ := r.starts.Do(language, func() (any, error) {
		if b := r.ready(language); b != nil {
			return startResult{bridge: b, res: HandshakeResult{Outcome: OutcomeReady}}, nil
		}
		b, res := r.launch(ctx, language)
		return startResult{bridge: b, res: res}, nil
	})
	sr := v.(startResult)
	return sr.bridge, sr.res
}

type startResult struct {
	bridge *Bridge
	res    HandshakeResult
}

func (r *Registry) ready(language string) *Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bridges[language]; ok && b.State() == Ready {
		return b
	}
	return nil
}

func (r *Registry) launch(ctx context.Context, language string) (*Bridge, HandshakeResult) {
	cmd := r.command(language)
	spec := LaunchSpec{
		Language: language,
		Command:  cmd.Command,
		Args:     cmd.Args,
		Database: r.database,
		Port:     r.AllocatePort(),
	}
	b := newBridge(spec, r.resolver, r.logger)
	res := b.start(ctx, r.launcher, r.timeout, r.policy)

	r.mu.Lock()
	old := r.bridges[language]
	r.bridges[language] = b
	r.mu.Unlock()
	if old != nil && old != b {
		_ = old.Stop(ctx)
	}
	return b, res
}

// Restart stops the current bridge for language, if any, and starts a new
// worker on a new port.
func (r *Registry) Restart(ctx context.Context, language string) (*Bridge, HandshakeResult) {
	language = languageKey(language)
	r.mu.Lock()
	old := r.bridges[language]
	delete(r.bridges, language)
	r.mu.Unlock()

	if old != nil {
		if err := old.Stop(ctx); err != nil {
			r.logger.Warn("stop before restart", "language", language, "err", err)
		}
	}
	r.logger.Info("restarting sidecar", "language", language)
	return r.Start(ctx, language)
}

// Bridge returns the registered bridge for language.
func (r *Registry) Bridge(language string) (*Bridge, error) {
	language = languageKey(language)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, language)
	}
	return b, nil
}

// Languages lists the languages with a registered bridge.
func (r *Registry) Languages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	langs := make([]string, 0, len(r.bridges))
	for lang := range r.bridges {
		langs = append(langs, lang)
	}
	return langs
}

// Close stops every bridge.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	bridges := r.bridges
	r.bridges = make(map[string]*Bridge)
	r.mu.Unlock()

	var errs []error
	for _, b := range bridges {
		if err := b.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
