package orchard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/ingest"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/runtime"
	"github.com/jward/orchard/internal/sidecar"
	"github.com/jward/orchard/internal/store"
)

// Engine orchestrates orchard: file discovery, change detection, analysis
// through Risor scripts, relation ingestion, sidecar workers and queries.
type Engine struct {
	store      *store.Store
	cfg        *config.Config
	logger     *log.Logger
	scriptsDir string
	scriptsFS  fs.FS
	languages  map[string]bool // nil means all languages

	cache     ingest.EdgeCache
	ownsCache bool
	workers   int
	fullLink  bool

	sidecarOpts []sidecar.Option
	regOnce     sync.Once
	registry    *sidecar.Registry

	scriptMu sync.Mutex
	scripts  map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguages restricts which languages the Engine will process. Names
// are lowercase language names such as "go" or "python".
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, lang := range languages {
			e.languages[strings.ToLower(lang)] = true
		}
	}
}

// WithScriptsFS loads analyzer scripts from fsys instead of scriptsDir.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.scriptsFS = fsys }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConfig supplies the loaded configuration. Without it the defaults of
// config.Default apply.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithEdgeCache injects the dependency edge cache. The Engine does not close
// an injected cache.
func WithEdgeCache(c ingest.EdgeCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithWorkers bounds the analyzer goroutines; zero means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithFullLink relinks every file on each run instead of only changed files
// and the files whose links pointed into them.
func WithFullLink(full bool) Option {
	return func(e *Engine) { e.fullLink = full }
}

// WithSidecarOptions passes options to the sidecar registry.
func WithSidecarOptions(opts ...sidecar.Option) Option {
	return func(e *Engine) { e.sidecarOpts = append(e.sidecarOpts, opts...) }
}

// New creates an Engine backed by a SQLite database at dbPath. Scripts are
// loaded from the WithScriptsFS filesystem when given, otherwise from
// scriptsDir on disk.
func New(dbPath string, scriptsDir string, opts ...Option) (*Engine, error) {
	e := &Engine{
		scriptsDir: scriptsDir,
		scripts:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.Default()
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.workers == 0 {
		e.workers = e.cfg.Ingest.Workers
	}

	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("orchard: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("orchard: migrate: %w", err)
	}
	e.store = s

	if e.cache == nil {
		cache, err := ingest.OpenCache(e.cfg.Ingest, e.logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("orchard: open edge cache: %w", err)
		}
		e.cache = cache
		e.ownsCache = true
	}
	return e, nil
}

// Close stops sidecars and releases the database and edge cache.
func (e *Engine) Close() error {
	var errs []error
	if e.registry != nil {
		errs = append(errs, e.registry.Close(context.Background()))
	}
	if e.ownsCache {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a new QueryBuilder wrapping the Store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store, logger: e.logger}
}

// Sidecars returns the registry of language workers. Workers receive this
// Engine's database path.
func (e *Engine) Sidecars() *sidecar.Registry {
	e.regOnce.Do(func() {
		cfg := *e.cfg
		cfg.Database = e.store.Path()
		opts := append([]sidecar.Option{sidecar.WithLogger(e.logger)}, e.sidecarOpts...)
		e.registry = sidecar.FromConfig(&cfg, e.store, opts...)
	})
	return e.registry
}

// Sidecar returns a ready bridge for language, starting its worker when
// none is running. It blocks for at most the handshake timeout.
func (e *Engine) Sidecar(ctx context.Context, language string) (*sidecar.Bridge, error) {
	b, res := e.Sidecars().Start(ctx, language)
	if !res.Ready() {
		return nil, res.Err
	}
	return b, nil
}

func (e *Engine) newRuntime(opts ...runtime.Option) *runtime.Runtime {
	base := []runtime.Option{runtime.WithLogger(e.logger)}
	if e.scriptsFS != nil {
		base = append(base, runtime.WithFS(e.scriptsFS))
	}
	return runtime.NewRuntime(e.scriptsDir, append(base, opts...)...)
}

// hasScript reports whether the script at p exists. Results are memoized.
func (e *Engine) hasScript(p string) bool {
	e.scriptMu.Lock()
	defer e.scriptMu.Unlock()
	if ok, seen := e.scripts[p]; seen {
		return ok
	}
	_, err := e.newRuntime().LoadScript(p)
	e.scripts[p] = err == nil
	return err == nil
}

// skipDirs are excluded from the filesystem walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// IndexDirectory discovers the files under root and indexes them. Inside a
// git repository, git ls-files decides which files count; otherwise the
// directory is walked honoring root's .gitignore.
func (e *Engine) IndexDirectory(ctx context.Context, root string) (*IndexReport, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("orchard: resolve %s: %w", root, err)
	}
	paths, err := e.gitListFiles(root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking", "root", root, "err", err)
		paths, err = e.walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	return e.IndexFiles(ctx, paths)
}

// gitListFiles lists tracked and untracked, non-ignored files under root
// that have a supported extension.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := runtime.LanguageForFile(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// walkListFiles walks root, skipping hidden directories, dependency
// directories and whatever root's .gitignore excludes.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	var gi *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		gi = compiled
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			if gi != nil && rel != "." && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if _, ok := runtime.LanguageForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("orchard: walk directory: %w", err)
	}
	return paths, nil
}
