// Package runtime runs analyzer scripts. A Risor VM is given tree-sitter
// host functions for parsing and model host functions for emitting AST
// nodes and relations.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/store"
)

// Writer receives what a script emits. *store.Batch satisfies it for the
// analyze pass; the link pass uses a writer that routes relations through
// the ingestion session.
type Writer interface {
	InsertAstNode(n *store.AstNode) (int64, error)
	InsertRelation(r *store.Relation) (int64, error)
}

// Reader is the read side of the model a link script resolves names
// against. *store.Store satisfies it.
type Reader interface {
	FileByPath(ctx context.Context, path string) (*store.File, error)
	FileByID(ctx context.Context, id int64) (*store.File, error)
	AstNodesByName(ctx context.Context, value string) ([]*store.AstNode, error)
	AstNodesByFile(ctx context.Context, fileID int64) ([]*store.AstNode, error)
}

var _ Writer = (*store.Batch)(nil)
var _ Reader = (*store.Store)(nil)

// Runtime evaluates analyzer scripts. It is not safe for concurrent use;
// give each goroutine its own Runtime.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	writer     Writer
	reader     Reader
	logger     *log.Logger
	sources    *sourceStore
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFS loads scripts, and resolves their imports, from fsys instead of
// from disk.
func WithFS(fsys fs.FS) Option {
	return func(r *Runtime) { r.fsys = fsys }
}

func WithWriter(w Writer) Option {
	return func(r *Runtime) { r.writer = w }
}

func WithReader(rd Reader) Option {
	return func(r *Runtime) { r.reader = rd }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a Runtime loading scripts from scriptsDir unless an
// fs.FS is supplied.
func NewRuntime(scriptsDir string, opts ...Option) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     logging.Discard(),
		sources:    newSourceStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and evaluates a script with the standard globals plus
// extra.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extra map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extra)
}

// RunSource evaluates source directly.
func (r *Runtime) RunSource(ctx context.Context, source string, extra map[string]any) error {
	return r.eval(ctx, source, "<inline>", extra)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extra map[string]any) error {
	globals := r.globals(ctx, extra)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.importer(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

func (r *Runtime) importer(globals map[string]any) importer.Importer {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	switch {
	case r.fsys != nil:
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	case r.scriptsDir != "":
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: names,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript returns the source of the script at p, relative to the
// configured fs.FS or scripts directory.
func (r *Runtime) LoadScript(p string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(p), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: load %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(r.scriptsDir, p)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("runtime: load %s: %w", full, err)
	}
	return string(data), nil
}

// AnalyzeScriptPath is the per-language script that emits AST nodes and
// declaration-context relations for one file.
func AnalyzeScriptPath(language string) string {
	return path.Join("analyze", language+".risor")
}

// LinkScriptPath is the per-language script that emits call and usage
// relations for one file once every file has been analyzed.
func LinkScriptPath(language string) string {
	return path.Join("link", language+".risor")
}

func (r *Runtime) globals(ctx context.Context, extra map[string]any) map[string]any {
	g := map[string]any{
		"parse":      parseBuiltin(r.sources),
		"parse_src":  parseSrcBuiltin(r.sources),
		"node_text":  nodeTextBuiltin(r.sources),
		"node_child": nodeChildBuiltin(),
		"node_range": nodeRangeBuiltin(),
		"node_doc":   nodeDocBuiltin(r.sources),
		"query":      queryBuiltin(r.sources),
		"log":        mustProxy(&scriptLogger{l: r.logger}),
	}
	if r.writer != nil {
		g["insert_node"] = insertNodeBuiltin(r.writer)
		g["add_relation"] = addRelationBuiltin(r.writer)
	}
	if r.reader != nil {
		g["nodes_named"] = nodesNamedBuiltin(ctx, r.reader)
		g["nodes_in_file"] = nodesInFileBuiltin(ctx, r.reader)
		g["file_by_path"] = fileByPathBuiltin(ctx, r.reader)
	}
	for k, v := range extra {
		g[k] = v
	}
	return g
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy: %v", err))
	}
	return p
}
