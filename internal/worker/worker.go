// Package worker serves the language worker contract from the shared store.
// A worker process owns one language; the server reads what that language's
// analyzer wrote and answers in worker-native addressing (file paths).
package worker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
)

// Server implements rpc.WorkerServer over a *store.Store.
type Server struct {
	store    *store.Store
	language string
	logger   *log.Logger
	renderer graph.Renderer
}

var _ rpc.WorkerServer = (*Server)(nil)

type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRenderer overrides the diagram renderer. Tests use the zero Renderer
// so output does not depend on a local Graphviz install.
func WithRenderer(r graph.Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

func New(st *store.Store, language string, opts ...Option) *Server {
	s := &Server{
		store:    st,
		language: language,
		logger:   logging.Discard(),
		renderer: graph.DefaultRenderer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Nonce: req.Nonce, Language: s.language, Pid: os.Getpid()}, nil
}

func (s *Server) GetAstNodeInfo(ctx context.Context, req *rpc.NodeRequest) (*rpc.NodeInfoResponse, error) {
	n, err := s.store.AstNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", req.NodeID, err)
	}
	if n == nil {
		return &rpc.NodeInfoResponse{}, nil
	}
	return &rpc.NodeInfoResponse{Found: true, Node: s.info(ctx, n, newPathCache())}, nil
}

func (s *Server) GetAstNodeInfoByPosition(ctx context.Context, req *rpc.PositionRequest) (*rpc.NodeInfoResponse, error) {
	f, err := s.file(ctx, req.FileID, req.FilePath)
	if err != nil || f == nil {
		return &rpc.NodeInfoResponse{}, err
	}
	n, err := s.store.AstNodeAt(ctx, f.ID, req.Line, req.Col)
	if err != nil {
		return nil, fmt.Errorf("worker: node at %s:%d:%d: %w", f.Path, req.Line, req.Col, err)
	}
	if n == nil {
		return &rpc.NodeInfoResponse{}, nil
	}
	paths := newPathCache()
	paths.m[f.ID] = f.Path
	return &rpc.NodeInfoResponse{Found: true, Node: s.info(ctx, n, paths)}, nil
}

func (s *Server) GetSourceText(ctx context.Context, req *rpc.NodeRequest) (*rpc.TextResponse, error) {
	n, err := s.store.AstNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", req.NodeID, err)
	}
	if n == nil {
		return &rpc.TextResponse{}, nil
	}
	content, err := s.content(ctx, n.FileID)
	if err != nil {
		return nil, err
	}
	return &rpc.TextResponse{Text: sliceRange(content, n.StartLine, n.StartCol, n.EndLine, n.EndCol)}, nil
}

func (s *Server) GetDocumentation(ctx context.Context, req *rpc.NodeRequest) (*rpc.TextResponse, error) {
	n, err := s.store.AstNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", req.NodeID, err)
	}
	if n == nil {
		return &rpc.TextResponse{}, nil
	}
	return &rpc.TextResponse{Text: n.Documentation}, nil
}

func (s *Server) GetProperties(ctx context.Context, req *rpc.NodeRequest) (*rpc.PropertiesResponse, error) {
	n, err := s.store.AstNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", req.NodeID, err)
	}
	if n == nil {
		return &rpc.PropertiesResponse{}, nil
	}
	props := map[string]string{
		"Name":     n.Value,
		"Kind":     n.Kind,
		"Position": strconv.Itoa(n.StartLine) + ":" + strconv.Itoa(n.StartCol),
	}
	if n.SymbolType != "" {
		props["Type"] = n.SymbolType
	}
	if path := newPathCache().get(ctx, s, n.FileID); path != "" {
		props["File"] = path
	}
	if n.Documentation != "" {
		props["Documented"] = "yes"
	}
	return &rpc.PropertiesResponse{Properties: props}, nil
}

// file resolves a request's file by path, falling back to the id.
func (s *Server) file(ctx context.Context, id int64, path string) (*store.File, error) {
	var (
		f   *store.File
		err error
	)
	if path != "" {
		f, err = s.store.FileByPath(ctx, path)
	} else {
		f, err = s.store.FileByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("worker: resolve file %q: %w", path, err)
	}
	return f, nil
}

// content returns a file's stored content, reading it from disk when the
// analyzer did not keep it.
func (s *Server) content(ctx context.Context, fileID int64) ([]byte, error) {
	var (
		data []byte
		ok   bool
		f    *store.File
	)
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if data, ok, err = tx.FileContent(fileID); err != nil || ok {
			return err
		}
		f, err = tx.FileByID(fileID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("worker: content of %d: %w", fileID, err)
	}
	if ok {
		return data, nil
	}
	if f == nil {
		return nil, nil
	}
	data, err = os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("worker: read %s: %w", f.Path, err)
	}
	return data, nil
}

func (s *Server) info(ctx context.Context, n *store.AstNode, paths *pathCache) rpc.AstNodeInfo {
	return rpc.AstNodeInfo{
		ID:         n.ID,
		Value:      n.Value,
		Kind:       n.Kind,
		SymbolType: n.SymbolType,
		Range: rpc.FileRange{
			FilePath:  paths.get(ctx, s, n.FileID),
			StartLine: n.StartLine,
			StartCol:  n.StartCol,
			EndLine:   n.EndLine,
			EndCol:    n.EndCol,
		},
		Tags: tagsOf(n),
	}
}

// tagsOf derives the filterable tags of a node.
func tagsOf(n *store.AstNode) []string {
	tags := []string{n.Kind}
	if n.Documentation != "" {
		tags = append(tags, "documented")
	}
	return tags
}

// pathCache memoizes file id to path lookups for one response.
type pathCache struct {
	m map[int64]string
}

func newPathCache() *pathCache {
	return &pathCache{m: make(map[int64]string)}
}

func (c *pathCache) get(ctx context.Context, s *Server, fileID int64) string {
	if p, ok := c.m[fileID]; ok {
		return p
	}
	f, err := s.store.FileByID(ctx, fileID)
	if err != nil || f == nil {
		s.logger.Warn("node file does not resolve", "file_id", fileID, "err", err)
		c.m[fileID] = ""
		return ""
	}
	c.m[fileID] = f.Path
	return f.Path
}

// sliceRange cuts the text between two 1-based positions; the end column is
// exclusive.
func sliceRange(content []byte, startLine, startCol, endLine, endCol int) string {
	if len(content) == 0 || startLine < 1 || endLine < startLine {
		return ""
	}
	lines := strings.SplitAfter(string(content), "\n")
	if startLine > len(lines) {
		return ""
	}
	if endLine > len(lines) {
		endLine = len(lines)
		endCol = len(lines[endLine-1]) + 1
	}
	var b strings.Builder
	for i := startLine; i <= endLine; i++ {
		line := lines[i-1]
		from, to := 0, len(line)
		if i == startLine {
			from = clamp(startCol-1, 0, len(line))
		}
		if i == endLine {
			to = clamp(endCol-1, from, len(line))
		}
		b.WriteString(line[from:to])
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
