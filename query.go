package orchard

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/store"
)

// QueryBuilder answers structural queries against the Store. Each method
// runs in its own read transaction.
type QueryBuilder struct {
	store    *store.Store
	logger   *log.Logger
	renderer *graph.Renderer
}

// NewQueryBuilder wraps a Store opened elsewhere.
func NewQueryBuilder(s *Store, logger *log.Logger) *QueryBuilder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &QueryBuilder{store: s, logger: logger}
}

// WithRenderer returns a copy of q that renders diagrams with r.
func (q *QueryBuilder) WithRenderer(r graph.Renderer) *QueryBuilder {
	c := *q
	c.renderer = &r
	return &c
}

func (q *QueryBuilder) render(ctx context.Context, g *graph.Graph, format graph.Format) ([]byte, error) {
	r := graph.DefaultRenderer()
	if q.renderer != nil {
		r = *q.renderer
	}
	return r.Render(ctx, g, format)
}

// File resolves a path; nil when absent.
func (q *QueryBuilder) File(ctx context.Context, path string) (*File, error) {
	f, err := q.store.FileByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", path, err)
	}
	return f, nil
}

// FileByID resolves an identifier; nil when absent.
func (q *QueryBuilder) FileByID(ctx context.Context, id int64) (*File, error) {
	f, err := q.store.FileByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", id, err)
	}
	return f, nil
}

// Children lists the direct children of a directory, optionally filtered by
// type tag.
func (q *QueryBuilder) Children(ctx context.Context, dirID int64, types ...FileType) ([]*File, error) {
	files, err := q.store.ChildrenOf(ctx, dirID, types...)
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", dirID, err)
	}
	return files, nil
}

// Relations lists the relations of an entity in one direction.
func (q *QueryBuilder) Relations(ctx context.Context, id int64, dir Direction, kinds ...RelationKind) ([]*Relation, error) {
	rels, err := q.store.RelationsOf(ctx, id, dir, kinds...)
	if err != nil {
		return nil, fmt.Errorf("relations of %d: %w", id, err)
	}
	return rels, nil
}

// Node returns an AST node; nil when absent.
func (q *QueryBuilder) Node(ctx context.Context, id int64) (*AstNode, error) {
	n, err := q.store.AstNodeByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	return n, nil
}

// NodesNamed returns the nodes whose value is name.
func (q *QueryBuilder) NodesNamed(ctx context.Context, name string) ([]*AstNode, error) {
	nodes, err := q.store.AstNodesByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("nodes named %q: %w", name, err)
	}
	return nodes, nil
}

// NodeAt returns the innermost node covering a 1-based position of a file;
// nil when the file or the node is absent.
func (q *QueryBuilder) NodeAt(ctx context.Context, path string, line, col int) (*AstNode, error) {
	f, err := q.File(ctx, path)
	if err != nil || f == nil {
		return nil, err
	}
	n, err := q.store.AstNodeAt(ctx, f.ID, line, col)
	if err != nil {
		return nil, fmt.Errorf("node at %s:%d:%d: %w", path, line, col, err)
	}
	return n, nil
}
