package orchard

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/store"
)

// UsageSet is the result of a transitive traversal.
type UsageSet struct {
	Root int64
	// IDs lists the reached entities in discovery order, root first.
	IDs   []int64
	Graph *graph.Graph
}

// TransitiveUses returns everything start reaches by following relations of
// the given kinds (all kinds when none) from their left-hand side.
func (q *QueryBuilder) TransitiveUses(ctx context.Context, start int64, kinds ...RelationKind) (*UsageSet, error) {
	return q.transitive(ctx, start, Uses, kinds)
}

// TransitiveUsedBy returns everything that reaches start.
func (q *QueryBuilder) TransitiveUsedBy(ctx context.Context, start int64, kinds ...RelationKind) (*UsageSet, error) {
	return q.transitive(ctx, start, UsedBy, kinds)
}

// transitive returns nil, nil when start does not resolve.
func (q *QueryBuilder) transitive(ctx context.Context, start int64, dir Direction, kinds []RelationKind) (*UsageSet, error) {
	var set *UsageSet
	err := q.store.View(ctx, func(tx *store.Tx) error {
		b := newDiagramBuilder(tx, graph.New("transitive "+dir.String()), q.logger)
		ids, err := b.traverse(start, dir, kinds, nil)
		if err != nil || ids == nil {
			return err
		}
		set = &UsageSet{Root: start, IDs: ids, Graph: b.g}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transitive %s of %d: %w", dir, start, err)
	}
	return set, nil
}

// diagramBuilder adds model entities to a graph. Files cluster by their
// directory and AST nodes by their file. Lookups are memoized for the
// lifetime of one request.
type diagramBuilder struct {
	tx     *store.Tx
	g      *graph.Graph
	logger *log.Logger

	files map[int64]*store.File
	nodes map[int64]*store.AstNode
}

func newDiagramBuilder(tx *store.Tx, g *graph.Graph, logger *log.Logger) *diagramBuilder {
	g.SetAttribute("rankdir", "LR")
	return &diagramBuilder{
		tx:     tx,
		g:      g,
		logger: logger,
		files:  make(map[int64]*store.File),
		nodes:  make(map[int64]*store.AstNode),
	}
}

func entityKey(id int64) string { return strconv.FormatInt(id, 10) }

func parseEntityKey(key string) int64 {
	id, _ := strconv.ParseInt(key, 10, 64)
	return id
}

func (b *diagramBuilder) file(id int64) (*store.File, error) {
	if f, ok := b.files[id]; ok {
		return f, nil
	}
	f, err := b.tx.FileByID(id)
	if err != nil {
		return nil, err
	}
	b.files[id] = f
	return f, nil
}

func (b *diagramBuilder) node(id int64) (*store.AstNode, error) {
	if n, ok := b.nodes[id]; ok {
		return n, nil
	}
	n, err := b.tx.AstNodeByID(id)
	if err != nil {
		return nil, err
	}
	b.nodes[id] = n
	return n, nil
}

// isFile reports whether id names a non-directory file.
func (b *diagramBuilder) isFile(id int64) bool {
	f, err := b.file(id)
	return err == nil && f != nil && !f.IsDirectory()
}

// dirCluster returns the cluster of a directory, keyed by its identifier.
func (b *diagramBuilder) dirCluster(dirID *int64) (graph.Subgraph, error) {
	if dirID == nil {
		return graph.Subgraph{}, nil
	}
	key := "dir:" + entityKey(*dirID)
	if sg, ok := b.g.LookupSubgraph(key); ok {
		return sg, nil
	}
	dir, err := b.file(*dirID)
	if err != nil || dir == nil {
		return graph.Subgraph{}, err
	}
	sg := b.g.AddSubgraph(key, dir.Path)
	b.g.Decorate(sg, graph.FileCluster)
	return sg, nil
}

func (b *diagramBuilder) fileCluster(f *store.File) graph.Subgraph {
	key := "file:" + entityKey(f.ID)
	if sg, ok := b.g.LookupSubgraph(key); ok {
		return sg
	}
	sg := b.g.AddSubgraph(key, f.Path)
	b.g.Decorate(sg, graph.FileCluster)
	return sg
}

// entity returns the graph node for a file or AST node identifier, creating
// it on first use. It reports false, after logging, when id resolves to
// neither.
func (b *diagramBuilder) entity(id int64) (graph.Node, bool, error) {
	if n, ok := b.g.LookupNode(entityKey(id)); ok {
		return n, true, nil
	}

	f, err := b.file(id)
	if err != nil {
		return graph.Node{}, false, err
	}
	if f != nil {
		sg, err := b.dirCluster(f.ParentID)
		if err != nil {
			return graph.Node{}, false, err
		}
		n := b.g.AddNode(graph.Entity{Key: entityKey(id), Label: path.Base(f.Path), Subgraph: sg})
		if f.IsDirectory() {
			b.g.Decorate(n, graph.DirectoryNode)
		} else {
			b.g.Decorate(n, graph.SourceFileNode)
		}
		return n, true, nil
	}

	an, err := b.node(id)
	if err != nil {
		return graph.Node{}, false, err
	}
	if an == nil {
		b.logger.Warn("relation endpoint does not resolve, skipping", "id", id)
		return graph.Node{}, false, nil
	}
	owner, err := b.file(an.FileID)
	if err != nil {
		return graph.Node{}, false, err
	}
	var sg graph.Subgraph
	if owner != nil {
		sg = b.fileCluster(owner)
	}
	return b.g.AddNode(graph.Entity{Key: entityKey(id), Label: an.Value, Subgraph: sg}), true, nil
}

// edge adds the graph edge for a relation between two resolved endpoints.
func (b *diagramBuilder) edge(r *store.Relation) (graph.Edge, bool, error) {
	from, ok, err := b.entity(r.LHS)
	if err != nil || !ok {
		return graph.Edge{}, false, err
	}
	to, ok, err := b.entity(r.RHS)
	if err != nil || !ok {
		return graph.Edge{}, false, err
	}
	return b.g.AddEdge(from, to), true, nil
}

// traverse expands from start one hop at a time over relations of kinds in
// direction dir, adding every reached endpoint and traversed relation to the
// graph, until a pass discovers nothing new. keep, when set, limits which
// endpoints are followed. Unresolvable endpoints are skipped. It returns the
// reached identifiers in discovery order, or nil when start itself does not
// resolve.
func (b *diagramBuilder) traverse(start int64, dir Direction, kinds []RelationKind, keep func(int64) bool) ([]int64, error) {
	if _, ok, err := b.entity(start); err != nil || !ok {
		return nil, err
	}
	visited := map[int64]bool{start: true}
	order := []int64{start}
	frontier := []int64{start}

	for len(frontier) > 0 {
		var next []int64
		for _, id := range frontier {
			rels, err := b.tx.RelationsOf(id, dir, kinds...)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				other := r.RHS
				if dir == UsedBy {
					other = r.LHS
				}
				if keep != nil && !keep(other) {
					continue
				}
				_, ok, err := b.edge(r)
				if err != nil {
					return nil, err
				}
				if !ok || visited[other] {
					continue
				}
				visited[other] = true
				order = append(order, other)
				next = append(next, other)
			}
		}
		frontier = next
	}
	return order, nil
}
