package orchard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/store"
)

func newTestQueryBuilder(t *testing.T) (*QueryBuilder, *store.Store) {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return NewQueryBuilder(s, logging.Discard()), s
}

func ensureFile(t *testing.T, s *store.Store, path string, fileType FileType) *File {
	t.Helper()
	var f *File
	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		f, err = tx.EnsureFilePath(path, fileType)
		return err
	}))
	return f
}

func relate(t *testing.T, s *store.Store, lhs, rhs int64, kind RelationKind) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		_, err := tx.InsertRelation(&store.Relation{LHS: lhs, RHS: rhs, Kind: kind})
		return err
	}))
}

func insertNode(t *testing.T, s *store.Store, n *AstNode) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		id, err = tx.InsertAstNode(n)
		return err
	}))
	return id
}

func labels(g *graph.Graph, nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = g.Label(n)
	}
	return out
}

func TestChildrenAndSubsystemDiagram_EndToEnd(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	b := ensureFile(t, s, "/a/b.x", "X")
	c := ensureFile(t, s, "/a/c.x", "X")
	ensureFile(t, s, "/a/d.y", "Y")
	dir, err := q.File(ctx, "/a")
	require.NoError(t, err)
	require.NotNil(t, dir)

	children, err := q.Children(ctx, dir.ID, "X")
	require.NoError(t, err)
	var names []string
	for _, f := range children {
		names = append(names, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{"b.x", "c.x"}, names)

	relate(t, s, b.ID, c.ID, store.Assign)

	g, err := q.BuildFileDiagram(ctx, dir.ID, graph.SubsystemDependency)
	require.NoError(t, err)
	require.NotNil(t, g)
	// d.y is a file under /a too, so three nodes are drawn.
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	require.Equal(t, 1, g.SubgraphCount())
	sg := g.Subgraphs()[0]
	assert.Equal(t, "/a", g.SubgraphLabel(sg))
	assert.Subset(t, labels(g, g.SubgraphNodes(sg)), []string{"b.x", "c.x"})

	from, to := g.Endpoints(g.Edges()[0])
	assert.Equal(t, "b.x", g.Label(from))
	assert.Equal(t, "c.x", g.Label(to))
}

func TestSubsystemDiagram_TwoFiles(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	b := ensureFile(t, s, "/a/b.x", "X")
	c := ensureFile(t, s, "/a/c.x", "X")
	relate(t, s, b.ID, c.ID, store.Assign)
	relate(t, s, b.ID, c.ID, store.Assign)
	relate(t, s, b.ID, b.ID, store.Usage)

	g, err := q.BuildFileDiagram(ctx, *b.ParentID, graph.SubsystemDependency)
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	require.Equal(t, 1, g.SubgraphCount())
	sg := g.Subgraphs()[0]
	assert.Equal(t, "/a", g.SubgraphLabel(sg))
	assert.ElementsMatch(t, []string{"b.x", "c.x"}, labels(g, g.SubgraphNodes(sg)))
	assert.Equal(t, "LR", g.Attribute("rankdir"))
}

func TestSubsystemDiagram_ClustersNestedDirectories(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	top := ensureFile(t, s, "/m/top.x", "X")
	deep := ensureFile(t, s, "/m/sub/deep.x", "X")
	relate(t, s, top.ID, deep.ID, store.Usage)

	g, err := q.BuildFileDiagram(ctx, *top.ParentID, graph.SubsystemDependency)
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 2, g.SubgraphCount())

	var clusters []string
	for _, sg := range g.Subgraphs() {
		clusters = append(clusters, g.SubgraphLabel(sg))
	}
	assert.ElementsMatch(t, []string{"/m", "/m/sub"}, clusters)
}

func TestFileDiagramTypes(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()
	f := ensureFile(t, s, "/a/b.x", "X")

	types, err := q.FileDiagramTypes(ctx, *f.ParentID)
	require.NoError(t, err)
	assert.Equal(t, map[string]graph.DiagramKind{
		"Internal architecture of this module": graph.SubsystemDependency,
		"Users of this module":                 graph.ExternalUsers,
		"Dependency cycles":                    graph.DependencyCycles,
	}, types)

	types, err = q.FileDiagramTypes(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]graph.DiagramKind{"File usage": graph.FileUsages}, types)

	types, err = q.FileDiagramTypes(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestFileUsagesDiagram(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	center := ensureFile(t, s, "/p/center.x", "X")
	used := ensureFile(t, s, "/p/used.x", "X")
	user := ensureFile(t, s, "/q/user.x", "X")
	relate(t, s, center.ID, used.ID, store.Usage)
	relate(t, s, user.ID, center.ID, store.Usage)
	relate(t, s, center.ID, 424242, store.Usage)

	g, err := q.BuildFileDiagram(ctx, center.ID, graph.FileUsages)
	require.NoError(t, err)
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())

	n, ok := g.LookupNode(entityKey(center.ID))
	require.True(t, ok)
	assert.Equal(t, "gold", g.Attr(n, "fillcolor"))

	_, err = q.BuildFileDiagram(ctx, *center.ParentID, graph.FileUsages)
	require.Error(t, err)
}

func TestExternalUsersDiagram(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	in := ensureFile(t, s, "/m/in.x", "X")
	in2 := ensureFile(t, s, "/m/in2.x", "X")
	u := ensureFile(t, s, "/out/u.x", "X")
	v := ensureFile(t, s, "/out/v.x", "X")
	ensureFile(t, s, "/out/idle.x", "X")
	relate(t, s, u.ID, in.ID, store.Usage)
	relate(t, s, v.ID, u.ID, store.Usage)
	relate(t, s, in.ID, in2.ID, store.Usage)

	g, err := q.BuildFileDiagram(ctx, *in.ParentID, graph.ExternalUsers)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"in.x", "u.x", "v.x"}, labels(g, g.Nodes()))
	assert.Equal(t, 2, g.EdgeCount())

	n, ok := g.LookupNode(entityKey(in.ID))
	require.True(t, ok)
	assert.Equal(t, "gold", g.Attr(n, "fillcolor"))
}

func TestFileDiagram_EmptyRendersNothing(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	f := ensureFile(t, s, "/empty/only.x", "X")

	out, err := q.FileDiagram(context.Background(), *f.ParentID, graph.DependencyCycles, graph.FormatSVG)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = q.FileDiagram(context.Background(), 9999, graph.FileUsages, graph.FormatSVG)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileDiagram_RendersSVG(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	b := ensureFile(t, s, "/a/b.x", "X")
	c := ensureFile(t, s, "/a/c.x", "X")
	relate(t, s, b.ID, c.ID, store.Usage)

	out, err := q.WithRenderer(graph.Renderer{}).FileDiagram(context.Background(), *b.ParentID, graph.SubsystemDependency, graph.FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<svg")
	assert.Contains(t, string(out), "b.x")

	dot, err := q.FileDiagram(context.Background(), *b.ParentID, graph.SubsystemDependency, graph.FormatDOT)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "rankdir")
}

func TestFileDiagram_RejectsFunctionCall(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	f := ensureFile(t, s, "/a/b.x", "X")

	_, err := q.BuildFileDiagram(context.Background(), f.ID, graph.FunctionCall)
	require.Error(t, err)
}

func TestLegend(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueryBuilder(t)
	out, err := q.Legend(graph.SubsystemDependency)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Directory")
}

func TestNodeAt(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()
	f := ensureFile(t, s, "/src/lib.go", "GO")
	id := insertNode(t, s, &AstNode{FileID: f.ID, Value: "Helper", Kind: "function", StartLine: 3, StartCol: 1, EndLine: 5, EndCol: 2})

	n, err := q.NodeAt(ctx, "/src/lib.go", 4, 3)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, id, n.ID)

	n, err = q.NodeAt(ctx, "/src/lib.go", 9, 1)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = q.NodeAt(ctx, "/src/missing.go", 4, 3)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestRelations_Bidirectional(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()
	a := ensureFile(t, s, "/r/a.x", "X")
	b := ensureFile(t, s, "/r/b.x", "X")
	relate(t, s, a.ID, b.ID, store.Alias)

	out, err := q.Relations(ctx, a.ID, Uses)
	require.NoError(t, err)
	require.Len(t, out, 1)
	in, err := q.Relations(ctx, b.ID, UsedBy, store.Alias)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, out[0].ID, in[0].ID)
}
