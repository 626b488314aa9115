package orchard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/store"
)

func adjacency(edges map[string][]string) func(string) []string {
	return func(k string) []string { return edges[k] }
}

func TestDetectCycles_SingleCycle(t *testing.T) {
	t.Parallel()
	cycles := DetectCycles([]string{"A"}, adjacency(map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
	}))
	assert.Equal(t, [][]string{{"A", "B", "C"}}, cycles)
}

func TestDetectCycles_Acyclic(t *testing.T) {
	t.Parallel()
	cycles := DetectCycles([]string{"A", "B", "C", "D"}, adjacency(map[string][]string{
		"A": {"B", "C"},
		"B": {"D"},
		"C": {"D"},
	}))
	assert.NotNil(t, cycles)
	assert.Empty(t, cycles)
}

func TestDetectCycles_ContinuesAfterDetection(t *testing.T) {
	t.Parallel()
	cycles := DetectCycles([]string{"A"}, adjacency(map[string][]string{
		"A": {"B", "C"},
		"B": {"A"},
		"C": {"C", "A"},
	}))
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}, {"A", "C"}}, cycles)
}

func TestDetectCycles_ManyStarts(t *testing.T) {
	t.Parallel()
	cycles := DetectCycles([]int{1, 2, 3}, func(k int) []int {
		return map[int][]int{1: {2}, 2: {1}, 3: {2}}[k]
	})
	assert.Equal(t, [][]int{{1, 2}}, cycles, "nodes already walked are not walked again")
}

func TestCircularDependencies(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	a := ensureFile(t, s, "/c/a.x", "X")
	b := ensureFile(t, s, "/c/b.x", "X")
	c := ensureFile(t, s, "/c/c.x", "X")
	relate(t, s, a.ID, b.ID, store.Usage)
	relate(t, s, b.ID, c.ID, store.Usage)
	relate(t, s, c.ID, a.ID, store.Usage)

	cycles, err := q.CircularDependencies(ctx, *a.ParentID)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/c/a.x", "/c/b.x", "/c/c.x"}}, cycles)

	// The analyzer only reads.
	rels, err := q.Relations(ctx, c.ID, Uses)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	g, err := q.BuildFileDiagram(ctx, *a.ParentID, graph.DependencyCycles)
	require.NoError(t, err)
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())
	var red int
	for _, e := range g.Edges() {
		if g.Attr(e, "color") == "red" {
			red++
		}
	}
	assert.Equal(t, 1, red)
}

func TestCircularDependencies_Acyclic(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	a := ensureFile(t, s, "/d/a.x", "X")
	b := ensureFile(t, s, "/d/b.x", "X")
	relate(t, s, a.ID, b.ID, store.Usage)

	cycles, err := q.CircularDependencies(context.Background(), *a.ParentID)
	require.NoError(t, err)
	assert.NotNil(t, cycles)
	assert.Empty(t, cycles)
}

func TestCircularDependencies_NotADirectory(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	f := ensureFile(t, s, "/d/a.x", "X")

	_, err := q.CircularDependencies(context.Background(), f.ID)
	require.Error(t, err)
}

type callChain struct {
	file            *File
	one, two, three int64
}

func newCallChain(t *testing.T, s *store.Store) callChain {
	t.Helper()
	f := ensureFile(t, s, "/src/chain.go", "GO")
	cc := callChain{file: f}
	cc.one = insertNode(t, s, &AstNode{FileID: f.ID, Value: "one", Kind: "function", StartLine: 1, EndLine: 1})
	cc.two = insertNode(t, s, &AstNode{FileID: f.ID, Value: "two", Kind: "function", StartLine: 2, EndLine: 2})
	cc.three = insertNode(t, s, &AstNode{FileID: f.ID, Value: "three", Kind: "function", StartLine: 3, EndLine: 3})
	relate(t, s, cc.one, cc.two, store.Call)
	relate(t, s, cc.two, cc.three, store.Call)
	relate(t, s, cc.three, cc.one, store.Call)
	relate(t, s, cc.three, 777777, store.Call)
	return cc
}

func TestTransitiveUses(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	cc := newCallChain(t, s)

	set, err := q.TransitiveUses(context.Background(), cc.one, store.Call)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, []int64{cc.one, cc.two, cc.three}, set.IDs)
	assert.Equal(t, 3, set.Graph.NodeCount(), "the unresolvable endpoint is skipped")
	assert.Equal(t, 3, set.Graph.EdgeCount())

	require.Equal(t, 1, set.Graph.SubgraphCount())
	sg := set.Graph.Subgraphs()[0]
	assert.Equal(t, "/src/chain.go", set.Graph.SubgraphLabel(sg))
}

func TestTransitiveUsedBy(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	cc := newCallChain(t, s)

	set, err := q.TransitiveUsedBy(context.Background(), cc.three)
	require.NoError(t, err)
	assert.Equal(t, []int64{cc.three, cc.two, cc.one}, set.IDs)
}

func TestTransitive_KindFilter(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	cc := newCallChain(t, s)

	set, err := q.TransitiveUses(context.Background(), cc.one, store.Alias)
	require.NoError(t, err)
	assert.Equal(t, []int64{cc.one}, set.IDs)
}

func TestTransitive_MissingStart(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueryBuilder(t)

	set, err := q.TransitiveUses(context.Background(), 123456)
	require.NoError(t, err)
	assert.Nil(t, set)
}

// =============================================================================
// Relations whose endpoints no longer resolve
// =============================================================================

func TestTransitiveUses_SkipsDanglingEndpoints(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	f := ensureFile(t, s, "/src/dangling.go", "GO")
	a := insertNode(t, s, &AstNode{FileID: f.ID, Value: "a", Kind: "function", StartLine: 1, EndLine: 1})
	b := insertNode(t, s, &AstNode{FileID: f.ID, Value: "b", Kind: "function", StartLine: 2, EndLine: 2})
	const gone, alsoGone = int64(999999), int64(888888)
	relate(t, s, a, gone, store.Call)
	relate(t, s, a, b, store.Call)
	relate(t, s, b, alsoGone, store.Call)

	set, err := q.TransitiveUses(context.Background(), a, store.Call)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, []int64{a, b}, set.IDs)
	assert.Equal(t, 2, set.Graph.NodeCount())
	assert.Equal(t, 1, set.Graph.EdgeCount())

	_, ok := set.Graph.LookupNode(entityKey(gone))
	assert.False(t, ok)
	_, ok = set.Graph.LookupNode(entityKey(alsoGone))
	assert.False(t, ok)

	from, to := set.Graph.Endpoints(set.Graph.Edges()[0])
	assert.Equal(t, "a", set.Graph.Label(from))
	assert.Equal(t, "b", set.Graph.Label(to))
}

func TestSubsystemDiagram_SkipsDanglingRelations(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	ctx := context.Background()

	b := ensureFile(t, s, "/a/b.x", "X")
	c := ensureFile(t, s, "/a/c.x", "X")
	const gone = int64(999999)
	relate(t, s, b.ID, c.ID, store.Assign)
	relate(t, s, b.ID, gone, store.Usage)
	relate(t, s, gone, c.ID, store.Usage)

	g, err := q.BuildFileDiagram(ctx, *b.ParentID, graph.SubsystemDependency)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	_, ok := g.LookupNode(entityKey(gone))
	assert.False(t, ok)

	sg := g.Subgraphs()[0]
	assert.ElementsMatch(t, []string{"b.x", "c.x"}, labels(g, g.SubgraphNodes(sg)))

	out, err := q.FileDiagram(ctx, *b.ParentID, graph.SubsystemDependency, graph.FormatSVG)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestDiagramBuilder_EdgeToUnresolvedEndpoint(t *testing.T) {
	t.Parallel()
	_, s := newTestQueryBuilder(t)
	f := ensureFile(t, s, "/src/x.go", "GO")

	require.NoError(t, s.View(context.Background(), func(tx *store.Tx) error {
		b := newDiagramBuilder(tx, graph.New("edge"), logging.Discard())
		_, ok, err := b.edge(&store.Relation{LHS: f.ID, RHS: 999999, Kind: store.Usage})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, b.g.NodeCount(), "the resolvable endpoint is still added")
		assert.Equal(t, 0, b.g.EdgeCount())
		return nil
	}))
}
