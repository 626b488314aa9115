package graph

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Lookup-or-create
// =============================================================================

func TestAddNode_Idempotent(t *testing.T) {
	t.Parallel()
	g := New("test")

	a := g.AddNode(Entity{Key: "42", Label: "main"})
	b := g.AddNode(Entity{Key: "42", Label: "other label"})

	assert.Equal(t, a, b)
	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, "main", g.Label(a), "first label wins")
}

func TestAddNode_CountEqualsDistinctKeys(t *testing.T) {
	t.Parallel()
	g := New("test")

	const calls, distinct = 100, 7
	for i := 0; i < calls; i++ {
		g.AddNode(Entity{Key: fmt.Sprint(i % distinct)})
	}
	assert.Equal(t, distinct, g.NodeCount())
}

func TestAddSubgraph_Idempotent(t *testing.T) {
	t.Parallel()
	g := New("test")

	s1 := g.AddSubgraph("/a", "/a")
	s2 := g.AddSubgraph("/a", "ignored")
	s3 := g.AddSubgraph("/b", "/b")

	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, s3)
	assert.Equal(t, 2, g.SubgraphCount())
	assert.Equal(t, "/a", g.SubgraphLabel(s1))
}

func TestAddNode_InSubgraph(t *testing.T) {
	t.Parallel()
	g := New("test")
	sg := g.AddSubgraph("/a", "/a")

	n := g.AddNode(Entity{Key: "b", Label: "b.x", Subgraph: sg})
	m := g.AddNode(Entity{Key: "c", Label: "c.x", Subgraph: sg})
	top := g.AddNode(Entity{Key: "z", Label: "z.x"})

	assert.Equal(t, []Node{n, m}, g.SubgraphNodes(sg))
	assert.Equal(t, sg, g.SubgraphOf(n))
	assert.True(t, g.SubgraphOf(top).IsTopLevel())
}

func TestAddEdge_Idempotent(t *testing.T) {
	t.Parallel()
	g := New("test")
	a := g.AddNode(Entity{Key: "a"})
	b := g.AddNode(Entity{Key: "b"})

	e1 := g.AddEdge(a, b)
	e2 := g.AddEdge(a, b)
	g.AddEdge(b, a)

	assert.Equal(t, e1, e2)
	assert.Equal(t, 2, g.EdgeCount())
	assert.True(t, g.HasEdge(b, a))
	from, to := g.Endpoints(e1)
	assert.Equal(t, a, from)
	assert.Equal(t, b, to)
}

// =============================================================================
// Decoration
// =============================================================================

func TestDecorate_LastWriteWins(t *testing.T) {
	t.Parallel()
	g := New("test")
	n := g.AddNode(Entity{Key: "a"})
	e := g.AddEdge(n, g.AddNode(Entity{Key: "b"}))
	sg := g.AddSubgraph("/a", "/a")

	g.Decorate(n, Style{"color": "red", "shape": "box"})
	g.Decorate(n, Style{"color": "blue"})
	g.Decorate(e, Style{"style": "dashed"})
	g.Decorate(sg, Style{"color": "grey"})

	assert.Equal(t, "blue", g.Attr(n, "color"))
	assert.Equal(t, "box", g.Attr(n, "shape"))
	assert.Equal(t, "dashed", g.Attr(e, "style"))
	assert.Equal(t, "grey", g.Attr(sg, "color"))
}

func TestDecorate_SharedStyleNotMutated(t *testing.T) {
	t.Parallel()
	g := New("test")
	n := g.AddNode(Entity{Key: "a"})

	g.Decorate(n, CenterNode)
	g.Decorate(n, Style{"fillcolor": "black"})

	assert.Equal(t, "gold", CenterNode["fillcolor"])
}

// =============================================================================
// Rendering
// =============================================================================

func buildSample() *Graph {
	g := New("deps")
	g.SetAttribute("rankdir", "LR")
	sg := g.AddSubgraph("/a", "/a")
	b := g.AddNode(Entity{Key: "1", Label: "b.x", Subgraph: sg})
	c := g.AddNode(Entity{Key: "2", Label: `c"x`, Subgraph: sg})
	g.Decorate(g.AddEdge(b, c), Style{"color": "red"})
	g.Decorate(b, SourceFileNode)
	return g
}

func TestRender_DOT(t *testing.T) {
	t.Parallel()
	out, err := Renderer{}.Render(context.Background(), buildSample(), FormatDOT)
	require.NoError(t, err)

	dot := string(out)
	assert.True(t, strings.HasPrefix(dot, `digraph "deps" {`))
	assert.Contains(t, dot, `graph [rankdir="LR"];`)
	assert.Contains(t, dot, `subgraph "cluster_1"`)
	assert.Contains(t, dot, `label="c\"x"`)
	assert.Contains(t, dot, `n1 -> n2 [color="red"];`)
}

func TestRender_DOTDeterministic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, buildSample().DOT(), buildSample().DOT())
}

func TestRender_BuiltinSVG(t *testing.T) {
	t.Parallel()
	out, err := Renderer{}.Render(context.Background(), buildSample(), FormatSVG)
	require.NoError(t, err)

	svg := string(out)
	assert.True(t, strings.HasPrefix(svg, "<svg"))
	assert.True(t, strings.HasSuffix(svg, "</svg>\n"))
	assert.Equal(t, 2, strings.Count(svg, `<g class="node">`))
	assert.Equal(t, 1, strings.Count(svg, `class="edge"`))
	assert.Equal(t, 1, strings.Count(svg, `<g class="cluster">`))
	assert.Contains(t, svg, "c&#34;x")
}

func TestRender_BuiltinSVGLongUnicodeLabel(t *testing.T) {
	t.Parallel()
	g := New("unicode")
	sg := g.AddSubgraph("/日本", "/日本")
	a := g.AddNode(Entity{Key: "1", Label: strings.Repeat("日本語", 10), Subgraph: sg})
	b := g.AddNode(Entity{Key: "2", Label: strings.Repeat("é", 50), Subgraph: sg})
	g.AddEdge(a, b)

	out, err := Renderer{}.Render(context.Background(), g, FormatSVG)
	require.NoError(t, err)
	require.True(t, utf8.Valid(out))
	assert.Contains(t, string(out), "...")

	dec := xml.NewDecoder(strings.NewReader(string(out)))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
}

func TestTruncate_RuneBoundaries(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "日本語...", truncate(strings.Repeat("日本語", 3), 6))
	assert.Equal(t, "日本語", truncate("日本語", 3))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestRender_SVGFallsBackWhenDotFails(t *testing.T) {
	t.Parallel()
	r := Renderer{DotBinary: "/nonexistent/dot"}
	out, err := r.Render(context.Background(), buildSample(), FormatSVG)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<svg"))
}

func TestRender_UnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := Renderer{}.Render(context.Background(), New("x"), Format("png"))
	assert.Error(t, err)

	_, err = ParseFormat("png")
	assert.Error(t, err)
}

func TestAssignRanks_CycleTolerant(t *testing.T) {
	t.Parallel()
	g := New("cycle")
	a := g.AddNode(Entity{Key: "a"})
	b := g.AddNode(Entity{Key: "b"})
	c := g.AddNode(Entity{Key: "c"})
	g.AddEdge(a, b)
	g.AddEdge(b, c)
	g.AddEdge(c, a)

	assert.Equal(t, []int{0, 1, 2}, g.assignRanks())
}

// =============================================================================
// Legends
// =============================================================================

func TestLegend_Static(t *testing.T) {
	t.Parallel()
	first, err := Legend(FunctionCall)
	require.NoError(t, err)
	second, err := Legend(FunctionCall)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "Called function")
}

func TestLegend_AllKinds(t *testing.T) {
	t.Parallel()
	for _, k := range []DiagramKind{FunctionCall, FileUsages, SubsystemDependency, ExternalUsers, DependencyCycles} {
		out, err := Legend(k)
		require.NoError(t, err, k.String())
		assert.NotEmpty(t, out)

		parsed, err := ParseDiagramKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := Legend(DiagramKind(999))
	assert.Error(t, err)
}
