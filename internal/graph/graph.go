// Package graph is the mutable graph builder shared by every diagram type.
//
// Nodes and subgraphs are keyed by a stable identity supplied by the caller
// (typically an AST node or file identifier) and use lookup-or-create
// semantics: asking for the same key twice on one Graph returns the same
// handle. Decorations are key/value style attributes, last write wins.
// A Graph is owned by one request and is not safe for concurrent use.
package graph

// Style is a set of visual attributes (color, shape, style, ...).
type Style map[string]string

// Element is implemented by Node, Edge and Subgraph handles.
type Element interface {
	ref() elementRef
}

type elementKind int

const (
	kindNode elementKind = iota + 1
	kindEdge
	kindSubgraph
)

type elementRef struct {
	kind elementKind
	idx  int
}

// Node is a handle to a node of one Graph. The zero Node is invalid.
type Node struct{ idx int }

// Edge is a handle to an edge of one Graph.
type Edge struct{ idx int }

// Subgraph is a handle to a named cluster of one Graph. The zero Subgraph
// stands for the top level.
type Subgraph struct{ idx int }

func (n Node) ref() elementRef     { return elementRef{kindNode, n.idx} }
func (e Edge) ref() elementRef     { return elementRef{kindEdge, e.idx} }
func (s Subgraph) ref() elementRef { return elementRef{kindSubgraph, s.idx} }

// Valid reports whether n refers to a node.
func (n Node) Valid() bool { return n.idx > 0 }

// IsTopLevel reports whether s is the zero Subgraph.
func (s Subgraph) IsTopLevel() bool { return s.idx == 0 }

// Entity describes what a node represents.
type Entity struct {
	// Key is the stable identity used for lookup-or-create.
	Key   string
	Label string
	// Subgraph places a newly created node in a cluster. Ignored when the
	// node already exists.
	Subgraph Subgraph
}

type nodeData struct {
	key      string
	label    string
	subgraph int
	attrs    Style
}

type edgeData struct {
	from, to int
	attrs    Style
}

type subgraphData struct {
	key   string
	label string
	attrs Style
	nodes []int
}

type Graph struct {
	name  string
	attrs Style

	nodes     []nodeData
	nodeByKey map[string]int

	edges     []edgeData
	edgeByEnd map[[2]int]int

	subgraphs     []subgraphData
	subgraphByKey map[string]int
}

// New returns an empty directed graph.
func New(name string) *Graph {
	return &Graph{
		name:          name,
		attrs:         Style{},
		nodeByKey:     make(map[string]int),
		edgeByEnd:     make(map[[2]int]int),
		subgraphByKey: make(map[string]int),
	}
}

func (g *Graph) Name() string { return g.name }

// SetAttribute sets a graph-level attribute such as rankdir.
func (g *Graph) SetAttribute(key, value string) {
	g.attrs[key] = value
}

// Attribute returns a graph-level attribute.
func (g *Graph) Attribute(key string) string {
	return g.attrs[key]
}

// AddNode returns the node for e.Key, creating and labelling it on first use.
func (g *Graph) AddNode(e Entity) Node {
	if idx, ok := g.nodeByKey[e.Key]; ok {
		return Node{idx}
	}
	g.nodes = append(g.nodes, nodeData{
		key:      e.Key,
		label:    e.Label,
		subgraph: e.Subgraph.idx,
		attrs:    Style{},
	})
	idx := len(g.nodes)
	g.nodeByKey[e.Key] = idx
	if e.Subgraph.idx > 0 {
		sg := &g.subgraphs[e.Subgraph.idx-1]
		sg.nodes = append(sg.nodes, idx)
	}
	return Node{idx}
}

// LookupNode returns the node for key without creating it.
func (g *Graph) LookupNode(key string) (Node, bool) {
	idx, ok := g.nodeByKey[key]
	return Node{idx}, ok
}

// AddSubgraph returns the cluster for key, creating it on first use.
func (g *Graph) AddSubgraph(key, label string) Subgraph {
	if idx, ok := g.subgraphByKey[key]; ok {
		return Subgraph{idx}
	}
	g.subgraphs = append(g.subgraphs, subgraphData{key: key, label: label, attrs: Style{}})
	idx := len(g.subgraphs)
	g.subgraphByKey[key] = idx
	return Subgraph{idx}
}

// AddEdge returns the edge from -> to, creating it on first use. Parallel
// relations between the same pair of nodes share one drawn edge.
func (g *Graph) AddEdge(from, to Node) Edge {
	end := [2]int{from.idx, to.idx}
	if idx, ok := g.edgeByEnd[end]; ok {
		return Edge{idx}
	}
	g.edges = append(g.edges, edgeData{from: from.idx, to: to.idx, attrs: Style{}})
	idx := len(g.edges)
	g.edgeByEnd[end] = idx
	return Edge{idx}
}

// HasEdge reports whether an edge from -> to exists.
func (g *Graph) HasEdge(from, to Node) bool {
	_, ok := g.edgeByEnd[[2]int{from.idx, to.idx}]
	return ok
}

// Decorate merges style into the attributes of el. Existing keys are
// overwritten.
func (g *Graph) Decorate(el Element, style Style) {
	attrs := g.attrsOf(el)
	if attrs == nil {
		return
	}
	for k, v := range style {
		attrs[k] = v
	}
}

// Attr returns one attribute of el.
func (g *Graph) Attr(el Element, key string) string {
	return g.attrsOf(el)[key]
}

func (g *Graph) attrsOf(el Element) Style {
	r := el.ref()
	switch r.kind {
	case kindNode:
		if r.idx > 0 && r.idx <= len(g.nodes) {
			return g.nodes[r.idx-1].attrs
		}
	case kindEdge:
		if r.idx > 0 && r.idx <= len(g.edges) {
			return g.edges[r.idx-1].attrs
		}
	case kindSubgraph:
		if r.idx > 0 && r.idx <= len(g.subgraphs) {
			return g.subgraphs[r.idx-1].attrs
		}
	}
	return nil
}

func (g *Graph) NodeCount() int     { return len(g.nodes) }
func (g *Graph) EdgeCount() int     { return len(g.edges) }
func (g *Graph) SubgraphCount() int { return len(g.subgraphs) }

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i := range g.nodes {
		out[i] = Node{i + 1}
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i := range g.edges {
		out[i] = Edge{i + 1}
	}
	return out
}

// Subgraphs returns all clusters in insertion order.
func (g *Graph) Subgraphs() []Subgraph {
	out := make([]Subgraph, len(g.subgraphs))
	for i := range g.subgraphs {
		out[i] = Subgraph{i + 1}
	}
	return out
}

func (g *Graph) Key(n Node) string   { return g.nodes[n.idx-1].key }
func (g *Graph) Label(n Node) string { return g.nodes[n.idx-1].label }

// SubgraphOf returns the cluster n was created in.
func (g *Graph) SubgraphOf(n Node) Subgraph { return Subgraph{g.nodes[n.idx-1].subgraph} }

// Endpoints returns the source and target of e.
func (g *Graph) Endpoints(e Edge) (Node, Node) {
	d := g.edges[e.idx-1]
	return Node{d.from}, Node{d.to}
}

func (g *Graph) SubgraphKey(s Subgraph) string   { return g.subgraphs[s.idx-1].key }
func (g *Graph) SubgraphLabel(s Subgraph) string { return g.subgraphs[s.idx-1].label }

// SubgraphNodes returns the nodes created inside s.
func (g *Graph) SubgraphNodes(s Subgraph) []Node {
	idxs := g.subgraphs[s.idx-1].nodes
	out := make([]Node, len(idxs))
	for i, idx := range idxs {
		out[i] = Node{idx}
	}
	return out
}

// LookupSubgraph returns the cluster for key without creating it.
func (g *Graph) LookupSubgraph(key string) (Subgraph, bool) {
	idx, ok := g.subgraphByKey[key]
	return Subgraph{idx}, ok
}
