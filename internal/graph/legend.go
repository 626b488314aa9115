package graph

import (
	"context"
	"fmt"
)

// DiagramKind identifies a diagram type. Values are stable because they
// cross the worker RPC boundary.
type DiagramKind int32

const (
	FunctionCall        DiagramKind = 1
	FileUsages          DiagramKind = 100
	SubsystemDependency DiagramKind = 101
	ExternalUsers       DiagramKind = 102
	DependencyCycles    DiagramKind = 103
)

func (k DiagramKind) String() string {
	switch k {
	case FunctionCall:
		return "FUNCTION_CALL"
	case FileUsages:
		return "FILE_USAGES"
	case SubsystemDependency:
		return "SUBSYSTEM_DEPENDENCY"
	case ExternalUsers:
		return "EXTERNAL_USERS"
	case DependencyCycles:
		return "DEPENDENCY_CYCLES"
	}
	return fmt.Sprintf("DiagramKind(%d)", int32(k))
}

// ParseDiagramKind accepts the String form of a kind.
func ParseDiagramKind(s string) (DiagramKind, error) {
	for _, k := range []DiagramKind{FunctionCall, FileUsages, SubsystemDependency, ExternalUsers, DependencyCycles} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("graph: unknown diagram kind %q", s)
}

// Shared decorations. Diagram builders apply these instead of spelling out
// attributes so legends stay in sync with diagrams.
var (
	CenterNode     = Style{"style": "filled", "fillcolor": "gold", "shape": "box"}
	CalleeNode     = Style{"style": "filled", "fillcolor": "lightblue", "shape": "box"}
	CallerNode     = Style{"style": "filled", "fillcolor": "coral", "shape": "box"}
	CalleeEdge     = Style{"color": "blue"}
	CallerEdge     = Style{"color": "red"}
	SourceFileNode = Style{"style": "filled", "fillcolor": "#99cc99", "shape": "box"}
	DirectoryNode  = Style{"style": "filled", "fillcolor": "#e8e4c9", "shape": "folder"}
	CenterFileNode = Style{"style": "filled", "fillcolor": "gold", "shape": "box"}
	DependsEdge    = Style{"color": "#555555"}
	UsedByEdge     = Style{"color": "#555555", "style": "dashed"}
	CycleEdge      = Style{"color": "red", "penwidth": "2"}
	FileCluster    = Style{"style": "dashed", "color": "#777777"}
)

type legendEntry struct {
	label string
	node  Style
	edge  Style
}

var legends = map[DiagramKind][]legendEntry{
	FunctionCall: {
		{label: "Function to get the call diagram", node: CenterNode},
		{label: "Called function", node: CalleeNode, edge: CalleeEdge},
		{label: "Caller function", node: CallerNode, edge: CallerEdge},
	},
	FileUsages: {
		{label: "Selected file", node: CenterFileNode},
		{label: "File used by the selected file", node: SourceFileNode, edge: DependsEdge},
		{label: "File using the selected file", node: SourceFileNode, edge: UsedByEdge},
	},
	SubsystemDependency: {
		{label: "Source file of the module", node: SourceFileNode},
		{label: "Dependency between files", edge: DependsEdge},
		{label: "Directory", node: DirectoryNode},
	},
	ExternalUsers: {
		{label: "File of the module", node: CenterFileNode},
		{label: "File outside the module using it", node: SourceFileNode, edge: UsedByEdge},
	},
	DependencyCycles: {
		{label: "File on a dependency cycle", node: SourceFileNode},
		{label: "Edge closing a cycle", edge: CycleEdge},
	},
}

// Legend renders the static explanation image for kind. It does not depend
// on any graph instance.
func Legend(kind DiagramKind) ([]byte, error) {
	entries, ok := legends[kind]
	if !ok {
		return nil, fmt.Errorf("graph: no legend for %s", kind)
	}

	g := New(kind.String() + " legend")
	g.SetAttribute("rankdir", "LR")
	for i, e := range entries {
		label := g.AddNode(Entity{Key: fmt.Sprintf("label-%d", i), Label: e.label})
		g.Decorate(label, Style{"shape": "plaintext", "color": "white"})
		if e.node != nil {
			sample := g.AddNode(Entity{Key: fmt.Sprintf("node-%d", i), Label: " "})
			g.Decorate(sample, e.node)
			g.Decorate(g.AddEdge(sample, label), Style{"color": "white"})
		} else {
			from := g.AddNode(Entity{Key: fmt.Sprintf("from-%d", i), Label: " "})
			g.Decorate(from, Style{"shape": "point"})
			g.Decorate(g.AddEdge(from, label), e.edge)
		}
		if e.node != nil && e.edge != nil {
			from := g.AddNode(Entity{Key: fmt.Sprintf("from-%d", i), Label: " "})
			g.Decorate(from, Style{"shape": "point"})
			sample, _ := g.LookupNode(fmt.Sprintf("node-%d", i))
			g.Decorate(g.AddEdge(from, sample), e.edge)
		}
	}
	// The built-in renderer keeps legends byte-identical across hosts.
	return Renderer{}.Render(context.Background(), g, FormatSVG)
}
