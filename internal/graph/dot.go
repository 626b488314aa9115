package graph

import (
	"fmt"
	"sort"
	"strings"
)

// DOT serializes the graph in Graphviz DOT syntax. Nodes, edges and
// clusters appear in insertion order; attributes are sorted by key.
func (g *Graph) DOT() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %s {\n", quoteDOT(g.name))
	if len(g.attrs) > 0 {
		fmt.Fprintf(&sb, "  graph [%s];\n", dotAttrs(g.attrs, nil))
	}

	for i, sg := range g.subgraphs {
		fmt.Fprintf(&sb, "  subgraph %s {\n", quoteDOT(fmt.Sprintf("cluster_%d", i+1)))
		fmt.Fprintf(&sb, "    graph [%s];\n", dotAttrs(sg.attrs, map[string]string{"label": sg.label}))
		for _, idx := range sg.nodes {
			fmt.Fprintf(&sb, "    %s;\n", dotNodeID(idx))
		}
		sb.WriteString("  }\n")
	}

	for i, n := range g.nodes {
		fmt.Fprintf(&sb, "  %s [%s];\n", dotNodeID(i+1), dotAttrs(n.attrs, map[string]string{"label": n.label}))
	}

	for _, e := range g.edges {
		fmt.Fprintf(&sb, "  %s -> %s", dotNodeID(e.from), dotNodeID(e.to))
		if len(e.attrs) > 0 {
			fmt.Fprintf(&sb, " [%s]", dotAttrs(e.attrs, nil))
		}
		sb.WriteString(";\n")
	}

	sb.WriteString("}\n")
	return []byte(sb.String())
}

func dotNodeID(idx int) string {
	return fmt.Sprintf("n%d", idx)
}

// dotAttrs renders attrs merged over base as a sorted a="b" list.
func dotAttrs(attrs Style, base map[string]string) string {
	merged := make(map[string]string, len(attrs)+len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteDOT(merged[k])
	}
	return strings.Join(parts, ", ")
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func quoteDOT(s string) string {
	return `"` + dotEscaper.Replace(s) + `"`
}
