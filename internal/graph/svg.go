package graph

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	svgNodeHeight = 36
	svgGapMajor   = 70
	svgGapMinor   = 24
	svgMargin     = 30
	svgCharWidth  = 7
	svgMinWidth   = 80
	svgMaxWidth   = 260
	svgClusterPad = 12
)

type svgBox struct {
	x, y, w, h int
}

// layoutSVG draws the graph with a layered layout: nodes are ranked by
// longest path over the graph with back edges removed, ranks are laid out
// along rankdir (TB unless LR is set), and clusters are drawn as boxes
// around their members.
func (g *Graph) layoutSVG() []byte {
	ranks := g.assignRanks()

	width := svgMinWidth
	for _, n := range g.nodes {
		if w := utf8.RuneCountInString(n.label)*svgCharWidth + 20; w > width {
			width = w
		}
	}
	if width > svgMaxWidth {
		width = svgMaxWidth
	}

	byRank := map[int][]int{}
	maxRank := 0
	for i := range g.nodes {
		r := ranks[i]
		byRank[r] = append(byRank[r], i)
		if r > maxRank {
			maxRank = r
		}
	}

	leftToRight := g.attrs["rankdir"] == "LR"
	boxes := make([]svgBox, len(g.nodes))
	extentX, extentY := 0, 0
	for r := 0; r <= maxRank; r++ {
		members := byRank[r]
		// Keep cluster members adjacent within a rank.
		sort.SliceStable(members, func(a, b int) bool {
			return g.nodes[members[a]].subgraph < g.nodes[members[b]].subgraph
		})
		for pos, idx := range members {
			var b svgBox
			if leftToRight {
				b = svgBox{
					x: svgMargin + r*(width+svgGapMajor),
					y: svgMargin + pos*(svgNodeHeight+svgGapMinor),
				}
			} else {
				b = svgBox{
					x: svgMargin + pos*(width+svgGapMinor),
					y: svgMargin + r*(svgNodeHeight+svgGapMajor),
				}
			}
			b.w, b.h = width, svgNodeHeight
			boxes[idx] = b
			extentX = max(extentX, b.x+b.w)
			extentY = max(extentY, b.y+b.h)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		extentX+svgMargin, extentY+svgMargin, extentX+svgMargin, extentY+svgMargin)
	sb.WriteString("\n")
	sb.WriteString(`<defs><marker id="arrow" viewBox="0 0 10 10" refX="10" refY="5" markerWidth="8" markerHeight="8" orient="auto-start-reverse"><path d="M 0 0 L 10 5 L 0 10 z"/></marker></defs>`)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(g.name))

	for _, sg := range g.subgraphs {
		if len(sg.nodes) == 0 {
			continue
		}
		minX, minY, maxX, maxY := 1<<30, 1<<30, 0, 0
		for _, idx := range sg.nodes {
			b := boxes[idx-1]
			minX, minY = min(minX, b.x), min(minY, b.y)
			maxX, maxY = max(maxX, b.x+b.w), max(maxY, b.y+b.h)
		}
		fill := "none"
		if strings.Contains(sg.attrs["style"], "filled") {
			fill = attrOr(sg.attrs, "fillcolor", "#f4f4f4")
		}
		fmt.Fprintf(&sb, `<g class="cluster"><rect x="%d" y="%d" width="%d" height="%d" fill="%s" stroke="%s" stroke-dasharray="%s"/>`,
			minX-svgClusterPad, minY-svgClusterPad-14, maxX-minX+2*svgClusterPad, maxY-minY+2*svgClusterPad+14,
			attrEsc(fill), attrEsc(attrOr(sg.attrs, "color", "#888888")), dashFor(sg.attrs["style"]))
		fmt.Fprintf(&sb, `<text x="%d" y="%d" font-family="sans-serif" font-size="11">%s</text></g>`,
			minX-svgClusterPad+4, minY-svgClusterPad, html.EscapeString(sg.label))
		sb.WriteString("\n")
	}

	for _, e := range g.edges {
		from, to := boxes[e.from-1], boxes[e.to-1]
		x1, y1, x2, y2 := edgeAnchors(from, to, leftToRight)
		fmt.Fprintf(&sb, `<line class="edge" x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-dasharray="%s" marker-end="url(#arrow)"/>`,
			x1, y1, x2, y2, attrEsc(attrOr(e.attrs, "color", "#333333")), dashFor(e.attrs["style"]))
		sb.WriteString("\n")
	}

	for i, n := range g.nodes {
		b := boxes[i]
		fill := "#ffffff"
		if strings.Contains(n.attrs["style"], "filled") {
			fill = attrOr(n.attrs, "fillcolor", "#dddddd")
		}
		stroke := attrEsc(attrOr(n.attrs, "color", "#000000"))
		sb.WriteString(`<g class="node">`)
		if n.attrs["shape"] == "ellipse" {
			fmt.Fprintf(&sb, `<ellipse cx="%d" cy="%d" rx="%d" ry="%d" fill="%s" stroke="%s"/>`,
				b.x+b.w/2, b.y+b.h/2, b.w/2, b.h/2, attrEsc(fill), stroke)
		} else {
			fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s" stroke="%s"/>`,
				b.x, b.y, b.w, b.h, attrEsc(fill), stroke)
		}
		fmt.Fprintf(&sb, `<text x="%d" y="%d" text-anchor="middle" dominant-baseline="central" font-family="sans-serif" font-size="12" fill="%s">%s</text></g>`,
			b.x+b.w/2, b.y+b.h/2, attrEsc(attrOr(n.attrs, "fontcolor", "#000000")), html.EscapeString(truncate(n.label, (b.w-10)/svgCharWidth)))
		sb.WriteString("\n")
	}

	sb.WriteString("</svg>\n")
	return []byte(sb.String())
}

// assignRanks returns a rank per node (0-based, by node index). Back edges
// found by a DFS in insertion order are ignored so cycles still rank.
func (g *Graph) assignRanks() []int {
	n := len(g.nodes)
	adj := make([][]int, n)
	for _, e := range g.edges {
		adj[e.from-1] = append(adj[e.from-1], e.to-1)
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, n)
	forward := make([][]int, n)
	var visit func(u int)
	visit = func(u int) {
		color[u] = grey
		for _, v := range adj[u] {
			switch color[v] {
			case grey:
				// back edge
			case white:
				forward[u] = append(forward[u], v)
				visit(v)
			default:
				forward[u] = append(forward[u], v)
			}
		}
		color[u] = black
	}
	for u := 0; u < n; u++ {
		if color[u] == white {
			visit(u)
		}
	}

	indeg := make([]int, n)
	for u := range forward {
		for _, v := range forward[u] {
			indeg[v]++
		}
	}
	ranks := make([]int, n)
	queue := make([]int, 0, n)
	for u := 0; u < n; u++ {
		if indeg[u] == 0 {
			queue = append(queue, u)
		}
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range forward[u] {
			ranks[v] = max(ranks[v], ranks[u]+1)
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return ranks
}

func edgeAnchors(from, to svgBox, leftToRight bool) (int, int, int, int) {
	if leftToRight {
		if to.x > from.x {
			return from.x + from.w, from.y + from.h/2, to.x, to.y + to.h/2
		}
		return from.x, from.y + from.h/2, to.x + to.w, to.y + to.h/2
	}
	if to.y > from.y {
		return from.x + from.w/2, from.y + from.h, to.x + to.w/2, to.y
	}
	return from.x + from.w/2, from.y, to.x + to.w/2, to.y + to.h
}

func dashFor(style string) string {
	switch {
	case strings.Contains(style, "dashed"):
		return "6,3"
	case strings.Contains(style, "dotted"):
		return "2,2"
	}
	return "none"
}

func attrOr(s Style, key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

func attrEsc(s string) string {
	return html.EscapeString(s)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if n < 4 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
