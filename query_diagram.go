package orchard

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/store"
)

// FileDiagramTypes lists the diagrams available for a file by display name.
// Directories offer module diagrams, source files the usage diagram. The
// result is empty when the file does not exist.
func (q *QueryBuilder) FileDiagramTypes(ctx context.Context, fileID int64) (map[string]graph.DiagramKind, error) {
	f, err := q.FileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	types := map[string]graph.DiagramKind{}
	switch {
	case f == nil:
	case f.IsDirectory():
		types["Internal architecture of this module"] = graph.SubsystemDependency
		types["Users of this module"] = graph.ExternalUsers
		types["Dependency cycles"] = graph.DependencyCycles
	default:
		types["File usage"] = graph.FileUsages
	}
	return types, nil
}

// BuildFileDiagram assembles a file-level diagram without rendering it. It
// returns nil when fileID does not resolve.
func (q *QueryBuilder) BuildFileDiagram(ctx context.Context, fileID int64, kind graph.DiagramKind) (*graph.Graph, error) {
	var g *graph.Graph
	err := q.store.View(ctx, func(tx *store.Tx) error {
		f, err := tx.FileByID(fileID)
		if err != nil || f == nil {
			return err
		}
		b := newDiagramBuilder(tx, graph.New(kind.String()+" "+path.Base(f.Path)), q.logger)

		switch kind {
		case graph.FileUsages:
			err = b.fileUsages(f)
		case graph.SubsystemDependency:
			err = b.subsystemDependency(f)
		case graph.ExternalUsers:
			err = b.externalUsers(f)
		case graph.DependencyCycles:
			err = b.dependencyCycles(f)
		default:
			err = fmt.Errorf("%s is not a file diagram", kind)
		}
		if err != nil {
			return err
		}
		g = b.g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s diagram of %d: %w", kind, fileID, err)
	}
	return g, nil
}

// FileDiagram renders a file-level diagram. An empty diagram renders as no
// bytes at all.
func (q *QueryBuilder) FileDiagram(ctx context.Context, fileID int64, kind graph.DiagramKind, format graph.Format) ([]byte, error) {
	g, err := q.BuildFileDiagram(ctx, fileID, kind)
	if err != nil {
		return nil, err
	}
	if g == nil || g.NodeCount() == 0 {
		return nil, nil
	}
	return q.render(ctx, g, format)
}

// Legend renders the legend of a diagram kind.
func (q *QueryBuilder) Legend(kind graph.DiagramKind) ([]byte, error) {
	return graph.Legend(kind)
}

func requireDirectory(f *store.File) error {
	if !f.IsDirectory() {
		return fmt.Errorf("%s is not a directory", f.Path)
	}
	return nil
}

// fileUsages draws the files f uses and the files using f, one hop each way.
func (b *diagramBuilder) fileUsages(f *store.File) error {
	if f.IsDirectory() {
		return fmt.Errorf("%s is a directory", f.Path)
	}
	center, ok, err := b.entity(f.ID)
	if err != nil || !ok {
		return err
	}
	b.g.Decorate(center, graph.CenterFileNode)

	for _, dir := range []Direction{Uses, UsedBy} {
		rels, err := b.tx.RelationsOf(f.ID, dir)
		if err != nil {
			return err
		}
		for _, r := range rels {
			other := r.RHS
			if dir == UsedBy {
				other = r.LHS
			}
			if other == f.ID || !b.isFile(other) {
				continue
			}
			e, ok, err := b.edge(r)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if dir == Uses {
				b.g.Decorate(e, graph.DependsEdge)
			} else {
				b.g.Decorate(e, graph.UsedByEdge)
			}
		}
	}
	return nil
}

// subsystemDependency draws every source file under a directory and the
// dependencies among them, clustered by containing directory.
func (b *diagramBuilder) subsystemDependency(dir *store.File) error {
	if err := requireDirectory(dir); err != nil {
		return err
	}
	dg, err := loadDependencyGraph(b.tx, dir)
	if err != nil {
		return err
	}
	for _, id := range dg.ids {
		if _, _, err := b.entity(id); err != nil {
			return err
		}
	}
	for _, from := range dg.ids {
		for _, to := range dg.out[from] {
			if err := b.dependsEdge(from, to, graph.DependsEdge); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *diagramBuilder) dependsEdge(from, to int64, style graph.Style) error {
	e, ok, err := b.edge(&store.Relation{LHS: from, RHS: to})
	if err != nil || !ok {
		return err
	}
	b.g.Decorate(e, style)
	return nil
}

// externalUsers draws the files outside a directory that use files inside
// it, directly or through other outside files.
func (b *diagramBuilder) externalUsers(dir *store.File) error {
	if err := requireDirectory(dir); err != nil {
		return err
	}
	dg, err := loadDependencyGraph(b.tx, dir)
	if err != nil {
		return err
	}
	outside := func(id int64) bool {
		_, inner := dg.files[id]
		return !inner && b.isFile(id)
	}

	for _, id := range dg.ids {
		users, err := b.tx.RelationsOf(id, UsedBy)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(users, func(r *store.Relation) bool { return outside(r.LHS) }) {
			continue
		}
		if _, err := b.traverse(id, UsedBy, nil, outside); err != nil {
			return err
		}
	}

	for _, n := range b.g.Nodes() {
		if _, inner := dg.files[parseEntityKey(b.g.Key(n))]; inner {
			b.g.Decorate(n, graph.CenterFileNode)
		}
	}
	for _, e := range b.g.Edges() {
		b.g.Decorate(e, graph.UsedByEdge)
	}
	return nil
}

// dependencyCycles draws the files on dependency cycles under a directory.
// The edge closing each cycle is highlighted.
func (b *diagramBuilder) dependencyCycles(dir *store.File) error {
	if err := requireDirectory(dir); err != nil {
		return err
	}
	dg, err := loadDependencyGraph(b.tx, dir)
	if err != nil {
		return err
	}
	cycles := dg.cycles()
	for _, c := range cycles {
		for i := 0; i+1 < len(c); i++ {
			if err := b.dependsEdge(c[i], c[i+1], graph.DependsEdge); err != nil {
				return err
			}
		}
	}
	for _, c := range cycles {
		if err := b.dependsEdge(c[len(c)-1], c[0], graph.CycleEdge); err != nil {
			return err
		}
	}
	return nil
}
