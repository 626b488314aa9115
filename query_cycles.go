package orchard

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jward/orchard/internal/store"
)

// DetectCycles walks the directed graph given by next depth-first from each
// start in order. Whenever an edge leads back to a node on the current path,
// the path segment from that node to the current frame is recorded as one
// cycle and the walk goes on. Nodes are expanded at most once across all
// starts. The result is empty, not nil, when the graph is acyclic.
func DetectCycles[K comparable](starts []K, next func(K) []K) [][]K {
	cycles := [][]K{}
	visited := make(map[K]bool)
	onPath := make(map[K]int)
	var path []K

	var visit func(k K)
	visit = func(k K) {
		visited[k] = true
		onPath[k] = len(path)
		path = append(path, k)
		for _, n := range next(k) {
			if idx, ok := onPath[n]; ok {
				cycles = append(cycles, slices.Clone(path[idx:]))
				continue
			}
			if !visited[n] {
				visit(n)
			}
		}
		path = path[:len(path)-1]
		delete(onPath, k)
	}

	for _, s := range starts {
		if !visited[s] {
			visit(s)
		}
	}
	return cycles
}

// dependencyGraph is the file-level dependency graph inside one directory.
type dependencyGraph struct {
	files map[int64]*store.File
	ids   []int64
	out   map[int64][]int64
}

// loadDependencyGraph collects the source files under dir and the relations
// among them, dropping self edges and parallel relations.
func loadDependencyGraph(tx *store.Tx, dir *store.File) (*dependencyGraph, error) {
	under, err := tx.FilesUnder(dir.Path)
	if err != nil {
		return nil, err
	}
	dg := &dependencyGraph{files: make(map[int64]*store.File), out: make(map[int64][]int64)}
	for _, f := range under {
		if f.IsDirectory() {
			continue
		}
		dg.files[f.ID] = f
		dg.ids = append(dg.ids, f.ID)
	}

	rels, err := tx.RelationsAmong(dg.ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		if r.LHS == r.RHS || slices.Contains(dg.out[r.LHS], r.RHS) {
			continue
		}
		dg.out[r.LHS] = append(dg.out[r.LHS], r.RHS)
	}
	for _, targets := range dg.out {
		slices.SortFunc(targets, func(a, b int64) int {
			return strings.Compare(dg.files[a].Path, dg.files[b].Path)
		})
	}
	return dg, nil
}

func (dg *dependencyGraph) cycles() [][]int64 {
	return DetectCycles(dg.ids, func(id int64) []int64 { return dg.out[id] })
}

// CircularDependencies reports the dependency cycles among the files under
// a directory as lists of paths. It never modifies relations.
func (q *QueryBuilder) CircularDependencies(ctx context.Context, dirID int64) ([][]string, error) {
	var out [][]string
	err := q.store.View(ctx, func(tx *store.Tx) error {
		dir, err := tx.FileByID(dirID)
		if err != nil {
			return err
		}
		if dir == nil || !dir.IsDirectory() {
			return fmt.Errorf("%d is not a directory", dirID)
		}
		dg, err := loadDependencyGraph(tx, dir)
		if err != nil {
			return err
		}
		for _, c := range dg.cycles() {
			paths := make([]string, len(c))
			for i, id := range c {
				paths[i] = dg.files[id].Path
			}
			out = append(out, paths)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("circular dependencies of %d: %w", dirID, err)
	}
	if out == nil {
		out = [][]string{}
	}
	return out, nil
}
