package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
)

func (s *Server) GetDiagramTypes(ctx context.Context, req *rpc.NodeRequest) (*rpc.KindsResponse, error) {
	n, err := s.store.AstNodeByID(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", req.NodeID, err)
	}
	kinds := make(map[string]int32)
	if n != nil && isCallable(n) {
		kinds["Function call diagram"] = int32(graph.FunctionCall)
	}
	return &rpc.KindsResponse{Kinds: kinds}, nil
}

func (s *Server) GetDiagram(ctx context.Context, req *rpc.DiagramRequest) (*rpc.BytesResponse, error) {
	if graph.DiagramKind(req.Kind) != graph.FunctionCall {
		return nil, fmt.Errorf("worker: unsupported diagram %s", graph.DiagramKind(req.Kind))
	}
	g, err := s.functionCallGraph(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.NodeCount() == 0 {
		return &rpc.BytesResponse{}, nil
	}
	data, err := s.renderer.Render(ctx, g, graph.FormatSVG)
	if err != nil {
		return nil, fmt.Errorf("worker: render: %w", err)
	}
	return &rpc.BytesResponse{Data: data}, nil
}

func (s *Server) GetDiagramLegend(ctx context.Context, req *rpc.LegendRequest) (*rpc.BytesResponse, error) {
	data, err := graph.Legend(graph.DiagramKind(req.Kind))
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return &rpc.BytesResponse{Data: data}, nil
}

// functionCallGraph puts the node in the center with its callees on one side
// and its callers on the other, each clustered by containing file.
func (s *Server) functionCallGraph(ctx context.Context, nodeID int64) (*graph.Graph, error) {
	center, err := s.store.AstNodeByID(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("worker: node %d: %w", nodeID, err)
	}
	if center == nil {
		return nil, nil
	}

	b := &callDiagram{s: s, g: graph.New("function call"), paths: newPathCache()}
	b.g.SetAttribute("rankdir", "LR")
	root := b.node(ctx, center)
	b.g.Decorate(root, graph.CenterNode)

	callees, err := s.references(ctx, nodeID, RefCallee)
	if err != nil {
		return nil, err
	}
	for _, n := range callees {
		to := b.node(ctx, n)
		b.g.Decorate(to, graph.CalleeNode)
		b.g.Decorate(b.g.AddEdge(root, to), graph.CalleeEdge)
	}

	callers, err := s.references(ctx, nodeID, RefCaller)
	if err != nil {
		return nil, err
	}
	for _, n := range callers {
		from := b.node(ctx, n)
		if from == root {
			continue
		}
		b.g.Decorate(from, graph.CallerNode)
		b.g.Decorate(b.g.AddEdge(from, root), graph.CallerEdge)
	}
	return b.g, nil
}

type callDiagram struct {
	s     *Server
	g     *graph.Graph
	paths *pathCache
}

func (b *callDiagram) node(ctx context.Context, n *store.AstNode) graph.Node {
	key := strconv.FormatInt(n.FileID, 10)
	sg, ok := b.g.LookupSubgraph(key)
	if !ok {
		path := b.paths.get(ctx, b.s, n.FileID)
		sg = b.g.AddSubgraph(key, filepath.Base(path))
		b.g.Decorate(sg, graph.FileCluster)
	}
	return b.g.AddNode(graph.Entity{
		Key:      strconv.FormatInt(n.ID, 10),
		Label:    n.Value,
		Subgraph: sg,
	})
}

func isCallable(n *store.AstNode) bool {
	return n.Kind == "function" || n.Kind == "method"
}
