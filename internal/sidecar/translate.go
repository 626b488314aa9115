package sidecar

import (
	"context"

	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
)

// FileResolver is the translation boundary between worker-native paths and
// canonical file identifiers. *store.Store satisfies it.
type FileResolver interface {
	FileByPath(ctx context.Context, path string) (*store.File, error)
	FileByID(ctx context.Context, id int64) (*store.File, error)
}

// translator fills FileID from FilePath within one response. Lookups are
// memoized so a result list touching one file costs one query.
type translator struct {
	resolver FileResolver
	bridge   *Bridge
	ids      map[string]int64
}

func (b *Bridge) translator() *translator {
	return &translator{resolver: b.resolver, bridge: b, ids: make(map[string]int64)}
}

// toID rewrites r.FilePath into r.FileID. When the path does not resolve,
// the range is left as the worker returned it.
func (t *translator) toID(ctx context.Context, r *rpc.FileRange) {
	if r.FilePath == "" || r.FileID != 0 || t.resolver == nil {
		return
	}
	if id, ok := t.ids[r.FilePath]; ok {
		r.FileID = id
		return
	}
	f, err := t.resolver.FileByPath(ctx, r.FilePath)
	if err != nil || f == nil {
		t.bridge.logger.Debug("path not translated", "path", r.FilePath, "err", err)
		t.ids[r.FilePath] = 0
		return
	}
	t.ids[r.FilePath] = f.ID
	r.FileID = f.ID
}

func (t *translator) nodes(ctx context.Context, nodes []rpc.AstNodeInfo) {
	for i := range nodes {
		t.toID(ctx, &nodes[i].Range)
	}
}

// pathOf resolves a canonical file identifier to the worker-native path.
// An unresolvable id yields "" and the request carries the id alone.
func (b *Bridge) pathOf(ctx context.Context, fileID int64) string {
	if b.resolver == nil || fileID == 0 {
		return ""
	}
	f, err := b.resolver.FileByID(ctx, fileID)
	if err != nil || f == nil {
		b.logger.Debug("file id not translated", "file_id", fileID, "err", err)
		return ""
	}
	return f.Path
}

// FilePosition addresses a position by canonical file identifier.
// Lines and columns are 1-based.
type FilePosition struct {
	FileID int64
	Line   int
	Col    int
}

// AstNodeInfo returns the node with the given id, or nil when the worker
// does not know it.
func (b *Bridge) AstNodeInfo(ctx context.Context, nodeID int64) (*rpc.AstNodeInfo, error) {
	resp, err := call(ctx, b, "GetAstNodeInfo", func(ctx context.Context, c rpc.WorkerServer) (*rpc.NodeInfoResponse, error) {
		return c.GetAstNodeInfo(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil || !resp.Found {
		return nil, err
	}
	b.translator().toID(ctx, &resp.Node.Range)
	return &resp.Node, nil
}

// AstNodeInfoByPosition returns the innermost node at pos, or nil.
func (b *Bridge) AstNodeInfoByPosition(ctx context.Context, pos FilePosition) (*rpc.AstNodeInfo, error) {
	req := &rpc.PositionRequest{FileID: pos.FileID, FilePath: b.pathOf(ctx, pos.FileID), Line: pos.Line, Col: pos.Col}
	resp, err := call(ctx, b, "GetAstNodeInfoByPosition", func(ctx context.Context, c rpc.WorkerServer) (*rpc.NodeInfoResponse, error) {
		return c.GetAstNodeInfoByPosition(ctx, req)
	})
	if err != nil || !resp.Found {
		return nil, err
	}
	b.translator().toID(ctx, &resp.Node.Range)
	return &resp.Node, nil
}

func (b *Bridge) SourceText(ctx context.Context, nodeID int64) (string, error) {
	resp, err := call(ctx, b, "GetSourceText", func(ctx context.Context, c rpc.WorkerServer) (*rpc.TextResponse, error) {
		return c.GetSourceText(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (b *Bridge) Documentation(ctx context.Context, nodeID int64) (string, error) {
	resp, err := call(ctx, b, "GetDocumentation", func(ctx context.Context, c rpc.WorkerServer) (*rpc.TextResponse, error) {
		return c.GetDocumentation(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (b *Bridge) Properties(ctx context.Context, nodeID int64) (map[string]string, error) {
	resp, err := call(ctx, b, "GetProperties", func(ctx context.Context, c rpc.WorkerServer) (*rpc.PropertiesResponse, error) {
		return c.GetProperties(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil {
		return nil, err
	}
	return resp.Properties, nil
}

func (b *Bridge) ReferenceTypes(ctx context.Context, nodeID int64) (map[string]int32, error) {
	resp, err := call(ctx, b, "GetReferenceTypes", func(ctx context.Context, c rpc.WorkerServer) (*rpc.KindsResponse, error) {
		return c.GetReferenceTypes(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil {
		return nil, err
	}
	return resp.Kinds, nil
}

func (b *Bridge) ReferenceCount(ctx context.Context, nodeID int64, kind int32) (int32, error) {
	resp, err := call(ctx, b, "GetReferenceCount", func(ctx context.Context, c rpc.WorkerServer) (*rpc.CountResponse, error) {
		return c.GetReferenceCount(ctx, &rpc.ReferenceRequest{NodeID: nodeID, Kind: kind})
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// References lists the nodes related to nodeID by reference kind, with file
// paths translated to identifiers.
func (b *Bridge) References(ctx context.Context, nodeID int64, kind int32, tags ...string) ([]rpc.AstNodeInfo, error) {
	resp, err := call(ctx, b, "GetReferences", func(ctx context.Context, c rpc.WorkerServer) (*rpc.NodeListResponse, error) {
		return c.GetReferences(ctx, &rpc.ReferenceRequest{NodeID: nodeID, Kind: kind, Tags: tags})
	})
	if err != nil {
		return nil, err
	}
	b.translator().nodes(ctx, resp.Nodes)
	return resp.Nodes, nil
}

func (b *Bridge) FileReferenceTypes(ctx context.Context, fileID int64) (map[string]int32, error) {
	req := &rpc.FileRequest{FileID: fileID, FilePath: b.pathOf(ctx, fileID)}
	resp, err := call(ctx, b, "GetFileReferenceTypes", func(ctx context.Context, c rpc.WorkerServer) (*rpc.KindsResponse, error) {
		return c.GetFileReferenceTypes(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return resp.Kinds, nil
}

func (b *Bridge) FileReferenceCount(ctx context.Context, fileID int64, kind int32) (int32, error) {
	req := &rpc.FileRequest{FileID: fileID, FilePath: b.pathOf(ctx, fileID), Kind: kind}
	resp, err := call(ctx, b, "GetFileReferenceCount", func(ctx context.Context, c rpc.WorkerServer) (*rpc.CountResponse, error) {
		return c.GetFileReferenceCount(ctx, req)
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (b *Bridge) FileReferences(ctx context.Context, fileID int64, kind int32) ([]rpc.AstNodeInfo, error) {
	req := &rpc.FileRequest{FileID: fileID, FilePath: b.pathOf(ctx, fileID), Kind: kind}
	resp, err := call(ctx, b, "GetFileReferences", func(ctx context.Context, c rpc.WorkerServer) (*rpc.NodeListResponse, error) {
		return c.GetFileReferences(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	b.translator().nodes(ctx, resp.Nodes)
	return resp.Nodes, nil
}

func (b *Bridge) DiagramTypes(ctx context.Context, nodeID int64) (map[string]int32, error) {
	resp, err := call(ctx, b, "GetDiagramTypes", func(ctx context.Context, c rpc.WorkerServer) (*rpc.KindsResponse, error) {
		return c.GetDiagramTypes(ctx, &rpc.NodeRequest{NodeID: nodeID})
	})
	if err != nil {
		return nil, err
	}
	return resp.Kinds, nil
}

// Diagram returns the rendered diagram image for a node.
func (b *Bridge) Diagram(ctx context.Context, nodeID int64, kind graph.DiagramKind) ([]byte, error) {
	resp, err := call(ctx, b, "GetDiagram", func(ctx context.Context, c rpc.WorkerServer) (*rpc.BytesResponse, error) {
		return c.GetDiagram(ctx, &rpc.DiagramRequest{NodeID: nodeID, Kind: int32(kind)})
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (b *Bridge) DiagramLegend(ctx context.Context, kind graph.DiagramKind) ([]byte, error) {
	resp, err := call(ctx, b, "GetDiagramLegend", func(ctx context.Context, c rpc.WorkerServer) (*rpc.BytesResponse, error) {
		return c.GetDiagramLegend(ctx, &rpc.LegendRequest{Kind: int32(kind)})
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SyntaxHighlight returns highlight spans for a range given by file id.
func (b *Bridge) SyntaxHighlight(ctx context.Context, r rpc.FileRange) ([]rpc.SyntaxHighlight, error) {
	if r.FilePath == "" {
		r.FilePath = b.pathOf(ctx, r.FileID)
	}
	resp, err := call(ctx, b, "GetSyntaxHighlight", func(ctx context.Context, c rpc.WorkerServer) (*rpc.HighlightResponse, error) {
		return c.GetSyntaxHighlight(ctx, &rpc.HighlightRequest{Range: r})
	})
	if err != nil {
		return nil, err
	}
	t := b.translator()
	for i := range resp.Items {
		t.toID(ctx, &resp.Items[i].Range)
	}
	return resp.Items, nil
}
