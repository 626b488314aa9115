package worker

import (
	"context"
	"fmt"
	"slices"

	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/store"
)

// refKind maps a numeric reference kind to the relations that answer it.
type refKind struct {
	id   int32
	name string
	kind store.RelationKind
	dir  store.Direction
}

// Node reference kinds.
const (
	RefCallee int32 = iota
	RefCaller
	RefContext
	RefMembers
	RefOverrides
	RefOverriddenBy
	RefAliases
	RefAssignedTo
	RefAssignedFrom
)

var nodeRefKinds = []refKind{
	{RefCallee, "Callee", store.Call, store.Outgoing},
	{RefCaller, "Caller", store.Call, store.Incoming},
	{RefContext, "Declaration context", store.DeclContext, store.Outgoing},
	{RefMembers, "Members", store.DeclContext, store.Incoming},
	{RefOverrides, "Overrides", store.Override, store.Outgoing},
	{RefOverriddenBy, "Overridden by", store.Override, store.Incoming},
	{RefAliases, "Aliases", store.Alias, store.Outgoing},
	{RefAssignedTo, "Assigned to", store.Assign, store.Outgoing},
	{RefAssignedFrom, "Assigned from", store.Assign, store.Incoming},
}

// File reference kinds select declarations of a file by node kind.
const (
	FileFunctions int32 = 0
	FileTypes     int32 = 1
	FileVariables int32 = 2
)

var fileRefKinds = map[int32]struct {
	name  string
	kinds []string
}{
	FileFunctions: {"Functions", []string{"function", "method"}},
	FileTypes:     {"Types", []string{"type"}},
	FileVariables: {"Variables", []string{"variable"}},
}

func lookupRefKind(id int32) (refKind, bool) {
	for _, k := range nodeRefKinds {
		if k.id == id {
			return k, true
		}
	}
	return refKind{}, false
}

// GetReferenceTypes lists the reference kinds that have at least one entry
// for the node.
func (s *Server) GetReferenceTypes(ctx context.Context, req *rpc.NodeRequest) (*rpc.KindsResponse, error) {
	kinds := make(map[string]int32)
	for _, k := range nodeRefKinds {
		rels, err := s.store.RelationsOf(ctx, req.NodeID, k.dir, k.kind)
		if err != nil {
			return nil, fmt.Errorf("worker: reference types of %d: %w", req.NodeID, err)
		}
		if len(rels) > 0 {
			kinds[k.name] = k.id
		}
	}
	return &rpc.KindsResponse{Kinds: kinds}, nil
}

func (s *Server) GetReferenceCount(ctx context.Context, req *rpc.ReferenceRequest) (*rpc.CountResponse, error) {
	nodes, err := s.references(ctx, req.NodeID, req.Kind)
	if err != nil {
		return nil, err
	}
	return &rpc.CountResponse{Count: int32(len(nodes))}, nil
}

// GetReferences returns the nodes on the far side of the node's relations of
// the requested kind. With tags, only nodes carrying one of them are kept.
func (s *Server) GetReferences(ctx context.Context, req *rpc.ReferenceRequest) (*rpc.NodeListResponse, error) {
	nodes, err := s.references(ctx, req.NodeID, req.Kind)
	if err != nil {
		return nil, err
	}
	paths := newPathCache()
	out := make([]rpc.AstNodeInfo, 0, len(nodes))
	for _, n := range nodes {
		info := s.info(ctx, n, paths)
		if len(req.Tags) > 0 && !hasAnyTag(info.Tags, req.Tags) {
			continue
		}
		out = append(out, info)
	}
	return &rpc.NodeListResponse{Nodes: out}, nil
}

func (s *Server) references(ctx context.Context, nodeID int64, kind int32) ([]*store.AstNode, error) {
	k, ok := lookupRefKind(kind)
	if !ok {
		return nil, fmt.Errorf("worker: unknown reference kind %d", kind)
	}
	rels, err := s.store.RelationsOf(ctx, nodeID, k.dir, k.kind)
	if err != nil {
		return nil, fmt.Errorf("worker: references of %d: %w", nodeID, err)
	}

	seen := make(map[int64]bool, len(rels))
	var nodes []*store.AstNode
	for _, r := range rels {
		other := r.RHS
		if k.dir == store.Incoming {
			other = r.LHS
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		n, err := s.store.AstNodeByID(ctx, other)
		if err != nil {
			return nil, fmt.Errorf("worker: reference %d: %w", other, err)
		}
		if n == nil {
			// Declaration contexts may point at files, and stale endpoints
			// may no longer resolve.
			s.logger.Debug("reference endpoint is not a node", "node", nodeID, "endpoint", other, "kind", k.kind)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Server) GetFileReferenceTypes(ctx context.Context, req *rpc.FileRequest) (*rpc.KindsResponse, error) {
	nodes, err := s.fileNodes(ctx, req)
	if err != nil {
		return nil, err
	}
	kinds := make(map[string]int32)
	for id, k := range fileRefKinds {
		for _, n := range nodes {
			if slices.Contains(k.kinds, n.Kind) {
				kinds[k.name] = id
				break
			}
		}
	}
	return &rpc.KindsResponse{Kinds: kinds}, nil
}

func (s *Server) GetFileReferenceCount(ctx context.Context, req *rpc.FileRequest) (*rpc.CountResponse, error) {
	nodes, err := s.fileReferences(ctx, req)
	if err != nil {
		return nil, err
	}
	return &rpc.CountResponse{Count: int32(len(nodes))}, nil
}

func (s *Server) GetFileReferences(ctx context.Context, req *rpc.FileRequest) (*rpc.NodeListResponse, error) {
	nodes, err := s.fileReferences(ctx, req)
	if err != nil {
		return nil, err
	}
	paths := newPathCache()
	out := make([]rpc.AstNodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, s.info(ctx, n, paths))
	}
	return &rpc.NodeListResponse{Nodes: out}, nil
}

func (s *Server) fileReferences(ctx context.Context, req *rpc.FileRequest) ([]*store.AstNode, error) {
	k, ok := fileRefKinds[req.Kind]
	if !ok {
		return nil, fmt.Errorf("worker: unknown file reference kind %d", req.Kind)
	}
	nodes, err := s.fileNodes(ctx, req)
	if err != nil {
		return nil, err
	}
	var out []*store.AstNode
	for _, n := range nodes {
		if slices.Contains(k.kinds, n.Kind) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Server) fileNodes(ctx context.Context, req *rpc.FileRequest) ([]*store.AstNode, error) {
	f, err := s.file(ctx, req.FileID, req.FilePath)
	if err != nil || f == nil {
		return nil, err
	}
	nodes, err := s.store.AstNodesByFile(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("worker: nodes of %s: %w", f.Path, err)
	}
	return nodes, nil
}

func hasAnyTag(have, want []string) bool {
	for _, t := range want {
		if slices.Contains(have, t) {
			return true
		}
	}
	return false
}
