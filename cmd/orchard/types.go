package main

import (
	"github.com/jward/orchard"
	"github.com/jward/orchard/internal/rpc"
)

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIFile is a JSON-friendly file representation.
type CLIFile struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	ParseStatus string `json:"parse_status"`
}

// CLINode is a JSON-friendly AST node.
type CLINode struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	SymbolType string   `json:"symbol_type,omitempty"`
	FileID     int64    `json:"file_id"`
	File       string   `json:"file,omitempty"`
	StartLine  int      `json:"start_line"`
	StartCol   int      `json:"start_col"`
	EndLine    int      `json:"end_line"`
	EndCol     int      `json:"end_col"`
	Tags       []string `json:"tags,omitempty"`
}

// CLIRelation is a relation with its endpoints described.
type CLIRelation struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`
	LHS  int64  `json:"lhs"`
	RHS  int64  `json:"rhs"`
	// Other names the endpoint that is not the queried entity.
	Other string `json:"other,omitempty"`
}

// CLIInspect is what a language worker reports about one node.
type CLIInspect struct {
	Node       CLINode           `json:"node"`
	Properties map[string]string `json:"properties,omitempty"`
	References map[string]int32  `json:"references,omitempty"`
	Diagrams   map[string]int32  `json:"diagrams,omitempty"`
}

func toCLIFile(f *orchard.File) CLIFile {
	return CLIFile{
		ID:          f.ID,
		Path:        f.Path,
		Type:        f.Type,
		ParentID:    f.ParentID,
		ParseStatus: string(f.ParseStatus),
	}
}

func toCLINode(n *orchard.AstNode, file string) CLINode {
	return CLINode{
		ID:         n.ID,
		Name:       n.Value,
		Kind:       n.Kind,
		SymbolType: n.SymbolType,
		FileID:     n.FileID,
		File:       file,
		StartLine:  n.StartLine,
		StartCol:   n.StartCol,
		EndLine:    n.EndLine,
		EndCol:     n.EndCol,
	}
}

func infoToCLINode(n *rpc.AstNodeInfo) CLINode {
	return CLINode{
		ID:         n.ID,
		Name:       n.Value,
		Kind:       n.Kind,
		SymbolType: n.SymbolType,
		FileID:     n.Range.FileID,
		File:       n.Range.FilePath,
		StartLine:  n.Range.StartLine,
		StartCol:   n.Range.StartCol,
		EndLine:    n.Range.EndLine,
		EndCol:     n.Range.EndCol,
		Tags:       n.Tags,
	}
}
