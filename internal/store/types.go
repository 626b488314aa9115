package store

import "time"

// FileType tags a file record. DirectoryType is the distinguished tag for
// directories; source files carry a language tag such as "GO".
type FileType = string

const (
	DirectoryType FileType = "DIR"
	UnknownType   FileType = "UNKNOWN"
)

// ParseStatus records how far analysis got for a file.
type ParseStatus string

const (
	Unparsed      ParseStatus = "unparsed"
	PartialParsed ParseStatus = "partial"
	FullyParsed   ParseStatus = "full"
)

type File struct {
	ID          int64
	Path        string
	Type        FileType
	ParentID    *int64
	ParseStatus ParseStatus
	Hash        string
	IndexedAt   time.Time
}

// IsDirectory reports whether f carries the directory tag.
func (f *File) IsDirectory() bool {
	return f.Type == DirectoryType
}

// AstNode is a syntactic or semantic element found by an analyzer. Its ID
// lives in the same sequence as file IDs but names a different record.
type AstNode struct {
	ID            int64
	FileID        int64
	Value         string
	Kind          string
	SymbolType    string
	StartLine     int
	StartCol      int
	EndLine       int
	EndCol        int
	Documentation string
}

// Contains reports whether the 1-based position (line, col) lies inside n.
func (n *AstNode) Contains(line, col int) bool {
	if line < n.StartLine || line > n.EndLine {
		return false
	}
	if line == n.StartLine && col < n.StartCol {
		return false
	}
	if line == n.EndLine && col > n.EndCol {
		return false
	}
	return true
}

// RelationKind names the semantic fact a relation records.
type RelationKind = string

const (
	Override    RelationKind = "override"
	Alias       RelationKind = "alias"
	Assign      RelationKind = "assign"
	DeclContext RelationKind = "declcontext"
	// Call connects a calling AST node to the called declaration.
	Call RelationKind = "call"
	// Usage connects a file to a file it depends on.
	Usage RelationKind = "usage"
)

// Relation is a directed, typed edge between two entity identifiers.
type Relation struct {
	ID   int64
	LHS  int64
	RHS  int64
	Kind RelationKind
}

// Direction selects which endpoint RelationsOf matches on.
type Direction int

const (
	// Outgoing matches relations whose LHS is the given id.
	Outgoing Direction = iota
	// Incoming matches relations whose RHS is the given id.
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}
