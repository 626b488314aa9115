// Package rpc defines the contract between the server and language workers:
// request/response records, a gob codec, and the gRPC service description.
package rpc

// FileRange addresses a span of a file. Workers fill FilePath; the bridge
// fills FileID after translation. Lines and columns are 1-based.
type FileRange struct {
	FileID    int64
	FilePath  string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

type AstNodeInfo struct {
	ID         int64
	Value      string
	Kind       string
	SymbolType string
	Range      FileRange
	Tags       []string
}

type SyntaxHighlight struct {
	Range     FileRange
	ClassName string
}

type PingRequest struct {
	Nonce int64
}

type PingResponse struct {
	Nonce    int64
	Language string
	Pid      int
}

type NodeRequest struct {
	NodeID int64
}

type PositionRequest struct {
	FileID   int64
	FilePath string
	Line     int
	Col      int
}

// NodeInfoResponse carries Found=false instead of an error for unknown ids.
type NodeInfoResponse struct {
	Found bool
	Node  AstNodeInfo
}

type TextResponse struct {
	Text string
}

type PropertiesResponse struct {
	Properties map[string]string
}

// KindsResponse maps a human readable name to a numeric kind id.
type KindsResponse struct {
	Kinds map[string]int32
}

type ReferenceRequest struct {
	NodeID int64
	Kind   int32
	Tags   []string
}

type CountResponse struct {
	Count int32
}

type NodeListResponse struct {
	Nodes []AstNodeInfo
}

type FileRequest struct {
	FileID   int64
	FilePath string
	Kind     int32
}

type DiagramRequest struct {
	NodeID int64
	Kind   int32
}

type LegendRequest struct {
	Kind int32
}

type BytesResponse struct {
	Data []byte
}

type HighlightRequest struct {
	Range FileRange
}

type HighlightResponse struct {
	Items []SyntaxHighlight
}
