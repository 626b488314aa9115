package worker

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/orchard/internal/rpc"
	"github.com/jward/orchard/internal/runtime"
)

// Highlight class names. They follow the CodeMirror token classes so a web
// client can style them without a mapping table.
const (
	ClassComment  = "cm-comment"
	ClassString   = "cm-string"
	ClassNumber   = "cm-number"
	ClassKeyword  = "cm-keyword"
	ClassType     = "cm-type"
	ClassProperty = "cm-property"
	ClassDef      = "cm-def"
	ClassAtom     = "cm-atom"
)

var classByType = map[string]string{
	"comment":                    ClassComment,
	"line_comment":               ClassComment,
	"block_comment":              ClassComment,
	"interpreted_string_literal": ClassString,
	"raw_string_literal":         ClassString,
	"rune_literal":               ClassString,
	"string":                     ClassString,
	"string_literal":             ClassString,
	"char_literal":               ClassString,
	"template_string":            ClassString,
	"int_literal":                ClassNumber,
	"float_literal":              ClassNumber,
	"imaginary_literal":          ClassNumber,
	"integer":                    ClassNumber,
	"float":                      ClassNumber,
	"number":                     ClassNumber,
	"number_literal":             ClassNumber,
	"integer_literal":            ClassNumber,
	"type_identifier":            ClassType,
	"primitive_type":             ClassType,
	"field_identifier":           ClassProperty,
	"property_identifier":        ClassProperty,
	"true":                       ClassAtom,
	"false":                      ClassAtom,
	"nil":                        ClassAtom,
	"null":                       ClassAtom,
	"none":                       ClassAtom,
}

// defParents are node types whose "name" field is a definition.
var defParents = map[string]bool{
	"function_declaration": true,
	"method_declaration":   true,
	"function_definition":  true,
	"function_item":        true,
	"class_declaration":    true,
	"class_definition":     true,
	"method_definition":    true,
}

// GetSyntaxHighlight classifies the tokens of a file inside the requested
// range. A zero EndLine means the whole file.
func (s *Server) GetSyntaxHighlight(ctx context.Context, req *rpc.HighlightRequest) (*rpc.HighlightResponse, error) {
	f, err := s.file(ctx, req.Range.FileID, req.Range.FilePath)
	if err != nil || f == nil {
		return &rpc.HighlightResponse{}, err
	}
	lang, ok := runtime.LanguageForFile(f.Path)
	if !ok {
		return &rpc.HighlightResponse{}, nil
	}
	content, err := s.content(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	tree, _, err := runtime.Parse(ctx, content, lang.Name)
	if err != nil {
		return nil, fmt.Errorf("worker: highlight %s: %w", f.Path, err)
	}
	defer tree.Close()

	h := highlighter{path: f.Path, window: req.Range}
	h.walk(tree.RootNode())
	return &rpc.HighlightResponse{Items: h.items}, nil
}

type highlighter struct {
	path   string
	window rpc.FileRange
	items  []rpc.SyntaxHighlight
}

func (h *highlighter) walk(n *sitter.Node) {
	if !h.overlaps(n) {
		return
	}
	if class := classify(n); class != "" {
		h.emit(n, class)
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		h.walk(n.Child(i))
	}
}

func (h *highlighter) emit(n *sitter.Node, class string) {
	start, end := n.StartPoint(), n.EndPoint()
	h.items = append(h.items, rpc.SyntaxHighlight{
		Range: rpc.FileRange{
			FilePath:  h.path,
			StartLine: int(start.Row) + 1,
			StartCol:  int(start.Column) + 1,
			EndLine:   int(end.Row) + 1,
			EndCol:    int(end.Column) + 1,
		},
		ClassName: class,
	})
}

func (h *highlighter) overlaps(n *sitter.Node) bool {
	if h.window.EndLine == 0 {
		return true
	}
	startLine := int(n.StartPoint().Row) + 1
	endLine := int(n.EndPoint().Row) + 1
	return endLine >= h.window.StartLine && startLine <= h.window.EndLine
}

func classify(n *sitter.Node) string {
	typ := n.Type()
	if class, ok := classByType[typ]; ok {
		return class
	}
	if typ == "identifier" || typ == "name" {
		if p := n.Parent(); p != nil && defParents[p.Type()] {
			if name := p.ChildByFieldName("name"); name != nil && name.StartByte() == n.StartByte() {
				return ClassDef
			}
		}
		return ""
	}
	// Anonymous word tokens are the grammar's keywords.
	if !n.IsNamed() && n.ChildCount() == 0 && isWord(typ) {
		return ClassKeyword
	}
	return ""
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && r != '_' }) < 0
}
