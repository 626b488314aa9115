package runtime

import (
	"context"
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
)

// sourceStore remembers the source bytes and grammar of every tree parsed
// by a Runtime. go-tree-sitter nodes do not expose their tree, so entries
// are keyed by the root node pointer and found again by walking Parent().
type sourceStore struct {
	mu    sync.RWMutex
	trees map[uintptr]parsedSource
}

type parsedSource struct {
	src  []byte
	lang *sitter.Language
}

func newSourceStore() *sourceStore {
	return &sourceStore{trees: make(map[uintptr]parsedSource)}
}

func rootKey(n *sitter.Node) uintptr {
	for n.Parent() != nil {
		n = n.Parent()
	}
	return uintptr(unsafe.Pointer(n))
}

func (s *sourceStore) store(tree *sitter.Tree, src []byte, lang *sitter.Language) {
	s.mu.Lock()
	s.trees[rootKey(tree.RootNode())] = parsedSource{src: src, lang: lang}
	s.mu.Unlock()
}

func (s *sourceStore) lookup(n *sitter.Node) (parsedSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.trees[rootKey(n)]
	return ps, ok
}

// nodeArg unwraps a proxied *sitter.Node argument.
func nodeArg(fn string, obj object.Object) (*sitter.Node, *object.Error) {
	p, ok := obj.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected node, got %s", fn, obj.Type())
	}
	n, ok := p.Interface().(*sitter.Node)
	if !ok || n == nil {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", fn, p.Interface())
	}
	return n, nil
}

func stringArg(fn, what string, obj object.Object) (string, *object.Error) {
	s, ok := obj.(*object.String)
	if !ok {
		return "", object.Errorf("%s: %s must be a string, got %s", fn, what, obj.Type())
	}
	return s.Value(), nil
}

func proxyNode(fn string, n *sitter.Node) object.Object {
	if n == nil {
		return object.Nil
	}
	p, err := object.NewProxy(n)
	if err != nil {
		return object.Errorf("%s: proxy: %v", fn, err)
	}
	return p
}

// parse(path, language) -> tree
func parseBuiltin(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse", 2, len(args))
		}
		p, errObj := stringArg("parse", "path", args[0])
		if errObj != nil {
			return errObj
		}
		lang, errObj := stringArg("parse", "language", args[1])
		if errObj != nil {
			return errObj
		}
		src, err := os.ReadFile(p)
		if err != nil {
			return object.Errorf("parse: read %s: %v", p, err)
		}
		return parseSource(ctx, ss, src, lang)
	})
}

// parse_src(source, language) -> tree
func parseSrcBuiltin(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}
		src, errObj := stringArg("parse_src", "source", args[0])
		if errObj != nil {
			return errObj
		}
		lang, errObj := stringArg("parse_src", "language", args[1])
		if errObj != nil {
			return errObj
		}
		return parseSource(ctx, ss, []byte(src), lang)
	})
}

func parseSource(ctx context.Context, ss *sourceStore, src []byte, language string) object.Object {
	tree, lang, err := Parse(ctx, src, language)
	if err != nil {
		return object.Errorf("parse: %v", err)
	}
	ss.store(tree, src, lang)
	p, err := object.NewProxy(tree)
	if err != nil {
		return object.Errorf("parse: proxy: %v", err)
	}
	return p
}

// node_text(node) -> string. Risor cannot pass the []byte that
// Node.Content needs.
func nodeTextBuiltin(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		n, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		ps, ok := ss.lookup(n)
		if !ok {
			return object.Errorf("node_text: node's tree was not parsed by this runtime")
		}
		return object.NewString(n.Content(ps.src))
	})
}

// node_child(node, field) -> node or nil
func nodeChildBuiltin() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		n, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		field, errObj := stringArg("node_child", "field", args[1])
		if errObj != nil {
			return errObj
		}
		return proxyNode("node_child", n.ChildByFieldName(field))
	})
}

// node_range(node) -> {start_line, start_col, end_line, end_col}, 1-based.
func nodeRangeBuiltin() *object.Builtin {
	return object.NewBuiltin("node_range", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_range", 1, len(args))
		}
		n, errObj := nodeArg("node_range", args[0])
		if errObj != nil {
			return errObj
		}
		start, end := n.StartPoint(), n.EndPoint()
		return object.NewMap(map[string]object.Object{
			"start_line": object.NewInt(int64(start.Row) + 1),
			"start_col":  object.NewInt(int64(start.Column) + 1),
			"end_line":   object.NewInt(int64(end.Row) + 1),
			"end_col":    object.NewInt(int64(end.Column) + 1),
		})
	})
}

// node_doc(node) -> string built from the comments directly above node.
func nodeDocBuiltin(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("node_doc", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_doc", 1, len(args))
		}
		n, errObj := nodeArg("node_doc", args[0])
		if errObj != nil {
			return errObj
		}
		ps, ok := ss.lookup(n)
		if !ok {
			return object.Errorf("node_doc: node's tree was not parsed by this runtime")
		}
		return object.NewString(leadingComments(n, ps.src))
	})
}

// leadingComments joins the comment siblings that end on the lines
// immediately above n, stripped of comment markers.
func leadingComments(n *sitter.Node, src []byte) string {
	var lines []string
	row := n.StartPoint().Row
	for prev := n.PrevSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevSibling() {
		if prev.EndPoint().Row+1 != row {
			break
		}
		lines = append(lines, stripComment(prev.Content(src)))
		row = prev.StartPoint().Row
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func stripComment(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case strings.HasPrefix(c, "//"):
		c = strings.TrimPrefix(c, "//")
	case strings.HasPrefix(c, "#"):
		c = strings.TrimPrefix(c, "#")
	case strings.HasPrefix(c, "/*"):
		c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
	}
	return strings.TrimSpace(c)
}

// query(pattern, node) -> [{capture: node}]
func queryBuiltin(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}
		pattern, errObj := stringArg("query", "pattern", args[0])
		if errObj != nil {
			return errObj
		}
		n, errObj := nodeArg("query", args[1])
		if errObj != nil {
			return errObj
		}
		ps, ok := ss.lookup(n)
		if !ok {
			return object.Errorf("query: node's tree was not parsed by this runtime")
		}

		q, err := sitter.NewQuery([]byte(pattern), ps.lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()
		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, n)

		results := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, ps.src)
			captures := make(map[string]object.Object, len(match.Captures))
			for _, c := range match.Captures {
				captures[q.CaptureNameForId(c.Index)] = proxyNode("query", c.Node)
			}
			results = append(results, object.NewMap(captures))
		}
		return object.NewList(results)
	})
}

// scriptLogger is exposed to scripts as log.Info/Warn/Error/Debug.
type scriptLogger struct {
	l *log.Logger
}

func (s *scriptLogger) Debug(msg string) { s.l.Debug(msg, "source", "script") }
func (s *scriptLogger) Info(msg string)  { s.l.Info(msg, "source", "script") }
func (s *scriptLogger) Warn(msg string)  { s.l.Warn(msg, "source", "script") }
func (s *scriptLogger) Error(msg string) { s.l.Error(msg, "source", "script") }
