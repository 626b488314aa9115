package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"

	"github.com/jward/orchard/internal/store"
)

// Model host functions. Scripts cannot build Go structs, so writes take
// maps of primitives and reads return lists of maps.

// insert_node({value, kind, symbol_type, start_line, ..., documentation}) -> id
func insertNodeBuiltin(w Writer) *object.Builtin {
	return object.NewBuiltin("insert_node", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("insert_node", 1, len(args))
		}
		m, err := mapArg(args[0])
		if err != nil {
			return object.Errorf("insert_node: %v", err)
		}
		n := &store.AstNode{
			FileID:        getInt64(m, "file_id"),
			Value:         getString(m, "value"),
			Kind:          getString(m, "kind"),
			SymbolType:    getString(m, "symbol_type"),
			StartLine:     getInt(m, "start_line"),
			StartCol:      getInt(m, "start_col"),
			EndLine:       getInt(m, "end_line"),
			EndCol:        getInt(m, "end_col"),
			Documentation: getString(m, "documentation"),
		}
		if n.Value == "" || n.Kind == "" {
			return object.Errorf("insert_node: value and kind are required")
		}
		id, err := w.InsertAstNode(n)
		if err != nil {
			return object.Errorf("insert_node: %v", err)
		}
		return object.NewInt(id)
	})
}

// add_relation(lhs, rhs, kind) -> id (0 when the edge already existed)
func addRelationBuiltin(w Writer) *object.Builtin {
	return object.NewBuiltin("add_relation", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("add_relation", 3, len(args))
		}
		lhs, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("add_relation: lhs: %v", err)
		}
		rhs, err := toInt64(args[1])
		if err != nil {
			return object.Errorf("add_relation: rhs: %v", err)
		}
		kind, err := toString(args[2])
		if err != nil {
			return object.Errorf("add_relation: kind: %v", err)
		}
		id, err := w.InsertRelation(&store.Relation{LHS: lhs, RHS: rhs, Kind: kind})
		if err != nil {
			return object.Errorf("add_relation: %v", err)
		}
		return object.NewInt(id)
	})
}

// nodes_named(value) -> [node]
func nodesNamedBuiltin(ctx context.Context, rd Reader) *object.Builtin {
	return object.NewBuiltin("nodes_named", func(_ context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("nodes_named", 1, len(args))
		}
		value, err := toString(args[0])
		if err != nil {
			return object.Errorf("nodes_named: %v", err)
		}
		nodes, err := rd.AstNodesByName(ctx, value)
		if err != nil {
			return object.Errorf("nodes_named: %v", err)
		}
		return nodeList(nodes)
	})
}

// nodes_in_file(file_id) -> [node]
func nodesInFileBuiltin(ctx context.Context, rd Reader) *object.Builtin {
	return object.NewBuiltin("nodes_in_file", func(_ context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("nodes_in_file", 1, len(args))
		}
		fileID, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("nodes_in_file: %v", err)
		}
		nodes, err := rd.AstNodesByFile(ctx, fileID)
		if err != nil {
			return object.Errorf("nodes_in_file: %v", err)
		}
		return nodeList(nodes)
	})
}

// file_by_path(path) -> {id, path, type, parent_id} or nil
func fileByPathBuiltin(ctx context.Context, rd Reader) *object.Builtin {
	return object.NewBuiltin("file_by_path", func(_ context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("file_by_path", 1, len(args))
		}
		p, err := toString(args[0])
		if err != nil {
			return object.Errorf("file_by_path: %v", err)
		}
		f, err := rd.FileByPath(ctx, p)
		if err != nil {
			return object.Errorf("file_by_path: %v", err)
		}
		if f == nil {
			return object.Nil
		}
		m := map[string]object.Object{
			"id":   object.NewInt(f.ID),
			"path": object.NewString(f.Path),
			"type": object.NewString(f.Type),
		}
		if f.ParentID != nil {
			m["parent_id"] = object.NewInt(*f.ParentID)
		}
		return object.NewMap(m)
	})
}

func nodeList(nodes []*store.AstNode) object.Object {
	out := make([]object.Object, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, object.NewMap(map[string]object.Object{
			"id":          object.NewInt(n.ID),
			"file_id":     object.NewInt(n.FileID),
			"value":       object.NewString(n.Value),
			"kind":        object.NewString(n.Kind),
			"symbol_type": object.NewString(n.SymbolType),
			"start_line":  object.NewInt(int64(n.StartLine)),
			"start_col":   object.NewInt(int64(n.StartCol)),
			"end_line":    object.NewInt(int64(n.EndLine)),
			"end_col":     object.NewInt(int64(n.EndCol)),
		}))
	}
	return object.NewList(out)
}

func mapArg(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	if s, ok := m[key].(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getInt64(m map[string]object.Object, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	n, _ := toInt64(v)
	return n
}

func getInt(m map[string]object.Object, key string) int {
	return int(getInt64(m, key))
}

func toInt64(obj object.Object) (int64, error) {
	switch v := obj.(type) {
	case *object.Int:
		return v.Value(), nil
	case *object.Float:
		return int64(v.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
