package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const astNodeColumns = "id, file_id, value, kind, symbol_type, start_line, start_col, end_line, end_col, documentation"

// --- AST node operations ---

func (tx *Tx) InsertAstNode(n *AstNode) (int64, error) {
	id, err := tx.newEntity("ast_node")
	if err != nil {
		return 0, err
	}
	_, err = tx.q.ExecContext(tx.ctx,
		`INSERT INTO ast_nodes (id, file_id, value, kind, symbol_type,
			start_line, start_col, end_line, end_col, documentation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, n.FileID, n.Value, n.Kind, nullString(n.SymbolType),
		n.StartLine, n.StartCol, n.EndLine, n.EndCol, nullString(n.Documentation),
	)
	if err != nil {
		return 0, fmt.Errorf("insert ast node: %w", err)
	}
	n.ID = id
	return id, nil
}

func (tx *Tx) AstNodeByID(id int64) (*AstNode, error) {
	n, err := scanAstNode(tx.q.QueryRowContext(tx.ctx,
		"SELECT "+astNodeColumns+" FROM ast_nodes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ast node by id: %w", err)
	}
	return n, nil
}

func (tx *Tx) AstNodesByName(value string) ([]*AstNode, error) {
	return tx.queryAstNodes("SELECT "+astNodeColumns+" FROM ast_nodes WHERE value = ? ORDER BY id", value)
}

func (tx *Tx) AstNodesByFile(fileID int64) ([]*AstNode, error) {
	return tx.queryAstNodes("SELECT "+astNodeColumns+" FROM ast_nodes WHERE file_id = ? ORDER BY start_line, start_col", fileID)
}

// AstNodeAt returns the innermost node of a file covering the 1-based
// position, or nil when no node covers it.
func (tx *Tx) AstNodeAt(fileID int64, line, col int) (*AstNode, error) {
	nodes, err := tx.queryAstNodes(
		"SELECT "+astNodeColumns+" FROM ast_nodes WHERE file_id = ? AND start_line <= ? AND end_line >= ?",
		fileID, line, line,
	)
	if err != nil {
		return nil, err
	}
	var best *AstNode
	for _, n := range nodes {
		if !n.Contains(line, col) {
			continue
		}
		if best == nil || span(n) < span(best) {
			best = n
		}
	}
	return best, nil
}

// span orders nodes by extent; a line is weighted above any column count.
func span(n *AstNode) int {
	return (n.EndLine-n.StartLine)*1_000_000 + (n.EndCol - n.StartCol)
}

func (tx *Tx) astNodeIDsByFile(fileID int64) ([]int64, error) {
	rows, err := tx.q.QueryContext(tx.ctx, "SELECT id FROM ast_nodes WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("ast node ids by file: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ast node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (tx *Tx) queryAstNodes(q string, args ...any) ([]*AstNode, error) {
	rows, err := tx.q.QueryContext(tx.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ast nodes: %w", err)
	}
	defer rows.Close()
	var nodes []*AstNode
	for rows.Next() {
		n, err := scanAstNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ast node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanAstNode(row scanner) (*AstNode, error) {
	n := &AstNode{}
	var symbolType, doc sql.NullString
	if err := row.Scan(&n.ID, &n.FileID, &n.Value, &n.Kind, &symbolType,
		&n.StartLine, &n.StartCol, &n.EndLine, &n.EndCol, &doc); err != nil {
		return nil, err
	}
	n.SymbolType = symbolType.String
	n.Documentation = doc.String
	return n, nil
}
