package store

import "fmt"

// OwningFiles maps entity identifiers to the files that own them: a file
// identifier maps to itself and an AST node to its file. Identifiers that no
// longer resolve are dropped. The result is sorted and distinct.
func (tx *Tx) OwningFiles(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := placeholderList(len(ids))
	args := int64sToArgs(ids)
	q := `SELECT id FROM files WHERE id IN (` + placeholders + `)
		UNION
		SELECT file_id FROM ast_nodes WHERE id IN (` + placeholders + `)
		ORDER BY 1`
	rows, err := tx.q.QueryContext(tx.ctx, q, repeatArgs(args, 2)...)
	if err != nil {
		return nil, fmt.Errorf("owning files: %w", err)
	}
	defer rows.Close()
	var fileIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		fileIDs = append(fileIDs, id)
	}
	return fileIDs, rows.Err()
}

// BlastRadius returns the files other than fileID whose relations were among
// removed. Those files pointed into fileID's superseded nodes and must be
// linked again.
func (tx *Tx) BlastRadius(fileID int64, removed []*Relation) ([]int64, error) {
	var lhs []int64
	for _, r := range removed {
		lhs = append(lhs, r.LHS)
	}
	owners, err := tx.OwningFiles(lhs)
	if err != nil {
		return nil, err
	}
	out := owners[:0]
	for _, id := range owners {
		if id != fileID {
			out = append(out, id)
		}
	}
	return out, nil
}
