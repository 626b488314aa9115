package store

import "fmt"

// --- Relation operations ---

// InsertRelation persists r. Duplicates are allowed at this layer; callers
// that need idempotent insertion go through an ingestion session.
func (tx *Tx) InsertRelation(r *Relation) (int64, error) {
	res, err := tx.q.ExecContext(tx.ctx,
		"INSERT INTO relations (lhs, rhs, kind) VALUES (?, ?, ?)",
		r.LHS, r.RHS, r.Kind,
	)
	if err != nil {
		return 0, fmt.Errorf("insert relation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// RelationsOf returns the relations leaving (Outgoing) or entering
// (Incoming) id, optionally restricted to the given kinds.
func (tx *Tx) RelationsOf(id int64, dir Direction, kinds ...RelationKind) ([]*Relation, error) {
	col := "lhs"
	if dir == Incoming {
		col = "rhs"
	}
	q := "SELECT id, lhs, rhs, kind FROM relations WHERE " + col + " = ?"
	args := []any{id}
	if len(kinds) > 0 {
		q += " AND kind IN (" + placeholderList(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	q += " ORDER BY id"
	return tx.queryRelations(q, args...)
}

// RelationsAmong returns the relations whose both endpoints are in ids.
func (tx *Tx) RelationsAmong(ids []int64, kinds ...RelationKind) ([]*Relation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := placeholderList(len(ids))
	q := "SELECT id, lhs, rhs, kind FROM relations WHERE lhs IN (" + placeholders + ") AND rhs IN (" + placeholders + ")"
	args := repeatArgs(int64sToArgs(ids), 2)
	if len(kinds) > 0 {
		q += " AND kind IN (" + placeholderList(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	q += " ORDER BY id"
	return tx.queryRelations(q, args...)
}

// CountRelations returns how many relations match (lhs, rhs, kind).
func (tx *Tx) CountRelations(lhs, rhs int64, kind RelationKind) (int, error) {
	var n int
	err := tx.q.QueryRowContext(tx.ctx,
		"SELECT COUNT(*) FROM relations WHERE lhs = ? AND rhs = ? AND kind = ?",
		lhs, rhs, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count relations: %w", err)
	}
	return n, nil
}

func (tx *Tx) queryRelations(q string, args ...any) ([]*Relation, error) {
	rows, err := tx.q.QueryContext(tx.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()
	var rels []*Relation
	for rows.Next() {
		r := &Relation{}
		if err := rows.Scan(&r.ID, &r.LHS, &r.RHS, &r.Kind); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// DeleteLinks removes the relations the link pass produced for a file: call
// relations leaving its nodes and usage relations leaving the file. It
// returns what it removed.
func (tx *Tx) DeleteLinks(fileID int64) ([]*Relation, error) {
	where := `(kind = ? AND lhs IN (SELECT id FROM ast_nodes WHERE file_id = ?))
		OR (kind = ? AND lhs = ?)`
	args := []any{Call, fileID, Usage, fileID}
	removed, err := tx.queryRelations("SELECT id, lhs, rhs, kind FROM relations WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	if _, err := tx.q.ExecContext(tx.ctx, "DELETE FROM relations WHERE "+where, args...); err != nil {
		return nil, fmt.Errorf("delete links: %w", err)
	}
	return removed, nil
}
