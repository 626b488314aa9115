package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"
)

const fileColumns = "id, path, type, parent_id, parse_status, hash, indexed_at"

// --- File operations ---

// InsertFile allocates an identifier for f and records it.
func (tx *Tx) InsertFile(f *File) (int64, error) {
	id, err := tx.newEntity("file")
	if err != nil {
		return 0, err
	}
	if f.ParseStatus == "" {
		f.ParseStatus = Unparsed
	}
	if f.Type == "" {
		f.Type = UnknownType
	}
	var indexedAt any
	if !f.IndexedAt.IsZero() {
		indexedAt = f.IndexedAt
	}
	_, err = tx.q.ExecContext(tx.ctx,
		"INSERT INTO files (id, path, type, parent_id, parse_status, hash, indexed_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, f.Path, f.Type, f.ParentID, string(f.ParseStatus), nullString(f.Hash), indexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	f.ID = id
	return id, nil
}

// EnsureFilePath returns the file record for p, creating it with fileType
// when absent. Missing ancestors are created as directories so every
// non-root file has exactly one parent.
func (tx *Tx) EnsureFilePath(p string, fileType FileType) (*File, error) {
	p = path.Clean(p)
	if f, err := tx.FileByPath(p); err != nil || f != nil {
		return f, err
	}

	var parentID *int64
	if dir := path.Dir(p); dir != p && dir != "/" && dir != "." {
		parent, err := tx.EnsureFilePath(dir, DirectoryType)
		if err != nil {
			return nil, err
		}
		parentID = &parent.ID
	}

	f := &File{Path: p, Type: fileType, ParentID: parentID}
	if _, err := tx.InsertFile(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (tx *Tx) FileByPath(p string) (*File, error) {
	f, err := scanFile(tx.q.QueryRowContext(tx.ctx,
		"SELECT "+fileColumns+" FROM files WHERE path = ?", path.Clean(p)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (tx *Tx) FileByID(id int64) (*File, error) {
	f, err := scanFile(tx.q.QueryRowContext(tx.ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

// ChildrenOf returns the direct children of a file, optionally restricted to
// the given types. Order is by path.
func (tx *Tx) ChildrenOf(fileID int64, types ...FileType) ([]*File, error) {
	q := "SELECT " + fileColumns + " FROM files WHERE parent_id = ?"
	args := []any{fileID}
	if len(types) > 0 {
		q += " AND type IN (" + placeholderList(len(types)) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	q += " ORDER BY path"
	return tx.queryFiles(q, args...)
}

// FilesUnder returns every file strictly below the directory path dir.
func (tx *Tx) FilesUnder(dir string) ([]*File, error) {
	dir = path.Clean(dir)
	// '0' sorts directly after '/', bounding the prefix range.
	return tx.queryFiles(
		"SELECT "+fileColumns+" FROM files WHERE path >= ? AND path < ? ORDER BY path",
		dir+"/", dir+"0",
	)
}

// FilesByType returns all files carrying the given type tag.
func (tx *Tx) FilesByType(t FileType) ([]*File, error) {
	return tx.queryFiles("SELECT "+fileColumns+" FROM files WHERE type = ? ORDER BY path", t)
}

// CountFiles returns the number of file records, directories included.
func (tx *Tx) CountFiles() (int, error) {
	var n int
	if err := tx.q.QueryRowContext(tx.ctx, "SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

func (tx *Tx) SetParseStatus(fileID int64, status ParseStatus) error {
	_, err := tx.q.ExecContext(tx.ctx,
		"UPDATE files SET parse_status = ?, indexed_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("set parse status: %w", err)
	}
	return nil
}

// SetContent stores the file's content and its hash.
func (tx *Tx) SetContent(fileID int64, content []byte) error {
	if _, err := tx.q.ExecContext(tx.ctx,
		"INSERT INTO file_contents (file_id, content) VALUES (?, ?) ON CONFLICT(file_id) DO UPDATE SET content = excluded.content",
		fileID, string(content)); err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	if _, err := tx.q.ExecContext(tx.ctx,
		"UPDATE files SET hash = ? WHERE id = ?", ContentHash(content), fileID); err != nil {
		return fmt.Errorf("set content hash: %w", err)
	}
	return nil
}

// FileContent loads the stored content of a file. The bool is false when no
// content has been stored.
func (tx *Tx) FileContent(fileID int64) ([]byte, bool, error) {
	var content string
	err := tx.q.QueryRowContext(tx.ctx,
		"SELECT content FROM file_contents WHERE file_id = ?", fileID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("file content: %w", err)
	}
	return []byte(content), true, nil
}

func (tx *Tx) queryFiles(q string, args ...any) ([]*File, error) {
	rows, err := tx.q.QueryContext(tx.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (tx *Tx) newEntity(kind string) (int64, error) {
	res, err := tx.q.ExecContext(tx.ctx, "INSERT INTO entities (kind) VALUES (?)", kind)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func scanFile(row scanner) (*File, error) {
	f := &File{}
	var (
		parent    sql.NullInt64
		status    string
		hash      sql.NullString
		indexedAt sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.Path, &f.Type, &parent, &status, &hash, &indexedAt); err != nil {
		return nil, err
	}
	if parent.Valid {
		v := parent.Int64
		f.ParentID = &v
	}
	f.ParseStatus = ParseStatus(status)
	f.Hash = hash.String
	if indexedAt.Valid {
		f.IndexedAt = indexedAt.Time
	}
	return f, nil
}
