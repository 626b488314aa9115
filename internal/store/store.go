package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the identity and relation model.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
// Transactions take the write lock up front so that concurrent ingestion
// goroutines wait on the busy timeout instead of failing a lock upgrade.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path the store was opened with. Workers receive
// it as their connection string.
func (s *Store) Path() string {
	return s.path
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Querier is the subset of *sql.DB and *sql.Tx used by Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx scopes model operations to one caller-managed transaction. The model
// never begins or commits on its own; callers obtain a Tx from View or
// Update, or wrap a transaction they already hold with NewTx.
type Tx struct {
	q   Querier
	ctx context.Context
}

// NewTx wraps an existing transaction (or *sql.DB for autocommit use).
func NewTx(ctx context.Context, q Querier) *Tx {
	return &Tx{q: q, ctx: ctx}
}

// View runs fn inside a read transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(NewTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Update runs fn inside a write transaction, committing when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(NewTx(ctx, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteFileData removes the AST nodes of a file, the relations touching
// them, and the file's outgoing file-level relations. The file record itself
// is kept so its identifier stays stable across re-parses. The removed
// relations are returned so caches keyed on them can forget them.
func (tx *Tx) DeleteFileData(fileID int64) ([]*Relation, error) {
	nodeIDs, err := tx.astNodeIDsByFile(fileID)
	if err != nil {
		return nil, err
	}

	where := "lhs = ?"
	args := []any{fileID}
	if len(nodeIDs) > 0 {
		placeholders := placeholderList(len(nodeIDs))
		nodeArgs := int64sToArgs(nodeIDs)
		where += " OR lhs IN (" + placeholders + ") OR rhs IN (" + placeholders + ")"
		args = append(args, repeatArgs(nodeArgs, 2)...)
	}

	removed, err := tx.queryRelations("SELECT id, lhs, rhs, kind FROM relations WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	if _, err := tx.q.ExecContext(tx.ctx, "DELETE FROM relations WHERE "+where, args...); err != nil {
		return nil, fmt.Errorf("delete file relations: %w", err)
	}
	if _, err := tx.q.ExecContext(tx.ctx, "DELETE FROM ast_nodes WHERE file_id = ?", fileID); err != nil {
		return nil, fmt.Errorf("delete file nodes: %w", err)
	}
	return removed, nil
}

const schemaDDL = `
-- Identifier sequence shared by files and AST nodes. AUTOINCREMENT keeps
-- identifiers from being reused after deletes.
CREATE TABLE IF NOT EXISTS entities (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  kind            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY REFERENCES entities(id),
  path            TEXT NOT NULL UNIQUE,
  type            TEXT NOT NULL,
  parent_id       INTEGER REFERENCES files(id),
  parse_status    TEXT NOT NULL DEFAULT 'unparsed',
  hash            TEXT,
  indexed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS file_contents (
  file_id         INTEGER PRIMARY KEY REFERENCES files(id),
  content         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ast_nodes (
  id              INTEGER PRIMARY KEY REFERENCES entities(id),
  file_id         INTEGER NOT NULL REFERENCES files(id),
  value           TEXT NOT NULL,
  kind            TEXT NOT NULL,
  symbol_type     TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER,
  documentation   TEXT
);

-- Endpoints carry no foreign keys: analyzers may record relations whose
-- endpoints later stop resolving, and readers skip those.
CREATE TABLE IF NOT EXISTS relations (
  id              INTEGER PRIMARY KEY,
  lhs             INTEGER NOT NULL,
  rhs             INTEGER NOT NULL,
  kind            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_parent ON files(parent_id);
CREATE INDEX IF NOT EXISTS idx_files_type ON files(type);
CREATE INDEX IF NOT EXISTS idx_ast_nodes_file ON ast_nodes(file_id);
CREATE INDEX IF NOT EXISTS idx_ast_nodes_value ON ast_nodes(value);
CREATE INDEX IF NOT EXISTS idx_relations_lhs ON relations(lhs, kind);
CREATE INDEX IF NOT EXISTS idx_relations_rhs ON relations(rhs, kind);
`
