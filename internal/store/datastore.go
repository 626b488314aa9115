package store

import "context"

// Model is the read contract of the identity and relation model. Each call
// runs in its own read transaction; callers needing several reads to agree
// use View directly.
type Model interface {
	FileByPath(ctx context.Context, path string) (*File, error)
	FileByID(ctx context.Context, id int64) (*File, error)
	ChildrenOf(ctx context.Context, fileID int64, types ...FileType) ([]*File, error)
	RelationsOf(ctx context.Context, id int64, dir Direction, kinds ...RelationKind) ([]*Relation, error)
}

// Compile-time check: *Store satisfies Model.
var _ Model = (*Store)(nil)

// FileByPath resolves a path to its file record; nil when absent.
func (s *Store) FileByPath(ctx context.Context, path string) (*File, error) {
	var f *File
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		f, err = tx.FileByPath(path)
		return err
	})
	return f, err
}

// FileByID resolves an identifier to its file record; nil when absent.
func (s *Store) FileByID(ctx context.Context, id int64) (*File, error) {
	var f *File
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		f, err = tx.FileByID(id)
		return err
	})
	return f, err
}

func (s *Store) ChildrenOf(ctx context.Context, fileID int64, types ...FileType) ([]*File, error) {
	var files []*File
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		files, err = tx.ChildrenOf(fileID, types...)
		return err
	})
	return files, err
}

func (s *Store) RelationsOf(ctx context.Context, id int64, dir Direction, kinds ...RelationKind) ([]*Relation, error) {
	var rels []*Relation
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		rels, err = tx.RelationsOf(id, dir, kinds...)
		return err
	})
	return rels, err
}

func (s *Store) AstNodeByID(ctx context.Context, id int64) (*AstNode, error) {
	var n *AstNode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.AstNodeByID(id)
		return err
	})
	return n, err
}

func (s *Store) AstNodesByName(ctx context.Context, value string) ([]*AstNode, error) {
	var nodes []*AstNode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		nodes, err = tx.AstNodesByName(value)
		return err
	})
	return nodes, err
}

func (s *Store) AstNodesByFile(ctx context.Context, fileID int64) ([]*AstNode, error) {
	var nodes []*AstNode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		nodes, err = tx.AstNodesByFile(fileID)
		return err
	})
	return nodes, err
}

// AstNodeAt returns the innermost node of a file covering (line, col).
func (s *Store) AstNodeAt(ctx context.Context, fileID int64, line, col int) (*AstNode, error) {
	var n *AstNode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.AstNodeAt(fileID, line, col)
		return err
	})
	return n, err
}
