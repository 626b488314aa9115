package orchard

import "github.com/jward/orchard/internal/store"

// Public aliases for the model types used by the QueryBuilder API.

type Store = store.Store
type File = store.File
type FileType = store.FileType
type AstNode = store.AstNode
type Relation = store.Relation
type RelationKind = store.RelationKind
type Direction = store.Direction

const (
	// Uses follows relations from their left-hand side.
	Uses = store.Outgoing
	// UsedBy follows relations from their right-hand side.
	UsedBy = store.Incoming
)
