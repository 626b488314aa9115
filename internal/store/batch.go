package store

import (
	"fmt"
	"sync"
)

// Batch buffers the AST nodes and intra-file relations an analyzer produces
// for one file, using fake (negative) identifiers. Analyzers run against a
// Batch in parallel without touching SQLite; CommitBatch later allocates
// real identifiers and rewrites every fake reference.
//
// Relations may mix fake endpoints (nodes in this batch) with real ones
// (the file itself, or nodes committed earlier).
type Batch struct {
	FileID int64

	mu         sync.Mutex
	Nodes      []AstNode
	Relations  []Relation
	nextFakeID int64
}

// NewBatch creates an empty batch for the given file.
func NewBatch(fileID int64) *Batch {
	return &Batch{FileID: fileID, nextFakeID: -1}
}

func (b *Batch) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

// InsertAstNode buffers n and returns its fake identifier. A zero FileID
// defaults to the batch's file.
func (b *Batch) InsertAstNode(n *AstNode) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n.FileID == 0 {
		n.FileID = b.FileID
	}
	if n.FileID != b.FileID {
		return 0, fmt.Errorf("batch: node %q belongs to file %d, batch is for %d", n.Value, n.FileID, b.FileID)
	}
	n.ID = b.allocFakeID()
	b.Nodes = append(b.Nodes, *n)
	return n.ID, nil
}

// InsertRelation buffers r. The returned identifier is fake and only
// meaningful within the batch.
func (b *Batch) InsertRelation(r *Relation) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r.ID = b.allocFakeID()
	b.Relations = append(b.Relations, *r)
	return r.ID, nil
}

// Len returns the number of buffered nodes and relations.
func (b *Batch) Len() (nodes, relations int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Nodes), len(b.Relations)
}

// CommitBatch writes the batch inside tx. Nodes are inserted first so that
// relation endpoints can be remapped from fake to real identifiers. It
// returns the fake-to-real mapping for the batch's nodes.
func (tx *Tx) CommitBatch(b *Batch) (map[int64]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fakeToReal := make(map[int64]int64, len(b.Nodes))
	for _, n := range b.Nodes {
		fake := n.ID
		realID, err := tx.InsertAstNode(&n)
		if err != nil {
			return nil, fmt.Errorf("commit batch: node %q: %w", n.Value, err)
		}
		fakeToReal[fake] = realID
	}

	remap := func(id int64) (int64, error) {
		if id >= 0 {
			return id, nil
		}
		realID, ok := fakeToReal[id]
		if !ok {
			return 0, fmt.Errorf("endpoint %d not in batch (have %d nodes)", id, len(b.Nodes))
		}
		return realID, nil
	}

	for _, r := range b.Relations {
		var err error
		if r.LHS, err = remap(r.LHS); err != nil {
			return nil, fmt.Errorf("commit batch: %s relation: %w", r.Kind, err)
		}
		if r.RHS, err = remap(r.RHS); err != nil {
			return nil, fmt.Errorf("commit batch: %s relation: %w", r.Kind, err)
		}
		if _, err := tx.InsertRelation(&r); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}
	return fakeToReal, nil
}
