// Package ingest coordinates one indexing run: the session that deduplicates
// relation writes and the edge caches behind it.
package ingest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/store"
)

// Edge is the identity of a relation for deduplication: two relations with
// the same endpoints and kind are the same edge.
type Edge struct {
	LHS  int64
	RHS  int64
	Kind store.RelationKind
}

func EdgeOf(r *store.Relation) Edge {
	return Edge{LHS: r.LHS, RHS: r.RHS, Kind: r.Kind}
}

func (e Edge) String() string {
	return fmt.Sprintf("%d -%s-> %d", e.LHS, e.Kind, e.RHS)
}

// key encodes e as lhs|rhs|kind with fixed-width big-endian identifiers.
func (e Edge) key() []byte {
	k := make([]byte, 16+len(e.Kind))
	binary.BigEndian.PutUint64(k[0:8], uint64(e.LHS))
	binary.BigEndian.PutUint64(k[8:16], uint64(e.RHS))
	copy(k[16:], e.Kind)
	return k
}

// EdgeCache remembers which edges have been written. Implementations need
// not be safe for concurrent use; the Session serializes access.
type EdgeCache interface {
	Contains(e Edge) (bool, error)
	Add(e Edge) error
	Remove(e Edge) error
	// Reset forgets every edge.
	Reset() error
	Len() (int, error)
	Close() error
}

// MemoryCache is an EdgeCache that lives for one process.
type MemoryCache struct {
	mu    sync.Mutex
	edges map[Edge]struct{}
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{edges: make(map[Edge]struct{})}
}

func (c *MemoryCache) Contains(e Edge) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.edges[e]
	return ok, nil
}

func (c *MemoryCache) Add(e Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges[e] = struct{}{}
	return nil
}

func (c *MemoryCache) Remove(e Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.edges, e)
	return nil
}

func (c *MemoryCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges = make(map[Edge]struct{})
	return nil
}

func (c *MemoryCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.edges), nil
}

func (c *MemoryCache) Close() error { return nil }

// OpenCache builds the edge cache selected by cfg: an in-process cache for
// the reset policy, a badger cache under cfg.CacheDir for persist.
func OpenCache(cfg config.IngestConfig, logger *log.Logger) (EdgeCache, error) {
	switch cfg.EdgeCache {
	case "", config.EdgeCacheReset:
		return NewMemoryCache(), nil
	case config.EdgeCachePersist:
		return OpenBadgerCache(BadgerOptions{Dir: cfg.CacheDir, Logger: logger})
	}
	return nil, fmt.Errorf("ingest: unknown edge cache policy %q", cfg.EdgeCache)
}
