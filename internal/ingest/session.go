package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/internal/store"
)

// Session is one indexing run. Every relation written during the run goes
// through it so that an edge is persisted at most once, however many
// analyzer goroutines discover it.
type Session struct {
	ID string

	store  *store.Store
	cache  EdgeCache
	logger *log.Logger

	mu         sync.Mutex
	added      int
	duplicates int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithSessionLogger(l *log.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession starts a run over st. The cache is borrowed: the caller
// decides whether to Reset it first and closes it afterwards. A nil cache
// gets a fresh MemoryCache.
func NewSession(st *store.Store, cache EdgeCache, opts ...SessionOption) *Session {
	if cache == nil {
		cache = NewMemoryCache()
	}
	s := &Session{
		ID:     uuid.NewString(),
		store:  st,
		cache:  cache,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.ID)
	return s
}

// AddRelation persists r unless the same edge was already written. It
// reports whether r was new.
func (s *Session) AddRelation(ctx context.Context, r store.Relation) (bool, error) {
	n, err := s.AddRelations(ctx, []store.Relation{r})
	return n == 1, err
}

// AddRelations persists the edges of rels not yet written, in one
// transaction, and returns how many were new. The check and the write happen
// under the session lock, so concurrent callers racing on the same edge
// produce exactly one relation.
func (s *Session) AddRelations(ctx context.Context, rels []store.Relation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]store.Relation, 0, len(rels))
	seen := make(map[Edge]bool, len(rels))
	for _, r := range rels {
		e := EdgeOf(&r)
		if seen[e] {
			s.duplicates++
			continue
		}
		seen[e] = true
		known, err := s.cache.Contains(e)
		if err != nil {
			return 0, err
		}
		if known {
			s.duplicates++
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	err := s.store.Update(ctx, func(tx *store.Tx) error {
		for i := range fresh {
			if _, err := tx.InsertRelation(&fresh[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ingest: add relations: %w", err)
	}

	// The cache only learns edges that committed.
	for i := range fresh {
		if err := s.cache.Add(EdgeOf(&fresh[i])); err != nil {
			return len(fresh), fmt.Errorf("ingest: cache edge: %w", err)
		}
	}
	s.added += len(fresh)
	return len(fresh), nil
}

// Forget drops removed relations from the cache so that a later pass can
// write them again.
func (s *Session) Forget(removed []*store.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range removed {
		if err := s.cache.Remove(EdgeOf(r)); err != nil {
			return fmt.Errorf("ingest: forget %s: %w", EdgeOf(r), err)
		}
	}
	return nil
}

// Stats summarizes the writes a session has seen.
type Stats struct {
	Added      int
	Duplicates int
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Added: s.added, Duplicates: s.duplicates}
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *log.Logger { return s.logger }
