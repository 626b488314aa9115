package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func twoFiles(t *testing.T, s *store.Store) (a, b int64) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		fa, err := tx.EnsureFilePath("/p/a.x", "X")
		if err != nil {
			return err
		}
		fb, err := tx.EnsureFilePath("/p/b.x", "X")
		if err != nil {
			return err
		}
		a, b = fa.ID, fb.ID
		return nil
	})
	require.NoError(t, err)
	return a, b
}

func countRelations(t *testing.T, s *store.Store, lhs, rhs int64, kind store.RelationKind) int {
	t.Helper()
	var n int
	require.NoError(t, s.View(context.Background(), func(tx *store.Tx) error {
		var err error
		n, err = tx.CountRelations(lhs, rhs, kind)
		return err
	}))
	return n
}

func TestSession_ConcurrentAddsProduceOneEdge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, b := twoFiles(t, s)
	sess := NewSession(s, nil)

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := sess.AddRelation(context.Background(), store.Relation{LHS: a, RHS: b, Kind: store.Usage})
			assert.NoError(t, err)
			if added {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, countRelations(t, s, a, b, store.Usage))
	assert.Equal(t, Stats{Added: 1, Duplicates: workers - 1}, sess.Stats())
}

func TestSession_KindIsPartOfTheEdge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, b := twoFiles(t, s)
	sess := NewSession(s, nil)
	ctx := context.Background()

	n, err := sess.AddRelations(ctx, []store.Relation{
		{LHS: a, RHS: b, Kind: store.Usage},
		{LHS: a, RHS: b, Kind: store.Usage},
		{LHS: a, RHS: b, Kind: store.Alias},
		{LHS: b, RHS: a, Kind: store.Usage},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, countRelations(t, s, a, b, store.Usage))
	assert.Equal(t, 1, countRelations(t, s, a, b, store.Alias))
	assert.Equal(t, 1, countRelations(t, s, b, a, store.Usage))
}

func TestSession_ForgetAllowsRewrite(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, b := twoFiles(t, s)
	sess := NewSession(s, nil)
	ctx := context.Background()

	_, err := sess.AddRelation(ctx, store.Relation{LHS: a, RHS: b, Kind: store.Usage})
	require.NoError(t, err)

	var removed []*store.Relation
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		var err error
		removed, err = tx.DeleteLinks(a)
		return err
	}))
	require.Len(t, removed, 1)
	require.NoError(t, sess.Forget(removed))

	added, err := sess.AddRelation(ctx, store.Relation{LHS: a, RHS: b, Kind: store.Usage})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, countRelations(t, s, a, b, store.Usage))
}

func TestSession_FailedWriteIsNotCached(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, b := twoFiles(t, s)
	sess := NewSession(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sess.AddRelation(ctx, store.Relation{LHS: a, RHS: b, Kind: store.Usage})
	require.Error(t, err)

	added, err := sess.AddRelation(context.Background(), store.Relation{LHS: a, RHS: b, Kind: store.Usage})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestSession_PersistentCacheSpansSessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a, b := twoFiles(t, s)
	dir := t.TempDir()
	ctx := context.Background()
	edge := store.Relation{LHS: a, RHS: b, Kind: store.Usage}

	cache, err := OpenBadgerCache(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	first := NewSession(s, cache)
	added, err := first.AddRelation(ctx, edge)
	require.NoError(t, err)
	assert.True(t, added)
	require.NoError(t, cache.Close())

	cache, err = OpenBadgerCache(BadgerOptions{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	second := NewSession(s, cache)
	assert.NotEqual(t, first.ID, second.ID)

	added, err = second.AddRelation(ctx, edge)
	require.NoError(t, err)
	assert.False(t, added, "edge remembered from the previous run")
	assert.Equal(t, 1, countRelations(t, s, a, b, store.Usage))
}

func TestBadgerCache_Operations(t *testing.T) {
	t.Parallel()
	c, err := OpenBadgerCache(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	e := Edge{LHS: 1, RHS: 2, Kind: store.Call}
	ok, err := c.Contains(e)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Add(e))
	require.NoError(t, c.Add(Edge{LHS: 1, RHS: 2, Kind: store.Usage}))
	ok, err = c.Contains(e)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Remove(e))
	ok, err = c.Contains(e)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Reset())
	n, err = c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryCache_Reset(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	require.NoError(t, c.Add(Edge{LHS: 1, RHS: 2, Kind: store.Call}))
	require.NoError(t, c.Reset())
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenCache(t *testing.T) {
	t.Parallel()
	c, err := OpenCache(config.IngestConfig{EdgeCache: config.EdgeCacheReset}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = OpenCache(config.IngestConfig{EdgeCache: config.EdgeCachePersist, CacheDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerCache{}, c)
	require.NoError(t, c.Close())

	_, err = OpenCache(config.IngestConfig{EdgeCache: "sometimes"}, nil)
	assert.Error(t, err)
}

func TestForEach_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	var ran atomic.Int32

	err := ForEach(context.Background(), 2, []int{1, 2, 3, 4, 5}, func(_ context.Context, n int) error {
		ran.Add(1)
		if n%2 == 0 {
			return boom
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "had 2 error(s)")
	assert.Equal(t, int32(5), ran.Load())
}

func TestForEach_RespectsLimit(t *testing.T) {
	t.Parallel()
	var cur, peak atomic.Int32
	items := make([]int, 20)

	err := ForEach(context.Background(), 3, items, func(context.Context, int) error {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer cur.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
