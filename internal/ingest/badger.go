package ingest

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/jward/orchard/internal/logging"
)

var edgePrefix = []byte("e/")

// BadgerCache is an EdgeCache persisted in a badger directory so that
// deduplication survives across indexing runs.
type BadgerCache struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadgerCache.
type BadgerOptions struct {
	// Dir holds the badger files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *log.Logger
}

func OpenBadgerCache(opts BadgerOptions) (*BadgerCache, error) {
	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("ingest: badger cache dir is required")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("ingest: create cache dir %s: %w", opts.Dir, err)
		}
		bo = badger.DefaultOptions(opts.Dir)
	}
	bo = bo.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bo = bo.WithLogger(logging.Printf{L: opts.Logger})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("ingest: open badger cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func edgeKey(e Edge) []byte {
	return append(append([]byte{}, edgePrefix...), e.key()...)
}

func (c *BadgerCache) Contains(e Edge) (bool, error) {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(edgeKey(e))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ingest: cache lookup %s: %w", e, err)
	}
	return true, nil
}

func (c *BadgerCache) Add(e Edge) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(edgeKey(e), nil)
	})
}

func (c *BadgerCache) Remove(e Edge) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(edgeKey(e))
	})
}

func (c *BadgerCache) Reset() error {
	return c.db.DropPrefix(edgePrefix)
}

func (c *BadgerCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = edgePrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}
