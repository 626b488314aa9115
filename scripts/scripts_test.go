package scripts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/orchard/internal/runtime"
	"github.com/jward/orchard/internal/store"
	"github.com/jward/orchard/scripts"
)

const libSource = `package lib

// Helper does the work.
func Helper() int { return 1 }

type Box struct{}

func (b *Box) Open() int { return Helper() }
`

const mainSource = `package main

import "example/lib"

func local() int { return 2 }

func main() {
	lib.Helper()
	local()
	local()
}
`

type env struct {
	t     *testing.T
	store *store.Store
	dir   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	return &env{t: t, store: s, dir: t.TempDir()}
}

// analyze writes src, runs the analyze script into a batch and commits it.
func (e *env) analyze(name, src string) int64 {
	e.t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(p, []byte(src), 0o644))

	ctx := context.Background()
	var fileID int64
	require.NoError(e.t, e.store.Update(ctx, func(tx *store.Tx) error {
		f, err := tx.EnsureFilePath(p, "GO")
		fileID = f.ID
		return err
	}))

	batch := store.NewBatch(fileID)
	rt := runtime.NewRuntime("", runtime.WithFS(scripts.FS), runtime.WithWriter(batch))
	require.NoError(e.t, rt.RunScript(ctx, runtime.AnalyzeScriptPath("go"), map[string]any{
		"file_path": p,
		"file_id":   fileID,
	}))
	require.NoError(e.t, e.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CommitBatch(batch)
		return err
	}))
	return fileID
}

// link runs the link script and commits its relations as they were emitted.
func (e *env) link(name string, fileID int64) {
	e.t.Helper()
	ctx := context.Background()
	batch := store.NewBatch(fileID)
	rt := runtime.NewRuntime("", runtime.WithFS(scripts.FS), runtime.WithWriter(batch), runtime.WithReader(e.store))
	require.NoError(e.t, rt.RunScript(ctx, runtime.LinkScriptPath("go"), map[string]any{
		"file_path": filepath.Join(e.dir, name),
		"file_id":   fileID,
	}))
	require.NoError(e.t, e.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CommitBatch(batch)
		return err
	}))
}

func nodeNamed(t *testing.T, s *store.Store, name string) *store.AstNode {
	t.Helper()
	nodes, err := s.AstNodesByName(context.Background(), name)
	require.NoError(t, err)
	require.Len(t, nodes, 1, name)
	return nodes[0]
}

func TestGoAnalyze_EmitsDeclarations(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	fileID := e.analyze("lib.go", libSource)
	ctx := context.Background()

	helper := nodeNamed(t, e.store, "Helper")
	assert.Equal(t, "function", helper.Kind)
	assert.Equal(t, fileID, helper.FileID)
	assert.Equal(t, 4, helper.StartLine)
	assert.Equal(t, "Helper does the work.", helper.Documentation)

	box := nodeNamed(t, e.store, "Box")
	assert.Equal(t, "type", box.Kind)
	assert.Equal(t, "struct_type", box.SymbolType)

	open := nodeNamed(t, e.store, "Open")
	assert.Equal(t, "method", open.Kind)
	assert.Equal(t, "Box", open.SymbolType)

	ctxRels, err := e.store.RelationsOf(ctx, open.ID, store.Outgoing, store.DeclContext)
	require.NoError(t, err)
	require.Len(t, ctxRels, 1)
	assert.Equal(t, box.ID, ctxRels[0].RHS, "method's context is its receiver type")

	ctxRels, err = e.store.RelationsOf(ctx, helper.ID, store.Outgoing, store.DeclContext)
	require.NoError(t, err)
	require.Len(t, ctxRels, 1)
	assert.Equal(t, fileID, ctxRels[0].RHS)
}

func TestGoLink_EmitsCallsAndUsage(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	libID := e.analyze("lib.go", libSource)
	mainID := e.analyze("main.go", mainSource)
	e.link("lib.go", libID)
	e.link("main.go", mainID)
	ctx := context.Background()

	mainFn := nodeNamed(t, e.store, "main")
	calls, err := e.store.RelationsOf(ctx, mainFn.ID, store.Outgoing, store.Call)
	require.NoError(t, err)

	var callees []int64
	for _, r := range calls {
		callees = append(callees, r.RHS)
	}
	assert.Contains(t, callees, nodeNamed(t, e.store, "Helper").ID)
	assert.Contains(t, callees, nodeNamed(t, e.store, "local").ID)

	usage, err := e.store.RelationsOf(ctx, mainID, store.Outgoing, store.Usage)
	require.NoError(t, err)
	require.NotEmpty(t, usage)
	assert.Equal(t, libID, usage[0].RHS)

	// Open calls Helper within lib.go: a call but no usage.
	openCalls, err := e.store.RelationsOf(ctx, nodeNamed(t, e.store, "Open").ID, store.Outgoing, store.Call)
	require.NoError(t, err)
	require.Len(t, openCalls, 1)
	libUsage, err := e.store.RelationsOf(ctx, libID, store.Outgoing, store.Usage)
	require.NoError(t, err)
	assert.Empty(t, libUsage)
}
