package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestResolveDBPath(t *testing.T) {
	// Mutates the --db flag; not parallel.
	old := flagDB
	t.Cleanup(func() { flagDB = old })

	flagDB = ""
	assert.Equal(t, filepath.Join("/repo", ".orchard", "index.db"), resolveDBPath("/repo"))

	flagDB = "custom.db"
	assert.Equal(t, filepath.Join("/repo", "custom.db"), resolveDBPath("/repo"))

	flagDB = "/abs/index.db"
	assert.Equal(t, "/abs/index.db", resolveDBPath("/repo"))
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	require.NoError(t, validateFormat("json"))
	require.NoError(t, validateFormat("text"))
	require.Error(t, validateFormat("yaml"))
}

func TestParseIntArg(t *testing.T) {
	t.Parallel()
	n, err := parseIntArg("12", "line")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = parseIntArg("0", "line")
	require.Error(t, err)
	_, err = parseIntArg("x", "col")
	require.Error(t, err)
}

func TestWriteResult_JSONEnvelope(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	files := []CLIFile{{ID: 3, Path: "/a/b.x", Type: "X", ParseStatus: "full"}}
	require.NoError(t, writeResult(&buf, "json", CLIResult{Command: "files", Results: files}))

	var decoded struct {
		Command string    `json:"command"`
		Results []CLIFile `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "files", decoded.Command)
	assert.Equal(t, files, decoded.Results)
}

func TestWriteResult_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cycles := [][]string{{"/c/a.x", "/c/b.x"}}
	require.NoError(t, writeResult(&buf, "text", CLIResult{Command: "cycles", Results: cycles}))
	assert.Equal(t, "1: /c/a.x -> /c/b.x -> /c/a.x\n", buf.String())

	buf.Reset()
	require.NoError(t, writeResult(&buf, "text", CLIResult{Command: "cycles", Results: [][]string{}}))
	assert.Equal(t, "No dependency cycles\n", buf.String())

	buf.Reset()
	require.Error(t, writeResult(&buf, "text", CLIResult{Results: 42}))
}
