package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "file_id", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "file_id=7")
}

func TestNew_BadLevel(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestPrintf_RoutesLevels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	p := Printf{L: l}
	p.Infof("compaction %d\n", 1)
	p.Errorf("value log %s\n", "broken")

	out := buf.String()
	assert.NotContains(t, out, "compaction")
	assert.Contains(t, out, "value log broken")
}
