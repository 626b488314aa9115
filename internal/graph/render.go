package graph

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// Format selects a serialization for Render.
type Format string

const (
	FormatDOT Format = "dot"
	FormatSVG Format = "svg"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatDOT, FormatSVG:
		return Format(s), nil
	}
	return "", fmt.Errorf("graph: unknown format %q (want dot|svg)", s)
}

// Renderer turns a Graph into bytes. SVG goes through the Graphviz dot
// binary when DotBinary is set and falls back to the built-in layered
// layout when it is empty or fails.
type Renderer struct {
	DotBinary string
}

var (
	defaultRenderer     Renderer
	defaultRendererOnce sync.Once
)

// DefaultRenderer uses dot from PATH when present.
func DefaultRenderer() Renderer {
	defaultRendererOnce.Do(func() {
		if p, err := exec.LookPath("dot"); err == nil {
			defaultRenderer.DotBinary = p
		}
	})
	return defaultRenderer
}

// Render serializes g with the default renderer.
func (g *Graph) Render(format Format) ([]byte, error) {
	return DefaultRenderer().Render(context.Background(), g, format)
}

func (r Renderer) Render(ctx context.Context, g *Graph, format Format) ([]byte, error) {
	switch format {
	case FormatDOT:
		return g.DOT(), nil
	case FormatSVG:
		if r.DotBinary != "" {
			if out, err := r.runDot(ctx, g); err == nil {
				return out, nil
			}
		}
		return g.layoutSVG(), nil
	}
	return nil, fmt.Errorf("graph: unknown format %q", format)
}

func (r Renderer) runDot(ctx context.Context, g *Graph) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.DotBinary, "-Tsvg")
	cmd.Stdin = bytes.NewReader(g.DOT())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("graph: dot: %w: %s", err, stderr.String())
	}
	return out, nil
}
