package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/orchard"
	"github.com/jward/orchard/internal/graph"
	"github.com/jward/orchard/internal/runtime"
	"github.com/jward/orchard/internal/sidecar"
)

var (
	flagKind    string
	flagImage   string
	flagOut     string
	flagCallMap bool
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <path>",
	Short: "Draw a file or directory diagram; without --kind, list the available kinds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			q := e.Query()
			f, err := resolveFile(ctx, q, args[0])
			if err != nil {
				return outputError("diagram", err)
			}
			if flagKind == "" {
				types, err := q.FileDiagramTypes(ctx, f.ID)
				if err != nil {
					return outputError("diagram", err)
				}
				out := make(map[string]int32, len(types))
				for name, k := range types {
					out[name] = int32(k)
				}
				return outputResult(CLIResult{Command: "diagram", Results: out})
			}

			kind, err := graph.ParseDiagramKind(flagKind)
			if err != nil {
				return outputError("diagram", err)
			}
			format, err := graph.ParseFormat(flagImage)
			if err != nil {
				return outputError("diagram", err)
			}
			data, err := q.FileDiagram(ctx, f.ID, kind, format)
			if err != nil {
				return outputError("diagram", err)
			}
			if len(data) == 0 {
				logger.Warn("diagram is empty", "path", f.Path, "kind", kind)
				return nil
			}
			return writeImage(data)
		})
	},
}

var legendCmd = &cobra.Command{
	Use:   "legend <kind>",
	Short: "Draw the legend of a diagram kind (e.g. SUBSYSTEM_DEPENDENCY)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := graph.ParseDiagramKind(args[0])
		if err != nil {
			return err
		}
		data, err := graph.Legend(kind)
		if err != nil {
			return err
		}
		return writeImage(data)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file> <line> <col>",
	Short: "Ask the file's language worker about the node at a position",
	Long:  "Starts the language worker for the file if needed and reports the node at the position with its properties, reference kinds and diagram kinds. With --call-diagram the function call diagram is written instead.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			f, line, col, err := resolvePosition(ctx, e.Query(), args)
			if err != nil {
				return outputError("inspect", err)
			}
			lang, ok := runtime.LanguageForTag(f.Type)
			if !ok {
				return outputError("inspect", fmt.Errorf("no language worker for %s files", f.Type))
			}
			bridge, err := e.Sidecar(ctx, lang.Name)
			if err != nil {
				return outputError("inspect", err)
			}

			node, err := bridge.AstNodeInfoByPosition(ctx, sidecar.FilePosition{FileID: f.ID, Line: line, Col: col})
			if err != nil {
				return outputError("inspect", err)
			}
			if node == nil {
				return outputResult(CLIResult{Command: "inspect"})
			}
			if flagCallMap {
				data, err := bridge.Diagram(ctx, node.ID, graph.FunctionCall)
				if err != nil {
					return outputError("inspect", err)
				}
				return writeImage(data)
			}

			result := CLIInspect{Node: infoToCLINode(node)}
			if result.Properties, err = bridge.Properties(ctx, node.ID); err != nil {
				return outputError("inspect", err)
			}
			if result.References, err = bridge.ReferenceTypes(ctx, node.ID); err != nil {
				return outputError("inspect", err)
			}
			if result.Diagrams, err = bridge.DiagramTypes(ctx, node.ID); err != nil {
				return outputError("inspect", err)
			}
			return outputResult(CLIResult{Command: "inspect", Results: result})
		})
	},
}

func init() {
	diagramCmd.Flags().StringVar(&flagKind, "kind", "", "diagram kind: FILE_USAGES|SUBSYSTEM_DEPENDENCY|EXTERNAL_USERS|DEPENDENCY_CYCLES")
	diagramCmd.Flags().StringVar(&flagImage, "image", "svg", "image format: svg|dot")
	inspectCmd.Flags().BoolVar(&flagCallMap, "call-diagram", false, "write the function call diagram of the node as SVG")
	for _, c := range []*cobra.Command{diagramCmd, legendCmd, inspectCmd} {
		c.Flags().StringVarP(&flagOut, "out", "o", "", "write the image to a file instead of stdout")
	}
}

// writeImage writes diagram bytes to --out or stdout.
func writeImage(data []byte) error {
	var w io.Writer = os.Stdout
	if flagOut != "" {
		f, err := os.Create(flagOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", flagOut, err)
		}
		defer f.Close()
		w = f
	}
	_, err := w.Write(data)
	return err
}
