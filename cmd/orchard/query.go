package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/orchard"
)

var (
	flagTypes    []string
	flagKinds    []string
	flagIncoming bool
	flagNodeID   int64
)

var filesCmd = &cobra.Command{
	Use:   "files <dir>",
	Short: "List the direct children of a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			q := e.Query()
			dir, err := resolveFile(ctx, q, args[0])
			if err != nil {
				return outputError("files", err)
			}
			children, err := q.Children(ctx, dir.ID, flagTypes...)
			if err != nil {
				return outputError("files", err)
			}
			out := make([]CLIFile, len(children))
			for i, f := range children {
				out[i] = toCLIFile(f)
			}
			return outputResult(CLIResult{Command: "files", Results: out})
		})
	},
}

var relationsCmd = &cobra.Command{
	Use:   "relations <id>",
	Short: "List the relations of a file or node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return err
		}
		dir := orchard.Uses
		if flagIncoming {
			dir = orchard.UsedBy
		}
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			q := e.Query()
			rels, err := q.Relations(ctx, id, dir, flagKinds...)
			if err != nil {
				return outputError("relations", err)
			}
			out := make([]CLIRelation, len(rels))
			for i, r := range rels {
				other := r.RHS
				if flagIncoming {
					other = r.LHS
				}
				out[i] = CLIRelation{ID: r.ID, Kind: r.Kind, LHS: r.LHS, RHS: r.RHS, Other: describe(ctx, q, other).Name}
			}
			return outputResult(CLIResult{Command: "relations", Results: out})
		})
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node [<file> <line> <col>]",
	Short: "Show the innermost node at a position, or the node given by --id",
	Args:  cobra.RangeArgs(0, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			n, err := resolveNode(ctx, e.Query(), args)
			if err != nil {
				return outputError("node", err)
			}
			var result any
			if n != nil {
				result = describe(ctx, e.Query(), n.ID)
			}
			return outputResult(CLIResult{Command: "node", Results: result})
		})
	},
}

var closureCmd = &cobra.Command{
	Use:   "closure <id>",
	Short: "List everything an entity uses transitively (or is used by, with --incoming)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIDArg(args[0])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			q := e.Query()
			var set *orchard.UsageSet
			if flagIncoming {
				set, err = q.TransitiveUsedBy(ctx, id, flagKinds...)
			} else {
				set, err = q.TransitiveUses(ctx, id, flagKinds...)
			}
			if err != nil {
				return outputError("closure", err)
			}
			out := []CLINode{}
			if set != nil {
				for _, id := range set.IDs {
					out = append(out, describe(ctx, q, id))
				}
			}
			return outputResult(CLIResult{Command: "closure", Results: out})
		})
	},
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles <dir>",
	Short: "Report the dependency cycles among the files under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *orchard.Engine) error {
			q := e.Query()
			dir, err := resolveFile(ctx, q, args[0])
			if err != nil {
				return outputError("cycles", err)
			}
			cycles, err := q.CircularDependencies(ctx, dir.ID)
			if err != nil {
				return outputError("cycles", err)
			}
			return outputResult(CLIResult{Command: "cycles", Results: cycles})
		})
	},
}

func init() {
	filesCmd.Flags().StringSliceVar(&flagTypes, "type", nil, "file type filter (e.g. GO, DIR)")
	for _, c := range []*cobra.Command{relationsCmd, closureCmd} {
		c.Flags().StringSliceVar(&flagKinds, "kind", nil, "relation kind filter: override|alias|assign|declcontext|call|usage")
		c.Flags().BoolVar(&flagIncoming, "incoming", false, "follow relations toward the entity instead of away from it")
	}
	nodeCmd.Flags().Int64Var(&flagNodeID, "id", 0, "node identifier")
}

// --- Helpers ---

// resolveFile looks up a path argument, relative paths taken from the
// working directory.
func resolveFile(ctx context.Context, q *orchard.QueryBuilder, arg string) (*orchard.File, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("resolving file path %q: %w", arg, err)
	}
	f, err := q.File(ctx, filepath.ToSlash(abs))
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("not indexed: %s", abs)
	}
	return f, nil
}

// resolveNode resolves either --id or a <file> <line> <col> position.
func resolveNode(ctx context.Context, q *orchard.QueryBuilder, args []string) (*orchard.AstNode, error) {
	if flagNodeID != 0 {
		return q.Node(ctx, flagNodeID)
	}
	f, line, col, err := resolvePosition(ctx, q, args)
	if err != nil {
		return nil, err
	}
	return q.NodeAt(ctx, f.Path, line, col)
}

func resolvePosition(ctx context.Context, q *orchard.QueryBuilder, args []string) (*orchard.File, int, int, error) {
	if len(args) < 3 {
		return nil, 0, 0, fmt.Errorf("requires either <file> <line> <col> arguments or --id flag")
	}
	f, err := resolveFile(ctx, q, args[0])
	if err != nil {
		return nil, 0, 0, err
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return nil, 0, 0, err
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return nil, 0, 0, err
	}
	return f, line, col, nil
}

// describe names an entity for output. Identifiers that do not resolve are
// reported as such rather than failing the command.
func describe(ctx context.Context, q *orchard.QueryBuilder, id int64) CLINode {
	if f, err := q.FileByID(ctx, id); err == nil && f != nil {
		kind := "file"
		if f.IsDirectory() {
			kind = "directory"
		}
		return CLINode{ID: f.ID, Name: filepath.Base(f.Path), Kind: kind, FileID: f.ID, File: f.Path}
	}
	n, err := q.Node(ctx, id)
	if err != nil || n == nil {
		return CLINode{ID: id, Name: "#" + strconv.FormatInt(id, 10), Kind: "unresolved"}
	}
	var file string
	if f, err := q.FileByID(ctx, n.FileID); err == nil && f != nil {
		file = f.Path
	}
	return toCLINode(n, file)
}

// parseIntArg parses a positional argument as a 1-based position.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s %q: positions are 1-based", name, value)
	}
	return n, nil
}

func parseIDArg(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", value)
	}
	return id, nil
}
