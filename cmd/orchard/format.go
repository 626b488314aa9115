package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

func formatFilesText(w io.Writer, files []CLIFile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tTYPE\tSTATUS")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.ID, f.Path, f.Type, f.ParseStatus)
	}
	tw.Flush()
}

func formatNodesText(w io.Writer, nodes []CLINode) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tFILE\tLINE")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", n.ID, n.Name, n.Kind, n.File, n.StartLine)
	}
	tw.Flush()
}

func formatRelationsText(w io.Writer, rels []CLIRelation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tLHS\tRHS\tOTHER")
	for _, r := range rels {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", r.ID, r.Kind, r.LHS, r.RHS, r.Other)
	}
	tw.Flush()
}

func formatCyclesText(w io.Writer, cycles [][]string) {
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No dependency cycles")
		return
	}
	for i, c := range cycles {
		fmt.Fprintf(w, "%d: %s -> %s\n", i+1, strings.Join(c, " -> "), c[0])
	}
}

func formatKindsText(w io.Writer, kinds map[string]int32) {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s (%d)\n", name, kinds[name])
	}
}

func formatInspectText(w io.Writer, in CLIInspect) {
	formatNodesText(w, []CLINode{in.Node})
	if len(in.Properties) > 0 {
		fmt.Fprintln(w, "\nProperties:")
		keys := make([]string, 0, len(in.Properties))
		for k := range in.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, in.Properties[k])
		}
	}
	if len(in.References) > 0 {
		fmt.Fprintln(w, "\nReferences:")
		formatKindsText(w, in.References)
	}
	if len(in.Diagrams) > 0 {
		fmt.Fprintln(w, "\nDiagrams:")
		formatKindsText(w, in.Diagrams)
	}
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIFile:
		formatFilesText(w, v)
	case []CLINode:
		formatNodesText(w, v)
	case CLINode:
		formatNodesText(w, []CLINode{v})
	case []CLIRelation:
		formatRelationsText(w, v)
	case [][]string:
		formatCyclesText(w, v)
	case map[string]int32:
		formatKindsText(w, v)
	case CLIInspect:
		formatInspectText(w, v)
	case nil:
		// No output for nil results (e.g., node with no match).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	return writeResult(os.Stdout, flagFormat, result)
}

func writeResult(w io.Writer, format string, result CLIResult) error {
	if format == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError reports a command failure in the selected format.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	_ = writeResult(os.Stdout, "json", CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
