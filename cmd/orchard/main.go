// Command orchard indexes a source tree into the relation store and answers
// structural queries and diagrams against it.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jward/orchard"
	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/logging"
	"github.com/jward/orchard/scripts"
)

var (
	flagDB       string
	flagFormat   string
	flagConfig   string
	flagLogLevel string
)

// Set by the root PersistentPreRunE.
var (
	cfg    *config.Config
	logger *log.Logger
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "orchard",
	Short:         "Relation graphs, diagrams and language workers for source trees",
	Long:          "Orchard indexes source code with tree-sitter and Risor scripts into a SQLite relation store, draws dependency diagrams and proxies language workers.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting cwd: %w", err)
		}
		root := findRepoRoot(cwd)
		cfg, err = config.Load(flagConfig, root, filepath.Join(root, ".orchard"))
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		logger, err = logging.New(logging.Options{Level: level, Prefix: "orchard"})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: the configured database relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: orchard.yaml in repo root)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(relationsCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(closureCmd)
	rootCmd.AddCommand(cyclesCmd)
	rootCmd.AddCommand(diagramCmd)
	rootCmd.AddCommand(legendCmd)
	rootCmd.AddCommand(inspectCmd)
}

var (
	flagForce      bool
	flagFullLink   bool
	flagLanguages  string
	flagScriptsDir string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a directory",
	Long:  "Parses source files with tree-sitter, runs analyze and link scripts, and writes nodes and relations to the SQLite database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	indexCmd.Flags().BoolVar(&flagFullLink, "full-link", false, "relink every file, not only changed files and their callers")
	indexCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,python)")
	indexCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "load scripts from disk path instead of embedded")
}

func runIndex(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	dbPath := resolveDBPath(findRepoRoot(targetDir))

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		logger.Info("cleared database", "path", dbPath)
	}

	engine, err := newEngine(dbPath)
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.IndexDirectory(cmd.Context(), targetDir)
	if report != nil {
		fmt.Fprintf(os.Stderr, "Indexed %s in %s (%d analyzed, %d skipped, %d linked, %d relations)\n",
			targetDir, report.Duration.Round(time.Millisecond),
			report.Analyzed, report.Skipped, report.Linked, report.Relations.Added)
		fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)
	}
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	return nil
}

// newEngine opens an Engine on dbPath with the command-line options.
func newEngine(dbPath string) (*orchard.Engine, error) {
	opts := []orchard.Option{
		orchard.WithConfig(cfg),
		orchard.WithLogger(logger),
		orchard.WithFullLink(flagFullLink),
	}
	if flagLanguages != "" {
		langs := strings.Split(flagLanguages, ",")
		for i := range langs {
			langs[i] = strings.TrimSpace(langs[i])
		}
		opts = append(opts, orchard.WithLanguages(langs...))
	}
	scriptsDir := flagScriptsDir
	if scriptsDir == "" {
		opts = append(opts, orchard.WithScriptsFS(scripts.FS))
	}

	engine, err := orchard.New(dbPath, scriptsDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from --db, else the configured
// database, relative paths anchored at repoRoot.
func resolveDBPath(repoRoot string) string {
	p := flagDB
	if p == "" && cfg != nil {
		p = cfg.Database
	}
	if p == "" {
		p = filepath.Join(".orchard", "index.db")
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}

// openEngine opens the Engine on the existing database for queries.
func openEngine() (*orchard.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	dbPath := resolveDBPath(findRepoRoot(cwd))
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'orchard index' first)", dbPath)
	}
	return newEngine(dbPath)
}

func withEngine(ctx context.Context, fn func(ctx context.Context, e *orchard.Engine) error) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
