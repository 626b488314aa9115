// Package orchard indexes source trees into a shared identity and relation
// model and answers structural queries over it.
//
// # Pipeline
//
// [Engine.IndexDirectory] discovers files, records them with their parent
// directories and runs two Risor scripts per language:
//
//  1. analyze/<language>.risor emits AST nodes and declaration-context
//     relations for one file. Files are analyzed in parallel into batches
//     and committed serially.
//
//  2. link/<language>.risor resolves names against the whole model and
//     emits call relations between nodes and usage relations between files.
//     Every such relation goes through one ingest session whose edge cache
//     keeps it from being written twice.
//
// Unchanged files are skipped by content hash. When a file changes, its old
// nodes and relations are superseded and the files whose relations pointed
// into it are linked again.
//
// # Queries
//
// [Engine.Query] returns a [QueryBuilder] for file, node and relation
// lookups, transitive uses and used-by sets, circular dependency reports
// and file-level diagrams rendered to SVG.
//
// # Sidecars
//
// Language workers run out of process and serve a fixed RPC contract.
// [Engine.Sidecar] starts one on demand and returns its bridge; see the
// orchard-worker command for the bundled implementation.
package orchard
