package orchard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jward/orchard/internal/config"
	"github.com/jward/orchard/internal/ingest"
	"github.com/jward/orchard/internal/runtime"
	"github.com/jward/orchard/internal/store"
)

// IndexReport summarizes one indexing run.
type IndexReport struct {
	Session   string
	Seen      int
	Skipped   int
	Analyzed  int
	Linked    int
	Relations ingest.Stats
	Duration  time.Duration
}

// workItem is one changed file moving through the pipeline.
type workItem struct {
	path   string
	lang   runtime.Language
	fileID int64
	batch  *store.Batch
	err    error
}

// linkTarget is a file whose call and usage relations are rebuilt.
type linkTarget struct {
	fileID int64
	path   string
	lang   runtime.Language
}

// IndexFiles indexes the given paths in four phases:
//
//	Phase A (serial):   hash check, supersede old data, record files.
//	Phase B (parallel): run analyze scripts into per-file batches.
//	Phase C (serial):   commit batches.
//	Link (parallel):    run link scripts for changed files and the files
//	                    whose relations pointed into them; every relation goes
//	                    through the run's ingest.Session.
//
// Failures on individual files are collected; the other files still finish.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) (*IndexReport, error) {
	start := time.Now()
	session, err := e.beginSession(ctx)
	if err != nil {
		return nil, err
	}
	report := &IndexReport{Session: session.ID, Seen: len(paths)}
	logger := session.Logger()

	// ---- Phase A: serial file preparation ----
	var (
		items []*workItem
		blast = map[int64]bool{}
		errs  []error
	)
	for _, p := range paths {
		item, related, err := e.prepareFile(ctx, session, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("prepare %s: %w", p, err))
			continue
		}
		if item == nil {
			report.Skipped++
			continue
		}
		items = append(items, item)
		for _, id := range related {
			blast[id] = true
		}
	}

	// ---- Phase B: parallel analysis ----
	if err := ingest.ForEach(ctx, e.workers, items, e.analyzeFile); err != nil && ctx.Err() != nil {
		return nil, err
	}

	// ---- Phase C: serial commit ----
	var targets []linkTarget
	for _, item := range items {
		if item.err != nil {
			errs = append(errs, fmt.Errorf("analyze %s: %w", item.path, item.err))
			continue
		}
		if item.batch == nil {
			// No analyzer for this language; the file is recorded only.
			continue
		}
		if err := e.commitFile(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", item.path, err))
			continue
		}
		report.Analyzed++
		delete(blast, item.fileID)
		targets = append(targets, linkTarget{fileID: item.fileID, path: item.path, lang: item.lang})
	}

	// ---- Link ----
	more, err := e.moreLinkTargets(ctx, targets, blast)
	if err != nil {
		errs = append(errs, err)
	}
	targets = append(targets, more...)
	targets = e.withLinkScript(targets)

	linkErr := ingest.ForEach(ctx, e.workers, targets, func(ctx context.Context, t linkTarget) error {
		if err := e.linkFile(ctx, session, t); err != nil {
			return fmt.Errorf("link %s: %w", t.path, err)
		}
		return nil
	})
	if linkErr != nil {
		if ctx.Err() != nil {
			return nil, linkErr
		}
		errs = append(errs, linkErr)
	}

	report.Linked = len(targets)
	report.Relations = session.Stats()
	report.Duration = time.Since(start)
	logger.Info("indexed",
		"seen", report.Seen, "skipped", report.Skipped, "analyzed", report.Analyzed,
		"linked", report.Linked, "relations", report.Relations.Added,
		"duplicates", report.Relations.Duplicates, "took", report.Duration.Round(time.Millisecond))

	if len(errs) > 0 {
		return report, fmt.Errorf("indexing had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

// beginSession starts a run. Under the reset policy the edge cache is
// cleared. A persistent cache is also cleared when the database holds no
// files, since its edges then describe another database.
func (e *Engine) beginSession(ctx context.Context) (*ingest.Session, error) {
	reset := e.cfg.Ingest.EdgeCache != config.EdgeCachePersist
	if !reset {
		err := e.store.View(ctx, func(tx *store.Tx) error {
			n, err := tx.CountFiles()
			reset = n == 0
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("orchard: begin session: %w", err)
		}
	}
	if reset {
		if err := e.cache.Reset(); err != nil {
			return nil, fmt.Errorf("orchard: reset edge cache: %w", err)
		}
	}
	return ingest.NewSession(e.store, e.cache, ingest.WithSessionLogger(e.logger)), nil
}

// prepareFile does Phase A for one path. It returns a nil item for files
// that are unsupported, filtered out or unchanged, and the other files whose
// relations into this file's superseded nodes were removed.
func (e *Engine) prepareFile(ctx context.Context, session *ingest.Session, p string) (*workItem, []int64, error) {
	lang, ok := runtime.LanguageForFile(p)
	if !ok {
		return nil, nil, nil
	}
	if e.languages != nil && !e.languages[lang.Name] {
		return nil, nil, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, nil, err
	}
	abs = filepath.ToSlash(abs)

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	hash := store.ContentHash(content)
	analyzable := e.hasScript(runtime.AnalyzeScriptPath(lang.Name))

	var (
		item    *workItem
		removed []*store.Relation
		related []int64
	)
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		existing, err := tx.FileByPath(abs)
		if err != nil {
			return err
		}
		if existing != nil && existing.Hash == hash && (existing.ParseStatus == store.FullyParsed || !analyzable) {
			return nil
		}

		f := existing
		if f == nil {
			if f, err = tx.EnsureFilePath(abs, lang.Tag); err != nil {
				return err
			}
		} else {
			if removed, err = tx.DeleteFileData(f.ID); err != nil {
				return err
			}
			if related, err = tx.BlastRadius(f.ID, removed); err != nil {
				return err
			}
		}
		if err := tx.SetContent(f.ID, content); err != nil {
			return err
		}
		if err := tx.SetParseStatus(f.ID, store.Unparsed); err != nil {
			return err
		}
		item = &workItem{path: abs, lang: lang, fileID: f.ID}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if err := session.Forget(removed); err != nil {
		return nil, nil, err
	}
	return item, related, nil
}

// analyzeFile runs the analyze script for one file into a batch. Each call
// gets its own Runtime so tree-sitter state is not shared between goroutines.
func (e *Engine) analyzeFile(ctx context.Context, item *workItem) error {
	scriptPath := runtime.AnalyzeScriptPath(item.lang.Name)
	if !e.hasScript(scriptPath) {
		return nil
	}
	batch := store.NewBatch(item.fileID)
	rt := e.newRuntime(runtime.WithWriter(batch))
	err := rt.RunScript(ctx, scriptPath, map[string]any{
		"file_path": item.path,
		"file_id":   item.fileID,
	})
	if err != nil {
		item.err = err
		return err
	}
	item.batch = batch
	return nil
}

// commitFile writes an analyzed file's batch. A file without a link script
// is then complete; others wait for the link pass.
func (e *Engine) commitFile(ctx context.Context, item *workItem) error {
	status := store.PartialParsed
	if !e.hasScript(runtime.LinkScriptPath(item.lang.Name)) {
		status = store.FullyParsed
	}
	return e.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.CommitBatch(item.batch); err != nil {
			return err
		}
		return tx.SetParseStatus(item.fileID, status)
	})
}

// moreLinkTargets resolves the extra files to relink: the blast radius, or
// every source file under WithFullLink.
func (e *Engine) moreLinkTargets(ctx context.Context, have []linkTarget, blast map[int64]bool) ([]linkTarget, error) {
	seen := make(map[int64]bool, len(have))
	for _, t := range have {
		seen[t.fileID] = true
	}

	var out []linkTarget
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var files []*store.File
		if e.fullLink {
			for _, lang := range runtime.Languages() {
				tagged, err := tx.FilesByType(lang.Tag)
				if err != nil {
					return err
				}
				files = append(files, tagged...)
			}
		} else {
			for id := range blast {
				f, err := tx.FileByID(id)
				if err != nil {
					return err
				}
				if f == nil {
					e.logger.Warn("blast radius file does not resolve", "file_id", id)
					continue
				}
				files = append(files, f)
			}
		}
		for _, f := range files {
			if seen[f.ID] {
				continue
			}
			lang, ok := runtime.LanguageForTag(f.Type)
			if !ok || (e.languages != nil && !e.languages[lang.Name]) {
				continue
			}
			seen[f.ID] = true
			out = append(out, linkTarget{fileID: f.ID, path: f.Path, lang: lang})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("orchard: link targets: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func (e *Engine) withLinkScript(targets []linkTarget) []linkTarget {
	out := targets[:0]
	for _, t := range targets {
		if e.hasScript(runtime.LinkScriptPath(t.lang.Name)) {
			out = append(out, t)
		}
	}
	return out
}

// linkFile rebuilds the call and usage relations of one file.
func (e *Engine) linkFile(ctx context.Context, session *ingest.Session, t linkTarget) error {
	var removed []*store.Relation
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		removed, err = tx.DeleteLinks(t.fileID)
		return err
	})
	if err != nil {
		return err
	}
	if err := session.Forget(removed); err != nil {
		return err
	}

	w := &linkWriter{batch: store.NewBatch(t.fileID)}
	rt := e.newRuntime(runtime.WithWriter(w), runtime.WithReader(e.store))
	err = rt.RunScript(ctx, runtime.LinkScriptPath(t.lang.Name), map[string]any{
		"file_path": t.path,
		"file_id":   t.fileID,
	})
	if err != nil {
		return err
	}
	if _, err := session.AddRelations(ctx, w.batch.Relations); err != nil {
		return err
	}
	return e.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetParseStatus(t.fileID, store.FullyParsed)
	})
}

// linkWriter buffers the relations a link script emits. Link scripts only
// connect existing entities.
type linkWriter struct {
	batch *store.Batch
}

func (w *linkWriter) InsertAstNode(n *store.AstNode) (int64, error) {
	return 0, fmt.Errorf("link scripts cannot insert nodes (got %q)", n.Value)
}

func (w *linkWriter) InsertRelation(r *store.Relation) (int64, error) {
	return w.batch.InsertRelation(r)
}
