// Package engine composes the index subsystems into the operations exposed
// by the tool surface: create, search, status, reindex, and delete, plus
// the watcher-driven incremental loop.
//
// One Engine owns one project's index directory. Mutating operations take
// the process-wide indexing lock and fail fast with BUSY when it is held;
// read-only operations never take it.
package engine

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/locusmcp/locus/internal/chunk"
	"github.com/locusmcp/locus/internal/config"
	"github.com/locusmcp/locus/internal/dirty"
	"github.com/locusmcp/locus/internal/embed"
	"github.com/locusmcp/locus/internal/errors"
	"github.com/locusmcp/locus/internal/fingerprint"
	"github.com/locusmcp/locus/internal/lock"
	"github.com/locusmcp/locus/internal/meta"
	"github.com/locusmcp/locus/internal/paths"
	"github.com/locusmcp/locus/internal/pipeline"
	"github.com/locusmcp/locus/internal/policy"
	"github.com/locusmcp/locus/internal/store"
)

// docExtensions route prose files to the docs store.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".rst":      true,
	".txt":      true,
}

// Engine owns one project's index.
type Engine struct {
	projectPath string
	indexDir    string
	cfg         *config.Config

	filter  *policy.Filter
	chunker *chunk.Chunker

	codeStore *store.Store
	docsStore *store.Store
	codePipe  *pipeline.Pipeline
	docsPipe  *pipeline.Pipeline

	codeEmbedder embed.Embedder
	docsEmbedder embed.Embedder
	codeRetry    *embed.Retrying
	docsRetry    *embed.Retrying

	queue    *dirty.Queue
	metadata *meta.Metadata
	ilock    *lock.IndexLock

	watch *watchLoop
}

// Exists reports whether an index directory exists for the project.
func Exists(projectPath string) (bool, error) {
	dir, err := paths.IndexDir(projectPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Open opens (or prepares) the engine for a project. The index directory
// and stores are created on demand; crash evidence in the metadata journal
// triggers recovery before the engine is returned.
func Open(ctx context.Context, projectPath string) (*Engine, error) {
	canonical, err := paths.Canonicalize(projectPath)
	if err != nil {
		return nil, err
	}
	indexDir, err := paths.IndexDir(canonical)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeDiskFull,
			"The index directory could not be created.", err)
	}

	cfg, err := config.Load(filepath.Join(indexDir, paths.ConfigFile))
	if err != nil {
		// Load already fell back to defaults and logged the warning.
		cfg = config.Default()
	}

	filter, err := policy.New(canonical, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The policy filter could not be initialized.", err)
	}

	codeStore, err := store.Open(filepath.Join(indexDir, paths.CodeStoreDir), "chunks_code", embed.CodeDimensions)
	if err != nil {
		return nil, err
	}
	docsStore, err := store.Open(filepath.Join(indexDir, paths.DocsStoreDir), "chunks_docs", embed.DocsDimensions)
	if err != nil {
		_ = codeStore.Close()
		return nil, err
	}

	codeLedger, err := fingerprint.Load(filepath.Join(indexDir, paths.FingerprintsFile))
	if err != nil {
		_ = codeStore.Close()
		_ = docsStore.Close()
		return nil, err
	}
	docsLedger, err := fingerprint.Load(filepath.Join(indexDir, paths.DocsFingerprintsFile))
	if err != nil {
		_ = codeStore.Close()
		_ = docsStore.Close()
		return nil, err
	}

	queue, err := dirty.Load(filepath.Join(indexDir, paths.DirtyFile))
	if err != nil {
		_ = codeStore.Close()
		_ = docsStore.Close()
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The dirty queue could not be read.", err)
	}

	metadata, err := meta.Load(filepath.Join(indexDir, paths.MetadataFile))
	if err != nil {
		_ = codeStore.Close()
		_ = docsStore.Close()
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The index metadata could not be read.", err)
	}
	if metadata == nil {
		metadata = meta.New(canonical)
	}

	codeRetry := embed.NewRetrying(embed.NewStatic(embed.CodeDimensions), embed.DefaultRetryConfig())
	docsRetry := embed.NewRetrying(embed.NewStatic(embed.DocsDimensions), embed.DefaultRetryConfig())
	codeEmbedder := embed.NewCached(codeRetry, embed.DefaultCacheSize)
	docsEmbedder := embed.NewCached(docsRetry, embed.DefaultCacheSize)

	chunker := chunk.New(chunk.DefaultChunkSize, chunk.DefaultOverlap)

	e := &Engine{
		projectPath:  canonical,
		indexDir:     indexDir,
		cfg:          cfg,
		filter:       filter,
		chunker:      chunker,
		codeStore:    codeStore,
		docsStore:    docsStore,
		codePipe:     pipeline.New(canonical, chunker, codeEmbedder, codeStore, codeLedger),
		docsPipe:     pipeline.New(canonical, chunker, docsEmbedder, docsStore, docsLedger),
		codeEmbedder: codeEmbedder,
		docsEmbedder: docsEmbedder,
		codeRetry:    codeRetry,
		docsRetry:    docsRetry,
		queue:        queue,
		metadata:     metadata,
		ilock:        lock.New(indexDir),
	}

	if err := e.recoverIfInterrupted(ctx); err != nil {
		slog.Warn("crash recovery incomplete", slog.String("error", err.Error()))
	}
	return e, nil
}

// Close stops the watcher and closes both stores.
func (e *Engine) Close() error {
	e.StopWatcher()
	err := e.codeStore.Close()
	if docsErr := e.docsStore.Close(); err == nil {
		err = docsErr
	}
	return err
}

// ProjectPath returns the canonical project path.
func (e *Engine) ProjectPath() string { return e.projectPath }

// IndexDir returns the index directory.
func (e *Engine) IndexDir() string { return e.indexDir }

// Config returns the active configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// recoverIfInterrupted inspects the metadata journal on startup. A journal
// stuck at in_progress means the previous run died: orphan chunks (written
// but never committed to fingerprints) are removed and an integrity sweep
// reconciles the rest.
func (e *Engine) recoverIfInterrupted(ctx context.Context) error {
	if !e.metadata.Interrupted() {
		return nil
	}
	slog.Info("previous indexing run was interrupted, recovering")

	if _, err := e.codePipe.Recover(ctx); err != nil {
		return err
	}
	if _, err := e.docsPipe.Recover(ctx); err != nil {
		return err
	}
	if err := e.IntegritySweep(ctx); err != nil {
		return err
	}

	e.metadata.FailRun("interrupted by crash; orphans removed, sweep enqueued")
	return e.saveMetadata()
}

func (e *Engine) saveMetadata() error {
	return meta.Save(filepath.Join(e.indexDir, paths.MetadataFile), e.metadata)
}

// isDocPath routes prose files to the docs store.
func isDocPath(rel string) bool {
	return docExtensions[strings.ToLower(filepath.Ext(rel))]
}

// enumerate walks the project tree, applying the policy filter, and
// returns the surviving relative paths split by target store.
func (e *Engine) enumerate(ctx context.Context, progress pipeline.ProgressFunc) (code, docs []string, err error) {
	scanned := 0
	walkErr := filepath.WalkDir(e.projectPath, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are the sweep's problem
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(e.projectPath, abs)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if e.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := os.Lstat(abs)
		if infoErr != nil {
			return nil
		}
		scanned++
		if progress != nil && scanned%100 == 0 {
			progress(pipeline.Progress{Phase: pipeline.PhaseScanning, Processed: scanned})
		}

		if v := e.filter.Decide(rel, info); !v.Index {
			return nil
		}
		if isDocPath(rel) {
			docs = append(docs, rel)
		} else {
			code = append(code, rel)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}
	sort.Strings(code)
	sort.Strings(docs)
	return code, docs, nil
}

// CreateResult reports a create or reindex run.
type CreateResult struct {
	FilesIndexed  int
	ChunksCreated int
	Duration      time.Duration
}

// CreateIndex builds the index from scratch (or incrementally refreshes an
// existing one, since the delta engine skips unchanged files). When the
// candidate count exceeds maxFiles and the caller has not confirmed,
// FILE_LIMIT_WARNING is returned before anything is written.
func (e *Engine) CreateIndex(ctx context.Context, confirmed bool, progress pipeline.ProgressFunc) (*CreateResult, error) {
	if err := e.ilock.Acquire("create_index"); err != nil {
		return nil, err
	}
	defer e.ilock.Release()
	return e.runFullIndex(ctx, confirmed, progress)
}

// runFullIndex is the shared body of create and reindex. Callers hold the
// indexing lock.
func (e *Engine) runFullIndex(ctx context.Context, confirmed bool, progress pipeline.ProgressFunc) (*CreateResult, error) {
	started := time.Now()

	code, docs, err := e.enumerate(ctx, progress)
	if err != nil {
		return nil, err
	}
	total := len(code) + len(docs)
	if total > e.cfg.MaxFiles && !confirmed {
		return nil, errors.New(errors.CodeFileLimitWarning,
			"The project has more files than the configured limit.").
			WithDetail("%d candidate files exceed maxFiles=%d", total, e.cfg.MaxFiles)
	}

	e.metadata.BeginRun(total)
	if err := e.saveMetadata(); err != nil {
		return nil, err
	}
	e.codeRetry.ResetFailedCount()
	e.docsRetry.ResetFailedCount()

	fail := func(cause error) (*CreateResult, error) {
		reason := cause.Error()
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		e.metadata.FailRun(reason)
		_ = e.saveMetadata()
		return nil, cause
	}

	codeResult, err := e.codePipe.FullIndex(ctx, code, progress)
	if err != nil {
		return fail(err)
	}
	e.metadata.Checkpoint(codeResult.FilesIndexed)
	_ = e.saveMetadata()

	docsResult, err := e.docsPipe.FullIndex(ctx, docs, progress)
	if err != nil {
		return fail(err)
	}

	if err := e.codeStore.CreateVectorIndex(nil); err != nil {
		slog.Warn("vector index build skipped", slog.String("error", err.Error()))
	}
	if err := e.docsStore.CreateVectorIndex(nil); err != nil {
		slog.Warn("vector index build skipped", slog.String("error", err.Error()))
	}

	// A full pass supersedes anything queued before it.
	for _, p := range append(e.queue.Pending(), e.queue.Tombstoned()...) {
		e.queue.Remove(p)
	}
	_ = e.queue.Save()

	if err := e.refreshStats(); err != nil {
		return fail(err)
	}
	e.metadata.CompleteRun(true)
	if err := e.saveMetadata(); err != nil {
		return nil, err
	}

	// Persist config so a later run sees the exact same recognized keys.
	if err := config.Save(filepath.Join(e.indexDir, paths.ConfigFile), e.cfg); err != nil {
		slog.Warn("config save failed", slog.String("error", err.Error()))
	}

	return &CreateResult{
		FilesIndexed:  codeResult.FilesIndexed + docsResult.FilesIndexed,
		ChunksCreated: codeResult.ChunksCreated + docsResult.ChunksCreated,
		Duration:      time.Since(started),
	}, nil
}

// refreshStats recomputes the metadata statistics from the stores.
func (e *Engine) refreshStats() error {
	codeChunks, err := e.codeStore.Count()
	if err != nil {
		return err
	}
	docsChunks, err := e.docsStore.Count()
	if err != nil {
		return err
	}
	e.metadata.Stats = meta.Stats{
		TotalFiles:       e.codePipe.Ledger().Len() + e.docsPipe.Ledger().Len(),
		TotalChunks:      codeChunks + docsChunks,
		StorageSizeBytes: e.codeStore.SizeBytes() + e.docsStore.SizeBytes(),
		FailedEmbeddings: int(e.codeRetry.FailedCount() + e.docsRetry.FailedCount()),
	}
	return nil
}

// ReindexProject wipes the index (preserving config.json) and rebuilds it.
func (e *Engine) ReindexProject(ctx context.Context, confirmed bool, progress pipeline.ProgressFunc) (*CreateResult, error) {
	if err := e.ilock.Acquire("reindex_project"); err != nil {
		return nil, err
	}
	defer e.ilock.Release()

	// Wipe: drop every chunk and fingerprint, keep config byte-for-byte.
	for _, rel := range lsKeys(e.codePipe.Ledger().Snapshot()) {
		if _, err := e.codePipe.RemoveFile(rel); err != nil {
			return nil, err
		}
	}
	for _, rel := range lsKeys(e.docsPipe.Ledger().Snapshot()) {
		if _, err := e.docsPipe.RemoveFile(rel); err != nil {
			return nil, err
		}
	}

	return e.runFullIndex(ctx, confirmed, progress)
}

func lsKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReindexFileResult reports a single-file reindex.
type ReindexFileResult struct {
	Path          string
	ChunksCreated int
	Changed       bool
}

// ReindexFile reindexes one path. The hard deny list applies even here; a
// denied path is PERMISSION_DENIED and a symlink is SYMLINK_NOT_ALLOWED. A
// path the policy otherwise rejects is treated as a removal if it was
// previously indexed. A path never indexed before is indexed from scratch.
func (e *Engine) ReindexFile(ctx context.Context, rel string) (*ReindexFileResult, error) {
	rel = paths.Normalize(rel)

	if policy.HardDenied(rel) {
		return nil, errors.New(errors.CodePermissionDenied,
			"This path is on the deny list and is never indexed.").
			WithDetail("path %s matches the hard deny list", rel)
	}

	if err := e.ilock.Acquire("reindex_file"); err != nil {
		return nil, err
	}
	defer e.ilock.Release()

	pipe := e.codePipe
	if isDocPath(rel) {
		pipe = e.docsPipe
	}

	abs, err := paths.SafeJoin(e.projectPath, rel)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Lstat(abs)
	if statErr == nil {
		if v := e.filter.Decide(rel, info); !v.Index {
			if v.Reason == policy.ReasonSymlink {
				return nil, errors.New(errors.CodeSymlinkNotAllowed,
					"Symbolic links are not indexed.").WithDetail("path %s", rel)
			}
			// Previously indexed content that the policy now rejects is
			// removed, as if tombstoned.
			if _, tracked := pipe.Ledger().Get(rel); tracked {
				if _, err := pipe.RemoveFile(rel); err != nil {
					return nil, err
				}
			}
			return &ReindexFileResult{Path: rel, Changed: false}, nil
		}
	}

	chunks, changed, err := pipe.IndexFile(ctx, rel)
	if err != nil {
		return nil, err
	}

	if changed {
		e.metadata.CompleteRun(false)
		if err := e.refreshStats(); err == nil {
			_ = e.saveMetadata()
		}
	}
	return &ReindexFileResult{Path: rel, ChunksCreated: chunks, Changed: changed}, nil
}

// DeleteResult reports a delete operation.
type DeleteResult struct {
	Deleted     bool
	ProjectPath string
	Message     string
}

// DeleteIndex removes the project's index directory. Confirmation must be
// explicitly true; nil or false cancels. The target is whitelisted against
// the global index root and violations never fall back.
func (e *Engine) DeleteIndex(confirm *bool) (*DeleteResult, error) {
	if confirm == nil || !*confirm {
		return &DeleteResult{
			Deleted: false,
			Message: "Deletion cancelled: confirmation was not given.",
		}, nil
	}

	if err := e.ilock.Acquire("delete_index"); err != nil {
		return nil, err
	}
	defer e.ilock.Release()

	if err := paths.EnsureUnderRoot(e.indexDir); err != nil {
		return nil, err
	}

	e.StopWatcher()
	_ = e.codeStore.Close()
	_ = e.docsStore.Close()

	if err := os.RemoveAll(e.indexDir); err != nil {
		return nil, errors.Wrap(errors.CodePermissionDenied,
			"The index directory could not be removed.", err)
	}
	return &DeleteResult{
		Deleted:     true,
		ProjectPath: e.projectPath,
		Message:     "Index deleted.",
	}, nil
}

// SearchResult is one similarity hit.
type SearchResult struct {
	Path      string
	Text      string
	StartLine int
	EndLine   int
	Score     float64
}

// SearchCode embeds the query and searches the code store. Read-only: the
// indexing lock is not taken.
func (e *Engine) SearchCode(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if topK > 50 {
		topK = 50
	}

	vec, err := e.codeEmbedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(errors.CodeModelDownloadFailed,
			"The query could not be embedded.", err)
	}

	hits, err := e.codeStore.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			Path:      h.Path,
			Text:      h.Text,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Score:     h.Score,
		}
	}
	return results, nil
}

// SearchByPath matches indexed paths in both stores against a glob.
func (e *Engine) SearchByPath(pattern string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	code, err := e.codeStore.SearchByPath(pattern, limit)
	if err != nil {
		return nil, err
	}
	docs, err := e.docsStore.SearchByPath(pattern, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(code)+len(docs))
	merged := make([]string, 0, len(code)+len(docs))
	for _, p := range append(code, docs...) {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	sort.Strings(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Status reports the index state for get_index_status.
type Status struct {
	State         meta.IndexingStatus
	Stats         meta.Stats
	LastUpdated   time.Time
	WatcherActive bool
	ErrorMessage  string
}

// Status returns the current status. Read-only.
func (e *Engine) Status() *Status {
	s := &Status{
		State:         e.metadata.Status(),
		Stats:         e.metadata.Stats,
		LastUpdated:   e.metadata.LastFullIndex,
		WatcherActive: e.watch != nil && e.watch.active(),
	}
	if e.metadata.LastIncrementalUpdate != nil && e.metadata.LastIncrementalUpdate.After(s.LastUpdated) {
		s.LastUpdated = *e.metadata.LastIncrementalUpdate
	}
	if e.metadata.IndexingState != nil {
		s.ErrorMessage = e.metadata.IndexingState.ErrorMessage
	}
	return s
}
