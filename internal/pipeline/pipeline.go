// Package pipeline orchestrates indexing runs for one store: delta, policy,
// chunking, embedding, insertion, and fingerprint commit, with progress
// reporting and crash-safe ordering (chunk inserts always precede the
// fingerprint commit for a file).
package pipeline

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/locusmcp/locus/internal/chunk"
	"github.com/locusmcp/locus/internal/embed"
	"github.com/locusmcp/locus/internal/errors"
	"github.com/locusmcp/locus/internal/fingerprint"
	"github.com/locusmcp/locus/internal/paths"
	"github.com/locusmcp/locus/internal/store"
)

// Progress phases reported to the callback.
const (
	PhaseScanning  = "scanning"
	PhaseHashing   = "hashing"
	PhaseChunking  = "chunking"
	PhaseEmbedding = "embedding"
	PhaseWriting   = "writing"
)

// Progress is one progress report. Callbacks must not block.
type Progress struct {
	Phase     string
	Processed int
	Total     int
}

// ProgressFunc receives progress reports.
type ProgressFunc func(Progress)

// Result summarizes a pipeline run.
type Result struct {
	FilesIndexed     int
	FilesRemoved     int
	ChunksCreated    int
	FailedEmbeddings int
}

// Pipeline drives indexing for one store/ledger pair.
type Pipeline struct {
	root     string
	chunker  *chunk.Chunker
	embedder embed.Embedder
	store    *store.Store
	ledger   *fingerprint.Ledger
}

// New creates a pipeline over one target store.
func New(root string, chunker *chunk.Chunker, embedder embed.Embedder, st *store.Store, ledger *fingerprint.Ledger) *Pipeline {
	return &Pipeline{
		root:     root,
		chunker:  chunker,
		embedder: embedder,
		store:    st,
		ledger:   ledger,
	}
}

// Ledger exposes the target's fingerprint ledger.
func (p *Pipeline) Ledger() *fingerprint.Ledger {
	return p.ledger
}

// Store exposes the target's chunk store.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// FullIndex indexes the given candidate paths (already policy-filtered and
// routed to this target). It computes the delta against the ledger, indexes
// added and modified files, deletes removed ones, and commits fingerprints.
// Cancellation is honored at file boundaries.
func (p *Pipeline) FullIndex(ctx context.Context, candidates []string, progress ProgressFunc) (Result, error) {
	var result Result
	report := func(phase string, processed, total int) {
		if progress != nil {
			progress(Progress{Phase: phase, Processed: processed, Total: total})
		}
	}

	report(PhaseHashing, 0, len(candidates))
	delta, err := fingerprint.Compute(ctx, p.root, candidates, p.ledger.Snapshot())
	if err != nil {
		return result, err
	}
	report(PhaseHashing, len(candidates), len(candidates))

	// Removed paths lose their chunks before the ledger commit so a crash
	// leaves ledger entries pointing at deleted chunks, which the next
	// delta reclassifies, rather than orphan chunks.
	for _, rel := range delta.Removed {
		if _, err := p.store.DeleteByPath(rel); err != nil {
			return result, err
		}
		result.FilesRemoved++
	}

	work := append(append([]string{}, delta.Added...), delta.Modified...)
	indexed := make(map[string]string, len(work))

	for i, rel := range work {
		if err := ctx.Err(); err != nil {
			// Commit what finished before surfacing the cancellation.
			p.commit(delta.Removed, indexed)
			return result, err
		}
		report(PhaseChunking, i, len(work))
		report(PhaseEmbedding, i, len(work))

		digest, chunks, err := p.indexOne(ctx, rel, delta.Hashes[rel])
		if err != nil {
			if ctx.Err() != nil {
				p.commit(delta.Removed, indexed)
				return result, err
			}
			slog.Warn("file skipped during indexing",
				slog.String("path", rel), slog.String("error", err.Error()))
			result.FailedEmbeddings++
			continue
		}
		if digest == "" {
			continue // vanished between delta and read
		}
		indexed[rel] = digest
		result.FilesIndexed++
		result.ChunksCreated += chunks
	}
	report(PhaseWriting, len(work), len(work))

	if err := p.commit(delta.Removed, indexed); err != nil {
		return result, err
	}
	return result, nil
}

// commit applies the run outcome to the ledger and persists it.
func (p *Pipeline) commit(removed []string, indexed map[string]string) error {
	p.ledger.Apply(removed, indexed)
	return p.ledger.Save()
}

// IndexFile incrementally reindexes one path. A hash matching the ledger is
// a no-op (the dirty entry was spurious). Returns the number of chunks
// written for the path (zero on a no-op) and whether any work happened.
func (p *Pipeline) IndexFile(ctx context.Context, rel string) (chunks int, changed bool, err error) {
	abs, err := paths.SafeJoin(p.root, rel)
	if err != nil {
		return 0, false, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, errors.Wrap(errors.CodeFileNotFound,
				"The file does not exist.", err)
		}
		return 0, false, errors.Wrap(errors.CodePermissionDenied,
			"The file could not be read.", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return 0, false, errors.New(errors.CodeSymlinkNotAllowed,
			"Symbolic links are not indexed.").
			WithDetail("path %s", rel)
	}

	digest, err := fingerprint.HashFile(abs)
	if err != nil {
		return 0, false, errors.Wrap(errors.CodePermissionDenied,
			"The file could not be read.", err)
	}
	if stored, ok := p.ledger.Get(rel); ok && stored == digest {
		return 0, false, nil
	}

	n, err := p.reindexContents(ctx, rel, abs, digest)
	if err != nil {
		return 0, false, err
	}

	p.ledger.Set(rel, digest)
	if err := p.ledger.Save(); err != nil {
		return n, true, err
	}
	return n, true, nil
}

// RemoveFile deletes a path's chunks and fingerprint entry.
func (p *Pipeline) RemoveFile(rel string) (int, error) {
	n, err := p.store.DeleteByPath(rel)
	if err != nil {
		return 0, err
	}
	p.ledger.Delete(rel)
	if err := p.ledger.Save(); err != nil {
		return n, err
	}
	return n, nil
}

// indexOne chunks, embeds, and inserts one file, reusing the digest
// computed during the delta when available. The ledger is NOT updated here;
// callers commit after the insert so a crash between the two leaves an
// orphan that recovery removes.
func (p *Pipeline) indexOne(ctx context.Context, rel, knownDigest string) (string, int, error) {
	abs, err := paths.SafeJoin(p.root, rel)
	if err != nil {
		return "", 0, err
	}

	digest := knownDigest
	if digest == "" {
		digest, err = fingerprint.HashFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return "", 0, nil
			}
			return "", 0, err
		}
	}

	n, err := p.reindexContents(ctx, rel, abs, digest)
	if err != nil {
		return "", 0, err
	}
	return digest, n, nil
}

// reindexContents replaces the stored chunks for rel with chunks of the
// current file content, reusing stored vectors for chunks whose hash is
// unchanged and embedding only the rest.
func (p *Pipeline) reindexContents(ctx context.Context, rel, abs, digest string) (int, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return 0, err
	}

	chunks := p.chunker.Split(string(data))
	if len(chunks) == 0 {
		_, err := p.store.DeleteByPath(rel)
		return 0, err
	}

	// Chunk-level reuse: vectors for unchanged chunk hashes survive the
	// rewrite with only their line metadata refreshed.
	existing := make(map[string]store.Record)
	if prior, err := p.store.GetByPath(rel); err == nil {
		for _, rec := range prior {
			if rec.ChunkHash != "" {
				existing[rec.ChunkHash] = rec
			}
		}
	}

	records := make([]store.Record, len(chunks))
	var pendingIdx []int
	var pendingTexts []string
	for i, c := range chunks {
		chunkHash := fingerprint.HashBytes([]byte(c.Text))
		rec := store.Record{
			Path:        rel,
			Text:        c.Text,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			ContentHash: digest,
			ChunkHash:   chunkHash,
		}
		if prior, ok := existing[chunkHash]; ok {
			rec.ID = prior.ID
			rec.Vector = prior.Vector
		} else {
			rec.ID = uuid.NewString()
			pendingIdx = append(pendingIdx, i)
			pendingTexts = append(pendingTexts, c.Text)
		}
		records[i] = rec
	}

	for start := 0; start < len(pendingTexts); start += embed.DefaultBatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := start + embed.DefaultBatchSize
		if end > len(pendingTexts) {
			end = len(pendingTexts)
		}
		vectors, err := p.embedder.EmbedBatch(ctx, pendingTexts[start:end])
		if err != nil {
			return 0, err
		}
		for j, vec := range vectors {
			records[pendingIdx[start+j]].Vector = vec
		}
	}

	if _, err := p.store.DeleteByPath(rel); err != nil {
		return 0, err
	}
	if err := p.store.Insert(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Recover removes orphan chunks: paths present in the store but absent from
// the ledger were inserted by a run that died before its fingerprint
// commit. Returns the number of paths cleaned.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	stored, err := p.store.ListFiles(store.ListFilesHardCeiling / store.ListFilesScanFactor)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, rel := range stored {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if _, ok := p.ledger.Get(rel); ok {
			continue
		}
		if _, err := p.store.DeleteByPath(rel); err != nil {
			return cleaned, err
		}
		cleaned++
		slog.Info("removed orphan chunks", slog.String("path", rel))
	}
	return cleaned, nil
}
