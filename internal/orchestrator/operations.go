package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tearags/tearagsd/internal/checkpoint"
	"github.com/tearags/tearagsd/internal/config"
	"github.com/tearags/tearagsd/internal/enrichment"
	idxerr "github.com/tearags/tearagsd/internal/errors"
	"github.com/tearags/tearagsd/internal/pipeline"
	"github.com/tearags/tearagsd/internal/scanner"
	"github.com/tearags/tearagsd/internal/snapshot"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// checkpointInterval is how many processed files trigger an intermediate
// checkpoint save, bounding work lost to a crash mid-run.
const checkpointInterval = 200

// feedOutcome aggregates what a batch of feedFile calls produced.
type feedOutcome struct {
	mu             sync.Mutex
	chunksCreated  int
	processedPaths []string
	errs           []string
}

func (o *feedOutcome) record(r feedResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.err != "" {
		o.errs = append(o.errs, fmt.Sprintf("%s: %s", r.relativePath, r.err))
		return
	}
	o.chunksCreated += r.chunkCount
	o.processedPaths = append(o.processedPaths, r.relativePath)
}

// runFeeders processes files with bounded concurrency (file_processing_
// concurrency), enqueueing their chunks into p and recording per-file
// outcomes. A single file's read/chunk/secret-scan failure is recorded
// as an error entry, never aborting the run. Every checkpointInterval
// processed files, progress is saved so an interrupted run can resume.
func (o *Orchestrator) runFeeders(ctx context.Context, p *pipeline.ChunkPipeline, collection, absRoot string, files []*scanner.FileInfo, cpStore *checkpoint.Store, totalFileCount int) *feedOutcome {
	out := &feedOutcome{}
	var remaining *atomic.Int64
	if o.cfg.Performance.MaxTotalChunks > 0 {
		remaining = &atomic.Int64{}
		remaining.Store(int64(o.cfg.Performance.MaxTotalChunks))
	}

	concurrency := o.cfg.Performance.FileProcessingConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var processedCount atomic.Int64
	for _, f := range files {
		f := f
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r := o.feedFile(gctx, p, absRoot, f, remaining)
			out.record(r)

			if n := processedCount.Add(1); n%checkpointInterval == 0 {
				out.mu.Lock()
				snapshotPaths := append([]string{}, out.processedPaths...)
				out.mu.Unlock()
				if err := cpStore.Save(snapshotPaths, totalFileCount, checkpoint.PhaseIndexing); err != nil {
					o.logger.Warn("checkpoint save failed", "error", err)
				}
				if totalFileCount > 0 {
					pct := config.ClampPercent(float64(n) / float64(totalFileCount) * 100)
					_ = o.store.SetPayload(gctx, collection, map[string]any{"percentage": pct}, []string{enrichment.IndexingMetadataID})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// Index builds a fresh collection for codebasePath and populates it from
// a full scan. It refuses to run over an already-indexed collection
// unless opts.ForceReindex is set, per indexCodebase.
func (o *Orchestrator) Index(ctx context.Context, codebasePath string, opts IndexOptions) (IndexStats, error) {
	start := time.Now()
	absRoot, collection, err := o.codebase(codebasePath)
	if err != nil {
		return IndexStats{}, err
	}

	exists, err := o.store.CollectionExists(ctx, collection)
	if err != nil {
		return IndexStats{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not check collection existence", err)
	}

	if exists {
		if !opts.ForceReindex {
			return IndexStats{}, idxerr.PreconditionError(idxerr.ErrCodeCollectionExists, fmt.Sprintf("collection %s already indexed, use Reindex", collection), nil)
		}
		if err := o.store.DeleteCollection(ctx, collection); err != nil {
			return IndexStats{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not drop existing collection", err)
		}
		_ = o.checkpointStore(collection).Delete()
		_ = o.fileSnapshot(collection).Delete()
	}

	hybrid := opts.Hybrid || o.cfg.VectorStore.HybridSearch
	if err := o.store.CreateCollection(ctx, collection, o.embedder.Dimensions(), vectorstore.DistanceCosine, hybrid); err != nil {
		return IndexStats{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not create collection", err)
	}
	if err := o.store.Upsert(ctx, collection, []vectorstore.Point{
		{ID: enrichment.IndexingMetadataID, Dense: make([]float32, o.embedder.Dimensions()), Payload: indexingMetadataPayload(IndexingMetadata{IndexingComplete: false, StartedAt: start})},
	}, vectorstore.UpsertOptions{Wait: true}); err != nil {
		return IndexStats{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not write indexing metadata point", err)
	}

	if err := NewSchemaManager(o.store, o.logger).EnsureCurrentSchema(ctx, collection); err != nil {
		return IndexStats{}, err
	}

	allFiles, err := o.listFiles(ctx, absRoot)
	if err != nil {
		return IndexStats{}, err
	}
	files := allFiles
	if o.cfg.Performance.MaxFiles > 0 && len(files) > o.cfg.Performance.MaxFiles {
		o.logger.Warn("file count exceeds max_files, truncating", "found", len(files), "max", o.cfg.Performance.MaxFiles)
		files = files[:o.cfg.Performance.MaxFiles]
	}

	cpStore := o.checkpointStore(collection)
	if resumeFrom, _ := cpStore.Load(); resumeFrom != nil {
		files = filterByRelativePath(files, checkpoint.FilterProcessed(relativePaths(files), resumeFrom))
		o.logger.Info("resuming from checkpoint", "remaining", len(files))
	}

	p := o.newPipeline(collection)
	module := o.newEnrichment()
	enrichmentEnabled := o.cfg.Enrichment.GitChunkEnabled
	if enrichmentEnabled {
		module.PrefetchGitLog(ctx, absRoot, collection, o.rootIgnoreFilter(absRoot))
		p.SetOnBatchUpserted(func(items []pipeline.ChunkItem) {
			module.OnChunksStored(ctx, collection, absRoot, items)
		})
	}

	out := o.runFeeders(ctx, p, collection, absRoot, files, cpStore, len(files))

	p.Flush()
	p.Shutdown()

	enrichStatus := EnrichmentSkipped
	if enrichmentEnabled {
		module.AwaitCompletion(ctx, collection)
		enrichStatus = EnrichmentCompleted
	}

	completedAt := time.Now()
	_ = o.store.SetPayload(ctx, collection, indexingMetadataPayload(IndexingMetadata{IndexingComplete: true, StartedAt: start, CompletedAt: &completedAt}), []string{enrichment.IndexingMetadataID})

	if saveErr := o.fileSnapshot(collection).Save(buildFileMap(allFiles)); saveErr != nil {
		o.logger.Warn("could not persist file snapshot", "error", saveErr)
	}
	_ = cpStore.Delete()

	return IndexStats{
		FilesScanned:     len(allFiles),
		FilesIndexed:     len(out.processedPaths),
		ChunksCreated:    out.chunksCreated,
		Errors:           out.errs,
		DurationMs:       time.Since(start).Milliseconds(),
		EnrichmentStatus: enrichStatus,
	}, nil
}

// Reindex diffs codebasePath against its last recorded file snapshot,
// applying only the add/modify/delete delta. Deletions for a modified
// file's stale chunks complete before that file's new chunks are
// upserted, per reindexChanges's ordering guarantee.
func (o *Orchestrator) Reindex(ctx context.Context, codebasePath string) (ReindexStats, error) {
	start := time.Now()
	absRoot, collection, err := o.codebase(codebasePath)
	if err != nil {
		return ReindexStats{}, err
	}

	exists, err := o.store.CollectionExists(ctx, collection)
	if err != nil {
		return ReindexStats{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not check collection existence", err)
	}
	if !exists {
		return ReindexStats{}, idxerr.PreconditionError(idxerr.ErrCodeReindexNotIndexed, fmt.Sprintf("collection %s not indexed, use Index", collection), nil)
	}

	files, err := o.listFiles(ctx, absRoot)
	if err != nil {
		return ReindexStats{}, err
	}

	current := make(map[string]string, len(files))
	byPath := make(map[string]*scanner.FileInfo, len(files))
	for _, f := range files {
		current[f.Path] = f.AbsPath
		byPath[f.Path] = f
	}

	snap := o.fileSnapshot(collection)
	changes, err := snapshot.NewChangeDetector(snap, o.logger).DetectChanges(current)
	if err != nil {
		return ReindexStats{}, idxerr.CorruptedStateError(idxerr.ErrCodeCorruptSnapshot, "could not detect file changes", err)
	}

	if changes.Empty() {
		return ReindexStats{DurationMs: time.Since(start).Milliseconds(), EnrichmentStatus: EnrichmentSkipped}, nil
	}

	p := o.newPipeline(collection)
	module := o.newEnrichment()
	enrichmentEnabled := o.cfg.Enrichment.GitChunkEnabled
	if enrichmentEnabled {
		module.PrefetchGitLog(ctx, absRoot, collection, o.rootIgnoreFilter(absRoot))
		p.SetOnBatchUpserted(func(items []pipeline.ChunkItem) {
			module.OnChunksStored(ctx, collection, absRoot, items)
		})
	}

	toDelete := append(append([]string{}, changes.Deleted...), changes.Modified...)
	if err := o.deleteWithFallback(ctx, collection, toDelete); err != nil {
		p.Shutdown()
		return ReindexStats{}, err
	}

	cpStore := o.checkpointStore(collection)
	toUpsert := make([]*scanner.FileInfo, 0, len(changes.Added)+len(changes.Modified))
	for _, rel := range append(append([]string{}, changes.Added...), changes.Modified...) {
		if f, ok := byPath[rel]; ok {
			toUpsert = append(toUpsert, f)
		}
	}

	out := o.runFeeders(ctx, p, collection, absRoot, toUpsert, cpStore, len(toUpsert))

	p.Flush()
	p.Shutdown()

	enrichStatus := EnrichmentSkipped
	if enrichmentEnabled {
		module.AwaitCompletion(ctx, collection)
		enrichStatus = EnrichmentCompleted
	}

	if err := snap.Save(buildFileMap(files)); err != nil {
		o.logger.Warn("could not persist file snapshot", "error", err)
	}
	_ = cpStore.Delete()

	return ReindexStats{
		FilesAdded:       len(changes.Added),
		FilesModified:    len(changes.Modified),
		FilesDeleted:     len(changes.Deleted),
		ChunksCreated:    out.chunksCreated,
		Errors:           out.errs,
		DurationMs:       time.Since(start).Milliseconds(),
		EnrichmentStatus: enrichStatus,
	}, nil
}

// Status reports the current lifecycle state of codebasePath's collection.
func (o *Orchestrator) Status(ctx context.Context, codebasePath string) (StatusResult, error) {
	_, collection, err := o.codebase(codebasePath)
	if err != nil {
		return StatusResult{}, err
	}

	exists, err := o.store.CollectionExists(ctx, collection)
	if err != nil {
		return StatusResult{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not check collection existence", err)
	}
	if !exists {
		return StatusResult{State: StatusNotIndexed}, nil
	}

	info, err := o.store.GetCollectionInfo(ctx, collection)
	if err != nil {
		return StatusResult{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not read collection info", err)
	}

	meta, err := o.store.GetPoint(ctx, collection, enrichment.IndexingMetadataID)
	if err != nil {
		return StatusResult{}, idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not read indexing metadata", err)
	}

	state := StatusIndexed
	var enrich map[string]any
	if meta != nil {
		enrich = meta.Payload
		if complete, ok := meta.Payload["indexingComplete"].(bool); ok && !complete {
			state = StatusIndexing
		}
	}

	return StatusResult{
		State:       state,
		PointsCount: info.PointsCount,
		Enrichment:  enrich,
	}, nil
}

// Clear removes codebasePath's collection along with its on-disk
// checkpoint and file snapshot.
func (o *Orchestrator) Clear(ctx context.Context, codebasePath string) error {
	_, collection, err := o.codebase(codebasePath)
	if err != nil {
		return err
	}

	exists, err := o.store.CollectionExists(ctx, collection)
	if err != nil {
		return idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not check collection existence", err)
	}
	if exists {
		if err := o.store.DeleteCollection(ctx, collection); err != nil {
			return idxerr.TransientRPCError(idxerr.ErrCodeVectorStoreFailed, "could not delete collection", err)
		}
	}
	_ = o.checkpointStore(collection).Delete()
	_ = o.fileSnapshot(collection).Delete()
	return nil
}

// listFiles drains a full Scan into a slice.
func (o *Orchestrator) listFiles(ctx context.Context, absRoot string) ([]*scanner.FileInfo, error) {
	ch, err := o.scan.Scan(ctx, o.scanOptions(absRoot))
	if err != nil {
		return nil, idxerr.FileReadError("could not start scan", err)
	}
	var files []*scanner.FileInfo
	for res := range ch {
		if res.Error != nil {
			o.logger.Warn("scan error, skipping file", "error", res.Error)
			continue
		}
		files = append(files, res.File)
	}
	return files, nil
}

func relativePaths(files []*scanner.FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func filterByRelativePath(files []*scanner.FileInfo, keep []string) []*scanner.FileInfo {
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}
	out := make([]*scanner.FileInfo, 0, len(files))
	for _, f := range files {
		if _, ok := keepSet[f.Path]; ok {
			out = append(out, f)
		}
	}
	return out
}

func buildFileMap(files []*scanner.FileInfo) snapshot.FileMap {
	fm := make(snapshot.FileMap, len(files))
	for _, f := range files {
		hash, err := snapshot.HashFile(f.AbsPath)
		if err != nil {
			continue
		}
		fm[f.Path] = snapshot.FileRecord{ModTime: f.ModTime, Size: f.Size, Hash: hash}
	}
	return fm
}
