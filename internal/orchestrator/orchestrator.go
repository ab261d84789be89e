package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	chunk "github.com/tearags/tearagsd/internal/chunker"
	"github.com/tearags/tearagsd/internal/checkpoint"
	"github.com/tearags/tearagsd/internal/config"
	embed "github.com/tearags/tearagsd/internal/embedder"
	"github.com/tearags/tearagsd/internal/enrichment"
	idxerr "github.com/tearags/tearagsd/internal/errors"
	"github.com/tearags/tearagsd/internal/pipeline"
	"github.com/tearags/tearagsd/internal/scanner"
	"github.com/tearags/tearagsd/internal/snapshot"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// shardCount is the number of shards a ShardedSnapshot splits its file
// records across.
const shardCount = 4

// backpressureWaitTimeout bounds how long the feeder waits for the
// pipeline to drain before enqueueing the next chunk anyway.
const backpressureWaitTimeout = 30 * time.Second

// DefaultStateDir returns ~/.tearagsd/state, where checkpoints and
// file snapshots persist between runs.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tearagsd", "state")
	}
	return filepath.Join(home, ".tearagsd", "state")
}

// Orchestrator composes scanning, chunking, embedding, vector storage,
// and git-log enrichment into the index/reindex/status/clear operations
// described by indexCodebase and reindexChanges.
type Orchestrator struct {
	cfg      *config.Config
	store    vectorstore.Store
	embedder embed.Embedder
	logger   *slog.Logger
	stateDir string

	codeChunker *chunk.CodeChunker
	mdChunker   *chunk.MarkdownChunker
	scan        *scanner.Scanner
}

// New returns an Orchestrator ready for Index/Reindex/Status/Clear calls.
func New(cfg *config.Config, store vectorstore.Store, embedder embed.Embedder, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: new scanner: %w", err)
	}
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		embedder:    embedder,
		logger:      logger,
		stateDir:    DefaultStateDir(),
		codeChunker: chunk.NewCodeChunker(),
		mdChunker:   chunk.NewMarkdownChunker(),
		scan:        s,
	}, nil
}

// Close releases chunker resources held by the orchestrator.
func (o *Orchestrator) Close() {
	o.codeChunker.Close()
}

// codebase resolves a user-supplied path into its absolute form and
// derived collection name, validating that it is an indexable directory.
func (o *Orchestrator) codebase(codebasePath string) (absPath, collection string, err error) {
	absPath, err = filepath.Abs(codebasePath)
	if err != nil {
		return "", "", idxerr.PreconditionError(idxerr.ErrCodeInvalidPath, "could not resolve codebase path", err)
	}
	info, statErr := os.Stat(absPath)
	if statErr != nil {
		return "", "", idxerr.PreconditionError(idxerr.ErrCodeInvalidPath, "codebase path does not exist", statErr)
	}
	if !info.IsDir() {
		return "", "", idxerr.PreconditionError(idxerr.ErrCodeInvalidPath, "codebase path is not a directory", nil)
	}

	collection = o.cfg.VectorStore.CollectionName
	if collection == "" {
		collection = vectorstore.CollectionName(absPath)
	}
	return absPath, collection, nil
}

func (o *Orchestrator) chunkerFor(ct scanner.ContentType) chunk.Chunker {
	if ct == scanner.ContentTypeMarkdown {
		return o.mdChunker
	}
	return o.codeChunker
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func (o *Orchestrator) newPipeline(collection string) *pipeline.ChunkPipeline {
	perf := o.cfg.Performance
	flush := parseDurationOr(perf.FlushTimeout, 2*time.Second)
	cfg := pipeline.ChunkPipelineConfig{
		CollectionName:     collection,
		Hybrid:             o.cfg.VectorStore.HybridSearch,
		UpsertBatchSize:    perf.BatchSize,
		UpsertFlushTimeout: flush,
		DeleteFlushTimeout: flush,
		HighWaterMark:      perf.HighWaterMark,
		LowWaterMark:       perf.LowWaterMark,
	}
	p := pipeline.NewChunkPipeline(cfg, o.embedder, o.store, o.logger)
	p.Start()
	return p
}

func (o *Orchestrator) newEnrichment() *enrichment.Module {
	ec := o.cfg.Enrichment
	cfg := enrichment.Config{
		MaxAge:           time.Duration(ec.GitChunkMaxAgeMonths) * 30 * 24 * time.Hour,
		BackfillTimeout:  parseDurationOr(ec.GitBackfillTimeout, enrichment.DefaultBackfillTimeout),
		ChunkConcurrency: ec.GitChunkConcurrency,
	}
	return enrichment.NewModule(o.store, o.logger, cfg)
}

// rootIgnoreFilter hands enrichment the scanner's own exclusion predicate
// (sensitive patterns, default excludes, exclude patterns, nested
// gitignore) instead of approximating it with a second matcher, so
// git-log filtering uses exactly the same rules that picked indexed files.
func (o *Orchestrator) rootIgnoreFilter(absRoot string) enrichment.IgnoreFilter {
	return o.scan.IgnoreMatcher(absRoot, o.cfg.Paths.Exclude)
}

func (o *Orchestrator) scanOptions(absRoot string) *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:          absRoot,
		IncludePatterns:  o.cfg.Paths.Include,
		ExcludePatterns:  o.cfg.Paths.Exclude,
		RespectGitignore: true,
		Workers:          o.cfg.Performance.FileProcessingConcurrency,
	}
}

// feedResult reports what a single file contributed to the pipeline.
type feedResult struct {
	relativePath string
	chunkCount   int
	err          string
}

// feedFile reads, chunks, and enqueues one file's content, honoring the
// per-file and global chunk caps and skipping credential-bearing content.
func (o *Orchestrator) feedFile(ctx context.Context, p *pipeline.ChunkPipeline, absRoot string, f *scanner.FileInfo, remainingTotal *atomic.Int64) feedResult {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return feedResult{relativePath: f.Path, err: idxerr.FileReadError("could not read file", err).Error()}
	}

	if scanner.ContainsCredentials(content) {
		return feedResult{relativePath: f.Path, err: idxerr.SecretDetectedError(f.Path).Error()}
	}

	chunker := o.chunkerFor(f.ContentType)
	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language})
	if err != nil {
		return feedResult{relativePath: f.Path, err: idxerr.New(idxerr.ErrCodeChunkingFailed, "chunking failed", err).WithDetail("path", f.Path).Error()}
	}

	maxPerFile := o.cfg.Performance.MaxChunksPerFile
	if maxPerFile > 0 && len(chunks) > maxPerFile {
		chunks = chunks[:maxPerFile]
	}

	count := 0
	for i, c := range chunks {
		if remainingTotal != nil {
			if remainingTotal.Add(-1) < 0 {
				remainingTotal.Add(1)
				break
			}
		}
		c.FilePath = f.Path
		c.ContentType = chunk.ContentType(f.ContentType)
		id := ChunkID(f.Path, i, c.Content)
		if p.IsBackpressured() {
			p.WaitForBackpressure(backpressureWaitTimeout)
		}
		p.AddChunk(c, id, absRoot)
		count++
	}

	return feedResult{relativePath: f.Path, chunkCount: count}
}

// deleteWithFallback implements the three-level delete ladder: batched
// delete by paths, then a single combined delete, then per-path deletes,
// stopping at the first level that succeeds.
func (o *Orchestrator) deleteWithFallback(ctx context.Context, collection string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}

	if err := o.store.DeleteByPathsBatched(ctx, collection, relativePaths, vectorstore.DeleteBatchOptions{BatchSize: 256, Concurrency: 4}); err == nil {
		return nil
	} else {
		o.logger.Warn("batched delete failed, falling back to combined delete", "error", err, "paths", len(relativePaths))
	}

	if err := o.store.DeleteByPaths(ctx, collection, relativePaths); err == nil {
		return nil
	} else {
		o.logger.Warn("combined delete failed, falling back to per-path delete", "error", err, "paths", len(relativePaths))
	}

	// L2 is last resort: individual failures are counted and logged, not
	// propagated. A stale row gets overwritten on next embed or pruned by
	// a later full re-index, so it doesn't fail the whole run.
	failed := 0
	for _, path := range relativePaths {
		if err := o.store.DeleteByPaths(ctx, collection, []string{path}); err != nil {
			failed++
			o.logger.Error("per-path delete failed", "path", path, "error", err)
		}
	}
	if failed > 0 {
		o.logger.Warn("delete fallback ladder: some paths could not be deleted", "failed", failed, "total", len(relativePaths))
	}
	return nil
}

func (o *Orchestrator) checkpointStore(collection string) *checkpoint.Store {
	return checkpoint.NewStore(o.stateDir, collection, o.logger)
}

func (o *Orchestrator) fileSnapshot(collection string) *snapshot.ShardedSnapshot {
	return snapshot.NewShardedSnapshot(o.stateDir, collection, shardCount)
}
