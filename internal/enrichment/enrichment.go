package enrichment

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tearags/tearagsd/internal/churn"
	"github.com/tearags/tearagsd/internal/pipeline"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// IndexingMetadataID is the reserved point id carrying collection-level
// lifecycle payload.
const IndexingMetadataID = "__indexing_metadata__"

const missedSampleCap = 10

// Metrics summarizes one enrichment pass, returned by AwaitCompletion.
type Metrics struct {
	PrefetchDurationMs   int64
	OverlapMs            int64
	OverlapRatio         float64
	StreamingApplies     int
	FlushApplies         int
	ChunkChurnDurationMs int64
	TotalDurationMs      int64
	MatchedFiles         int
	MissedFiles          int
	MissedPathSamples    []string
	GitLogFileCount      int
	EstimatedSavedMs     int64
}

// ChunkRef identifies one chunk's position in its file, for the per-chunk
// churn overlay pass.
type ChunkRef struct {
	ChunkID      string
	RelativePath string
	StartLine    int
	EndLine      int
}

type missedChunkRef struct {
	ChunkID string
	EndLine int
}

type pendingBatch struct {
	codebasePath string
	items        []pipeline.ChunkItem
}

// IgnoreFilter reports whether a relative path should be excluded from the
// git churn map (mirrors the scanner's ignore matcher).
type IgnoreFilter func(relativePath string) bool

// Module overlaps a repository's git-log read with the embedding pipeline
// and streams the resulting per-file signal into each point's payload.
type Module struct {
	store           vectorstore.Store
	logger          *slog.Logger
	maxAge          time.Duration
	backfillTimeout time.Duration
	chunkConcurrency int

	mu               sync.Mutex
	repoRoot         string
	gitMap           map[string]churn.FileChurnData
	resolved         bool
	failed           bool
	pending          []pendingBatch
	missed           map[string][]missedChunkRef
	matchedFiles     int
	missedFilesCount int
	missedSamples    []string
	streamingApplies int
	flushApplies     int

	prefetchStart         time.Time
	prefetchEnd           time.Time
	lastOnChunksStoredAt  time.Time
	chunkChurnStart       time.Time
	chunkChurnEnd         time.Time
	chunkChurnRan         bool

	prefetchDone chan struct{}
	chunkWG      sync.WaitGroup
}

// Config tunes a Module.
type Config struct {
	MaxAge           time.Duration
	BackfillTimeout  time.Duration
	ChunkConcurrency int
}

// NewModule returns an enrichment module ready for PrefetchGitLog.
func NewModule(store vectorstore.Store, logger *slog.Logger, cfg Config) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 12 * 30 * 24 * time.Hour
	}
	if cfg.BackfillTimeout <= 0 {
		cfg.BackfillTimeout = DefaultBackfillTimeout
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 4
	}
	return &Module{
		store:            store,
		logger:           logger,
		maxAge:           cfg.MaxAge,
		backfillTimeout:  cfg.BackfillTimeout,
		chunkConcurrency: cfg.ChunkConcurrency,
		missed:           make(map[string][]missedChunkRef),
		prefetchDone:     make(chan struct{}),
	}
}

// PrefetchGitLog validates .git presence, resolves the actual repository
// root, and starts an async read of the file -> churn map restricted to
// recent history. It is fire-and-forget and safe to call before the
// pipeline starts.
func (m *Module) PrefetchGitLog(ctx context.Context, repoRoot, collection string, ignore IgnoreFilter) {
	m.mu.Lock()
	m.prefetchStart = time.Now()
	m.mu.Unlock()

	m.markStatus(ctx, collection, "in_progress", nil)

	go func() {
		gitRoot, err := ResolveGitRoot(ctx, repoRoot)
		if err != nil {
			m.logger.Warn("enrichment: not a git repository, disabling enrichment", "path", repoRoot, "error", err)
			m.finishPrefetch(ctx, collection, nil, "", err)
			return
		}

		since := time.Now().Add(-m.maxAge)
		gitMap, err := ReadChurnSince(ctx, gitRoot, since)
		if err != nil {
			m.logger.Warn("enrichment: git log read failed", "repoRoot", gitRoot, "error", err)
			m.finishPrefetch(ctx, collection, nil, gitRoot, err)
			return
		}

		if ignore != nil {
			for path := range gitMap {
				if ignore(path) {
					delete(gitMap, path)
				}
			}
		}

		m.finishPrefetch(ctx, collection, gitMap, gitRoot, nil)
	}()
}

func (m *Module) finishPrefetch(ctx context.Context, collection string, gitMap map[string]churn.FileChurnData, gitRoot string, err error) {
	m.mu.Lock()
	m.prefetchEnd = time.Now()
	m.repoRoot = gitRoot
	if err != nil {
		m.failed = true
	} else {
		m.resolved = true
		m.gitMap = gitMap
	}
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if err == nil {
		for _, batch := range pending {
			m.applyBatch(ctx, collection, batch.codebasePath, batch.items)
			m.mu.Lock()
			m.flushApplies++
			m.mu.Unlock()
		}
	}

	close(m.prefetchDone)
}

// OnChunksStored is invoked once per completed upsert batch. If the git
// log is already resolved, it applies file metadata immediately
// (streaming path); otherwise it queues the batch for the flush path once
// the prefetch resolves. If the prefetch already failed, the batch is
// dropped silently.
func (m *Module) OnChunksStored(ctx context.Context, collection, codebasePath string, items []pipeline.ChunkItem) {
	m.mu.Lock()
	m.lastOnChunksStoredAt = time.Now()
	resolved := m.resolved
	failed := m.failed
	if !resolved && !failed {
		m.pending = append(m.pending, pendingBatch{codebasePath: codebasePath, items: items})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if failed {
		return
	}

	m.applyBatch(ctx, collection, codebasePath, items)
	m.mu.Lock()
	m.streamingApplies++
	m.mu.Unlock()
}

// applyBatch groups items by file, looks each up in the resolved git map,
// and issues a batched, merge-semantics set_payload call for every file
// that matched. Misses are recorded for the later backfill pass.
func (m *Module) applyBatch(ctx context.Context, collection, codebasePath string, items []pipeline.ChunkItem) {
	type fileGroup struct {
		relativePath string
		chunkIDs     []string
		maxEndLine   int
	}
	groups := make(map[string]*fileGroup)
	order := make([]string, 0)

	for _, item := range items {
		absPath := filepath.Join(codebasePath, item.Chunk.FilePath)
		relPath := item.Chunk.FilePath
		m.mu.Lock()
		root := m.repoRoot
		m.mu.Unlock()
		if root != "" {
			if rel, err := filepath.Rel(root, absPath); err == nil {
				relPath = filepath.ToSlash(rel)
			}
		}

		g, ok := groups[relPath]
		if !ok {
			g = &fileGroup{relativePath: relPath}
			groups[relPath] = g
			order = append(order, relPath)
		}
		g.chunkIDs = append(g.chunkIDs, item.ChunkID)
		if item.Chunk.EndLine > g.maxEndLine {
			g.maxEndLine = item.Chunk.EndLine
		}
	}

	var ops []vectorstore.SetPayloadOp

	m.mu.Lock()
	for _, relPath := range order {
		g := groups[relPath]
		data, ok := m.gitMap[relPath]
		if !ok {
			m.missedFilesCount++
			if len(m.missedSamples) < missedSampleCap {
				m.missedSamples = append(m.missedSamples, relPath)
			}
			for _, id := range g.chunkIDs {
				m.missed[relPath] = append(m.missed[relPath], missedChunkRef{ChunkID: id, EndLine: g.maxEndLine})
			}
			continue
		}
		m.matchedFiles++
		metadata := churn.ComputeFileMetadata(data, g.maxEndLine)
		ops = append(ops, vectorstore.SetPayloadOp{
			Payload: map[string]any{"git": metadata},
			Points:  g.chunkIDs,
		})
	}
	m.mu.Unlock()

	flushOpsInSubBatches(ctx, m.store, collection, ops, m.logger)
}

func flushOpsInSubBatches(ctx context.Context, store vectorstore.Store, collection string, ops []vectorstore.SetPayloadOp, logger *slog.Logger) {
	const subBatchSize = 100
	for i := 0; i < len(ops); i += subBatchSize {
		end := i + subBatchSize
		if end > len(ops) {
			end = len(ops)
		}
		if err := store.BatchSetPayload(ctx, collection, ops[i:end]); err != nil {
			logger.Error("enrichment: batch set payload failed", "collection", collection, "error", err)
		}
	}
}

// AwaitCompletion awaits the git log resolution and the streaming/flush
// applies it drives, runs a backfill pass for files that were missed,
// writes the final enrichment marker, and returns metrics. It does not
// await the chunk-churn overlay pass, which is allowed to finish in the
// background.
func (m *Module) AwaitCompletion(ctx context.Context, collection string) Metrics {
	<-m.prefetchDone

	m.mu.Lock()
	missedPaths := make([]string, 0, len(m.missed))
	for path := range m.missed {
		missedPaths = append(missedPaths, path)
	}
	sort.Strings(missedPaths)
	root := m.repoRoot
	missed := m.missed
	m.mu.Unlock()

	if len(missedPaths) > 0 && root != "" {
		backfillMap, err := ReadChurnForPaths(ctx, root, missedPaths, m.backfillTimeout)
		if err != nil {
			m.logger.Warn("enrichment: backfill failed", "error", err)
		} else {
			m.applyBackfill(ctx, collection, backfillMap, missed)
		}
	}

	metrics := m.snapshotMetrics()
	m.markStatus(ctx, collection, "completed", &metrics)
	return metrics
}

func (m *Module) applyBackfill(ctx context.Context, collection string, backfillMap map[string]churn.FileChurnData, missed map[string][]missedChunkRef) {
	var ops []vectorstore.SetPayloadOp

	m.mu.Lock()
	for relPath, refs := range missed {
		data, ok := backfillMap[relPath]
		if !ok {
			continue
		}
		maxEndLine := 0
		chunkIDs := make([]string, 0, len(refs))
		for _, ref := range refs {
			chunkIDs = append(chunkIDs, ref.ChunkID)
			if ref.EndLine > maxEndLine {
				maxEndLine = ref.EndLine
			}
		}
		metadata := churn.ComputeFileMetadata(data, maxEndLine)
		ops = append(ops, vectorstore.SetPayloadOp{Payload: map[string]any{"git": metadata}, Points: chunkIDs})

		m.matchedFiles++
		m.missedFilesCount--
		delete(m.missed, relPath)
	}
	m.mu.Unlock()

	flushOpsInSubBatches(ctx, m.store, collection, ops, m.logger)
}

func (m *Module) snapshotMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefetchDurationMs := m.prefetchEnd.Sub(m.prefetchStart).Milliseconds()
	if prefetchDurationMs < 0 {
		prefetchDurationMs = 0
	}

	var overlapMs int64
	if !m.lastOnChunksStoredAt.IsZero() {
		overlapEnd := m.prefetchEnd
		if m.lastOnChunksStoredAt.Before(overlapEnd) {
			overlapEnd = m.lastOnChunksStoredAt
		}
		overlapMs = overlapEnd.Sub(m.prefetchStart).Milliseconds()
		if overlapMs < 0 {
			overlapMs = 0
		}
	}

	var overlapRatio float64
	if prefetchDurationMs > 0 {
		overlapRatio = float64(overlapMs) / float64(prefetchDurationMs)
	}

	var chunkChurnDurationMs int64
	if m.chunkChurnRan && !m.chunkChurnEnd.IsZero() {
		chunkChurnDurationMs = m.chunkChurnEnd.Sub(m.chunkChurnStart).Milliseconds()
	}

	samples := make([]string, len(m.missedSamples))
	copy(samples, m.missedSamples)

	return Metrics{
		PrefetchDurationMs:   prefetchDurationMs,
		OverlapMs:            overlapMs,
		OverlapRatio:         overlapRatio,
		StreamingApplies:     m.streamingApplies,
		FlushApplies:         m.flushApplies,
		ChunkChurnDurationMs: chunkChurnDurationMs,
		TotalDurationMs:      time.Since(m.prefetchStart).Milliseconds(),
		MatchedFiles:         m.matchedFiles,
		MissedFiles:          m.missedFilesCount,
		MissedPathSamples:    samples,
		GitLogFileCount:      len(m.gitMap),
		EstimatedSavedMs:     overlapMs,
	}
}

func (m *Module) markStatus(ctx context.Context, collection, status string, metrics *Metrics) {
	payload := map[string]any{"status": status}
	if status == "in_progress" {
		payload["startedAt"] = time.Now()
	}
	if metrics != nil {
		payload["completedAt"] = time.Now()
		payload["matchedFiles"] = metrics.MatchedFiles
		payload["missedFiles"] = metrics.MissedFiles
		payload["gitLogFileCount"] = metrics.GitLogFileCount
		payload["durationMs"] = metrics.TotalDurationMs
	}
	err := m.store.SetPayload(ctx, collection, map[string]any{"enrichment": payload}, []string{IndexingMetadataID})
	if err != nil {
		m.logger.Error("enrichment: failed to write status marker", "collection", collection, "status", status, "error", err)
	}
}
