package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	chunk "github.com/tearags/tearagsd/internal/chunker"
	embed "github.com/tearags/tearagsd/internal/embedder"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// ChunkItem is one chunk queued for embedding and upsert.
type ChunkItem struct {
	Chunk        *chunk.Chunk
	ChunkID      string
	CodebasePath string
}

// DeleteItem is one relative path queued for deletion.
type DeleteItem struct {
	RelativePath string
}

// ChunkPipelineConfig configures the accumulators, worker pools, and
// backpressure thresholds a ChunkPipeline wires together.
type ChunkPipelineConfig struct {
	CollectionName string
	Hybrid         bool

	UpsertBatchSize     int
	UpsertFlushTimeout  time.Duration
	UpsertConcurrency   int
	UpsertMaxRetries    int
	UpsertRetryBaseDely time.Duration
	UpsertRetryMaxDelay time.Duration

	DeleteBatchSize     int
	DeleteFlushTimeout  time.Duration
	DeleteConcurrency   int
	DeleteMaxRetries    int
	DeleteRetryBaseDely time.Duration
	DeleteRetryMaxDelay time.Duration

	// HighWaterMark/LowWaterMark bound the chunk accumulator's pending
	// queue depth for backpressure purposes.
	HighWaterMark int
	LowWaterMark  int
}

func (c *ChunkPipelineConfig) setDefaults() {
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = 64
	}
	if c.UpsertFlushTimeout <= 0 {
		c.UpsertFlushTimeout = 2 * time.Second
	}
	if c.UpsertConcurrency <= 0 {
		c.UpsertConcurrency = 4
	}
	if c.DeleteBatchSize <= 0 {
		c.DeleteBatchSize = 256
	}
	if c.DeleteFlushTimeout <= 0 {
		c.DeleteFlushTimeout = 2 * time.Second
	}
	if c.DeleteConcurrency <= 0 {
		c.DeleteConcurrency = 8
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = c.UpsertBatchSize * 8
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = c.UpsertBatchSize * 2
	}
}

// PipelineStats is a snapshot of ChunkPipeline activity.
type PipelineStats struct {
	ChunksPending  int
	DeletesPending int
	Upsert         Stats
	Delete         Stats
}

// ChunkPipeline wires a chunk-for-embedding accumulator and a
// deletes accumulator to their respective worker pools, implementing the
// upsert and delete dataflows.
type ChunkPipeline struct {
	cfg      ChunkPipelineConfig
	embedder embed.Embedder
	store    vectorstore.Store
	logger   *slog.Logger

	chunkAcc  *BatchAccumulator[ChunkItem]
	deleteAcc *BatchAccumulator[string]

	upsertPool *WorkerPool[ChunkItem]
	deletePool *WorkerPool[string]

	mu              sync.Mutex
	onBatchUpserted func([]ChunkItem)
	started         bool
}

// NewChunkPipeline builds a ChunkPipeline that upserts into and deletes
// from cfg.CollectionName via store, embedding chunk content via embedder.
func NewChunkPipeline(cfg ChunkPipelineConfig, embedder embed.Embedder, store vectorstore.Store, logger *slog.Logger) *ChunkPipeline {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	p := &ChunkPipeline{cfg: cfg, embedder: embedder, store: store, logger: logger}

	p.upsertPool = NewWorkerPool[ChunkItem](WorkerPoolConfig{
		Concurrency:    cfg.UpsertConcurrency,
		MaxRetries:     cfg.UpsertMaxRetries,
		RetryBaseDelay: cfg.UpsertRetryBaseDely,
		RetryMaxDelay:  cfg.UpsertRetryMaxDelay,
	})
	p.deletePool = NewWorkerPool[string](WorkerPoolConfig{
		Concurrency:    cfg.DeleteConcurrency,
		MaxRetries:     cfg.DeleteMaxRetries,
		RetryBaseDelay: cfg.DeleteRetryBaseDely,
		RetryMaxDelay:  cfg.DeleteRetryMaxDelay,
	})

	p.chunkAcc = NewBatchAccumulator(AccumulatorConfig{
		BatchSize:    cfg.UpsertBatchSize,
		FlushTimeout: cfg.UpsertFlushTimeout,
		TypeTag:      "chunk",
	}, p.onChunkBatch)

	p.deleteAcc = NewBatchAccumulator(AccumulatorConfig{
		BatchSize:    cfg.DeleteBatchSize,
		FlushTimeout: cfg.DeleteFlushTimeout,
		TypeTag:      "delete",
	}, p.onDeleteBatch)

	return p
}

// Start marks the pipeline as accepting work. The worker pools and
// accumulators are already live once NewChunkPipeline returns; Start
// exists to mirror spec.md's explicit lifecycle surface and to guard
// against AddChunk/AddDelete before construction completes.
func (p *ChunkPipeline) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
}

// SetOnBatchUpserted registers the callback invoked once per successfully
// upserted batch (used by EnrichmentModule's streaming apply path).
func (p *ChunkPipeline) SetOnBatchUpserted(cb func([]ChunkItem)) {
	p.mu.Lock()
	p.onBatchUpserted = cb
	p.mu.Unlock()
}

// AddChunk enqueues a chunk for embedding and upsert.
func (p *ChunkPipeline) AddChunk(c *chunk.Chunk, chunkID, codebasePath string) {
	p.chunkAcc.Add(ChunkItem{Chunk: c, ChunkID: chunkID, CodebasePath: codebasePath})
}

// AddDelete enqueues a relative path for deletion.
func (p *ChunkPipeline) AddDelete(relativePath string) {
	p.deleteAcc.Add(relativePath)
}

// IsBackpressured reports whether the chunk accumulator's pending queue
// depth exceeds the configured high-water mark.
func (p *ChunkPipeline) IsBackpressured() bool {
	return p.chunkAcc.PendingCount() > p.cfg.HighWaterMark
}

// WaitForBackpressure blocks until the chunk accumulator's pending queue
// depth drops at or below the low-water mark, or timeout elapses,
// whichever happens first.
func (p *ChunkPipeline) WaitForBackpressure(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for p.chunkAcc.PendingCount() > p.cfg.LowWaterMark {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Flush forces any timer-pending batches in both accumulators to emit
// immediately.
func (p *ChunkPipeline) Flush() {
	p.chunkAcc.Flush()
	p.deleteAcc.Flush()
}

// Shutdown flushes pending batches, waits for every submitted batch to
// resolve (including retries), then stops both worker pools and refuses
// further Add calls.
func (p *ChunkPipeline) Shutdown() {
	p.chunkAcc.Shutdown()
	p.deleteAcc.Shutdown()
	p.upsertPool.Stop()
	p.deletePool.Stop()
}

// GetStats returns a snapshot of pending counts and worker pool activity.
func (p *ChunkPipeline) GetStats() PipelineStats {
	return PipelineStats{
		ChunksPending:  p.chunkAcc.PendingCount(),
		DeletesPending: p.deleteAcc.PendingCount(),
		Upsert:         p.upsertPool.StatsSnapshot(),
		Delete:         p.deletePool.StatsSnapshot(),
	}
}

// GetPendingCount returns the total number of items buffered across both
// accumulators, not yet submitted to a worker pool.
func (p *ChunkPipeline) GetPendingCount() int {
	return p.chunkAcc.PendingCount() + p.deleteAcc.PendingCount()
}

func (p *ChunkPipeline) onChunkBatch(batch Batch[ChunkItem]) {
	ch := p.upsertPool.Submit(context.Background(), batch, p.handleUpsertBatch)
	go func() {
		res := <-ch
		if !res.Success {
			p.logger.Error("chunk upsert batch failed", "batchId", batch.ID, "items", len(batch.Items), "error", res.Error)
		}
	}()
}

func (p *ChunkPipeline) onDeleteBatch(batch Batch[string]) {
	ch := p.deletePool.Submit(context.Background(), batch, p.handleDeleteBatch)
	go func() {
		res := <-ch
		if !res.Success {
			p.logger.Error("delete batch failed", "batchId", batch.ID, "paths", len(batch.Items), "error", res.Error)
		}
	}()
}

func (p *ChunkPipeline) handleUpsertBatch(ctx context.Context, batch Batch[ChunkItem]) error {
	texts := make([]string, len(batch.Items))
	for i, item := range batch.Items {
		texts[i] = item.Chunk.Content
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("pipeline: embed batch %d: %w", batch.ID, err)
	}
	if len(vectors) != len(batch.Items) {
		return fmt.Errorf("pipeline: embedder returned %d vectors for %d chunks", len(vectors), len(batch.Items))
	}

	points := make([]vectorstore.Point, len(batch.Items))
	for i, item := range batch.Items {
		points[i] = vectorstore.Point{
			ID:      item.ChunkID,
			Dense:   vectors[i],
			Payload: chunkPayload(item),
		}
		if p.cfg.Hybrid {
			sv := vectorstore.BuildSparseVector(item.Chunk.Content)
			points[i].Sparse = &sv
		}
	}

	if p.cfg.Hybrid {
		if err := p.store.UpsertWithSparse(ctx, p.cfg.CollectionName, points); err != nil {
			return fmt.Errorf("pipeline: upsert with sparse batch %d: %w", batch.ID, err)
		}
	} else if err := p.store.Upsert(ctx, p.cfg.CollectionName, points, vectorstore.UpsertOptions{Wait: true, Ordering: "weak"}); err != nil {
		return fmt.Errorf("pipeline: upsert batch %d: %w", batch.ID, err)
	}

	p.mu.Lock()
	cb := p.onBatchUpserted
	p.mu.Unlock()
	if cb != nil {
		cb(batch.Items)
	}
	return nil
}

func (p *ChunkPipeline) handleDeleteBatch(ctx context.Context, batch Batch[string]) error {
	// spec.md's delete_by_filter(relativePath ∈ batch.paths) is a logical
	// OR across paths; vectorstore.Filter only expresses an AND of
	// equality conditions, so the dedicated by-paths RPC (an exact match
	// for this "IN" semantics) is used instead.
	if err := p.store.DeleteByPaths(ctx, p.cfg.CollectionName, batch.Items); err != nil {
		return fmt.Errorf("pipeline: delete batch %d: %w", batch.ID, err)
	}
	return nil
}

// chunkPayload builds the initial point payload: chunk metadata plus
// content, relativePath, fileExtension, per spec.md §3.
func chunkPayload(item ChunkItem) map[string]any {
	c := item.Chunk
	payload := map[string]any{
		"content":          c.Content,
		"relativePath":     c.FilePath,
		"fileExtension":    filepath.Ext(c.FilePath),
		"language":         c.Language,
		"contentType":      string(c.ContentType),
		"startLine":        c.StartLine,
		"endLine":          c.EndLine,
		"codebasePath":     item.CodebasePath,
		"chunk_index":      c.ChunkIndex,
		"chunk_type":       string(c.ChunkType),
		"is_documentation": c.IsDocumentation,
	}
	if c.Name != "" {
		payload["name"] = c.Name
	}
	if c.ParentName != "" {
		payload["parent_name"] = c.ParentName
	}
	if c.ParentType != "" {
		payload["parent_type"] = c.ParentType
	}
	if c.SymbolID != "" {
		payload["symbol_id"] = c.SymbolID
	}
	if len(c.LineRanges) > 0 {
		ranges := make([]map[string]int, len(c.LineRanges))
		for i, lr := range c.LineRanges {
			ranges[i] = map[string]int{"startLine": lr.StartLine, "endLine": lr.EndLine}
		}
		payload["line_ranges"] = ranges
	}
	for k, v := range c.Metadata {
		payload[k] = v
	}
	return payload
}
