package enrichment

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tearags/tearagsd/internal/churn"
)

// StartChunkChurn fires the per-chunk overlay pass: for each chunk, run a
// line-restricted git log and derive chunk-level commit count, churn
// ratio, contributor count, bug-fix rate, last-modified-at, and age.
// Results are written with a distinct set of payload keys so they merge
// with, rather than clobber, the file-level "git" payload. Fire-and-forget
// — callers that need completion should not block on this, per spec.md;
// it records its own duration for diagnostics only.
func (m *Module) StartChunkChurn(ctx context.Context, collection, _ string, chunkRefs []ChunkRef) {
	m.mu.Lock()
	m.chunkChurnStart = time.Now()
	m.chunkChurnRan = true
	root := m.repoRoot
	m.mu.Unlock()

	if root == "" {
		m.mu.Lock()
		m.chunkChurnEnd = time.Now()
		m.mu.Unlock()
		return
	}

	m.chunkWG.Add(1)
	go func() {
		defer m.chunkWG.Done()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.chunkConcurrency)

		for _, ref := range chunkRefs {
			ref := ref
			g.Go(func() error {
				m.overlayChunk(gctx, collection, root, ref)
				return nil
			})
		}
		_ = g.Wait()

		m.mu.Lock()
		m.chunkChurnEnd = time.Now()
		m.mu.Unlock()
	}()
}

func (m *Module) overlayChunk(ctx context.Context, collection, gitRoot string, ref ChunkRef) {
	commits, err := ReadChunkChurn(ctx, gitRoot, ref.RelativePath, ref.StartLine, ref.EndLine)
	if err != nil || len(commits) == 0 {
		return
	}

	lines := ref.EndLine - ref.StartLine + 1
	if lines <= 0 {
		lines = 1
	}
	metadata := churn.ComputeFileMetadata(churn.FileChurnData{RelativePath: ref.RelativePath, Commits: commits}, lines)

	overlay := map[string]any{
		"chunkCommitCount":      metadata.CommitCount,
		"chunkChurnRatio":       metadata.RelativeChurn,
		"chunkContributorCount": metadata.ContributorCount,
		"chunkBugFixRate":       metadata.BugFixRate,
		"chunkLastModifiedAt":   metadata.LastModifiedAt,
		"chunkAgeDays":          metadata.AgeDays,
	}

	if err := m.store.SetPayload(ctx, collection, overlay, []string{ref.ChunkID}); err != nil {
		m.logger.Error("enrichment: chunk churn set_payload failed", "chunkId", ref.ChunkID, "error", err)
	}
}

// WaitChunkChurn blocks until any in-flight StartChunkChurn pass has
// finished. Exposed for tests and for graceful shutdown paths that do
// want to wait; AwaitCompletion itself never calls this.
func (m *Module) WaitChunkChurn() {
	m.chunkWG.Wait()
}
