package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chunkpkg "github.com/tearags/tearagsd/internal/chunker"
	"github.com/tearags/tearagsd/internal/churn"
	"github.com/tearags/tearagsd/internal/pipeline"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

func newTestStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store := vectorstore.NewMemStore()
	require.NoError(t, store.CreateCollection(context.Background(), "coll", 4, vectorstore.DistanceCosine, false))
	require.NoError(t, store.Upsert(context.Background(), "coll", []vectorstore.Point{
		{ID: IndexingMetadataID, Dense: make([]float32, 4), Payload: map[string]any{"indexingComplete": false}},
	}, vectorstore.UpsertOptions{}))
	return store
}

func chunkItem(path, id string) pipeline.ChunkItem {
	return pipeline.ChunkItem{
		Chunk:        &chunkpkg.Chunk{FilePath: path, Content: "x", StartLine: 1, EndLine: 20},
		ChunkID:      id,
		CodebasePath: "/repo",
	}
}

func TestOnChunksStoredFlushThenStreaming(t *testing.T) {
	store := newTestStore(t)
	m := NewModule(store, nil, Config{})
	m.prefetchStart = time.Now()

	ctx := context.Background()

	// Arrives before the prefetch resolves -> flush path.
	m.OnChunksStored(ctx, "coll", "/repo", []pipeline.ChunkItem{chunkItem("a.go", "id-a")})

	m.finishPrefetch(ctx, "coll", map[string]churn.FileChurnData{
		"a.go": {RelativePath: "a.go", Commits: []churn.CommitRecord{{Author: "x", Date: time.Now(), Message: "init"}}},
		"b.go": {RelativePath: "b.go", Commits: []churn.CommitRecord{{Author: "y", Date: time.Now(), Message: "init"}}},
	}, "/repo", nil)

	// Arrives after resolution -> streaming path.
	m.OnChunksStored(ctx, "coll", "/repo", []pipeline.ChunkItem{chunkItem("b.go", "id-b")})

	assert.Equal(t, 1, m.flushApplies)
	assert.Equal(t, 1, m.streamingApplies)
	assert.Equal(t, 2, m.matchedFiles)

	pt, err := store.GetPoint(ctx, "coll", "id-a")
	require.NoError(t, err)
	require.NotNil(t, pt.Payload["git"])
}

func TestOnChunksStoredDroppedAfterPrefetchFailure(t *testing.T) {
	store := newTestStore(t)
	m := NewModule(store, nil, Config{})
	m.prefetchStart = time.Now()

	ctx := context.Background()
	m.finishPrefetch(ctx, "coll", nil, "", assertErr)

	m.OnChunksStored(ctx, "coll", "/repo", []pipeline.ChunkItem{chunkItem("a.go", "id-a")})

	assert.Equal(t, 0, m.streamingApplies)
	assert.Equal(t, 0, m.flushApplies)
}

func TestApplyBatchRecordsMissedSamplesCappedAt10(t *testing.T) {
	store := newTestStore(t)
	m := NewModule(store, nil, Config{})
	m.prefetchStart = time.Now()
	ctx := context.Background()
	m.finishPrefetch(ctx, "coll", map[string]churn.FileChurnData{}, "/repo", nil)

	var items []pipeline.ChunkItem
	for i := 0; i < 15; i++ {
		items = append(items, chunkItem(string(rune('a'+i))+".go", "id-"+string(rune('a'+i))))
	}
	m.OnChunksStored(ctx, "coll", "/repo", items)

	assert.Equal(t, 15, m.missedFilesCount)
	assert.LessOrEqual(t, len(m.missedSamples), missedSampleCap)
}

func TestAwaitCompletionWritesFinalMarker(t *testing.T) {
	store := newTestStore(t)
	m := NewModule(store, nil, Config{})
	m.prefetchStart = time.Now()
	ctx := context.Background()

	m.finishPrefetch(ctx, "coll", map[string]churn.FileChurnData{
		"a.go": {RelativePath: "a.go", Commits: []churn.CommitRecord{{Author: "x", Date: time.Now(), Message: "init"}}},
	}, "/repo", nil)
	m.OnChunksStored(ctx, "coll", "/repo", []pipeline.ChunkItem{chunkItem("a.go", "id-a")})

	metrics := m.AwaitCompletion(ctx, "coll")
	assert.Equal(t, 1, metrics.MatchedFiles)
	assert.GreaterOrEqual(t, metrics.TotalDurationMs, int64(0))

	pt, err := store.GetPoint(ctx, "coll", IndexingMetadataID)
	require.NoError(t, err)
	enrichment, ok := pt.Payload["enrichment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", enrichment["status"])
}

func TestOverlapMetrics(t *testing.T) {
	// Embedding (on_chunks_stored) outlasts the git-log read: the last
	// batch arrives strictly after prefetch resolves, so overlap spans
	// the whole prefetch duration and overlapRatio == 1.0.
	store := newTestStore(t)
	m := NewModule(store, nil, Config{})
	ctx := context.Background()
	m.prefetchStart = time.Now()
	time.Sleep(5 * time.Millisecond)

	m.finishPrefetch(ctx, "coll", map[string]churn.FileChurnData{
		"a.go": {RelativePath: "a.go", Commits: []churn.CommitRecord{{Author: "x", Date: time.Now(), Message: "init"}}},
	}, "/repo", nil)

	m.OnChunksStored(ctx, "coll", "/repo", []pipeline.ChunkItem{chunkItem("a.go", "id-a")})

	metrics := m.snapshotMetrics()
	assert.InDelta(t, 1.0, metrics.OverlapRatio, 0.001)
}

var assertErr = errTest{}

type errTest struct{}

func (errTest) Error() string { return "simulated git failure" }
