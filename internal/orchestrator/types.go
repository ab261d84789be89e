// Package orchestrator composes the scanner, change detector, checkpoint
// store, chunk pipeline, and enrichment module into the end-to-end
// index/reindex/status/clear operations.
package orchestrator

import "time"

// IndexOptions tunes a single Index call.
type IndexOptions struct {
	// ForceReindex drops and recreates an existing collection instead of
	// refusing to index over it.
	ForceReindex bool
	// Hybrid enables sparse-vector generation and upsert_with_sparse.
	Hybrid bool
}

// EnrichmentStatus summarizes how far enrichment got by the time an
// Index/Reindex call returned.
type EnrichmentStatus string

const (
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentBackground EnrichmentStatus = "background"
	EnrichmentSkipped    EnrichmentStatus = "skipped"
)

// IndexStats is returned by Index.
type IndexStats struct {
	FilesScanned     int
	FilesIndexed     int
	ChunksCreated    int
	Errors           []string
	DurationMs       int64
	EnrichmentStatus EnrichmentStatus
}

// ReindexStats is returned by Reindex.
type ReindexStats struct {
	FilesAdded       int
	FilesModified    int
	FilesDeleted     int
	ChunksCreated    int
	Errors           []string
	DurationMs       int64
	EnrichmentStatus EnrichmentStatus
}

// StatusState is the coarse lifecycle state reported by Status.
type StatusState string

const (
	StatusNotIndexed StatusState = "not_indexed"
	StatusIndexing   StatusState = "indexing"
	StatusIndexed    StatusState = "indexed"
)

// StatusResult is returned by Status.
type StatusResult struct {
	State           StatusState
	PointsCount     uint64
	Enrichment      map[string]any
	ChunkEnrichment map[string]any
}

// IndexingMetadata is the payload shape of the reserved
// __indexing_metadata__ point. Every write to it uses merge semantics so
// concurrent writers never clobber each other's sub-objects.
type IndexingMetadata struct {
	IndexingComplete bool       `json:"indexingComplete"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// indexingMetadataPayload flattens m into the point-payload shape stored
// on the reserved indexing-metadata point.
func indexingMetadataPayload(m IndexingMetadata) map[string]any {
	payload := map[string]any{
		"indexingComplete": m.IndexingComplete,
		"startedAt":        m.StartedAt,
	}
	if m.CompletedAt != nil {
		payload["completedAt"] = *m.CompletedAt
	}
	return payload
}
