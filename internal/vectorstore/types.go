// Package vectorstore defines the Store interface the indexing core talks
// to, and two implementations: a Qdrant-backed one for production and an
// in-memory one for tests.
package vectorstore

import "context"

// Distance is the similarity metric a collection is created with.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// SparseVector is a feature-hashed sparse representation of a chunk's
// tokens, used for hybrid (dense + sparse) search.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Point is the stored unit: a dense vector, optional sparse vector, and
// an opaque payload map, keyed by a deterministic ChunkId (or the
// reserved indexing-metadata id).
type Point struct {
	ID      string
	Dense   []float32
	Sparse  *SparseVector
	Payload map[string]any
}

// UpsertOptions tunes an upsert call.
type UpsertOptions struct {
	// Wait, if true, blocks until the operation is applied and visible to
	// subsequent reads.
	Wait bool
	// Ordering controls write ordering guarantees; "weak" is acceptable
	// for this workload.
	Ordering string
}

// Filter is a minimal "must match" filter, sufficient for the
// relativePath-keyed deletes and searches this core performs.
type Filter struct {
	Must []Condition
}

// Condition matches a payload key against a value.
type Condition struct {
	Key   string
	Value string
}

// SetPayloadOp is one operation in a batched payload merge: merge payload
// into every point in Points.
type SetPayloadOp struct {
	Payload map[string]any
	Points  []string
}

// DeleteBatchOptions tunes delete_by_paths_batched.
type DeleteBatchOptions struct {
	BatchSize   int
	Concurrency int
	OnProgress  func(done, total int)
}

// CollectionInfo reports basic collection stats.
type CollectionInfo struct {
	PointsCount  uint64
	VectorsCount uint64
	Status       string
}

// SearchResult is one hit from search/hybrid_search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector-store collaborator's external interface, per
// spec.md §1/§6. It is intentionally narrow: only the RPCs the indexing
// core needs.
type Store interface {
	CreateCollection(ctx context.Context, name string, dims int, distance Distance, hybrid bool) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, name string, points []Point, opts UpsertOptions) error
	UpsertWithSparse(ctx context.Context, name string, points []Point) error

	DeleteByFilter(ctx context.Context, name string, filter Filter) error
	DeleteByPaths(ctx context.Context, name string, relativePaths []string) error
	DeleteByPathsBatched(ctx context.Context, name string, relativePaths []string, opts DeleteBatchOptions) error

	SetPayload(ctx context.Context, name string, payload map[string]any, points []string) error
	BatchSetPayload(ctx context.Context, name string, ops []SetPayloadOp) error

	Search(ctx context.Context, name string, vector []float32, limit int, filter *Filter) ([]SearchResult, error)
	HybridSearch(ctx context.Context, name string, dense []float32, sparse *SparseVector, limit int, filter *Filter) ([]SearchResult, error)

	GetPoint(ctx context.Context, name string, id string) (*Point, error)

	HasPayloadIndex(ctx context.Context, name string, field string) (bool, error)
	CreatePayloadIndex(ctx context.Context, name string, field string) error
}
