package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	idxerr "github.com/tearags/tearagsd/internal/errors"
)

// upsertRetryConfig governs retries for the two write RPCs on the hot
// indexing path. Qdrant write failures under load are usually transient
// (connection reset, temporary unavailability during a collection
// rebalance); read RPCs are left unretried since callers already loop
// over them at a higher level (status polling, search).
var upsertRetryConfig = idxerr.RetryConfig{
	MaxRetries:   3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// denseVectorName is the name Qdrant uses for the dense vector when a
// collection also carries a named sparse vector (hybrid search).
const denseVectorName = "dense"

// sparseVectorName is the name Qdrant uses for the sparse vector.
const sparseVectorName = "sparse"

// QdrantStore implements Store against a real Qdrant instance via
// github.com/qdrant/go-client. Grounded on armchr-codeapi's
// internal/service/vector/qdrant_db.go usage of the same client.
type QdrantStore struct {
	client *qdrant.Client
	hybrid map[string]bool
}

// NewQdrantStore dials host:port (gRPC).
func NewQdrantStore(host string, port int, apiKey string, useTLS bool) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant: %w", err)
	}
	return &QdrantStore{client: client, hybrid: make(map[string]bool)}, nil
}

func toQdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantStore) CreateCollection(ctx context.Context, name string, dims int, distance Distance, hybrid bool) error {
	req := &qdrant.CreateCollection{CollectionName: name}

	if hybrid {
		req.VectorsConfig = qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {Size: uint64(dims), Distance: toQdrantDistance(distance)},
		})
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	} else {
		req.VectorsConfig = qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: toQdrantDistance(distance),
		})
	}

	if err := q.client.CreateCollection(ctx, req); err != nil {
		return fmt.Errorf("vectorstore: create collection %q: %w", name, err)
	}
	q.hybrid[name] = hybrid
	return nil
}

func (q *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("vectorstore: collection exists %q: %w", name, err)
	}
	return exists, nil
}

func (q *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (CollectionInfo, error) {
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("vectorstore: get collection info %q: %w", name, err)
	}
	return CollectionInfo{
		PointsCount:  info.GetPointsCount(),
		VectorsCount: info.GetVectorsCount(),
		Status:       info.GetStatus().String(),
	}, nil
}

func (q *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: list collections: %w", err)
	}
	return names, nil
}

func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("vectorstore: delete collection %q: %w", name, err)
	}
	delete(q.hybrid, name)
	return nil
}

func toPointStruct(p Point, hybrid bool) *qdrant.PointStruct {
	payload := qdrant.NewValueMap(p.Payload)

	if hybrid && p.Sparse != nil {
		return &qdrant.PointStruct{
			Id: qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				denseVectorName:  qdrant.NewVector(p.Dense...),
				sparseVectorName: qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values),
			}),
			Payload: payload,
		}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID),
		Vectors: qdrant.NewVectors(p.Dense...),
		Payload: payload,
	}
}

func (q *QdrantStore) Upsert(ctx context.Context, name string, points []Point, opts UpsertOptions) error {
	if len(points) == 0 {
		return nil
	}
	pb := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		pb[i] = toPointStruct(p, false)
	}
	req := &qdrant.UpsertPoints{CollectionName: name, Points: pb, Wait: &opts.Wait}
	if opts.Ordering == "weak" {
		req.Ordering = &qdrant.WriteOrdering{Type: qdrant.WriteOrderingType_Weak}
	}
	if err := idxerr.Retry(ctx, upsertRetryConfig, func() error {
		_, err := q.client.Upsert(ctx, req)
		return err
	}); err != nil {
		return fmt.Errorf("vectorstore: upsert into %q: %w", name, err)
	}
	return nil
}

func (q *QdrantStore) UpsertWithSparse(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pb := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		pb[i] = toPointStruct(p, true)
	}
	wait := true
	req := &qdrant.UpsertPoints{CollectionName: name, Points: pb, Wait: &wait}
	if err := idxerr.Retry(ctx, upsertRetryConfig, func() error {
		_, err := q.client.Upsert(ctx, req)
		return err
	}); err != nil {
		return fmt.Errorf("vectorstore: hybrid upsert into %q: %w", name, err)
	}
	return nil
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, len(f.Must))
	for i, c := range f.Must {
		conditions[i] = &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   c.Key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: c.Value}},
				},
			},
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func (q *QdrantStore) DeleteByFilter(ctx context.Context, name string, filter Filter) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: toQdrantFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by filter in %q: %w", name, err)
	}
	return nil
}

// DeleteByPaths issues a single batched by-path deletion (L0 of the
// fallback ladder spec.md §4.8 describes; L1/L2 are implemented by the
// orchestrator, which falls back to this or to per-path DeleteByFilter
// calls).
func (q *QdrantStore) DeleteByPaths(ctx context.Context, name string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, len(relativePaths))
	for i, p := range relativePaths {
		conditions[i] = &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "relativePath",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: p}},
				},
			},
		}
	}
	filter := &qdrant.Filter{Should: conditions}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by paths in %q: %w", name, err)
	}
	return nil
}

func (q *QdrantStore) DeleteByPathsBatched(ctx context.Context, name string, relativePaths []string, opts DeleteBatchOptions) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	total := len(relativePaths)
	done := 0
	for i := 0; i < len(relativePaths); i += batchSize {
		end := i + batchSize
		if end > len(relativePaths) {
			end = len(relativePaths)
		}
		if err := q.DeleteByPaths(ctx, name, relativePaths[i:end]); err != nil {
			return err
		}
		done = end
		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}
	}
	return nil
}

func (q *QdrantStore) SetPayload(ctx context.Context, name string, payload map[string]any, points []string) error {
	if len(points) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(points))
	for i, p := range points {
		ids[i] = qdrant.NewID(p)
	}
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: name,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: set payload in %q: %w", name, err)
	}
	return nil
}

// BatchSetPayload issues each op as its own SetPayload RPC. The Qdrant
// gRPC API has no single "batch of distinct payload merges" call, so this
// sequences them; callers (EnrichmentModule) are expected to keep each op
// small (spec.md §4.9: sub-batches of 100).
func (q *QdrantStore) BatchSetPayload(ctx context.Context, name string, ops []SetPayloadOp) error {
	for _, op := range ops {
		if err := q.SetPayload(ctx, name, op.Payload, op.Points); err != nil {
			return err
		}
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, name string, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	req := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = toQdrantFilter(*filter)
	}
	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search in %q: %w", name, err)
	}
	return scoredPointsToResults(points), nil
}

func (q *QdrantStore) HybridSearch(ctx context.Context, name string, dense []float32, sparse *SparseVector, limit int, filter *Filter) ([]SearchResult, error) {
	if sparse == nil {
		return q.Search(ctx, name, dense, limit, filter)
	}

	req := &qdrant.QueryPoints{
		CollectionName: name,
		Prefetch: []*qdrant.PrefetchQuery{
			{Query: qdrant.NewQuery(dense...), Using: qdrant.PtrOf(denseVectorName)},
			{Query: qdrant.NewQuerySparse(sparse.Indices, sparse.Values), Using: qdrant.PtrOf(sparseVectorName)},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = toQdrantFilter(*filter)
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: hybrid search in %q: %w", name, err)
	}
	return scoredPointsToResults(points), nil
}

func scoredPointsToResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			ID:      pointIDString(p.GetId()),
			Score:   p.GetScore(),
			Payload: valueMapToAny(p.GetPayload()),
		})
	}
	return results
}

func (q *QdrantStore) GetPoint(ctx context.Context, name string, id string) (*Point, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get point %q from %q: %w", id, name, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	rp := points[0]
	return &Point{
		ID:      pointIDString(rp.GetId()),
		Payload: valueMapToAny(rp.GetPayload()),
	}, nil
}

func (q *QdrantStore) HasPayloadIndex(ctx context.Context, name string, field string) (bool, error) {
	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return false, fmt.Errorf("vectorstore: get collection info %q: %w", name, err)
	}
	schema := info.GetPayloadSchema()
	if schema == nil {
		return false, nil
	}
	_, ok := schema[field]
	return ok, nil
}

func (q *QdrantStore) CreatePayloadIndex(ctx context.Context, name string, field string) error {
	_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create payload index %q.%q: %w", name, field, err)
	}
	return nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprint(id.GetNum())
}

func valueMapToAny(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = qdrantValueToAny(v)
	}
	return out
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch x := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return x.StringValue
	case *qdrant.Value_IntegerValue:
		return x.IntegerValue
	case *qdrant.Value_DoubleValue:
		return x.DoubleValue
	case *qdrant.Value_BoolValue:
		return x.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(x.StructValue.GetFields()))
		for k, fv := range x.StructValue.GetFields() {
			out[k] = qdrantValueToAny(fv)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, len(x.ListValue.GetValues()))
		for i, lv := range x.ListValue.GetValues() {
			out[i] = qdrantValueToAny(lv)
		}
		return out
	default:
		return nil
	}
}

// Close releases the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
