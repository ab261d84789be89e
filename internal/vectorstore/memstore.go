package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation used by tests and by
// offline runs without a live Qdrant instance. It is safe for concurrent
// use.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

type memCollection struct {
	dims         int
	distance     Distance
	hybrid       bool
	points       map[string]Point
	payloadIndex map[string]bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]*memCollection)}
}

func (m *MemStore) CreateCollection(_ context.Context, name string, dims int, distance Distance, hybrid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = &memCollection{
		dims:         dims,
		distance:     distance,
		hybrid:       hybrid,
		points:       make(map[string]Point),
		payloadIndex: make(map[string]bool),
	}
	return nil
}

func (m *MemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemStore) GetCollectionInfo(_ context.Context, name string) (CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return CollectionInfo{}, fmt.Errorf("vectorstore: collection %q not found", name)
	}
	return CollectionInfo{PointsCount: uint64(len(c.points)), VectorsCount: uint64(len(c.points)), Status: "green"}, nil
}

func (m *MemStore) ListCollections(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.collections))
	for n := range m.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemStore) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("vectorstore: collection %q not found", name)
	}
	return c, nil
}

func (m *MemStore) Upsert(_ context.Context, name string, points []Point, _ UpsertOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		c.points[p.ID] = p
	}
	return nil
}

func (m *MemStore) UpsertWithSparse(ctx context.Context, name string, points []Point) error {
	return m.Upsert(ctx, name, points, UpsertOptions{})
}

func (m *MemStore) DeleteByFilter(_ context.Context, name string, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	for id, p := range c.points {
		if matchesFilter(p, filter) {
			delete(c.points, id)
		}
	}
	return nil
}

func (m *MemStore) DeleteByPaths(_ context.Context, name string, relativePaths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	paths := make(map[string]struct{}, len(relativePaths))
	for _, p := range relativePaths {
		paths[p] = struct{}{}
	}
	for id, p := range c.points {
		if rp, ok := p.Payload["relativePath"].(string); ok {
			if _, match := paths[rp]; match {
				delete(c.points, id)
			}
		}
	}
	return nil
}

func (m *MemStore) DeleteByPathsBatched(ctx context.Context, name string, relativePaths []string, opts DeleteBatchOptions) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(relativePaths)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	total := len(relativePaths)
	done := 0
	for i := 0; i < len(relativePaths); i += batchSize {
		end := i + batchSize
		if end > len(relativePaths) {
			end = len(relativePaths)
		}
		if err := m.DeleteByPaths(ctx, name, relativePaths[i:end]); err != nil {
			return err
		}
		done = end
		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}
	}
	return nil
}

func (m *MemStore) SetPayload(_ context.Context, name string, payload map[string]any, points []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	for _, id := range points {
		p, ok := c.points[id]
		if !ok {
			continue
		}
		mergePayload(p.Payload, payload)
		c.points[id] = p
	}
	return nil
}

func (m *MemStore) BatchSetPayload(ctx context.Context, name string, ops []SetPayloadOp) error {
	for _, op := range ops {
		if err := m.SetPayload(ctx, name, op.Payload, op.Points); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Search(_ context.Context, name string, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(c.points))
	for _, p := range c.points {
		if filter != nil && !matchesFilter(p, *filter) {
			continue
		}
		results = append(results, SearchResult{ID: p.ID, Score: cosineSimilarity(vector, p.Dense), Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemStore) HybridSearch(ctx context.Context, name string, dense []float32, _ *SparseVector, limit int, filter *Filter) ([]SearchResult, error) {
	return m.Search(ctx, name, dense, limit, filter)
}

func (m *MemStore) GetPoint(_ context.Context, name string, id string) (*Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	p, ok := c.points[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemStore) HasPayloadIndex(_ context.Context, name string, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return false, err
	}
	return c.payloadIndex[field], nil
}

func (m *MemStore) CreatePayloadIndex(_ context.Context, name string, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name)
	if err != nil {
		return err
	}
	c.payloadIndex[field] = true
	return nil
}

func matchesFilter(p Point, filter Filter) bool {
	for _, cond := range filter.Must {
		v, ok := p.Payload[cond.Key]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != cond.Value {
			return false
		}
	}
	return true
}

// mergePayload merges src into dst in place (shallow, top-level merge —
// matching the vector store's documented set_payload merge semantics).
func mergePayload(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
