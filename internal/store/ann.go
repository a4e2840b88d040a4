package store

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"
)

// annIndex is the in-memory nearest-neighbor layer over the chunk table.
// It maps string chunk ids onto the graph's uint64 keys.
type annIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dims    int
}

// newANNIndex creates an empty graph tuned from the index params.
// Partitions map onto the graph's per-layer connectivity; sub-vectors have
// no HNSW equivalent and are not used.
func newANNIndex(dims int, params IndexParams) *annIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance

	m := 16
	if params.Partitions > 0 && params.Partitions < 16 {
		m = params.Partitions + 1
	}
	graph.M = m
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &annIndex{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		dims:   dims,
	}
}

// add inserts or replaces vectors by id.
func (a *annIndex) add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, id := range ids {
		if len(vectors[i]) != a.dims {
			return fmt.Errorf("vector dimension %d, want %d", len(vectors[i]), a.dims)
		}
		// Replacement is lazy: the old key is orphaned rather than removed
		// from the graph, which sidesteps last-node deletion issues.
		if oldKey, exists := a.idMap[id]; exists {
			delete(a.keyMap, oldKey)
			delete(a.idMap, id)
		}

		key := a.nextKey
		a.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		a.graph.Add(hnsw.MakeNode(key, vec))

		a.idMap[id] = key
		a.keyMap[key] = id
	}
	return nil
}

// remove drops ids from the mapping; graph nodes are orphaned lazily.
func (a *annIndex) remove(ids []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if key, ok := a.idMap[id]; ok {
			delete(a.keyMap, key)
			delete(a.idMap, id)
		}
	}
}

// search returns up to k live ids ordered by ascending distance.
// Orphaned graph nodes are skipped, so the graph is oversampled.
func (a *annIndex) search(query []float32, k int) ([]string, []float64, error) {
	if len(query) != a.dims {
		return nil, nil, fmt.Errorf("query dimension %d, want %d", len(query), a.dims)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.idMap) == 0 {
		return nil, nil, nil
	}

	// Oversample to cover orphaned keys left behind by replacements.
	neighbors := a.graph.Search(query, k*2)

	ids := make([]string, 0, k)
	distances := make([]float64, 0, k)
	for _, n := range neighbors {
		id, live := a.keyMap[n.Key]
		if !live {
			continue
		}
		ids = append(ids, id)
		distances = append(distances, l2Distance(query, n.Value))
		if len(ids) >= k {
			break
		}
	}
	return ids, distances, nil
}

// count returns the number of live vectors.
func (a *annIndex) count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.idMap)
}
