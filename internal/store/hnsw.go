package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

var errStoreClosed = fmt.Errorf("store is closed")

// HNSWStore is a VectorStore over the coder/hnsw in-memory graph. The graph
// keys nodes by uint64, so the store maintains a bidirectional mapping
// between chunk IDs and graph keys, plus a chunk-to-dataset map for scoped
// search.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keys     map[string]uint64
	ids      map[uint64]string
	datasets map[string]string
	nextKey  uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore builds an empty store. Zero-valued config fields get
// defaults: cosine metric, M=16, EfSearch=20.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	g := hnsw.NewGraph[uint64]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}

	return &HNSWStore{
		graph:    g,
		config:   cfg,
		keys:     make(map[string]uint64),
		ids:      make(map[uint64]string),
		datasets: make(map[string]string),
	}, nil
}

func (s *HNSWStore) checkDims(n int) error {
	if n != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: n}
	}
	return nil
}

// prepared copies the vector, normalizing it when the metric is cosine.
func (s *HNSWStore) prepared(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// Add inserts records; an existing ID is replaced. Replacement orphans the
// old graph node instead of removing it: coder/hnsw breaks when the last
// node is deleted, so stale nodes stay in the graph and get filtered out of
// search results.
func (s *HNSWStore) Add(ctx context.Context, recs []*VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	for _, r := range recs {
		if err := s.checkDims(len(r.Vector)); err != nil {
			return err
		}
	}

	for _, r := range recs {
		if old, ok := s.keys[r.ID]; ok {
			delete(s.ids, old)
		}

		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, s.prepared(r.Vector)))

		s.keys[r.ID] = key
		s.ids[key] = r.ID
		s.datasets[r.ID] = r.DatasetID
	}
	return nil
}

// Search returns up to k nearest neighbors within the given datasets. The
// graph has no payload filtering, so dataset scoping oversamples (4x) and
// drops out-of-scope hits afterwards.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int, datasets []string) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	if err := s.checkDims(len(query)); err != nil {
		return nil, err
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepared(query)

	var scope map[string]struct{}
	fetch := k
	if len(datasets) > 0 {
		scope = make(map[string]struct{}, len(datasets))
		for _, ds := range datasets {
			scope[ds] = struct{}{}
		}
		fetch = k * 4
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	out := make([]*VectorResult, 0, k)
	for _, node := range s.graph.Search(q, fetch) {
		id, ok := s.ids[node.Key]
		if !ok {
			continue // orphaned by replace or delete
		}
		if scope != nil {
			if _, ok := scope[s.datasets[id]]; !ok {
				continue
			}
		}
		dist := s.graph.Distance(q, node.Value)
		out = append(out, &VectorResult{
			ID:       id,
			Distance: dist,
			Score:    distanceToScore(dist, s.config.Metric),
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Delete drops the ID mappings; graph nodes are orphaned, not removed.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	for _, id := range ids {
		key, ok := s.keys[id]
		if !ok {
			continue
		}
		delete(s.ids, key)
		delete(s.keys, id)
		delete(s.datasets, id)
	}
	return nil
}

// AllIDs lists every live vector ID.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	out := make([]string, 0, len(s.keys))
	for id := range s.keys {
		out = append(out, id)
	}
	return out
}

// Contains reports whether id has a live vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.keys[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.keys)
}

// HNSWStats reports graph occupancy. Orphans accumulate from replaces and
// deletes until the index is rebuilt.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	return HNSWStats{
		ValidIDs:   len(s.keys),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.keys),
	}
}

// hnswSidecar is the gob-encoded companion file (<path>.meta) holding the
// ID mappings the graph export does not carry.
type hnswSidecar struct {
	IDMap   map[string]uint64
	Dataset map[string]string
	NextKey uint64
	Config  VectorStoreConfig
}

// Save writes the graph and its sidecar atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := atomicWrite(path, s.graph.Export); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	side := hnswSidecar{
		IDMap:   s.keys,
		Dataset: s.datasets,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	err := atomicWrite(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(side)
	})
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// atomicWrite streams content to <path>.tmp via write, then renames it over
// path. The temp file is removed on any failure.
func atomicWrite(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Load restores a saved store: sidecar first (it carries the config), then
// the graph itself.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	side, err := readSidecar(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	s.keys = side.IDMap
	s.datasets = side.Dataset
	if s.datasets == nil {
		s.datasets = make(map[string]string)
	}
	s.nextKey = side.NextKey
	s.config = side.Config
	s.ids = make(map[uint64]string, len(s.keys))
	for id, key := range s.keys {
		s.ids[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Import wants an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func readSidecar(path string) (*hnswSidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var side hnswSidecar
	if err := gob.NewDecoder(f).Decode(&side); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &side, nil
}

// Close marks the store unusable and drops the graph.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.graph = nil
	}
	return nil
}

// ReadHNSWStoreDimensions peeks at a saved store's dimensionality without
// loading the graph. Returns 0 when no store exists yet, so callers can
// tell "fresh start" from "dimension changed".
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	side, err := readSidecar(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read hnsw metadata: %w", err)
	}
	return side.Config.Dimensions, nil
}

func normalizeVectorInPlace(v []float32) {
	var ss float64
	for _, x := range v {
		ss += float64(x) * float64(x)
	}
	if ss == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(ss))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps distance to a similarity in [0,1]: cosine distance
// spans 0..2 so score = 1 - d/2; L2 uses 1/(1+d).
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
