package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// SparseVectorIndex implements SparseIndex over service-provided sparse
// vectors (term -> weight maps). Scoring is the dot product between document
// and query weights over an inverted index, so only terms present in the
// query are touched.
type SparseVectorIndex struct {
	mu     sync.RWMutex
	closed bool

	// term -> docID -> weight
	postings map[string]map[string]float32
	// docID -> terms (for deletion)
	docTerms map[string][]string
	// docID -> dataset
	dataset map[string]string
}

// sparseVectorSnapshot is the gob persistence form.
type sparseVectorSnapshot struct {
	Postings map[string]map[string]float32
	DocTerms map[string][]string
	Dataset  map[string]string
}

// NewSparseVectorIndex creates an empty sparse vector index.
// If path is non-empty and exists, the index is loaded from it.
func NewSparseVectorIndex(path string) (*SparseVectorIndex, error) {
	idx := &SparseVectorIndex{
		postings: make(map[string]map[string]float32),
		docTerms: make(map[string][]string),
		dataset:  make(map[string]string),
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := idx.load(path); err != nil {
				return nil, fmt.Errorf("failed to load sparse index: %w", err)
			}
		}
	}

	return idx, nil
}

// Index adds documents. A document with no vector is ignored; existing IDs
// are replaced.
func (s *SparseVectorIndex) Index(ctx context.Context, docs []*SparseDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		if len(doc.Vector) == 0 {
			continue
		}

		s.removeLocked(doc.ID)

		terms := make([]string, 0, len(doc.Vector))
		for term, weight := range doc.Vector {
			if weight == 0 {
				continue
			}
			posting, ok := s.postings[term]
			if !ok {
				posting = make(map[string]float32)
				s.postings[term] = posting
			}
			posting[doc.ID] = weight
			terms = append(terms, term)
		}

		s.docTerms[doc.ID] = terms
		s.dataset[doc.ID] = doc.DatasetID
	}

	return nil
}

// Search scores documents by the dot product with the query vector.
func (s *SparseVectorIndex) Search(ctx context.Context, q SparseQuery, limit int) ([]*SparseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(q.Vector) == 0 {
		return []*SparseResult{}, nil
	}

	var allowed map[string]struct{}
	if len(q.Datasets) > 0 {
		allowed = make(map[string]struct{}, len(q.Datasets))
		for _, ds := range q.Datasets {
			allowed[ds] = struct{}{}
		}
	}

	scores := make(map[string]float64)
	matched := make(map[string][]string)
	for term, qw := range q.Vector {
		posting, ok := s.postings[term]
		if !ok {
			continue
		}
		for docID, dw := range posting {
			if allowed != nil {
				if _, ok := allowed[s.dataset[docID]]; !ok {
					continue
				}
			}
			scores[docID] += float64(qw) * float64(dw)
			matched[docID] = append(matched[docID], term)
		}
	}

	results := make([]*SparseResult, 0, len(scores))
	for docID, score := range scores {
		results = append(results, &SparseResult{
			DocID:        docID,
			Score:        score,
			MatchedTerms: matched[docID],
		})
	}

	// Best first, ID as deterministic tie-break.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Delete removes documents from the index.
func (s *SparseVectorIndex) Delete(ctx context.Context, docIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range docIDs {
		s.removeLocked(id)
	}

	return nil
}

// removeLocked erases all postings for a document. Caller holds the lock.
func (s *SparseVectorIndex) removeLocked(docID string) {
	terms, ok := s.docTerms[docID]
	if !ok {
		return
	}
	for _, term := range terms {
		posting := s.postings[term]
		delete(posting, docID)
		if len(posting) == 0 {
			delete(s.postings, term)
		}
	}
	delete(s.docTerms, docID)
	delete(s.dataset, docID)
}

// AllIDs returns all document IDs in the index.
func (s *SparseVectorIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	ids := make([]string, 0, len(s.docTerms))
	for id := range s.docTerms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats returns index statistics.
func (s *SparseVectorIndex) Stats() *SparseStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &SparseStats{}
	}

	return &SparseStats{
		DocumentCount: len(s.docTerms),
		TermCount:     len(s.postings),
	}
}

// Save persists the index to disk atomically (temp file + rename).
func (s *SparseVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	snap := sparseVectorSnapshot{
		Postings: s.postings,
		DocTerms: s.docTerms,
		Dataset:  s.dataset,
	}

	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// load reads a snapshot from disk.
func (s *SparseVectorIndex) load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	var snap sparseVectorSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	s.postings = snap.Postings
	s.docTerms = snap.DocTerms
	s.dataset = snap.Dataset
	if s.postings == nil {
		s.postings = make(map[string]map[string]float32)
	}
	if s.docTerms == nil {
		s.docTerms = make(map[string][]string)
	}
	if s.dataset == nil {
		s.dataset = make(map[string]string)
	}
	return nil
}

// Close releases resources.
func (s *SparseVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Verify interface implementation
var _ SparseIndex = (*SparseVectorIndex)(nil)
