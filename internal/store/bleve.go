package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Names under which the code-aware analysis chain is registered with bleve.
const (
	CodeTokenizerName  = "code_tokenizer"
	CodeStopFilterName = "code_stop"
	CodeAnalyzerName   = "code_analyzer"
)

func init() {
	registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// BleveKeywordIndex is a SparseIndex over bleve v2 with BM25 scoring.
// BoltDB's exclusive file lock makes it single-process only.
type BleveKeywordIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    SparseConfig
	closed    bool
	stopWords map[string]struct{}
}

var _ SparseIndex = (*BleveKeywordIndex)(nil)

type bleveDocument struct {
	Content string `json:"content"`
	Dataset string `json:"dataset"`
}

// NewBleveKeywordIndex opens or creates a sparse index at path; an empty
// path gives an in-memory index. A corrupted on-disk index is cleared and
// recreated empty (the next sync refills it) rather than failing every
// subsequent command.
func NewBleveKeywordIndex(path string, config SparseConfig) (*BleveKeywordIndex, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = openDiskIndex(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveKeywordIndex{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

func openDiskIndex(path string, m *mapping.IndexMappingImpl) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if verr := checkBleveMeta(path); verr != nil {
		if err := clearCorruptIndex(path, verr); err != nil {
			return nil, err
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
		return idx, nil
	case err == bleve.ErrorIndexPathDoesNotExist:
		return bleve.New(path, m)
	case isCorruptionError(err):
		if cerr := clearCorruptIndex(path, err); cerr != nil {
			return nil, cerr
		}
		return bleve.New(path, m)
	default:
		return nil, err
	}
}

// checkBleveMeta sanity-checks the index metadata file before bleve.Open,
// which panics on some forms of corruption instead of returning an error.
func checkBleveMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // nothing there yet
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	case err != nil:
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	case info.Size() == 0:
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func clearCorruptIndex(path string, cause error) error {
	slog.Warn("bleve_index_corrupted",
		slog.String("path", path),
		slog.String("error", cause.Error()))
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("sparse index corrupted at %s and cannot remove: %w (original error: %v)", path, err, cause)
	}
	slog.Info("bleve_index_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, please resync"))
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	for _, marker := range []string{
		"unexpected end of JSON",
		"error parsing mapping JSON",
		"failed to load segment",
		"error opening bolt",
		"no such file or directory",
	} {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

// buildIndexMapping wires the code analyzer onto the content field and an
// exact-match keyword analyzer onto the dataset field.
func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(CodeAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     CodeTokenizerName,
		"token_filters": []string{lowercase.Name, CodeStopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	m.DefaultAnalyzer = CodeAnalyzerName

	content := bleve.NewTextFieldMapping()
	content.Analyzer = CodeAnalyzerName
	dataset := bleve.NewTextFieldMapping()
	dataset.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("dataset", dataset)
	m.DefaultMapping = doc
	return m, nil
}

// Index upserts documents in one batch.
func (b *BleveKeywordIndex) Index(ctx context.Context, docs []*SparseDocument) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		err := batch.Index(doc.ID, bleveDocument{Content: doc.Content, Dataset: doc.DatasetID})
		if err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns BM25-scored matches for the query text, scoped to the
// requested datasets.
func (b *BleveKeywordIndex) Search(ctx context.Context, q SparseQuery, limit int) ([]*SparseResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(q.Text) == "" {
		return []*SparseResult{}, nil
	}

	match := bleve.NewMatchQuery(q.Text)
	match.SetField("content")

	var full query.Query = match
	if len(q.Datasets) > 0 {
		scopes := make([]query.Query, 0, len(q.Datasets))
		for _, ds := range q.Datasets {
			tq := bleve.NewTermQuery(ds)
			tq.SetField("dataset")
			scopes = append(scopes, tq)
		}
		full = bleve.NewConjunctionQuery(match, bleve.NewDisjunctionQuery(scopes...))
	}

	req := bleve.NewSearchRequest(full)
	req.Size = limit
	req.IncludeLocations = true // needed for matched terms

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]*SparseResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, &SparseResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

// Delete removes documents in one batch.
func (b *BleveKeywordIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs lists every indexed document ID via a match-all query.
func (b *BleveKeywordIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	count, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{} // IDs only

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func (b *BleveKeywordIndex) Stats() *SparseStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &SparseStats{}
	}
	count, _ := b.index.DocCount()
	return &SparseStats{DocumentCount: int(count)}
}

// Save is a no-op: disk-backed bleve indexes persist on every batch.
func (b *BleveKeywordIndex) Save(path string) error { return nil }

func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// matchedTerms collects the distinct content-field terms a hit matched on.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	return out
}

func codeTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer adapts TokenizeCode to bleve's analysis chain.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)

	var stream analysis.TokenStream
	offset := 0
	for pos, tok := range TokenizeCode(text) {
		// Best-effort byte positions: scan forward for the token, falling
		// back to the current offset when splitting changed its shape.
		start := strings.Index(lower[offset:], strings.ToLower(tok))
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)

		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

func codeStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	kept := input[:0]
	for _, tok := range input {
		if _, stop := f.stopWords[strings.ToLower(string(tok.Term))]; !stop {
			kept = append(kept, tok)
		}
	}
	return kept
}
