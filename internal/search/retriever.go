// Package search implements hybrid retrieval: dense and sparse legs fused
// with reciprocal rank fusion, optionally reordered by a cross-encoder
// reranker, behind dataset visibility checks.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/embed"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/telemetry"
)

// Defaults mirror config defaults so a zero Options still behaves.
const (
	DefaultRRFConstant = 60
	DefaultRerankDepth = 100
	DefaultMaxResults  = 20

	// rerankSnippetLimit truncates candidate text sent to the reranker.
	rerankSnippetLimit = 2000
)

// Request is one retrieval query.
type Request struct {
	Query string

	// SubjectID identifies the caller for dataset visibility resolution.
	SubjectID string

	// Datasets restricts the search to specific dataset IDs. Requesting a
	// dataset the subject cannot see is an access error, not a silent skip.
	// Empty means all visible datasets.
	Datasets []string

	// TopK bounds the result count. Zero means the configured default.
	TopK int

	// DisableRerank skips the rerank pass for this query.
	DisableRerank bool
}

// ScoreBreakdown exposes each scoring stage of one result.
type ScoreBreakdown struct {
	Dense  float64 // dense leg similarity, 0 when absent
	Sparse float64 // sparse leg score, 0 when absent
	Fused  float64 // reciprocal rank fusion score
	Rerank float64 // cross-encoder score, 0 when reranking was skipped
}

// Result is one scored chunk. Score is the final ranking score: the rerank
// score when reranking ran, the fused score otherwise.
type Result struct {
	Chunk     *store.Chunk
	Score     float64
	Breakdown ScoreBreakdown
}

// Mode records which legs produced a response, for observability.
type Mode string

const (
	ModeHybrid    Mode = "hybrid"
	ModeDenseOnly Mode = "dense-only"
)

// Response carries results plus retrieval diagnostics.
type Response struct {
	Results  []*Result
	Mode     Mode
	Reranked bool
	Duration time.Duration
}

// Options configures the retriever.
type Options struct {
	RRFConstant   int  // default 60
	RerankDepth   int  // candidates sent to the reranker, default 100
	MaxResults    int  // default TopK, default 20
	RerankEnabled bool // master switch for the rerank pass
}

func (o Options) withDefaults() Options {
	if o.RRFConstant <= 0 {
		o.RRFConstant = DefaultRRFConstant
	}
	if o.RerankDepth <= 0 {
		o.RerankDepth = DefaultRerankDepth
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// Retriever executes hybrid queries.
type Retriever struct {
	meta      store.MetadataStore
	vectors   store.VectorStore
	sparse    store.SparseIndex
	dense     embed.DenseEmbedder
	sparseEmb embed.SparseEmbedder // nil: keyword-only sparse queries
	reranker  embed.Reranker       // nil: reranking unavailable
	opts      Options
	logger    *slog.Logger

	// External services get circuit breakers so a dead sidecar degrades
	// queries instead of slowing every one of them.
	sparseCB *qerrors.CircuitBreaker
	rerankCB *qerrors.CircuitBreaker

	metrics *telemetry.QueryMetrics // nil: no metrics collection
}

// NewRetriever wires a retriever over the stores and providers. sparseEmb
// and reranker may be nil.
func NewRetriever(meta store.MetadataStore, vectors store.VectorStore, sparse store.SparseIndex, dense embed.DenseEmbedder, sparseEmb embed.SparseEmbedder, reranker embed.Reranker, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		meta:      meta,
		vectors:   vectors,
		sparse:    sparse,
		dense:     dense,
		sparseEmb: sparseEmb,
		reranker:  reranker,
		opts:      opts.withDefaults(),
		logger:    logger,
		sparseCB:  qerrors.NewCircuitBreaker("sparse-embed"),
		rerankCB:  qerrors.NewCircuitBreaker("rerank"),
	}
}

// SetMetrics attaches a query metrics collector. Pass nil to disable.
func (r *Retriever) SetMetrics(m *telemetry.QueryMetrics) {
	r.metrics = m
}

// record feeds a completed query into the metrics collector.
func (r *Retriever) record(req *Request, resp *Response) {
	if r.metrics == nil {
		return
	}
	r.metrics.Record(telemetry.QueryEvent{
		Query:       req.Query,
		Mode:        string(resp.Mode),
		Reranked:    resp.Reranked,
		ResultCount: len(resp.Results),
		Latency:     resp.Duration,
	})
}

// Query runs one hybrid retrieval. The sparse leg is optional: when it
// fails the query degrades to dense-only. The dense leg is not: its
// failure terminates the query with RetrievalUnavailable.
func (r *Retriever) Query(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, qerrors.New(qerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	datasets, err := r.resolveDatasets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		resp := &Response{Results: []*Result{}, Mode: ModeHybrid, Duration: time.Since(start)}
		r.record(req, resp)
		return resp, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.opts.MaxResults
	}

	rerankActive := r.opts.RerankEnabled && !req.DisableRerank && r.reranker != nil
	depth := topK
	if rerankActive && r.opts.RerankDepth > depth {
		depth = r.opts.RerankDepth
	}

	denseHits, denseErr := r.denseLeg(ctx, req.Query, depth, datasets)
	sparseHits, sparseErr := r.sparseLeg(ctx, req.Query, depth, datasets)

	// The dense path is the floor: its failure is terminal for the query
	// regardless of how the sparse leg fared.
	if denseErr != nil {
		if sparseErr != nil {
			r.logger.Error("both retrieval legs failed",
				slog.String("dense_error", denseErr.Error()),
				slog.String("sparse_error", sparseErr.Error()))
		} else {
			r.logger.Error("dense leg failed", slog.String("error", denseErr.Error()))
		}
		return nil, qerrors.RetrievalUnavailable(denseErr)
	}

	mode := ModeHybrid
	if sparseErr != nil {
		mode = ModeDenseOnly
		r.logger.Warn("sparse leg failed, dense-only results", slog.String("error", sparseErr.Error()))
	}

	fused := fuse(denseHits, sparseHits, r.opts.RRFConstant)
	if len(fused) > depth {
		fused = fused[:depth]
	}
	if len(fused) == 0 {
		resp := &Response{Results: []*Result{}, Mode: mode, Duration: time.Since(start)}
		r.record(req, resp)
		return resp, nil
	}

	results, err := r.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	reranked := false
	if rerankActive {
		reranked = r.rerank(ctx, req.Query, results)
	}

	if len(results) > topK {
		results = results[:topK]
	}

	resp := &Response{
		Results:  results,
		Mode:     mode,
		Reranked: reranked,
		Duration: time.Since(start),
	}
	r.record(req, resp)
	return resp, nil
}

// resolveDatasets applies visibility before any retrieval work. An
// explicitly requested dataset outside the visible set is an access
// failure; silence here would leak existence via timing.
func (r *Retriever) resolveDatasets(ctx context.Context, req *Request) ([]string, error) {
	visible, err := r.meta.VisibleDatasets(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}

	visibleIDs := make(map[string]bool, len(visible))
	for _, ds := range visible {
		visibleIDs[ds.ID] = true
	}

	if len(req.Datasets) == 0 {
		ids := make([]string, 0, len(visible))
		for _, ds := range visible {
			ids = append(ids, ds.ID)
		}
		sort.Strings(ids)
		return ids, nil
	}

	ids := make([]string, 0, len(req.Datasets))
	for _, id := range req.Datasets {
		if !visibleIDs[id] {
			return nil, qerrors.AccessDeniedError("dataset not accessible: " + id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Retriever) denseLeg(ctx context.Context, query string, k int, datasets []string) ([]*store.VectorResult, error) {
	vecs, err := r.dense.EmbedDense(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return r.vectors.Search(ctx, vecs[0], k, datasets)
}

func (r *Retriever) sparseLeg(ctx context.Context, query string, k int, datasets []string) ([]*store.SparseResult, error) {
	if r.sparse == nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnavailable, "no sparse index configured", nil)
	}

	q := store.SparseQuery{Text: query, Datasets: datasets}

	// The sparse query embedding rides behind a breaker: when the service
	// is down, queries degrade to keyword matching instead of timing out.
	if r.sparseEmb != nil {
		err := r.sparseCB.Execute(func() error {
			vecs, err := r.sparseEmb.EmbedSparse(ctx, []string{query})
			if err != nil {
				return err
			}
			q.Vector = vecs[0]
			return nil
		})
		if err != nil {
			r.logger.Debug("sparse query embedding unavailable, keyword-only", slog.String("error", err.Error()))
		}
	}

	return r.sparse.Search(ctx, q, k)
}

// hydrate loads chunk metadata for fused candidates, preserving order.
// Chunks missing from the metadata store (index lag) are dropped.
func (r *Retriever) hydrate(ctx context.Context, fused []*fusedHit) ([]*Result, error) {
	ids := make([]string, len(fused))
	for i, h := range fused {
		ids[i] = h.id
	}

	chunks, err := r.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]*Result, 0, len(fused))
	for _, h := range fused {
		chunk, ok := byID[h.id]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Chunk: chunk,
			Score: h.fused,
			Breakdown: ScoreBreakdown{
				Dense:  h.dense,
				Sparse: h.sparse,
				Fused:  h.fused,
			},
		})
	}
	return results, nil
}

// rerank reorders results by cross-encoder score. The rerank score REPLACES
// the fused score as the ranking key; on any failure the fused order stands.
func (r *Retriever) rerank(ctx context.Context, query string, results []*Result) bool {
	candidates := make([]string, len(results))
	for i, res := range results {
		candidates[i] = rerankCandidateText(res.Chunk)
	}

	var scores []float64
	err := r.rerankCB.Execute(func() error {
		var err error
		scores, err = r.reranker.Rerank(ctx, query, candidates)
		return err
	})
	if err != nil {
		r.logger.Warn("rerank unavailable, keeping fused order", slog.String("error", err.Error()))
		return false
	}

	for i, res := range results {
		res.Score = scores[i]
		res.Breakdown.Rerank = scores[i]
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return true
}

// rerankCandidateText gives the cross-encoder the path plus truncated
// content, which anchors relevance to both location and substance.
func rerankCandidateText(c *store.Chunk) string {
	content := c.Content
	if len(content) > rerankSnippetLimit {
		content = content[:rerankSnippetLimit]
	}
	return c.SourceRef + "\n" + content
}
