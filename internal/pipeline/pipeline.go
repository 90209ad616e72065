// Package pipeline runs the staged indexing flow: fetch, chunk, embed,
// store. Stages are connected by bounded queues so a slow embedder applies
// backpressure instead of ballooning memory.
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/chunk"
	"github.com/quarrylabs/quarry/internal/detect"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/fingerprint"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
)

// Stage names a pipeline stage for progress reporting.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageChunk Stage = "chunk"
	StageEmbed Stage = "embed"
	StageStore Stage = "store"
)

// ProgressEvent reports one unit finishing one stage.
type ProgressEvent struct {
	Stage   Stage
	Ref     string
	Current int // units completed in this stage so far
	Total   int // units entering the pipeline
}

// FailedUnit records one unit that could not be indexed.
type FailedUnit struct {
	Ref   string
	Stage Stage
	Err   error
}

// Report summarizes one pipeline run. A cancelled run returns the partial
// report alongside the context error.
type Report struct {
	Succeeded    int
	Failed       int
	Skipped      int // units producing no chunks (empty files)
	ChunksStored int
	FailedUnits  []FailedUnit
	Duration     time.Duration
}

// Sink persists one fully processed unit. Implementations own transactional
// behavior; the pipeline guarantees one call per unit.
type Sink interface {
	StoreUnit(ctx context.Context, item *Item) error
}

// Item is one unit flowing through the pipeline. Fields are filled stage by
// stage.
type Item struct {
	Change  *detect.Change
	Content []byte
	Chunks  []*store.Chunk
	Dense   [][]float32
	Sparse  []map[string]float32 // nil when the sparse leg is degraded
}

// Config sets per-stage worker counts and queue capacity. Zero values get
// stage defaults.
type Config struct {
	FetchWorkers  int // default 4
	ChunkWorkers  int // default NumCPU
	EmbedWorkers  int // default 2
	StoreWorkers  int // default 1, keep at 1 for single-writer stores
	QueueCapacity int // default 64
}

func (c Config) withDefaults() Config {
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
	if c.ChunkWorkers <= 0 {
		c.ChunkWorkers = runtime.NumCPU()
	}
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = 2
	}
	if c.StoreWorkers <= 0 {
		c.StoreWorkers = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	return c
}

// Pipeline indexes changed units.
type Pipeline struct {
	src      source.ContentSource
	embedder *embed.Router
	sink     Sink
	cfg      Config
	logger   *slog.Logger

	progress chan<- ProgressEvent
}

// New creates a pipeline over a source, an embedding router, and a sink.
func New(src source.ContentSource, embedder *embed.Router, sink Sink, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		src:      src,
		embedder: embedder,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// SetProgress registers a progress channel. Events are dropped rather than
// blocking when the receiver lags.
func (p *Pipeline) SetProgress(ch chan<- ProgressEvent) {
	p.progress = ch
}

// run-scoped state shared by the stage workers.
type run struct {
	p         *Pipeline
	datasetID string
	total     int

	mu     sync.Mutex
	report *Report

	fetchDone atomic.Int64
	chunkDone atomic.Int64
	embedDone atomic.Int64
	storeDone atomic.Int64
}

// Run processes the given changes. Per-unit failures are isolated: they land
// in the report and never abort the run. Only context cancellation stops the
// pipeline early, returning the partial report with the context error.
func (p *Pipeline) Run(ctx context.Context, datasetID string, changes []*detect.Change) (*Report, error) {
	start := time.Now()
	r := &run{
		p:         p,
		datasetID: datasetID,
		total:     len(changes),
		report:    &Report{},
	}

	if len(changes) == 0 {
		r.report.Duration = time.Since(start)
		return r.report, nil
	}

	fetchQ := make(chan *Item, p.cfg.QueueCapacity)
	chunkQ := make(chan *Item, p.cfg.QueueCapacity)
	embedQ := make(chan *Item, p.cfg.QueueCapacity)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(fetchQ)
		for _, c := range changes {
			select {
			case fetchQ <- &Item{Change: c}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	startStage(g, p.cfg.FetchWorkers, chunkQ, func() error {
		return r.fetchWorker(gctx, fetchQ, chunkQ)
	})
	startStage(g, p.cfg.ChunkWorkers, embedQ, func() error {
		return r.chunkWorker(gctx, chunkQ, embedQ)
	})

	storeQ := make(chan *Item, p.cfg.QueueCapacity)
	startStage(g, p.cfg.EmbedWorkers, storeQ, func() error {
		return r.embedWorker(gctx, embedQ, storeQ)
	})
	startStage(g, p.cfg.StoreWorkers, nil, func() error {
		return r.storeWorker(gctx, storeQ)
	})

	err := g.Wait()

	r.mu.Lock()
	sort.Slice(r.report.FailedUnits, func(i, j int) bool {
		return r.report.FailedUnits[i].Ref < r.report.FailedUnits[j].Ref
	})
	r.report.Duration = time.Since(start)
	report := r.report
	r.mu.Unlock()

	p.logger.Info("pipeline run finished",
		slog.String("dataset", datasetID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Int("chunks", report.ChunksStored),
		slog.Duration("duration", report.Duration))

	return report, err
}

// startStage launches n workers and closes the downstream queue when the
// last one exits.
func startStage(g *errgroup.Group, n int, downstream chan *Item, worker func() error) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer wg.Done()
			return worker()
		})
	}
	go func() {
		wg.Wait()
		if downstream != nil {
			close(downstream)
		}
	}()
}

func (r *run) fail(ref string, stage Stage, err error) {
	r.mu.Lock()
	r.report.Failed++
	r.report.FailedUnits = append(r.report.FailedUnits, FailedUnit{Ref: ref, Stage: stage, Err: err})
	r.mu.Unlock()

	r.p.logger.Warn("unit failed",
		slog.String("ref", ref),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
}

func (r *run) emit(stage Stage, ref string, counter *atomic.Int64) {
	current := int(counter.Add(1))
	if r.p.progress == nil {
		return
	}
	select {
	case r.p.progress <- ProgressEvent{Stage: stage, Ref: ref, Current: current, Total: r.total}:
	default:
	}
}

func (r *run) fetchWorker(ctx context.Context, in <-chan *Item, out chan<- *Item) error {
	for item := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := r.p.src.ReadUnit(ctx, item.Change.Ref)
		if err != nil {
			r.fail(item.Change.Ref, StageFetch, err)
			continue
		}
		item.Content = content
		r.emit(StageFetch, item.Change.Ref, &r.fetchDone)

		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) chunkWorker(ctx context.Context, in <-chan *Item, out chan<- *Item) error {
	// CodeChunker holds parser state, so each worker gets its own.
	codeChunker := chunk.NewCodeChunker()
	defer codeChunker.Close()
	markdownChunker := chunk.NewMarkdownChunker()

	for item := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		unit := item.Change.Unit
		input := &chunk.Input{
			Ref:      item.Change.Ref,
			Content:  item.Content,
			Language: unit.Language,
		}

		var chunks []*store.Chunk
		var err error
		if unit.ContentType == store.ContentTypeMarkdown {
			chunks, err = markdownChunker.Chunk(ctx, input)
		} else {
			chunks, err = codeChunker.Chunk(ctx, input)
		}
		if err != nil {
			r.fail(item.Change.Ref, StageChunk, err)
			continue
		}

		if len(chunks) == 0 {
			r.mu.Lock()
			r.report.Skipped++
			r.mu.Unlock()
			continue
		}

		unitID := fingerprint.UnitID(r.datasetID, item.Change.Ref)
		for _, c := range chunks {
			c.UnitID = unitID
			c.DatasetID = r.datasetID
		}

		item.Content = nil // raw content is no longer needed downstream
		item.Chunks = chunks
		r.emit(StageChunk, item.Change.Ref, &r.chunkDone)

		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) embedWorker(ctx context.Context, in <-chan *Item, out chan<- *Item) error {
	for item := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		texts := make([]string, len(item.Chunks))
		for i, c := range item.Chunks {
			texts[i] = c.Content
		}

		dense, sparse, err := r.p.embedder.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.fail(item.Change.Ref, StageEmbed, err)
			continue
		}

		item.Dense = dense
		item.Sparse = sparse
		r.emit(StageEmbed, item.Change.Ref, &r.embedDone)

		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) storeWorker(ctx context.Context, in <-chan *Item) error {
	for item := range in {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.p.sink.StoreUnit(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.fail(item.Change.Ref, StageStore, err)
			continue
		}

		r.mu.Lock()
		r.report.Succeeded++
		r.report.ChunksStored += len(item.Chunks)
		r.mu.Unlock()
		r.emit(StageStore, item.Change.Ref, &r.storeDone)
	}
	return nil
}
