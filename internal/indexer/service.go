// Package indexer assembles the indexing and retrieval machinery into one
// service: stores, embedders, change detection, sync, search, and watching,
// all scoped to a single project root with an exclusive data directory lock.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/detect"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/fingerprint"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/syncer"
	"github.com/quarrylabs/quarry/internal/telemetry"
	"github.com/quarrylabs/quarry/internal/watch"
)

const (
	metaFileName   = "meta.db"
	vectorFileName = "vectors.hnsw"
	sparseBaseName = "sparse"
	defaultDataset = "main"
	localSubjectID = "local"
)

// SyncOptions controls one sync run.
type SyncOptions struct {
	// Force re-hashes every file instead of trusting size+mtime.
	Force bool
}

// Service owns all components for one project root.
type Service struct {
	cfg     *config.Config
	root    string
	dataDir string
	logger  *slog.Logger

	lock    *Lock
	meta    *store.SQLiteStore
	vectors store.VectorStore
	sparse  store.SparseIndex
	src     *source.FileSource
	router  *embed.Router
	syn     *syncer.Syncer
	ret     *search.Retriever
	metrics *telemetry.QueryMetrics

	projectID  string
	datasetID  string
	sparseFile string
	vectorFile string
}

// Open builds a service for root: acquires the data directory lock, opens or
// creates the stores, probes embedding providers, and bootstraps the project
// record.
func Open(ctx context.Context, root string, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.ResolveDataDir(abs)
	lock, err := AcquireLock(dataDir)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		root:       abs,
		dataDir:    dataDir,
		logger:     logger,
		lock:       lock,
		vectorFile: filepath.Join(dataDir, vectorFileName),
	}
	if err := s.open(ctx); err != nil {
		if s.meta != nil {
			_ = s.meta.Close()
		}
		_ = lock.Release()
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context) error {
	cfg := s.cfg

	meta, err := store.NewSQLiteStore(filepath.Join(s.dataDir, metaFileName))
	if err != nil {
		return err
	}
	s.meta = meta

	if err := s.bootstrapProject(ctx); err != nil {
		return err
	}

	dense, err := embed.NewDenseEmbedder(ctx, cfg.Embeddings, s.logger)
	if err != nil {
		return err
	}
	sparseEmb, err := embed.NewSparseEmbedder(cfg.Embeddings)
	if err != nil {
		return err
	}
	reranker, err := embed.NewReranker(cfg.Embeddings)
	if err != nil {
		return err
	}
	s.router = embed.NewRouter(dense, sparseEmb, s.logger)

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dense.Dimensions()))
	if err != nil {
		return err
	}
	if _, err := os.Stat(s.vectorFile); err == nil {
		if err := vectors.Load(s.vectorFile); err != nil {
			return err
		}
	}
	s.vectors = vectors

	backend := cfg.Search.SparseBackend
	sparseBase := filepath.Join(s.dataDir, sparseBaseName)
	sparse, err := store.NewSparseIndex(sparseBase, store.DefaultSparseConfig(), backend)
	if err != nil {
		return err
	}
	s.sparse = sparse
	s.sparseFile = sparseIndexFile(sparseBase, backend)

	src, err := source.NewFileSource(source.Options{
		Root:               s.root,
		IncludePatterns:    cfg.Paths.Include,
		ExcludePatterns:    cfg.Paths.Exclude,
		RespectIgnoreFiles: true,
		MaxUnitSize:        int64(cfg.Pipeline.MaxFileSizeMB) * 1024 * 1024,
	})
	if err != nil {
		return err
	}
	s.src = src

	pipeCfg := pipeline.Config{
		FetchWorkers:  cfg.Pipeline.FetchWorkers,
		ChunkWorkers:  cfg.Pipeline.ChunkWorkers,
		EmbedWorkers:  cfg.Pipeline.EmbedWorkers,
		StoreWorkers:  cfg.Pipeline.StoreWorkers,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
	}
	s.syn = syncer.New(src, s.router, meta, vectors, sparse, pipeCfg, s.logger)

	s.ret = search.NewRetriever(meta, vectors, sparse, dense, sparseEmb, reranker, search.Options{
		RRFConstant:   cfg.Search.RRFConstant,
		RerankDepth:   cfg.Search.RerankDepth,
		MaxResults:    cfg.Search.MaxResults,
		RerankEnabled: cfg.Search.RerankEnabled,
	}, s.logger)

	s.metrics = telemetry.NewQueryMetrics()
	s.ret.SetMetrics(s.metrics)

	return nil
}

// bootstrapProject ensures the project and default dataset rows exist. IDs
// derive from the root path so reopening the same root reuses them.
func (s *Service) bootstrapProject(ctx context.Context) error {
	s.projectID = "proj-" + fingerprint.SumString(s.root)[:12]

	if _, err := s.meta.GetProject(ctx, s.projectID); err != nil {
		if err := s.meta.SaveProject(ctx, &store.Project{
			ID:       s.projectID,
			Name:     filepath.Base(s.root),
			RootPath: s.root,
		}); err != nil {
			return err
		}
	}

	ds, err := s.meta.GetDatasetByName(ctx, s.projectID, defaultDataset)
	if err == nil {
		s.datasetID = ds.ID
		return nil
	}

	s.datasetID = "ds-" + fingerprint.SumString(s.projectID+"/"+defaultDataset)[:12]
	return s.meta.CreateDataset(ctx, &store.Dataset{
		ID:         s.datasetID,
		ProjectID:  s.projectID,
		Name:       defaultDataset,
		OwnerID:    localSubjectID,
		Visibility: store.VisibilityOwned,
	})
}

// Sync detects changes under the root and applies them to all stores, then
// persists the index snapshots.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (*syncer.Report, error) {
	det := detect.NewDetector(s.src, s.meta, detect.Options{
		DetectMoves:  true,
		TrustModTime: !opts.Force,
	}, s.logger)

	summary, err := det.Detect(ctx, s.datasetID)
	if err != nil {
		return nil, err
	}

	report, err := s.syn.Apply(ctx, s.datasetID, summary)
	if err != nil {
		return report, err
	}

	if summary.HasChanges() {
		if err := s.save(); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Search runs one retrieval query scoped to the local subject.
func (s *Service) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	if req.SubjectID == "" {
		req.SubjectID = localSubjectID
	}
	return s.ret.Query(ctx, req)
}

// Watch blocks watching the project root, running a sync after each
// debounced change batch, until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	reg := watch.NewRegistry(watch.Options{
		DebounceWindow: s.cfg.DebounceDuration(),
	}, func(ctx context.Context, root string, events []watch.Event) error {
		report, err := s.Sync(ctx, SyncOptions{})
		if err != nil {
			return err
		}
		s.logger.Info("watch sync complete",
			slog.Int("events", len(events)),
			slog.Int("created", report.FilesCreated),
			slog.Int("modified", report.FilesModified),
			slog.Int("deleted", report.FilesDeleted))
		return nil
	}, s.logger)

	if err := reg.Start(ctx, s.root); err != nil {
		return err
	}
	defer reg.StopAll()

	<-ctx.Done()
	return ctx.Err()
}

// SetProgress forwards a progress channel to the sync pipeline.
func (s *Service) SetProgress(ch chan<- pipeline.ProgressEvent) {
	s.syn.SetProgress(ch)
}

// DatasetID returns the default dataset for this root.
func (s *Service) DatasetID() string {
	return s.datasetID
}

// ProjectID returns the project identifier for this root.
func (s *Service) ProjectID() string {
	return s.projectID
}

// Datasets lists the datasets of this project.
func (s *Service) Datasets(ctx context.Context) ([]*store.Dataset, error) {
	return s.meta.ListDatasets(ctx, s.projectID)
}

// QueryMetrics snapshots the query statistics collected by this process.
func (s *Service) QueryMetrics() *telemetry.Snapshot {
	return s.metrics.Snapshot()
}

// save persists the vector and sparse snapshots.
func (s *Service) save() error {
	start := time.Now()
	if err := s.vectors.Save(s.vectorFile); err != nil {
		return err
	}
	if err := s.sparse.Save(s.sparseFile); err != nil {
		return err
	}
	s.logger.Debug("index snapshots saved", slog.Duration("took", time.Since(start)))
	return nil
}

// Close saves snapshots, closes every store, and releases the lock.
func (s *Service) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.metrics != nil {
		if snap := s.metrics.Snapshot(); snap.Total > 0 {
			s.logger.Debug("query metrics",
				slog.Int64("total", snap.Total),
				slog.Int64("zero_results", snap.ZeroResults),
				slog.Int64("repeated", snap.Repeated))
		}
	}

	if s.vectors != nil {
		keep(s.vectors.Save(s.vectorFile))
		keep(s.vectors.Close())
	}
	if s.sparse != nil {
		keep(s.sparse.Save(s.sparseFile))
		keep(s.sparse.Close())
	}
	if s.meta != nil {
		keep(s.meta.Close())
	}
	if s.router != nil {
		keep(s.router.Close())
	}
	keep(s.lock.Release())
	return firstErr
}

// sparseIndexFile mirrors the extension scheme of store.NewSparseIndex.
func sparseIndexFile(base, backend string) string {
	switch backend {
	case string(store.SparseBackendFTS):
		return base + ".db"
	case string(store.SparseBackendBleve):
		return base + ".bleve"
	default:
		return base + ".sparse"
	}
}
