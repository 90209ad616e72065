// Package syncer applies a detected change set to the stores
// transactionally: deletions first, then indexing of created, modified, and
// moved units through the pipeline. The metadata store is the authority;
// vector and sparse index updates are best-effort and orphans are swept
// lazily by the stores themselves.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quarrylabs/quarry/internal/detect"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/fingerprint"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
)

// Report summarizes one sync.
type Report struct {
	FilesCreated   int
	FilesModified  int
	FilesDeleted   int
	FilesMoved     int
	FilesUnchanged int

	ChunksAdded   int
	ChunksRemoved int

	FailedPaths []string
	Duration    time.Duration
}

// HasFailures reports whether any unit failed to sync.
func (r *Report) HasFailures() bool {
	return len(r.FailedPaths) > 0
}

// Syncer owns transactional index updates. It is the pipeline's sink, so
// every indexed unit funnels through StoreUnit.
type Syncer struct {
	meta    store.MetadataStore
	vectors store.VectorStore
	sparse  store.SparseIndex
	pipe    *pipeline.Pipeline
	logger  *slog.Logger

	// sf collapses concurrent writes for the same path, so a watch burst
	// and a manual sync cannot interleave per-unit work.
	sf singleflight.Group

	// runSem serializes whole Apply runs: a second caller waits for the
	// in-flight run instead of failing, so a watch tick landing during a
	// manual sync still gets applied.
	runSem chan struct{}

	mu     sync.Mutex
	active *Report
}

// New wires a syncer and its internal pipeline.
func New(src source.ContentSource, embedder *embed.Router, meta store.MetadataStore, vectors store.VectorStore, sparse store.SparseIndex, cfg pipeline.Config, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		meta:    meta,
		vectors: vectors,
		sparse:  sparse,
		logger:  logger,
		runSem:  make(chan struct{}, 1),
	}
	s.pipe = pipeline.New(src, embedder, s, cfg, logger)
	return s
}

// SetProgress forwards pipeline progress events to ch.
func (s *Syncer) SetProgress(ch chan<- pipeline.ProgressEvent) {
	s.pipe.SetProgress(ch)
}

// Apply syncs one change summary. Deletions run before creations so a
// delete+create pair for the same content never leaves duplicate chunks.
// Unchanged units are strictly untouched. A cancelled run returns the
// partial report with the context error.
//
// Concurrent Apply calls serialize: a second caller blocks until the
// in-flight run completes, or returns the context error if cancelled
// while waiting.
func (s *Syncer) Apply(ctx context.Context, datasetID string, summary *detect.Summary) (*Report, error) {
	select {
	case s.runSem <- struct{}{}:
		defer func() { <-s.runSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	rep := &Report{FilesUnchanged: len(summary.Unchanged)}

	s.mu.Lock()
	s.active = rep
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	for _, del := range summary.Deleted {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		if err := s.deleteUnit(ctx, datasetID, del.Ref, rep); err != nil {
			rep.FailedPaths = append(rep.FailedPaths, del.Ref)
			s.logger.Warn("delete failed", slog.String("ref", del.Ref), slog.String("error", err.Error()))
		} else {
			rep.FilesDeleted++
		}
	}

	// A move is a delete at the old path plus an index at the new one.
	for _, mv := range summary.Moved {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		if err := s.deleteUnit(ctx, datasetID, mv.OldRef, rep); err != nil {
			s.logger.Warn("move cleanup failed", slog.String("old_ref", mv.OldRef), slog.String("error", err.Error()))
		}
	}

	work := make([]*detect.Change, 0, len(summary.Created)+len(summary.Modified)+len(summary.Moved))
	work = append(work, summary.Created...)
	work = append(work, summary.Modified...)
	work = append(work, summary.Moved...)

	preport, err := s.pipe.Run(ctx, datasetID, work)
	for _, failed := range preport.FailedUnits {
		rep.FailedPaths = append(rep.FailedPaths, failed.Ref)
	}
	rep.Duration = time.Since(start)

	if err != nil {
		return rep, err
	}

	if projectID := datasetProject(ctx, s.meta, datasetID); projectID != "" {
		if err := s.meta.RefreshProjectStats(ctx, projectID); err != nil {
			s.logger.Warn("project stats refresh failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("sync applied",
		slog.String("dataset", datasetID),
		slog.Int("created", rep.FilesCreated),
		slog.Int("modified", rep.FilesModified),
		slog.Int("deleted", rep.FilesDeleted),
		slog.Int("moved", rep.FilesMoved),
		slog.Int("unchanged", rep.FilesUnchanged),
		slog.Int("chunks_added", rep.ChunksAdded),
		slog.Int("chunks_removed", rep.ChunksRemoved),
		slog.Int("failed", len(rep.FailedPaths)),
		slog.Duration("duration", rep.Duration))

	return rep, nil
}

// StoreUnit persists one processed unit: replace semantics for modified
// units, insert for created ones. Implements pipeline.Sink.
func (s *Syncer) StoreUnit(ctx context.Context, item *pipeline.Item) error {
	change := item.Change
	key := change.Unit.Ref

	_, err, _ := s.sf.Do(key, func() (any, error) {
		return nil, s.storeUnitLocked(ctx, item)
	})
	return err
}

func (s *Syncer) storeUnitLocked(ctx context.Context, item *pipeline.Item) error {
	change := item.Change
	datasetID := item.Chunks[0].DatasetID
	unitID := fingerprint.UnitID(datasetID, change.Ref)

	removed := 0
	if change.Kind == detect.KindModified {
		// Full replacement: old chunks go first so no stale ordinal survives.
		oldIDs, err := s.meta.ChunkIDsByUnit(ctx, unitID)
		if err != nil {
			return fmt.Errorf("list old chunks: %w", err)
		}
		if len(oldIDs) > 0 {
			if err := s.meta.DeleteChunksByUnit(ctx, unitID); err != nil {
				return fmt.Errorf("delete old chunks: %w", err)
			}
			s.removeFromIndexes(ctx, oldIDs)
			removed = len(oldIDs)
		}
	}

	unit := &store.SourceUnit{
		ID:          unitID,
		DatasetID:   datasetID,
		SourceRef:   change.Ref,
		Size:        change.Unit.Size,
		ModTime:     change.Unit.ModTime,
		ContentHash: change.ContentHash,
		Language:    change.Unit.Language,
		ContentType: string(change.Unit.ContentType),
		IndexedAt:   time.Now(),
	}

	if err := s.meta.SaveUnits(ctx, []*store.SourceUnit{unit}); err != nil {
		return fmt.Errorf("save unit: %w", err)
	}
	if err := s.meta.SaveChunks(ctx, item.Chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	recs := make([]*store.VectorRecord, len(item.Chunks))
	for i, c := range item.Chunks {
		recs[i] = &store.VectorRecord{ID: c.ID, DatasetID: datasetID, Vector: item.Dense[i]}
	}
	if err := s.vectors.Add(ctx, recs); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}

	if s.sparse != nil {
		docs := make([]*store.SparseDocument, len(item.Chunks))
		for i, c := range item.Chunks {
			doc := &store.SparseDocument{ID: c.ID, DatasetID: datasetID, Content: c.Content}
			if item.Sparse != nil {
				doc.Vector = item.Sparse[i]
			}
			docs[i] = doc
		}
		if err := s.sparse.Index(ctx, docs); err != nil {
			return fmt.Errorf("index sparse: %w", err)
		}
	}

	s.mu.Lock()
	if s.active != nil {
		switch change.Kind {
		case detect.KindModified:
			s.active.FilesModified++
		case detect.KindMoved:
			s.active.FilesMoved++
		default:
			s.active.FilesCreated++
		}
		s.active.ChunksAdded += len(item.Chunks)
		s.active.ChunksRemoved += removed
	}
	s.mu.Unlock()

	return nil
}

// deleteUnit removes a unit and its chunks. Metadata deletion is the
// authority; index removals that fail only log, since both index stores
// tolerate and sweep orphans.
func (s *Syncer) deleteUnit(ctx context.Context, datasetID, ref string, rep *Report) error {
	_, err, _ := s.sf.Do(ref, func() (any, error) {
		unitID := fingerprint.UnitID(datasetID, ref)

		ids, err := s.meta.ChunkIDsByUnit(ctx, unitID)
		if err != nil {
			return nil, fmt.Errorf("list chunks: %w", err)
		}

		if err := s.meta.DeleteUnit(ctx, unitID); err != nil {
			return nil, fmt.Errorf("delete unit: %w", err)
		}

		s.removeFromIndexes(ctx, ids)

		s.mu.Lock()
		if rep != nil {
			rep.ChunksRemoved += len(ids)
		}
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

func (s *Syncer) removeFromIndexes(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		s.logger.Warn("vector delete failed, orphans will be swept",
			slog.Int("count", len(ids)), slog.String("error", err.Error()))
	}
	if s.sparse != nil {
		if err := s.sparse.Delete(ctx, ids); err != nil {
			s.logger.Warn("sparse delete failed, orphans will be swept",
				slog.Int("count", len(ids)), slog.String("error", err.Error()))
		}
	}
}

// datasetProject resolves a dataset's project ID for stats refresh.
func datasetProject(ctx context.Context, meta store.MetadataStore, datasetID string) string {
	ds, err := meta.GetDataset(ctx, datasetID)
	if err != nil {
		return ""
	}
	return ds.ProjectID
}
