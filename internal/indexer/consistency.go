package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// IssueKind categorizes a cross-store inconsistency.
type IssueKind string

const (
	// IssueOrphanVector is a vector entry whose chunk metadata is gone.
	IssueOrphanVector IssueKind = "orphan_vector"
	// IssueOrphanSparse is a sparse index entry whose chunk metadata is gone.
	IssueOrphanSparse IssueKind = "orphan_sparse"
	// IssueMissingVector is a chunk with no vector entry.
	IssueMissingVector IssueKind = "missing_vector"
	// IssueMissingSparse is a chunk with no sparse entry.
	IssueMissingSparse IssueKind = "missing_sparse"
)

// Issue is one detected inconsistency.
type Issue struct {
	Kind    IssueKind
	ChunkID string
}

// CheckReport is the outcome of a consistency check.
type CheckReport struct {
	Checked  int
	Issues   []Issue
	Swept    int
	Duration time.Duration
}

// Clean reports whether no issues were found.
func (r *CheckReport) Clean() bool {
	return len(r.Issues) == 0
}

// checker compares the metadata store (source of truth) against the vector
// and sparse indexes. Deletions apply metadata first and treat index
// deletions as best-effort, so orphans in the indexes are expected after a
// crash; missing entries mean lost writes and need a forced sync.
type checker struct {
	meta    store.MetadataStore
	vectors store.VectorStore
	sparse  store.SparseIndex
	logger  *slog.Logger
}

// CheckConsistency scans all stores for orphaned and missing entries. With
// sweep, orphans are deleted from the indexes; missing entries are only
// reported since they require re-embedding.
func (s *Service) CheckConsistency(ctx context.Context, sweep bool) (*CheckReport, error) {
	c := &checker{meta: s.meta, vectors: s.vectors, sparse: s.sparse, logger: s.logger}
	report, err := c.check(ctx)
	if err != nil {
		return nil, err
	}

	if sweep && !report.Clean() {
		report.Swept = c.sweepOrphans(ctx, report.Issues)
		if report.Swept > 0 {
			if err := s.save(); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (c *checker) check(ctx context.Context) (*CheckReport, error) {
	start := time.Now()

	chunkIDs, err := c.meta.AllChunkIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		known[id] = true
	}

	vectorIDs := c.vectors.AllIDs()
	sparseIDs, err := c.sparse.AllIDs()
	if err != nil {
		c.logger.Warn("failed to enumerate sparse index", slog.String("error", err.Error()))
	}

	var issues []Issue
	inVector := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = true
		if !known[id] {
			issues = append(issues, Issue{Kind: IssueOrphanVector, ChunkID: id})
		}
	}
	inSparse := make(map[string]bool, len(sparseIDs))
	for _, id := range sparseIDs {
		inSparse[id] = true
		if !known[id] {
			issues = append(issues, Issue{Kind: IssueOrphanSparse, ChunkID: id})
		}
	}

	for _, id := range chunkIDs {
		if !inVector[id] {
			issues = append(issues, Issue{Kind: IssueMissingVector, ChunkID: id})
		}
		// A chunk legitimately has no sparse entry when no sparse vectors
		// were produced for it, so missing-sparse only matters when the
		// sparse index is non-empty.
		if len(sparseIDs) > 0 && !inSparse[id] {
			issues = append(issues, Issue{Kind: IssueMissingSparse, ChunkID: id})
		}
	}

	return &CheckReport{
		Checked:  len(chunkIDs),
		Issues:   issues,
		Duration: time.Since(start),
	}, nil
}

// sweepOrphans deletes orphaned index entries. Failures are logged, not
// fatal; the next sweep retries them.
func (c *checker) sweepOrphans(ctx context.Context, issues []Issue) int {
	var vectorOrphans, sparseOrphans []string
	missing := 0
	for _, issue := range issues {
		switch issue.Kind {
		case IssueOrphanVector:
			vectorOrphans = append(vectorOrphans, issue.ChunkID)
		case IssueOrphanSparse:
			sparseOrphans = append(sparseOrphans, issue.ChunkID)
		default:
			missing++
		}
	}

	swept := 0
	if len(vectorOrphans) > 0 {
		if err := c.vectors.Delete(ctx, vectorOrphans); err != nil {
			c.logger.Warn("failed to sweep orphaned vectors",
				slog.Int("count", len(vectorOrphans)), slog.String("error", err.Error()))
		} else {
			swept += len(vectorOrphans)
		}
	}
	if len(sparseOrphans) > 0 {
		if err := c.sparse.Delete(ctx, sparseOrphans); err != nil {
			c.logger.Warn("failed to sweep orphaned sparse entries",
				slog.Int("count", len(sparseOrphans)), slog.String("error", err.Error()))
		} else {
			swept += len(sparseOrphans)
		}
	}

	if missing > 0 {
		c.logger.Warn("index is missing entries, run a forced sync to rebuild",
			slog.Int("count", missing))
	}
	if swept > 0 {
		c.logger.Info("swept orphaned index entries", slog.Int("count", swept))
	}
	return swept
}
