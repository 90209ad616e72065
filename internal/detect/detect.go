// Package detect computes the change set between a content source and the
// indexed state, so sync touches only what actually changed.
package detect

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/fingerprint"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
)

// Kind classifies one detected change.
type Kind string

const (
	KindCreated   Kind = "created"
	KindModified  Kind = "modified"
	KindDeleted   Kind = "deleted"
	KindUnchanged Kind = "unchanged"
	KindMoved     Kind = "moved"
	KindErrored   Kind = "errored"
)

// Change is one unit's classification.
type Change struct {
	Kind Kind
	Ref  string

	// OldRef is the previous reference for moves.
	OldRef string

	// Unit is the current source unit. Nil for deletions.
	Unit *source.Unit

	// ContentHash is the current content hash. Empty for deletions and
	// errors.
	ContentHash string

	// Stored is the indexed record. Nil for creations.
	Stored *store.SourceUnit

	// Err is set for errored units.
	Err error
}

// Summary groups the change set by kind. Slices are sorted by Ref.
type Summary struct {
	Created   []*Change
	Modified  []*Change
	Deleted   []*Change
	Unchanged []*Change
	Moved     []*Change
	Errored   []*Change
}

// HasChanges reports whether sync has any work to do.
func (s *Summary) HasChanges() bool {
	return len(s.Created) > 0 || len(s.Modified) > 0 || len(s.Deleted) > 0 || len(s.Moved) > 0
}

// Total counts all classified units.
func (s *Summary) Total() int {
	return len(s.Created) + len(s.Modified) + len(s.Deleted) + len(s.Unchanged) + len(s.Moved) + len(s.Errored)
}

// LogValue summarizes counts for structured logging.
func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("created", len(s.Created)),
		slog.Int("modified", len(s.Modified)),
		slog.Int("deleted", len(s.Deleted)),
		slog.Int("unchanged", len(s.Unchanged)),
		slog.Int("moved", len(s.Moved)),
		slog.Int("errored", len(s.Errored)),
	)
}

// Options configures detection.
type Options struct {
	// Workers bounds concurrent hashing. Default: NumCPU.
	Workers int

	// DetectMoves pairs a deletion with a creation sharing the same content
	// hash and reports it as a move instead.
	DetectMoves bool

	// TrustModTime skips hashing when size and mtime both match the indexed
	// record. Hashing is still the authority whenever either differs.
	TrustModTime bool
}

// Detector computes change sets.
type Detector struct {
	src    source.ContentSource
	meta   store.MetadataStore
	opts   Options
	logger *slog.Logger
}

// NewDetector creates a detector over a source and the metadata store.
func NewDetector(src source.ContentSource, meta store.MetadataStore, opts Options, logger *slog.Logger) *Detector {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{src: src, meta: meta, opts: opts, logger: logger}
}

// Detect lists the source, hashes in parallel, and classifies every unit
// against the dataset's indexed state. Per-unit errors land in Errored and
// never abort the run; only listing failures and context cancellation do.
func (d *Detector) Detect(ctx context.Context, datasetID string) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored, err := d.meta.UnitsByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	unitCh, err := d.src.ListUnits(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	seen := make(map[string]bool, len(stored))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for res := range unitCh {
		if res.Err != nil {
			var ref string
			if res.Unit != nil {
				ref = res.Unit.Ref
			}
			mu.Lock()
			if ref != "" {
				// An unreadable unit is errored, never deleted: its indexed
				// state stays put until it can be read again.
				seen[ref] = true
			}
			summary.Errored = append(summary.Errored, &Change{Kind: KindErrored, Ref: ref, Unit: res.Unit, Err: res.Err})
			mu.Unlock()
			continue
		}

		unit := res.Unit
		mu.Lock()
		seen[unit.Ref] = true
		mu.Unlock()

		g.Go(func() error {
			change, err := d.classify(gctx, unit, stored[unit.Ref])
			if err != nil {
				return err
			}
			mu.Lock()
			summary.add(change)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for ref, rec := range stored {
		if !seen[ref] {
			summary.Deleted = append(summary.Deleted, &Change{Kind: KindDeleted, Ref: ref, Stored: rec})
		}
	}

	if d.opts.DetectMoves {
		summary.pairMoves()
	}
	summary.sort()

	d.logger.Debug("change detection complete",
		slog.String("dataset", datasetID),
		slog.Any("summary", summary))

	return summary, nil
}

// classify hashes one unit and compares it to its indexed record. Hashing
// failures become errored changes, not run failures.
func (d *Detector) classify(ctx context.Context, unit *source.Unit, rec *store.SourceUnit) (*Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rec != nil && d.opts.TrustModTime && rec.Size == unit.Size && rec.ModTime.Equal(unit.ModTime) {
		return &Change{Kind: KindUnchanged, Ref: unit.Ref, Unit: unit, ContentHash: rec.ContentHash, Stored: rec}, nil
	}

	hash, err := fingerprint.SumFile(unit.AbsPath)
	if err != nil {
		return &Change{Kind: KindErrored, Ref: unit.Ref, Unit: unit, Stored: rec, Err: err}, nil
	}

	switch {
	case rec == nil:
		return &Change{Kind: KindCreated, Ref: unit.Ref, Unit: unit, ContentHash: hash}, nil
	case rec.ContentHash == hash:
		return &Change{Kind: KindUnchanged, Ref: unit.Ref, Unit: unit, ContentHash: hash, Stored: rec}, nil
	default:
		return &Change{Kind: KindModified, Ref: unit.Ref, Unit: unit, ContentHash: hash, Stored: rec}, nil
	}
}

func (s *Summary) add(c *Change) {
	switch c.Kind {
	case KindCreated:
		s.Created = append(s.Created, c)
	case KindModified:
		s.Modified = append(s.Modified, c)
	case KindUnchanged:
		s.Unchanged = append(s.Unchanged, c)
	case KindErrored:
		s.Errored = append(s.Errored, c)
	case KindDeleted:
		s.Deleted = append(s.Deleted, c)
	case KindMoved:
		s.Moved = append(s.Moved, c)
	}
}

// pairMoves rewrites creation/deletion pairs with identical content hashes
// as moves. Ambiguous matches (several deletions with the same hash) pair
// in ref order.
func (s *Summary) pairMoves() {
	deletedByHash := make(map[string][]*Change)
	for _, del := range s.Deleted {
		if del.Stored != nil && del.Stored.ContentHash != "" {
			deletedByHash[del.Stored.ContentHash] = append(deletedByHash[del.Stored.ContentHash], del)
		}
	}
	for _, dels := range deletedByHash {
		sort.Slice(dels, func(i, j int) bool { return dels[i].Ref < dels[j].Ref })
	}

	var remainingCreated []*Change
	paired := make(map[*Change]bool)

	sort.Slice(s.Created, func(i, j int) bool { return s.Created[i].Ref < s.Created[j].Ref })
	for _, created := range s.Created {
		dels := deletedByHash[created.ContentHash]
		if len(dels) == 0 {
			remainingCreated = append(remainingCreated, created)
			continue
		}

		del := dels[0]
		deletedByHash[created.ContentHash] = dels[1:]
		paired[del] = true

		s.Moved = append(s.Moved, &Change{
			Kind:        KindMoved,
			Ref:         created.Ref,
			OldRef:      del.Ref,
			Unit:        created.Unit,
			ContentHash: created.ContentHash,
			Stored:      del.Stored,
		})
	}

	var remainingDeleted []*Change
	for _, del := range s.Deleted {
		if !paired[del] {
			remainingDeleted = append(remainingDeleted, del)
		}
	}

	s.Created = remainingCreated
	s.Deleted = remainingDeleted
}

func (s *Summary) sort() {
	byRef := func(changes []*Change) {
		sort.Slice(changes, func(i, j int) bool { return changes[i].Ref < changes[j].Ref })
	}
	byRef(s.Created)
	byRef(s.Modified)
	byRef(s.Deleted)
	byRef(s.Unchanged)
	byRef(s.Moved)
	byRef(s.Errored)
}
