package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		query string
		want  QueryKind
	}{
		{"how does change detection work", KindSemantic},
		{"explain the fallback behavior", KindSemantic},
		{"NewRetriever", KindLexical},
		{"store.SparseIndex", KindLexical},
		{"sync_report", KindLexical},
		{"where is VisibleDatasets used", KindMixed},
		{"error handling in syncer.Apply", KindMixed},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuery(tt.query))
		})
	}
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{10 * time.Millisecond, LatencyUnder50ms},
		{49 * time.Millisecond, LatencyUnder50ms},
		{50 * time.Millisecond, LatencyUnder200ms},
		{199 * time.Millisecond, LatencyUnder200ms},
		{300 * time.Millisecond, LatencyUnder500ms},
		{2 * time.Second, LatencyOver500ms},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), "bucket for %s", tt.d)
	}
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	m := NewQueryMetrics()

	m.Record(QueryEvent{Query: "how does sync work", Mode: "hybrid", Reranked: true, ResultCount: 5, Latency: 30 * time.Millisecond})
	m.Record(QueryEvent{Query: "NewRetriever", Mode: "dense-only", ResultCount: 0, Latency: 250 * time.Millisecond})

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Total)
	assert.Equal(t, int64(1), s.ZeroResults)
	assert.Equal(t, int64(1), s.Reranked)
	assert.Equal(t, int64(1), s.ByKind[KindSemantic])
	assert.Equal(t, int64(1), s.ByKind[KindLexical])
	assert.Equal(t, int64(1), s.ByMode["hybrid"])
	assert.Equal(t, int64(1), s.ByMode["dense-only"])
	assert.Equal(t, int64(1), s.ByLatency[LatencyUnder50ms])
	assert.Equal(t, int64(1), s.ByLatency[LatencyUnder500ms])
	assert.InDelta(t, 0.5, s.ZeroResultRate(), 1e-9)
}

func TestQueryMetrics_RepeatDetection(t *testing.T) {
	m := NewQueryMetrics()

	for i := 0; i < 3; i++ {
		m.Record(QueryEvent{Query: "same query", Mode: "hybrid", ResultCount: 1})
	}
	// Repeats are case and whitespace insensitive.
	m.Record(QueryEvent{Query: "  Same Query ", Mode: "hybrid", ResultCount: 1})
	m.Record(QueryEvent{Query: "different query", Mode: "hybrid", ResultCount: 1})

	s := m.Snapshot()
	assert.Equal(t, int64(5), s.Total)
	assert.Equal(t, int64(3), s.Repeated)
	assert.InDelta(t, 0.6, s.RepeatRate(), 1e-9)
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	s := NewQueryMetrics().Snapshot()
	assert.Zero(t, s.Total)
	assert.Zero(t, s.ZeroResultRate())
	assert.Zero(t, s.RepeatRate())
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(QueryEvent{Query: "concurrent", Mode: "hybrid", ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), m.Snapshot().Total)
}
