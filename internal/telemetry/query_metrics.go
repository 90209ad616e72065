// Package telemetry collects in-process query metrics: query kinds, latency
// distribution, zero-result and repeat rates. Everything stays local; nothing
// is ever sent anywhere.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryKind classifies what a query looks like, which hints at which
// retrieval leg should carry it.
type QueryKind string

const (
	// KindLexical queries look like identifiers or code fragments.
	KindLexical QueryKind = "lexical"
	// KindSemantic queries read like natural language.
	KindSemantic QueryKind = "semantic"
	// KindMixed queries combine prose with identifier-like tokens.
	KindMixed QueryKind = "mixed"
)

// ClassifyQuery buckets a query by shape. Identifier-ish tokens (camelCase,
// snake_case, dotted paths, call syntax) mark it lexical; several plain words
// mark it semantic; both together is mixed.
func ClassifyQuery(query string) QueryKind {
	fields := strings.Fields(query)
	codeTokens := 0
	for _, f := range fields {
		if looksLikeCode(f) {
			codeTokens++
		}
	}

	switch {
	case codeTokens == 0:
		return KindSemantic
	case codeTokens == len(fields):
		return KindLexical
	default:
		return KindMixed
	}
}

func looksLikeCode(token string) bool {
	if strings.ContainsAny(token, "_./:()[]{}") {
		return true
	}
	// camelCase or PascalCase: an upper rune after the first position.
	for i, r := range token {
		if i > 0 && unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// LatencyBucket is a coarse query latency bucket.
type LatencyBucket string

const (
	LatencyUnder50ms  LatencyBucket = "<50ms"
	LatencyUnder200ms LatencyBucket = "50-200ms"
	LatencyUnder500ms LatencyBucket = "200-500ms"
	LatencyOver500ms  LatencyBucket = ">500ms"
)

// LatencyToBucket maps a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 50*time.Millisecond:
		return LatencyUnder50ms
	case d < 200*time.Millisecond:
		return LatencyUnder200ms
	case d < 500*time.Millisecond:
		return LatencyUnder500ms
	default:
		return LatencyOver500ms
	}
}

// QueryEvent describes one completed query.
type QueryEvent struct {
	Query       string
	Mode        string // hybrid, dense-only
	Reranked    bool
	ResultCount int
	Latency     time.Duration
}

// defaultSeenCapacity bounds the repeat-detection cache.
const defaultSeenCapacity = 512

// QueryMetrics accumulates query statistics for one process. Safe for
// concurrent use.
type QueryMetrics struct {
	mu          sync.Mutex
	total       int64
	zeroResults int64
	reranked    int64
	repeated    int64
	byKind      map[QueryKind]int64
	byMode      map[string]int64
	byLatency   map[LatencyBucket]int64

	// seen holds hashes of recent queries; only hashes are retained so the
	// cache never stores query text.
	seen *lru.Cache[string, int]
}

// NewQueryMetrics creates an empty metrics collector.
func NewQueryMetrics() *QueryMetrics {
	seen, _ := lru.New[string, int](defaultSeenCapacity)
	return &QueryMetrics{
		byKind:    make(map[QueryKind]int64),
		byMode:    make(map[string]int64),
		byLatency: make(map[LatencyBucket]int64),
		seen:      seen,
	}
}

// Record adds one query event.
func (m *QueryMetrics) Record(event QueryEvent) {
	key := hashQuery(event.Query)
	kind := ClassifyQuery(event.Query)
	bucket := LatencyToBucket(event.Latency)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.byKind[kind]++
	m.byMode[event.Mode]++
	m.byLatency[bucket]++
	if event.ResultCount == 0 {
		m.zeroResults++
	}
	if event.Reranked {
		m.reranked++
	}
	if count, ok := m.seen.Get(key); ok {
		m.repeated++
		m.seen.Add(key, count+1)
	} else {
		m.seen.Add(key, 1)
	}
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:8])
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Total       int64
	ZeroResults int64
	Reranked    int64
	Repeated    int64
	ByKind      map[QueryKind]int64
	ByMode      map[string]int64
	ByLatency   map[LatencyBucket]int64
}

// ZeroResultRate returns the fraction of queries with no results.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Total)
}

// RepeatRate returns the fraction of queries seen before. A high rate
// suggests the embedding cache is earning its keep.
func (s *Snapshot) RepeatRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Repeated) / float64(s.Total)
}

// Snapshot copies the current state.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		Total:       m.total,
		ZeroResults: m.zeroResults,
		Reranked:    m.reranked,
		Repeated:    m.repeated,
		ByKind:      make(map[QueryKind]int64, len(m.byKind)),
		ByMode:      make(map[string]int64, len(m.byMode)),
		ByLatency:   make(map[LatencyBucket]int64, len(m.byLatency)),
	}
	for k, v := range m.byKind {
		s.ByKind[k] = v
	}
	for k, v := range m.byMode {
		s.ByMode[k] = v
	}
	for k, v := range m.byLatency {
		s.ByLatency[k] = v
	}
	return s
}
