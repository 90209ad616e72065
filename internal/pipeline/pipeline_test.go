package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/detect"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
)

const testDataset = "ds-pipeline"

// fakeSource serves content from memory.
type fakeSource struct {
	mu      sync.Mutex
	content map[string][]byte
	failRef string
}

func (f *fakeSource) ListUnits(ctx context.Context) (<-chan source.UnitResult, error) {
	ch := make(chan source.UnitResult)
	close(ch)
	return ch, nil
}

func (f *fakeSource) ReadUnit(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ref == f.failRef {
		return nil, fmt.Errorf("read %s: permission denied", ref)
	}
	content, ok := f.content[ref]
	if !ok {
		return nil, fmt.Errorf("read %s: not found", ref)
	}
	return content, nil
}

// fakeSink collects stored items.
type fakeSink struct {
	mu      sync.Mutex
	items   []*Item
	failRef string
}

func (f *fakeSink) StoreUnit(ctx context.Context, item *Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if item.Change.Ref == f.failRef {
		return fmt.Errorf("store %s: disk full", item.Change.Ref)
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeSink) stored() []*Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Item(nil), f.items...)
}

func goChange(ref string) *detect.Change {
	return &detect.Change{
		Kind: detect.KindCreated,
		Ref:  ref,
		Unit: &source.Unit{
			Ref:         ref,
			Language:    "go",
			ContentType: store.ContentTypeCode,
		},
	}
}

func newTestRouter() *embed.Router {
	return embed.NewRouter(embed.NewStaticEmbedder(), nil, slog.Default())
}

func TestPipeline_IndexesUnits(t *testing.T) {
	src := &fakeSource{content: map[string][]byte{
		"a.go": []byte("package a\n\nfunc A() int { return 1 }\n"),
		"b.go": []byte("package b\n\nfunc B() int { return 2 }\n"),
	}}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset,
		[]*detect.Change{goChange("a.go"), goChange("b.go")})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Greater(t, report.ChunksStored, 0)

	items := sink.stored()
	require.Len(t, items, 2)
	for _, item := range items {
		require.NotEmpty(t, item.Chunks)
		require.Len(t, item.Dense, len(item.Chunks))
		for _, c := range item.Chunks {
			assert.Equal(t, testDataset, c.DatasetID)
			assert.NotEmpty(t, c.UnitID)
			assert.NotEmpty(t, c.ID)
		}
	}
}

func TestPipeline_FetchFailureIsolated(t *testing.T) {
	src := &fakeSource{
		content: map[string][]byte{
			"good.go": []byte("package g\n\nfunc G() {}\n"),
			"bad.go":  []byte("unused"),
		},
		failRef: "bad.go",
	}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset,
		[]*detect.Change{goChange("good.go"), goChange("bad.go")})
	require.NoError(t, err, "per-unit failures must not abort the run")

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.FailedUnits, 1)
	assert.Equal(t, "bad.go", report.FailedUnits[0].Ref)
	assert.Equal(t, StageFetch, report.FailedUnits[0].Stage)
	assert.Error(t, report.FailedUnits[0].Err)
}

func TestPipeline_StoreFailureIsolated(t *testing.T) {
	src := &fakeSource{content: map[string][]byte{
		"a.go": []byte("package a\n\nfunc A() {}\n"),
		"b.go": []byte("package b\n\nfunc B() {}\n"),
	}}
	sink := &fakeSink{failRef: "b.go"}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset,
		[]*detect.Change{goChange("a.go"), goChange("b.go")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.FailedUnits, 1)
	assert.Equal(t, StageStore, report.FailedUnits[0].Stage)
}

func TestPipeline_EmptyUnitSkipped(t *testing.T) {
	src := &fakeSource{content: map[string][]byte{
		"empty.go": []byte("   \n"),
	}}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset,
		[]*detect.Change{goChange("empty.go")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Succeeded)
	assert.Empty(t, sink.stored())
}

func TestPipeline_NoChanges(t *testing.T) {
	p := New(&fakeSource{}, newTestRouter(), &fakeSink{}, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Succeeded)
	assert.Zero(t, report.Failed)
}

func TestPipeline_ProgressEvents(t *testing.T) {
	src := &fakeSource{content: map[string][]byte{
		"a.go": []byte("package a\n\nfunc A() {}\n"),
	}}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	events := make(chan ProgressEvent, 64)
	p.SetProgress(events)

	_, err := p.Run(context.Background(), testDataset, []*detect.Change{goChange("a.go")})
	require.NoError(t, err)
	close(events)

	stages := map[Stage]bool{}
	for ev := range events {
		stages[ev.Stage] = true
		assert.Equal(t, 1, ev.Total)
		assert.Equal(t, "a.go", ev.Ref)
	}
	assert.True(t, stages[StageFetch])
	assert.True(t, stages[StageChunk])
	assert.True(t, stages[StageEmbed])
	assert.True(t, stages[StageStore])
}

func TestPipeline_MarkdownRouting(t *testing.T) {
	src := &fakeSource{content: map[string][]byte{
		"README.md": []byte("# Title\n\nSome intro text.\n"),
	}}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{}, slog.Default())

	report, err := p.Run(context.Background(), testDataset, []*detect.Change{{
		Kind: detect.KindCreated,
		Ref:  "README.md",
		Unit: &source.Unit{
			Ref:         "README.md",
			Language:    "markdown",
			ContentType: store.ContentTypeMarkdown,
		},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)

	items := sink.stored()
	require.Len(t, items, 1)
	require.NotEmpty(t, items[0].Chunks)
	assert.Equal(t, store.ContentTypeMarkdown, items[0].Chunks[0].ContentType)
	assert.Equal(t, "Title", items[0].Chunks[0].Metadata["header_path"])
}

func TestPipeline_Cancellation(t *testing.T) {
	content := map[string][]byte{}
	var changes []*detect.Change
	for i := 0; i < 50; i++ {
		ref := fmt.Sprintf("f%02d.go", i)
		content[ref] = []byte("package p\n\nfunc F() {}\n")
		changes = append(changes, goChange(ref))
	}
	src := &fakeSource{content: content}
	sink := &fakeSink{}
	p := New(src, newTestRouter(), sink, Config{QueueCapacity: 1}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx, testDataset, changes)
	require.Error(t, err)
	require.NotNil(t, report, "cancellation still returns the partial report")
	assert.Less(t, report.Succeeded, 50)
}
