package embed

import (
	"context"
	"fmt"
	"sync"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// fakeDense is a controllable DenseEmbedder for wrapper tests.
type fakeDense struct {
	mu        sync.Mutex
	calls     int
	textsSeen [][]string

	dims     int
	model    string
	failTime int  // fail the first N calls
	fatal    bool // make failures non-retryable
}

func newFakeDense() *fakeDense {
	return &fakeDense{dims: 4, model: "fake-dense"}
}

func (f *fakeDense) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.textsSeen = append(f.textsSeen, append([]string(nil), texts...))

	if f.calls <= f.failTime {
		if f.fatal {
			return nil, qerrors.ValidationError("bad input", nil)
		}
		return nil, qerrors.TransientError("provider busy", nil)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeDense) Dimensions() int                    { return f.dims }
func (f *fakeDense) ModelName() string                  { return f.model }
func (f *fakeDense) Available(ctx context.Context) bool { return true }
func (f *fakeDense) Close() error                       { return nil }

func (f *fakeDense) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSparse is a controllable SparseEmbedder.
type fakeSparse struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSparse) EmbedSparse(ctx context.Context, texts []string) ([]map[string]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.fail {
		return nil, fmt.Errorf("sparse service down")
	}

	out := make([]map[string]float32, len(texts))
	for i, text := range texts {
		out[i] = map[string]float32{text: 1.0}
	}
	return out, nil
}

func (f *fakeSparse) ModelName() string                  { return "fake-sparse" }
func (f *fakeSparse) Available(ctx context.Context) bool { return true }
func (f *fakeSparse) Close() error                       { return nil }
