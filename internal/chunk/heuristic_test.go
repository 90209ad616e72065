package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/store"
)

func TestExtractHeuristicSymbols_Go(t *testing.T) {
	src := `package p

func Handle(w http.ResponseWriter) {
	w.WriteHeader(200)
}

type Config struct {
	Port int
}

const MaxRetries = 3
`
	symbols := extractHeuristicSymbols(src, "go")
	require.Len(t, symbols, 3)

	assert.Equal(t, "Handle", symbols[0].Name)
	assert.Equal(t, store.SymbolTypeFunction, symbols[0].Type)
	assert.Equal(t, "Config", symbols[1].Name)
	assert.Equal(t, store.SymbolTypeType, symbols[1].Type)
	assert.Equal(t, "MaxRetries", symbols[2].Name)
	assert.Equal(t, store.SymbolTypeConstant, symbols[2].Type)

	for _, s := range symbols {
		assert.Equal(t, store.ConfidenceHeuristic, s.Confidence)
	}

	// Each symbol extends to the line before the next one.
	assert.Equal(t, 3, symbols[0].StartLine)
	assert.Equal(t, 6, symbols[0].EndLine)
}

func TestExtractHeuristicSymbols_GoMethodReceiver(t *testing.T) {
	symbols := extractHeuristicSymbols("func (s *Server) Start() error {\n", "go")
	require.Len(t, symbols, 1)
	assert.Equal(t, "Start", symbols[0].Name)
}

func TestExtractHeuristicSymbols_PythonIndented(t *testing.T) {
	src := `class Worker:
    def run(self):
        pass

def main():
    pass
`
	symbols := extractHeuristicSymbols(src, "python")
	require.Len(t, symbols, 3)
	assert.Equal(t, "Worker", symbols[0].Name)
	assert.Equal(t, store.SymbolTypeClass, symbols[0].Type)
	assert.Equal(t, "run", symbols[1].Name)
	assert.Equal(t, "main", symbols[2].Name)
}

func TestExtractHeuristicSymbols_TypeScript(t *testing.T) {
	src := `export interface Props {
  title: string;
}

export const render = (p: Props) => p.title;

export type ID = string;
`
	symbols := extractHeuristicSymbols(src, "typescript")
	require.Len(t, symbols, 3)
	assert.Equal(t, "Props", symbols[0].Name)
	assert.Equal(t, store.SymbolTypeInterface, symbols[0].Type)
	assert.Equal(t, "render", symbols[1].Name)
	assert.Equal(t, store.SymbolTypeFunction, symbols[1].Type)
	assert.Equal(t, "ID", symbols[2].Name)
	assert.Equal(t, store.SymbolTypeType, symbols[2].Type)
}

func TestExtractHeuristicSymbols_UnknownLanguage(t *testing.T) {
	assert.Nil(t, extractHeuristicSymbols("fn main() {}", "rust"))
}

func TestCodeChunker_HeuristicFallbackOnBrokenSource(t *testing.T) {
	c := newTestCodeChunker(t)

	// Unclosed brace in the first function makes the parse partial; symbols
	// must still come out, flagged as heuristic.
	src := `package p

func Broken() {
	if x {

func Next() int {
	return 1
}
`
	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "broken.go",
		Content:  []byte(src),
		Language: "go",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	names := map[string]store.SymbolConfidence{}
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			names[s.Name] = s.Confidence
		}
	}
	require.Contains(t, names, "Broken")
	require.Contains(t, names, "Next")
	assert.Equal(t, store.ConfidenceHeuristic, names["Broken"])
	assert.Equal(t, store.ConfidenceHeuristic, names["Next"])
}
