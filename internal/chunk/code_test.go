package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/store"
)

const goSample = `package calc

import "fmt"

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}

// Multiplier scales values.
type Multiplier struct {
	Factor int
}

// Scale multiplies v by the factor.
func (m *Multiplier) Scale(v int) int {
	fmt.Println(v)
	return v * m.Factor
}
`

func newTestCodeChunker(t *testing.T) *CodeChunker {
	t.Helper()
	c := NewCodeChunker()
	t.Cleanup(c.Close)
	return c
}

func TestCodeChunker_GoSymbols(t *testing.T) {
	c := newTestCodeChunker(t)

	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "calc/calc.go",
		Content:  []byte(goSample),
		Language: "go",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	var names []string
	var types []store.SymbolType
	for _, ch := range chunks {
		require.Len(t, ch.Symbols, 1)
		names = append(names, ch.Symbols[0].Name)
		types = append(types, ch.Symbols[0].Type)
		assert.Equal(t, store.ConfidenceAST, ch.Symbols[0].Confidence)
		assert.Equal(t, store.ContentTypeCode, ch.ContentType)
		assert.Equal(t, "go", ch.Language)
	}
	assert.Equal(t, []string{"Add", "Multiplier", "Scale"}, names)
	assert.Equal(t, []store.SymbolType{store.SymbolTypeFunction, store.SymbolTypeType, store.SymbolTypeMethod}, types)
}

func TestCodeChunker_ContextIncludesPackageAndImports(t *testing.T) {
	c := newTestCodeChunker(t)

	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "calc/calc.go",
		Content:  []byte(goSample),
		Language: "go",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	ctx := chunks[0].Context
	assert.Contains(t, ctx, "// File: calc/calc.go")
	assert.Contains(t, ctx, "package calc")
	assert.Contains(t, ctx, `import "fmt"`)
	assert.Contains(t, chunks[0].Content, "func Add")
}

func TestCodeChunker_DocCommentsCaptured(t *testing.T) {
	c := newTestCodeChunker(t)

	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "calc.go",
		Content:  []byte(goSample),
		Language: "go",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "Add returns the sum of a and b.", chunks[0].Symbols[0].DocComment)
	assert.Contains(t, chunks[0].Content, "// Add returns the sum")
}

func TestCodeChunker_StableIdentity(t *testing.T) {
	c := newTestCodeChunker(t)
	in := &Input{Ref: "calc.go", Content: []byte(goSample), Language: "go"}

	first, err := c.Chunk(context.Background(), in)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, i, first[i].Ordinal)
		assert.NotEmpty(t, first[i].ContentHash)
	}
}

func TestCodeChunker_IdentityChangesWithContent(t *testing.T) {
	c := newTestCodeChunker(t)

	base, err := c.Chunk(context.Background(), &Input{
		Ref: "f.go", Content: []byte("package p\n\nfunc A() int { return 1 }\n"), Language: "go",
	})
	require.NoError(t, err)
	changed, err := c.Chunk(context.Background(), &Input{
		Ref: "f.go", Content: []byte("package p\n\nfunc A() int { return 2 }\n"), Language: "go",
	})
	require.NoError(t, err)

	require.Len(t, base, 1)
	require.Len(t, changed, 1)
	assert.NotEqual(t, base[0].ID, changed[0].ID)
}

func TestCodeChunker_TypeScriptArrowFunction(t *testing.T) {
	c := newTestCodeChunker(t)

	src := `import { api } from "./api";

export const fetchUser = async (id: string) => {
  return api.get("/users/" + id);
};

export interface User {
  id: string;
  name: string;
}
`
	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "src/user.ts",
		Content:  []byte(src),
		Language: "typescript",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "fetchUser", chunks[0].Symbols[0].Name)
	assert.Equal(t, store.SymbolTypeFunction, chunks[0].Symbols[0].Type)
	assert.Equal(t, "User", chunks[1].Symbols[0].Name)
	assert.Equal(t, store.SymbolTypeInterface, chunks[1].Symbols[0].Type)
}

func TestCodeChunker_PythonSymbols(t *testing.T) {
	c := newTestCodeChunker(t)

	src := `import os

def load(path):
    return os.path.exists(path)

class Loader:
    def run(self):
        return load(self.path)
`
	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "loader.py",
		Content:  []byte(src),
		Language: "python",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	names := map[string]bool{}
	for _, ch := range chunks {
		for _, s := range ch.Symbols {
			names[s.Name] = true
		}
	}
	assert.True(t, names["load"])
	assert.True(t, names["Loader"])
}

func TestCodeChunker_UnsupportedLanguageFallsBackToLines(t *testing.T) {
	c := newTestCodeChunker(t)

	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "main.rs",
		Content:  []byte("fn main() {\n    println!(\"hi\");\n}\n"),
		Language: "rust",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Empty(t, chunks[0].Symbols)
	assert.Equal(t, 0, chunks[0].Ordinal)
}

func TestCodeChunker_EmptyContent(t *testing.T) {
	c := newTestCodeChunker(t)

	chunks, err := c.Chunk(context.Background(), &Input{Ref: "e.go", Content: nil, Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(context.Background(), &Input{Ref: "w.go", Content: []byte("   \n  "), Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCodeChunker_LargeSymbolSplits(t *testing.T) {
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 100, OverlapTokens: 10})
	defer c.Close()

	var body string
	for i := 0; i < 80; i++ {
		body += "\tx = x + 1 // some padding to make each line meaningfully long\n"
	}
	src := "package p\n\nfunc Big() {\n\tx := 0\n" + body + "}\n"

	chunks, err := c.Chunk(context.Background(), &Input{
		Ref:      "big.go",
		Content:  []byte(src),
		Language: "go",
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// First part carries the parent symbol for discoverability.
	first := chunks[0]
	var names []string
	for _, s := range first.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "Big")
	assert.Contains(t, names, "Big_part1")

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
	}
}

func TestSpecForExtension(t *testing.T) {
	spec, ok := SpecForExtension(".go")
	require.True(t, ok)
	assert.Equal(t, "go", spec.Name)

	spec, ok = SpecForExtension("tsx")
	require.True(t, ok)
	assert.Equal(t, "tsx", spec.Name)

	_, ok = SpecForExtension(".zig")
	assert.False(t, ok)
}
