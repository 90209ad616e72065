// Package chunk splits content units into retrievable chunks. Code is chunked
// along AST symbol boundaries (tree-sitter) with a pattern-based heuristic
// fallback; markdown is chunked by header sections.
package chunk

import (
	"context"

	"github.com/quarrylabs/quarry/internal/fingerprint"
	"github.com/quarrylabs/quarry/internal/store"
)

// Sizing defaults, in approximate tokens.
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	TokensPerChar         = 4
)

// Input is one content unit to be chunked.
type Input struct {
	Ref      string // Reference relative to the source root
	Content  []byte
	Language string // go, typescript, python, markdown, etc.
}

// Chunker splits a unit into chunks. Implementations fill Content, Context,
// ContentType, Language, line ranges, and Symbols; identity fields (Ordinal,
// ContentHash, ID) are assigned by assignIdentity before returning.
type Chunker interface {
	Chunk(ctx context.Context, in *Input) ([]*store.Chunk, error)
}

// assignIdentity stamps ordinals and content-addressed IDs onto a unit's
// chunks. Identical content at the same ordinal always reproduces the same
// ID, so a no-op re-chunk is a no-op re-index.
func assignIdentity(ref string, chunks []*store.Chunk) {
	for i, c := range chunks {
		c.SourceRef = ref
		c.Ordinal = i
		c.ContentHash = fingerprint.SumString(c.Content)
		c.ID = fingerprint.ChunkID(ref, i, c.ContentHash)
	}
}

// estimateTokens approximates token count from character count.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
