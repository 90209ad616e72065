package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// CodeChunkerOptions configures chunk sizing.
type CodeChunkerOptions struct {
	MaxChunkTokens int // default DefaultMaxChunkTokens
	OverlapTokens  int // default DefaultOverlapTokens
}

// CodeChunker chunks source code along symbol boundaries. The AST path uses
// tree-sitter; when parsing fails the pattern-based heuristic path takes
// over, marking its symbols with ConfidenceHeuristic. Not safe for
// concurrent use; give each worker its own chunker.
type CodeChunker struct {
	parser  *Parser
	options CodeChunkerOptions
}

var _ Chunker = (*CodeChunker)(nil)

// NewCodeChunker creates a code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &CodeChunker{
		parser:  NewParser(),
		options: opts,
	}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits a code unit into symbol-aligned chunks.
func (c *CodeChunker) Chunk(ctx context.Context, in *Input) ([]*store.Chunk, error) {
	if len(in.Content) == 0 || strings.TrimSpace(string(in.Content)) == "" {
		return nil, nil
	}

	spec, supported := SpecForLanguage(in.Language)
	if !supported {
		chunks := c.chunkByLines(in, time.Now())
		assignIdentity(in.Ref, chunks)
		return chunks, nil
	}

	tree, err := c.parser.Parse(ctx, in.Content, in.Language)
	if err != nil && !errors.Is(err, ErrPartialParse) {
		// Parser failure: heuristic extraction, never silent symbol loss.
		chunks := c.chunkHeuristic(in, time.Now())
		assignIdentity(in.Ref, chunks)
		return chunks, nil
	}
	if errors.Is(err, ErrPartialParse) {
		chunks := c.chunkHeuristic(in, time.Now())
		assignIdentity(in.Ref, chunks)
		return chunks, nil
	}

	now := time.Now()
	fileContext := buildFileContext(in, tree)

	infos := c.findSymbolNodes(tree, spec)
	if len(infos) == 0 {
		// No declarations (a script, or pure imports): keep the content
		// retrievable with plain line chunks.
		chunks := c.chunkByLines(in, now)
		assignIdentity(in.Ref, chunks)
		return chunks, nil
	}

	var chunks []*store.Chunk
	for _, info := range infos {
		chunks = append(chunks, c.chunksFromSymbol(info, tree, in, fileContext, now)...)
	}
	assignIdentity(in.Ref, chunks)
	return chunks, nil
}

type symbolNode struct {
	node   *Node
	symbol *store.Symbol
}

// findSymbolNodes walks the tree for symbol-defining nodes.
func (c *CodeChunker) findSymbolNodes(tree *Tree, spec *LanguageSpec) []*symbolNode {
	var infos []*symbolNode

	tree.Root.Walk(func(n *Node) bool {
		// const f = () => {} is a function, not a constant.
		if sym := functionValuedDeclaration(n, tree.Source, tree.Language); sym != nil {
			infos = append(infos, &symbolNode{node: n, symbol: sym})
			return true
		}

		if symType, ok := spec.SymbolNodes[n.Type]; ok {
			if sym := symbolFromNode(n, tree.Source, symType, tree.Language); sym != nil {
				infos = append(infos, &symbolNode{node: n, symbol: sym})
			}
		}
		return true
	})

	return infos
}

// chunksFromSymbol emits one chunk per symbol, or several when the symbol
// exceeds the token budget.
func (c *CodeChunker) chunksFromSymbol(info *symbolNode, tree *Tree, in *Input, fileContext string, now time.Time) []*store.Chunk {
	node := info.node
	raw := rawWithDocComment(node, tree.Source, info.symbol.DocComment)

	if estimateTokens(raw) <= c.options.MaxChunkTokens {
		return []*store.Chunk{c.newChunk(in, raw, fileContext, info.symbol, info.symbol.StartLine, info.symbol.EndLine, now)}
	}

	return c.splitSymbolByLines(info, raw, in, fileContext, now)
}

// rawWithDocComment extends a node's text upward to include its doc comment.
func rawWithDocComment(n *Node, source []byte, docComment string) string {
	if docComment == "" {
		return n.Text(source)
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}
	return string(source[lineStart:n.EndByte])
}

// splitSymbolByLines splits an oversized symbol into overlapping line windows.
// The first part also carries the parent symbol so name queries still land.
func (c *CodeChunker) splitSymbolByLines(info *symbolNode, content string, in *Input, fileContext string, now time.Time) []*store.Chunk {
	lines := strings.Split(content, "\n")
	symbol := info.symbol
	startLine := symbol.StartLine

	maxLines := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlap := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlap < 2 {
		overlap = 2
	}

	var chunks []*store.Chunk
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		part := &store.Symbol{
			Name:       fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:       symbol.Type,
			StartLine:  startLine + i,
			EndLine:    startLine + end - 1,
			Confidence: symbol.Confidence,
		}
		symbols := []*store.Symbol{part}
		if len(chunks) == 0 {
			symbols = append(symbols, symbol)
		}

		chunk := c.newChunk(in, strings.Join(lines[i:end], "\n"), fileContext, nil, startLine+i, startLine+end-1, now)
		chunk.Symbols = symbols
		chunks = append(chunks, chunk)

		i = end - overlap
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// chunkHeuristic chunks along pattern-extracted symbol boundaries.
func (c *CodeChunker) chunkHeuristic(in *Input, now time.Time) []*store.Chunk {
	content := string(in.Content)
	symbols := extractHeuristicSymbols(content, in.Language)
	if len(symbols) == 0 {
		return c.chunkByLines(in, now)
	}

	lines := strings.Split(content, "\n")
	fileContext := filePathMarker(in.Ref, in.Language)

	var chunks []*store.Chunk
	for i, sym := range symbols {
		start := sym.StartLine - 1
		end := len(lines)
		if i+1 < len(symbols) {
			end = symbols[i+1].StartLine - 1
		}
		if start >= end {
			continue
		}

		segment := strings.Join(lines[start:end], "\n")
		if estimateTokens(segment) <= c.options.MaxChunkTokens {
			chunks = append(chunks, c.newChunk(in, segment, fileContext, sym, start+1, end, now))
			continue
		}
		chunks = append(chunks, c.splitSymbolByLines(&symbolNode{symbol: sym}, segment, in, fileContext, now)...)
	}

	if len(chunks) == 0 {
		return c.chunkByLines(in, now)
	}
	return chunks
}

// chunkByLines is the flat fallback for units without extractable structure.
func (c *CodeChunker) chunkByLines(in *Input, now time.Time) []*store.Chunk {
	content := string(in.Content)
	lines := strings.Split(content, "\n")

	linesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if linesPerChunk < 20 {
		linesPerChunk = 20
	}
	overlap := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlap < 2 {
		overlap = 2
	}

	var chunks []*store.Chunk
	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunks = append(chunks, c.newChunk(in, strings.Join(lines[i:end], "\n"), "", nil, i+1, end, now))

		i = end - overlap
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// newChunk fills the non-identity fields of one chunk.
func (c *CodeChunker) newChunk(in *Input, raw, fileContext string, symbol *store.Symbol, startLine, endLine int, now time.Time) *store.Chunk {
	content := raw
	if fileContext != "" {
		content = fileContext + "\n\n" + raw
	}

	var symbols []*store.Symbol
	if symbol != nil {
		symbols = []*store.Symbol{symbol}
	}

	contentType := store.ContentTypeCode
	if in.Language == "" {
		contentType = store.ContentTypeText
	}

	return &store.Chunk{
		Content:     content,
		Context:     fileContext,
		ContentType: contentType,
		Language:    in.Language,
		StartLine:   startLine,
		EndLine:     endLine,
		Symbols:     symbols,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// buildFileContext assembles the chunk context: a path marker plus package
// and import declarations, which anchor embeddings to the file's scope.
func buildFileContext(in *Input, tree *Tree) string {
	parts := []string{filePathMarker(in.Ref, in.Language)}

	switch in.Language {
	case "go":
		if pkg := tree.Root.ChildOfType("package_clause"); pkg != nil {
			parts = append(parts, pkg.Text(tree.Source))
		}
		for _, node := range tree.Root.Children {
			if node.Type == "import_declaration" {
				parts = append(parts, node.Text(tree.Source))
			}
		}
	case "typescript", "tsx", "javascript":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" {
				parts = append(parts, node.Text(tree.Source))
			}
		}
	case "python":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" || node.Type == "import_from_statement" {
				parts = append(parts, node.Text(tree.Source))
			}
		}
	}

	return strings.Join(parts, "\n")
}

// filePathMarker renders a language-appropriate comment naming the file.
func filePathMarker(ref, language string) string {
	if ref == "" {
		return ""
	}
	if language == "python" {
		return "# File: " + ref
	}
	return "// File: " + ref
}
