package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// MarkdownChunkerOptions configures markdown chunk sizing.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int // default DefaultMaxChunkTokens
}

// MarkdownChunker chunks markdown by header sections. Frontmatter becomes its
// own chunk; oversized sections split at paragraph boundaries with fenced
// code blocks kept intact. Stateless and safe for concurrent use.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var _ Chunker = (*MarkdownChunker)(nil)

var (
	headerPattern      = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	return &MarkdownChunker{options: opts}
}

// Chunk splits a markdown unit into section chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, in *Input) ([]*store.Chunk, error) {
	content := string(in.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	now := time.Now()
	var chunks []*store.Chunk
	remaining := content
	baseLine := 1

	if m := frontmatterPattern.FindString(remaining); m != "" {
		chunks = append(chunks, c.newChunk(in, m, 1, strings.Count(strings.TrimRight(m, "\n"), "\n")+1, map[string]string{
			"type": "frontmatter",
		}, now))
		remaining = remaining[len(m):]
		baseLine += strings.Count(m, "\n")
	}

	sections := parseSections(remaining)
	if len(sections) == 0 {
		chunks = append(chunks, c.chunkParagraphs(in, remaining, "", 0, baseLine, now)...)
		assignIdentity(in.Ref, chunks)
		return chunks, nil
	}

	for _, sec := range sections {
		chunks = append(chunks, c.chunkSection(in, sec, baseLine, now)...)
	}

	assignIdentity(in.Ref, chunks)
	return chunks, nil
}

// section is one header-delimited slice of a document.
type section struct {
	level     int
	title     string
	path      string // "Top > Sub > Current"
	content   string // includes the header line
	startLine int    // 0-indexed within the parsed content
}

// parseSections splits content at headers, tracking the header hierarchy so
// each section knows its full path.
func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	stack := make([]string, 6)

	var current *section
	var buf strings.Builder

	flush := func() {
		if current != nil {
			current.content = buf.String()
			sections = append(sections, current)
			buf.Reset()
		}
	}

	for lineNum, line := range lines {
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}

		flush()

		level := len(m[1])
		title := strings.TrimSpace(m[2])
		stack[level-1] = title
		for i := level; i < 6; i++ {
			stack[i] = ""
		}

		var pathParts []string
		for i := 0; i < level; i++ {
			if stack[i] != "" {
				pathParts = append(pathParts, stack[i])
			}
		}

		current = &section{
			level:     level,
			title:     title,
			path:      strings.Join(pathParts, " > "),
			startLine: lineNum,
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()

	return sections
}

// chunkSection emits a section as one chunk, or splits it by paragraphs when
// it exceeds the token budget. Header-only sections are skipped.
func (c *MarkdownChunker) chunkSection(in *Input, sec *section, baseLine int, now time.Time) []*store.Chunk {
	content := strings.TrimRight(sec.content, "\n")

	trimmed := strings.TrimSpace(content)
	if len(strings.Split(trimmed, "\n")) <= 1 && headerPattern.MatchString(trimmed) {
		return nil
	}

	meta := map[string]string{
		"header_path":   sec.path,
		"header_level":  strconv.Itoa(sec.level),
		"section_title": sec.title,
	}

	startLine := baseLine + sec.startLine
	if estimateTokens(content) <= c.options.MaxChunkTokens {
		endLine := startLine + strings.Count(content, "\n")
		return []*store.Chunk{c.newChunk(in, content, startLine, endLine, meta, now)}
	}

	return c.chunkParagraphs(in, content, sec.path, sec.level, startLine, now)
}

// chunkParagraphs packs paragraphs into budget-sized chunks. Fenced code
// blocks are atomic: a paragraph split never lands inside one.
func (c *MarkdownChunker) chunkParagraphs(in *Input, content, headerPath string, headerLevel int, startLine int, now time.Time) []*store.Chunk {
	paragraphs := splitParagraphs(content)

	meta := func() map[string]string {
		return map[string]string{
			"header_path":   headerPath,
			"header_level":  strconv.Itoa(headerLevel),
			"section_title": "",
		}
	}

	var chunks []*store.Chunk
	var buf strings.Builder
	chunkStart := startLine
	lineCount := 0

	for _, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1

		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			text := strings.TrimRight(buf.String(), "\n ")
			chunks = append(chunks, c.newChunk(in, text, chunkStart, chunkStart+strings.Count(text, "\n"), meta(), now))
			buf.Reset()
			chunkStart = startLine + lineCount

			// Continuation chunks keep their section anchor.
			if headerPath != "" {
				buf.WriteString("<!-- Section: " + headerPath + " -->\n\n")
			}
		}

		buf.WriteString(para)
		buf.WriteString("\n\n")
		lineCount += paraLines + 1
	}

	if strings.TrimSpace(buf.String()) != "" {
		text := strings.TrimRight(buf.String(), "\n ")
		chunks = append(chunks, c.newChunk(in, text, chunkStart, chunkStart+strings.Count(text, "\n"), meta(), now))
	}

	return chunks
}

// splitParagraphs splits on blank lines, re-merging fenced code blocks that
// contain internal blank lines.
func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	var fenceBuf strings.Builder
	inFence := false

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		if inFence {
			fenceBuf.WriteString("\n\n")
			fenceBuf.WriteString(trimmed)
			if strings.Contains(trimmed, "```") {
				paragraphs = append(paragraphs, fenceBuf.String())
				fenceBuf.Reset()
				inFence = false
			}
			continue
		}

		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = true
			fenceBuf.WriteString(trimmed)
			continue
		}

		paragraphs = append(paragraphs, trimmed)
	}

	if inFence {
		paragraphs = append(paragraphs, fenceBuf.String())
	}

	return paragraphs
}

func (c *MarkdownChunker) newChunk(in *Input, content string, startLine, endLine int, meta map[string]string, now time.Time) *store.Chunk {
	return &store.Chunk{
		Content:     content,
		ContentType: store.ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   startLine,
		EndLine:     endLine,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
