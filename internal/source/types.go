// Package source provides content discovery for indexing. A ContentSource
// enumerates indexable units and serves their content; FileSource is the
// filesystem implementation.
package source

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// Unit is a discovered content unit.
type Unit struct {
	Ref         string    // Reference, relative to the source root
	AbsPath     string    // Absolute filesystem path
	Size        int64     // Content size in bytes
	ModTime     time.Time // Last modification time
	Language    string    // go, typescript, python, etc.
	ContentType store.ContentType
}

// UnitResult is streamed from ListUnits. A result with Err set may still
// carry a partial Unit whose Ref names the entry that failed, so callers
// can classify the failure instead of treating the unit as gone.
type UnitResult struct {
	Unit *Unit
	Err  error
}

// ContentSource enumerates and reads content units.
type ContentSource interface {
	// ListUnits streams discovered units. The channel is closed when
	// enumeration completes or ctx is cancelled.
	ListUnits(ctx context.Context) (<-chan UnitResult, error)

	// ReadUnit returns the content of a unit by reference.
	ReadUnit(ctx context.Context, ref string) ([]byte, error)
}

// DefaultMaxUnitSize is the default content size cap (5MB).
const DefaultMaxUnitSize = 5 * 1024 * 1024

// Options configures a FileSource.
type Options struct {
	// Root is the directory to discover under.
	Root string

	// IncludePatterns limits discovery to matching refs (empty = all).
	IncludePatterns []string

	// ExcludePatterns excludes matching refs, on top of the defaults.
	ExcludePatterns []string

	// RespectIgnoreFiles enables .gitignore parsing, root and nested.
	RespectIgnoreFiles bool

	// MaxUnitSize caps content size in bytes (0 = DefaultMaxUnitSize).
	MaxUnitSize int64

	// FollowSymlinks enables following symbolic links.
	FollowSymlinks bool
}

// languageByName maps file extensions and well-known names to languages.
var languageByName = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",

	".py":  "python",
	".pyi": "python",

	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".proto": "protobuf",

	".html": "html",
	".css":  "css",
	".scss": "scss",
	".vue":  "vue",

	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".xml":  "xml",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
	"makefile":   "makefile",
}

// contentTypeByLanguage maps languages to content types. Unknown languages
// fall back to text.
var contentTypeByLanguage = map[string]store.ContentType{
	"go": store.ContentTypeCode, "javascript": store.ContentTypeCode,
	"typescript": store.ContentTypeCode, "tsx": store.ContentTypeCode,
	"python": store.ContentTypeCode, "ruby": store.ContentTypeCode,
	"rust": store.ContentTypeCode, "java": store.ContentTypeCode,
	"kotlin": store.ContentTypeCode, "c": store.ContentTypeCode,
	"cpp": store.ContentTypeCode, "csharp": store.ContentTypeCode,
	"swift": store.ContentTypeCode, "php": store.ContentTypeCode,
	"scala": store.ContentTypeCode, "elixir": store.ContentTypeCode,
	"shell": store.ContentTypeCode, "sql": store.ContentTypeCode,
	"protobuf": store.ContentTypeCode, "html": store.ContentTypeCode,
	"css": store.ContentTypeCode, "scss": store.ContentTypeCode,
	"vue": store.ContentTypeCode,
	"json": store.ContentTypeCode, "yaml": store.ContentTypeCode,
	"toml": store.ContentTypeCode, "xml": store.ContentTypeCode,
	"dockerfile": store.ContentTypeCode, "makefile": store.ContentTypeCode,

	"markdown": store.ContentTypeMarkdown, "rst": store.ContentTypeMarkdown,

	"text": store.ContentTypeText,
}

// DetectLanguage detects the language of a ref from its name or extension.
func DetectLanguage(ref string) string {
	base := filepath.Base(ref)
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	if lang, ok := languageByName[strings.ToLower(filepath.Ext(ref))]; ok {
		return lang
	}
	return ""
}

// DetectContentType maps a language to a content type.
func DetectContentType(language string) store.ContentType {
	if ct, ok := contentTypeByLanguage[language]; ok {
		return ct
	}
	return store.ContentTypeText
}
