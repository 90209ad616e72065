package source

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quarrylabs/quarry/internal/ignore"
)

// rulesetCacheSize bounds the per-directory ignore ruleset cache for
// long-running processes (watch mode re-enumerates repeatedly).
const rulesetCacheSize = 1000

// FileSource discovers indexable files under a root directory.
type FileSource struct {
	root string
	opts Options

	cacheMu      sync.RWMutex
	rulesetCache *lru.Cache[string, *ignore.Ruleset]
}

// Verify interface implementation
var _ ContentSource = (*FileSource)(nil)

// NewFileSource creates a FileSource for opts.Root.
func NewFileSource(opts Options) (*FileSource, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	cache, err := lru.New[string, *ignore.Ruleset](rulesetCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ruleset cache: %w", err)
	}

	if opts.MaxUnitSize <= 0 {
		opts.MaxUnitSize = DefaultMaxUnitSize
	}

	return &FileSource{
		root:         absRoot,
		opts:         opts,
		rulesetCache: cache,
	}, nil
}

// Root returns the absolute root directory.
func (s *FileSource) Root() string {
	return s.root
}

// ListUnits walks the root and streams indexable files.
func (s *FileSource) ListUnits(ctx context.Context) (<-chan UnitResult, error) {
	results := make(chan UnitResult, 64)

	go func() {
		defer close(results)

		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil {
				// Surface the unreadable entry by ref; swallowing it here
				// would make the stored unit look deleted downstream.
				ref, relErr := filepath.Rel(s.root, path)
				if relErr != nil || ref == "." {
					return nil
				}
				if d != nil && d.IsDir() && s.excludeDir(ref) {
					return nil
				}
				if d != nil && !d.IsDir() && s.excludeFile(ref) {
					return nil
				}
				select {
				case results <- UnitResult{Unit: &Unit{Ref: ref, AbsPath: path}, Err: err}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}

			ref, err := filepath.Rel(s.root, path)
			if err != nil || ref == "." {
				return nil
			}

			if d.IsDir() {
				if s.excludeDir(ref) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
				return nil
			}

			if s.excludeFile(ref) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				select {
				case results <- UnitResult{Unit: &Unit{Ref: ref, AbsPath: path}, Err: err}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
			if info.Size() > s.opts.MaxUnitSize {
				return nil
			}
			if isBinary(path) {
				return nil
			}

			if len(s.opts.IncludePatterns) > 0 && !matchesAny(ref, s.opts.IncludePatterns) {
				return nil
			}

			language := DetectLanguage(ref)
			unit := &Unit{
				Ref:         ref,
				AbsPath:     path,
				Size:        info.Size(),
				ModTime:     info.ModTime(),
				Language:    language,
				ContentType: DetectContentType(language),
			}

			select {
			case results <- UnitResult{Unit: unit}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if err != nil && err != context.Canceled {
			select {
			case results <- UnitResult{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return results, nil
}

// ReadUnit reads the content of a unit by its reference.
// Refs resolving outside the root are rejected.
func (s *FileSource) ReadUnit(ctx context.Context, ref string) ([]byte, error) {
	abs := filepath.Join(s.root, ref)
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) && abs != s.root {
		return nil, fmt.Errorf("ref escapes root: %s", ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// InvalidateIgnoreCache clears cached ignore rulesets. Called when a
// .gitignore changes under watch.
func (s *FileSource) InvalidateIgnoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rulesetCache.Purge()
}

func (s *FileSource) excludeDir(ref string) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(ref, pattern) {
			return true
		}
	}
	for _, pattern := range s.opts.ExcludePatterns {
		if matchDirPattern(ref, pattern) {
			return true
		}
	}
	return false
}

func (s *FileSource) excludeFile(ref string) bool {
	base := filepath.Base(ref)

	for _, pattern := range sensitivePatterns {
		if matchFilePattern(base, ref, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(base, ref, pattern) {
			return true
		}
	}
	for _, pattern := range s.opts.ExcludePatterns {
		if matchFilePattern(base, ref, pattern) {
			return true
		}
	}

	if s.opts.RespectIgnoreFiles && s.ignored(ref) {
		return true
	}

	return false
}

// ignored checks root and nested .gitignore files along the ref's path.
func (s *FileSource) ignored(ref string) bool {
	if rs := s.ruleset(s.root, ""); rs != nil && rs.Ignored(ref, false) {
		return true
	}

	dir := filepath.Dir(ref)
	if dir == "." {
		return false
	}

	currentDir := s.root
	currentBase := ""
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		currentDir = filepath.Join(currentDir, part)
		currentBase = filepath.Join(currentBase, part)
		if rs := s.ruleset(currentDir, filepath.ToSlash(currentBase)); rs != nil && rs.Ignored(ref, false) {
			return true
		}
	}
	return false
}

// ruleset returns the cached (or freshly parsed) ruleset for a directory's
// .gitignore, or nil when the directory has none.
func (s *FileSource) ruleset(dir, base string) *ignore.Ruleset {
	s.cacheMu.RLock()
	rs, ok := s.rulesetCache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return rs
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	rs = ignore.NewRuleset()
	if err := rs.LoadFile(path, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.rulesetCache.Add(dir, rs)
	s.cacheMu.Unlock()
	return rs
}

// isBinary sniffs for NUL bytes in the first 512 bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

func matchesAny(ref string, patterns []string) bool {
	base := filepath.Base(ref)
	for _, pattern := range patterns {
		if matchFilePattern(base, ref, pattern) {
			return true
		}
	}
	return false
}

// matchDirPattern matches a directory ref against an exclusion pattern.
func matchDirPattern(ref, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(ref, string(filepath.Separator)) {
			if part == name {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return ref == prefix || strings.HasPrefix(ref, prefix+string(filepath.Separator))
	}

	return ref == pattern || strings.HasPrefix(ref, pattern+string(filepath.Separator))
}

// matchFilePattern matches a file ref against an exclusion pattern.
func matchFilePattern(base, ref, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(ref, prefix+string(filepath.Separator))
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(base, strings.TrimPrefix(suffix, "*"))
		}
		for _, part := range strings.Split(ref, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}

	// Directory component + filename glob, e.g. "docs/drafts/*.md".
	if strings.Contains(pattern, string(filepath.Separator)) && strings.Contains(pattern, "*") {
		if filepath.Dir(ref) == filepath.Dir(pattern) {
			matched, err := filepath.Match(filepath.Base(pattern), base)
			return err == nil && matched
		}
		return false
	}

	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.Trim(pattern, "*")
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(base, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(base, strings.TrimSuffix(pattern, "*"))
	}

	return base == pattern
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.quarry/**",
	"**/.ssh/**",
	"**/.aws/**",
}

// defaultExcludeFiles are generated or lock artifacts with no retrieval value.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// sensitivePatterns are never indexed regardless of configuration.
var sensitivePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
