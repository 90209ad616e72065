package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/store"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collectRefs(t *testing.T, src *FileSource) []string {
	t.Helper()
	ch, err := src.ListUnits(context.Background())
	require.NoError(t, err)

	var refs []string
	for res := range ch {
		require.NoError(t, res.Err)
		refs = append(refs, res.Unit.Ref)
	}
	return refs
}

func TestFileSource_DiscoversFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "docs/README.md", "# Docs")
	writeFile(t, root, "sub/util.py", "def f(): pass")

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.ElementsMatch(t, []string{"main.go", filepath.Join("docs", "README.md"), filepath.Join("sub", "util.py")}, refs)
}

func TestFileSource_UnitMetadata(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	ch, err := src.ListUnits(context.Background())
	require.NoError(t, err)

	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, "main.go", res.Unit.Ref)
	assert.Equal(t, "go", res.Unit.Language)
	assert.Equal(t, store.ContentTypeCode, res.Unit.ContentType)
	assert.Equal(t, int64(len("package main")), res.Unit.Size)
	assert.False(t, res.Unit.ModTime.IsZero())
}

func TestFileSource_SkipsDefaultDirsAndSensitiveFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "node_modules/pkg/index.js", "x")
	writeFile(t, root, ".git/config", "x")
	writeFile(t, root, "vendor/lib/lib.go", "x")
	writeFile(t, root, ".env", "SECRET=1")
	writeFile(t, root, "server.pem", "cert")
	writeFile(t, root, "aws_credentials.txt", "key")

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.Equal(t, []string{"main.go"}, refs)
}

func TestFileSource_SkipsBinaryAndOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "blob.dat", "abc\x00def")
	writeFile(t, root, "big.txt", string(make([]byte, 0)))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), make([]byte, 200), 0o644))

	src, err := NewFileSource(Options{Root: root, MaxUnitSize: 100})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.Equal(t, []string{"main.go"}, refs)
}

func TestFileSource_CustomExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "gen/types.go", "package gen")
	writeFile(t, root, "notes.txt", "notes")

	src, err := NewFileSource(Options{
		Root:            root,
		ExcludePatterns: []string{"gen/**", "*.txt"},
	})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.Equal(t, []string{"main.go"}, refs)
}

func TestFileSource_IncludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "README.md", "# hi")

	src, err := NewFileSource(Options{
		Root:            root,
		IncludePatterns: []string{"*.go"},
	})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.Equal(t, []string{"main.go"}, refs)
}

func TestFileSource_RespectsIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "app.log", "log line")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "sub/.gitignore", "*.gen.go\n")
	writeFile(t, root, "sub/types.gen.go", "package sub")
	writeFile(t, root, "sub/real.go", "package sub")

	src, err := NewFileSource(Options{Root: root, RespectIgnoreFiles: true})
	require.NoError(t, err)

	refs := collectRefs(t, src)
	assert.ElementsMatch(t, []string{".gitignore", "main.go", filepath.Join("sub", ".gitignore"), filepath.Join("sub", "real.go")}, refs)
}

func TestFileSource_ReadUnit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	content, err := src.ReadUnit(context.Background(), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main", string(content))

	_, err = src.ReadUnit(context.Background(), "../outside.txt")
	assert.Error(t, err)
}

func TestFileSource_Cancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("d", string(rune('a'+i))+".go"), "package d")
	}

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.ListUnits(ctx)
	require.NoError(t, err)
	cancel()

	// Channel must close after cancellation; drain without hanging.
	for range ch {
	}
}

func TestFileSource_UnreadableDirSurfacedAsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root bypasses permission checks")
	}

	root := t.TempDir()
	writeFile(t, root, "ok.go", "package ok")
	writeFile(t, root, "locked/hidden.go", "package hidden")

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	src, err := NewFileSource(Options{Root: root})
	require.NoError(t, err)

	ch, err := src.ListUnits(context.Background())
	require.NoError(t, err)

	var refs, erroredRefs []string
	for res := range ch {
		if res.Err != nil {
			require.NotNil(t, res.Unit, "errored results carry the failing ref")
			erroredRefs = append(erroredRefs, res.Unit.Ref)
			continue
		}
		refs = append(refs, res.Unit.Ref)
	}

	assert.Equal(t, []string{"ok.go"}, refs)
	assert.Equal(t, []string{"locked"}, erroredRefs)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("cmd/main.go"))
	assert.Equal(t, "typescript", DetectLanguage("src/app.ts"))
	assert.Equal(t, "tsx", DetectLanguage("src/App.tsx"))
	assert.Equal(t, "markdown", DetectLanguage("README.md"))
	assert.Equal(t, "dockerfile", DetectLanguage("deploy/Dockerfile"))
	assert.Equal(t, "", DetectLanguage("unknown.zzz"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, store.ContentTypeCode, DetectContentType("go"))
	assert.Equal(t, store.ContentTypeMarkdown, DetectContentType("markdown"))
	assert.Equal(t, store.ContentTypeText, DetectContentType(""))
}
