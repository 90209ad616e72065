package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsDeterministic(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	c := Sum([]byte("hello worlds"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex-encoded SHA-256
}

func TestSumStringMatchesSum(t *testing.T) {
	assert.Equal(t, Sum([]byte("content")), SumString("content"))
}

func TestSumFileMatchesInMemorySum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unit.txt")
	data := []byte("file contents for hashing\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, Sum(data), got)
}

func TestSumFileMissing(t *testing.T) {
	_, err := SumFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestUnitIDStableAcrossContentChanges(t *testing.T) {
	a := UnitID("ds-1", "src/main.go")
	b := UnitID("ds-1", "src/main.go")
	assert.Equal(t, a, b)

	// Different dataset or ref changes the identity.
	assert.NotEqual(t, a, UnitID("ds-2", "src/main.go"))
	assert.NotEqual(t, a, UnitID("ds-1", "src/other.go"))
}

func TestChunkIDReproducible(t *testing.T) {
	hash := SumString("func main() {}")

	a := ChunkID("src/main.go", 0, hash)
	b := ChunkID("src/main.go", 0, hash)
	assert.Equal(t, a, b)

	// Ordinal, ref, and content all participate.
	assert.NotEqual(t, a, ChunkID("src/main.go", 1, hash))
	assert.NotEqual(t, a, ChunkID("src/util.go", 0, hash))
	assert.NotEqual(t, a, ChunkID("src/main.go", 0, SumString("changed")))
}

func TestChunkIDSeparatorsPreventCollisions(t *testing.T) {
	// "ab" + ordinal 1 must not collide with "a" + something starting "b1".
	h := SumString("x")
	assert.NotEqual(t, ChunkID("ab", 1, h), ChunkID("a", 11, h))
}
