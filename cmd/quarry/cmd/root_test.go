package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRoot_ListsSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"sync", "search", "watch", "datasets", "doctor", "logs", "init", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRoot_VersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "quarry version")
}

func TestSearch_RequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	assert.Error(t, err)
}

func TestSync_RejectsArgs(t *testing.T) {
	_, err := execute(t, "sync", "extra")
	assert.Error(t, err)
}

func TestInit_WritesConfig(t *testing.T) {
	dir := t.TempDir()
	oldWD, err0 := os.Getwd()
	require.NoError(t, err0)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	_, err := execute(t, "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".quarry.yaml"))

	// A second init refuses to clobber the existing file.
	_, err = execute(t, "init")
	assert.Error(t, err)

	_, err = execute(t, "init", "--force")
	assert.NoError(t, err)
}

func TestLogs_MissingFileErrors(t *testing.T) {
	_, err := execute(t, "logs", "--file", filepath.Join(t.TempDir(), "nope.log"))
	assert.Error(t, err)
}

func TestLogs_TailsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	out, err := execute(t, "logs", "--file", path, "-n", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "one")
	assert.Contains(t, out, "two")
	assert.Contains(t, out, "three")
}
