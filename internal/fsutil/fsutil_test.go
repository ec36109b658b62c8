package fsutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eteran/jss/internal/fsutil"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644), "WriteFile error")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "ReadFile error")
	return string(data)
}

func TestCopyOrLinkFileLinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")
	writeFile(t, src, "payload")

	require.NoError(t, fsutil.CopyOrLinkFile(src, dest))

	infoSrc, err := os.Stat(src)
	require.NoError(t, err)
	infoDest, err := os.Stat(dest)
	require.NoError(t, err)
	require.True(t, os.SameFile(infoSrc, infoDest), "files should be hard-linked")
}

func TestCopyOrLinkFileReplacesExistingLink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	other := filepath.Join(dir, "other")
	writeFile(t, a, "first")
	writeFile(t, other, "second")

	require.NoError(t, fsutil.CopyOrLinkFile(a, b))
	require.NoError(t, fsutil.CopyOrLinkFile(other, b))

	require.Equal(t, "first", readFile(t, a), "replacing b must not touch a")
	require.Equal(t, "second", readFile(t, b))
}

func TestCopyOrLinkFileSamePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, src, "payload")

	require.NoError(t, fsutil.CopyOrLinkFile(src, src))
	require.Equal(t, "payload", readFile(t, src))
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")
	writeFile(t, src, "payload")

	require.NoError(t, fsutil.MoveFile(src, dest))
	require.Equal(t, "payload", readFile(t, dest))

	_, err := os.Stat(src)
	require.True(t, errors.Is(err, os.ErrNotExist), "source should be gone")
}

func TestMoveFileMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := fsutil.MoveFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dest"))
	require.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	n, err := fsutil.WriteFileAtomic(path, strings.NewReader("hello"), 0o600)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, "hello", readFile(t, path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file should not remain")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestWriteFileAtomicLeavesTargetOnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	writeFile(t, path, "original")

	_, err := fsutil.WriteFileAtomic(path, failingReader{}, 0o644)
	require.Error(t, err)
	require.Equal(t, "original", readFile(t, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file should be cleaned up")
}

func TestConcatFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var parts []string
	for i, s := range []string{"ab", "", "cd", "e"} {
		p := filepath.Join(dir, "part-"+string(rune('0'+i)))
		writeFile(t, p, s)
		parts = append(parts, p)
	}

	dest := filepath.Join(dir, "joined")
	n, err := fsutil.ConcatFiles(dest, parts...)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, "abcde", readFile(t, dest))
}
