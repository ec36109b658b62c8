package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// CopyOrLinkFile hard links srcPath to destPath, copying the contents when
// a link cannot be made.
func CopyOrLinkFile(srcPath string, destPath string) error {
	if srcPath == destPath {
		return nil
	}

	// An existing destination must be unlinked first, otherwise copying into
	// it would also rewrite every other name linked to it.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	return CopyFile(srcPath, destPath)
}

// MoveFile renames srcPath to destPath, falling back to copy and remove when
// the two live on different filesystems.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := CopyOrLinkFile(srcPath, destPath); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFileAtomic streams r into a temporary file next to path and renames
// it into place once r is exhausted. On failure path is left untouched.
func WriteFileAtomic(path string, r io.Reader, perm os.FileMode) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return n, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return n, err
	}
	return n, nil
}

// ConcatFiles writes the contents of srcPaths, in order, to destPath.
func ConcatFiles(destPath string, srcPaths ...string) (int64, error) {
	readers := make([]io.Reader, 0, len(srcPaths))
	for _, p := range srcPaths {
		f, err := os.Open(p)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		readers = append(readers, f)
	}

	return WriteFileAtomic(destPath, io.MultiReader(readers...), 0o644)
}
