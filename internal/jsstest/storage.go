package jsstest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/eteran/jss/internal/fsutil"
)

// Storage keeps object payloads on the local filesystem. Within a bucket,
// payloads are addressed by their hash with the first two characters used as
// a subdirectory prefix. Parts of unfinished multipart uploads are staged in
// a directory per upload.
type Storage struct {
	dataDir string
}

func NewStorage(dataDir string) *Storage {
	return &Storage{dataDir: dataDir}
}

func (s *Storage) objectsDir() string {
	return filepath.Join(s.dataDir, "objects")
}

// ObjectPath computes the filesystem path of the payload hashHex in bucket.
func ObjectPath(directory string, bucket string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(directory, bucket, hashHex[:2], hashHex), nil
}

// locateExistingObject finds copies of the payload hashHex with the given
// size stored for other buckets.
func locateExistingObject(directory string, targetObject string, hashHex string, size int64) []string {
	pattern := filepath.Join(directory, "*", hashHex[:2], hashHex)
	matches, _ := filepath.Glob(pattern)

	results := make([]string, 0, len(matches))
	for _, existing := range matches {
		if existing == targetObject {
			continue
		}

		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() || info.Size() != size {
			continue
		}
		results = append(results, existing)
	}
	return results
}

// PutObjectFromFile stores the payload found at tempPath. When the same
// payload already exists for another bucket it is hard linked instead and
// tempPath is left for the caller to remove.
func (s *Storage) PutObjectFromFile(bucket string, hashHex string, tempPath string, size int64) error {
	objPath, err := ObjectPath(s.objectsDir(), bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	for _, existing := range locateExistingObject(s.objectsDir(), objPath, hashHex, size) {
		if err := fsutil.CopyOrLinkFile(existing, objPath); err == nil {
			return nil
		}
	}

	return fsutil.MoveFile(tempPath, objPath)
}

// Open opens the payload hashHex of bucket for reading.
func (s *Storage) Open(bucket string, hashHex string) (*os.File, error) {
	objPath, err := ObjectPath(s.objectsDir(), bucket, hashHex)
	if err != nil {
		return nil, err
	}
	return os.Open(objPath)
}

// DeleteObject removes the payload hashHex of bucket. Copies linked into
// other buckets are unaffected.
func (s *Storage) DeleteObject(bucket string, hashHex string) error {
	objPath, err := ObjectPath(s.objectsDir(), bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteBucket removes every payload stored for bucket.
func (s *Storage) DeleteBucket(bucket string) error {
	return os.RemoveAll(filepath.Join(s.objectsDir(), bucket))
}

// CreateTemp creates a scratch file on the same filesystem as the payloads.
func (s *Storage) CreateTemp(pattern string) (*os.File, error) {
	dir := filepath.Join(s.dataDir, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, pattern)
}

func (s *Storage) uploadDir(uploadID string) string {
	return filepath.Join(s.dataDir, "uploads", uploadID)
}

// PartPath returns where part partNumber of uploadID is staged.
func (s *Storage) PartPath(uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(uploadID), fmt.Sprintf("part-%06d", partNumber))
}

func (s *Storage) CreateUpload(uploadID string) error {
	return os.MkdirAll(s.uploadDir(uploadID), 0o755)
}

func (s *Storage) RemoveUpload(uploadID string) error {
	return os.RemoveAll(s.uploadDir(uploadID))
}
