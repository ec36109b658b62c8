package jsstest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/eteran/jss/pkg/content"
)

type objectRecord struct {
	hash        string
	size        int64
	contentType sql.NullString
	metadata    map[string]string
	modifiedAt  time.Time
}

func (s *Server) lookupObject(ctx context.Context, bucket string, key string) (*objectRecord, error) {
	var (
		rec  objectRecord
		meta string
	)
	err := s.Db.QueryRowContext(ctx,
		`SELECT hash, size, content_type, metadata, modified_at FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&rec.hash, &rec.size, &rec.contentType, &meta, &rec.modifiedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(meta), &rec.metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

// releasePayload removes the payload hashHex of bucket once no key refers
// to it any more.
func (s *Server) releasePayload(ctx context.Context, bucket string, hashHex string) {
	var count int
	if err := s.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket = ? AND hash = ?`, bucket, hashHex).Scan(&count); err != nil {
		slog.Debug("Count payload references", "bucket", bucket, "hash", hashHex, "err", err)
		return
	}
	if count > 0 {
		return
	}
	if err := s.Store.DeleteObject(bucket, hashHex); err != nil {
		slog.Debug("Failed to remove payload", "bucket", bucket, "hash", hashHex, "err", err)
	}
}

// storeObject moves the payload at tempPath into place and records it under
// key, replacing any previous version.
func (s *Server) storeObject(ctx context.Context, bucket string, key string, hashHex string, tempPath string, size int64, contentType string, meta map[string]string) error {
	if err := s.Store.PutObjectFromFile(bucket, hashHex, tempPath, size); err != nil {
		return err
	}

	var previous sql.NullString
	err := withTransaction(ctx, s.Db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT hash FROM objects WHERE bucket = ? AND key = ?`, bucket, key).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return upsertObjectMetadata(ctx, tx, bucket, key, hashHex, size, contentType, meta, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	if previous.Valid && previous.String != hashHex {
		s.releasePayload(ctx, bucket, previous.String)
	}
	return nil
}

// receiveBody streams the request body to a scratch file while hashing it
// and checks it against Content-MD5 when one was sent. The caller removes
// the returned file.
func (s *Server) receiveBody(w http.ResponseWriter, r *http.Request) (path string, hashHex string, size int64, ok bool) {
	tmp, err := s.Store.CreateTemp("put-*")
	if err != nil {
		slog.Error("Create temp file", "err", err)
		writeInternalError(w, r)
		return "", "", 0, false
	}
	defer tmp.Close()

	digester := content.NewDigester(r.Body)
	if _, err := io.Copy(tmp, digester); err != nil {
		os.Remove(tmp.Name())
		writeError(w, r, "IncompleteBody", "Failed to read request body.", http.StatusBadRequest)
		return "", "", 0, false
	}

	hashHex = digester.Sum()
	if want := r.Header.Get("Content-MD5"); want != "" && !strings.EqualFold(want, hashHex) {
		os.Remove(tmp.Name())
		writeError(w, r, "BadDigest", "The Content-MD5 you specified did not match what we received.", http.StatusBadRequest)
		return "", "", 0, false
	}

	return tmp.Name(), hashHex, digester.Size(), true
}

// handleObjectPut dispatches PUT /bucket/key between PutObject and
// UploadPart.
func (s *Server) handleObjectPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateObjectKeyOrError(w, r, key) {
		return
	}
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	if q.Has("uploadId") {
		s.handleUploadPart(ctx, w, r, bucket, key, q.Get("uploadId"), q.Get("partNumber"))
		return
	}

	tempPath, hashHex, size, ok := s.receiveBody(w, r)
	if !ok {
		return
	}
	defer os.Remove(tempPath)

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = content.DefaultContentType
	}

	if err := s.storeObject(ctx, bucket, key, hashHex, tempPath, size, contentType, metadataHeaders(r.Header)); err != nil {
		slog.Error("Store object", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	w.Header().Set("ETag", createETag(hashHex))
	w.WriteHeader(http.StatusOK)
}

// handleObjectGet serves GET and HEAD /bucket/key.
func (s *Server) handleObjectGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateObjectKeyOrError(w, r, key) {
		return
	}
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	rec, err := s.lookupObject(ctx, bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeNoSuchKeyError(w, r)
		return
	} else if err != nil {
		slog.Error("Lookup object", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	f, err := s.Store.Open(bucket, rec.hash)
	if err != nil {
		slog.Error("Open object payload", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}
	defer f.Close()

	if rec.contentType.Valid && rec.contentType.String != "" {
		w.Header().Set("Content-Type", rec.contentType.String)
	} else {
		w.Header().Set("Content-Type", content.DefaultContentType)
	}
	w.Header().Set("ETag", createETag(rec.hash))
	for name, value := range rec.metadata {
		w.Header().Set(name, value)
	}

	http.ServeContent(w, r, key, rec.modifiedAt, f)
}

// handleObjectDelete dispatches DELETE /bucket/key between DeleteObject and
// AbortMultipartUpload. Deleting a missing key succeeds.
func (s *Server) handleObjectDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateObjectKeyOrError(w, r, key) {
		return
	}
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	if q.Has("uploadId") {
		s.handleAbortUpload(ctx, w, r, bucket, key, q.Get("uploadId"))
		return
	}

	var hashHex string
	err := withTransaction(ctx, s.Db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT hash FROM objects WHERE bucket = ? AND key = ?`, bucket, key).Scan(&hashHex)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key)
		return err
	})
	if err != nil {
		slog.Error("Delete object", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	if hashHex != "" {
		s.releasePayload(ctx, bucket, hashHex)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleObjectPost dispatches POST /bucket/key between initiating and
// completing a multipart upload.
func (s *Server) handleObjectPost(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateObjectKeyOrError(w, r, key) {
		return
	}
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("uploads"):
		s.handleInitUpload(ctx, w, r, bucket, key)
	case q.Has("uploadId"):
		s.handleCompleteUpload(ctx, w, r, bucket, key, q.Get("uploadId"))
	default:
		writeError(w, r, "NotImplemented", "ObjectPost is not implemented.", http.StatusNotImplemented)
	}
}
