package jsstest

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eteran/jss/internal/fsutil"
	"github.com/eteran/jss/pkg/client"
	"github.com/eteran/jss/pkg/content"

	"github.com/google/uuid"
)

// MaxPartNumber is the highest part number accepted in a multipart upload.
const MaxPartNumber = 10000

type uploadRecord struct {
	bucket      string
	key         string
	contentType sql.NullString
}

func (s *Server) lookupUpload(ctx context.Context, uploadID string) (*uploadRecord, error) {
	var rec uploadRecord
	err := s.Db.QueryRowContext(ctx,
		`SELECT bucket, key, content_type FROM uploads WHERE id = ?`, uploadID,
	).Scan(&rec.bucket, &rec.key, &rec.contentType)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// requireUpload writes NoSuchUpload unless uploadID names an active upload
// of bucket/key.
func (s *Server) requireUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) (*uploadRecord, bool) {
	if _, err := uuid.Parse(uploadID); err != nil {
		writeNoSuchUploadError(w, r)
		return nil, false
	}

	rec, err := s.lookupUpload(ctx, uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		writeNoSuchUploadError(w, r)
		return nil, false
	} else if err != nil {
		slog.Error("Lookup upload", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return nil, false
	}

	if rec.bucket != bucket || rec.key != key {
		writeNoSuchUploadError(w, r)
		return nil, false
	}
	return rec, true
}

func (s *Server) handleInitUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	uploadID := uuid.NewString()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = content.GuessContentType(key)
	}

	if err := s.Store.CreateUpload(uploadID); err != nil {
		slog.Error("Create upload dir", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO uploads(id, bucket, key, content_type, created_at) VALUES(?, ?, ?, ?, ?)`,
		uploadID, bucket, key, contentType, time.Now().UTC(),
	)
	if err != nil {
		_ = s.Store.RemoveUpload(uploadID)
		slog.Error("Insert upload", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	slog.Debug("Multipart upload initiated", "bucket", bucket, "key", key, "upload_id", uploadID)
	if err := writeJSONResponse(w, client.InitUploadResult{Bucket: bucket, Key: key, UploadID: uploadID}); err != nil {
		slog.Error("Write response", "err", err)
	}
}

func (s *Server) handleUploadPart(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string, rawPartNumber string) {
	partNumber, err := strconv.Atoi(rawPartNumber)
	if err != nil || partNumber < 1 || partNumber > MaxPartNumber {
		writeError(w, r, "InvalidArgument", fmt.Sprintf("Part number must be an integer between 1 and %d.", MaxPartNumber), http.StatusBadRequest)
		return
	}

	if _, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID); !ok {
		return
	}

	if hook := s.Config.PartHook; hook != nil {
		if err := hook(ctx, uploadID, partNumber); err != nil {
			slog.Warn("Part rejected", "upload_id", uploadID, "part", partNumber, "err", err)
			writeInternalError(w, r)
			return
		}
	}

	digester := content.NewDigester(r.Body)
	partPath := s.Store.PartPath(uploadID, partNumber)
	size, err := fsutil.WriteFileAtomic(partPath, digester, 0o644)
	if err != nil {
		slog.Error("Write part", "upload_id", uploadID, "part", partNumber, "err", err)
		writeInternalError(w, r)
		return
	}

	etag := digester.Sum()
	if want := r.Header.Get("Content-MD5"); want != "" && !strings.EqualFold(want, etag) {
		_ = os.Remove(partPath)
		writeError(w, r, "BadDigest", "The Content-MD5 you specified did not match what we received.", http.StatusBadRequest)
		return
	}

	_, err = s.Db.ExecContext(ctx,
		`INSERT INTO upload_parts(upload_id, part_number, etag, size) VALUES(?, ?, ?, ?)
		 ON CONFLICT(upload_id, part_number) DO UPDATE SET etag=excluded.etag, size=excluded.size`,
		uploadID, partNumber, etag, size,
	)
	if err != nil {
		slog.Error("Record part", "upload_id", uploadID, "part", partNumber, "err", err)
		writeInternalError(w, r)
		return
	}

	w.Header().Set("ETag", createETag(etag))
	w.WriteHeader(http.StatusOK)
}

// multipartETag derives the ETag of a completed upload from the ETags of
// its parts: the MD5 of their concatenated binary digests, suffixed with the
// part count.
func multipartETag(partETags []string) (string, error) {
	h := md5.New()
	for _, etag := range partETags {
		sum, err := hex.DecodeString(etag)
		if err != nil {
			return "", err
		}
		h.Write(sum)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(partETags)), nil
}

func (s *Server) handleCompleteUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	upload, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID)
	if !ok {
		return
	}

	var req client.CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "MalformedJSON", "The JSON you provided was not well-formed.", http.StatusBadRequest)
		return
	}
	if len(req.Parts) == 0 {
		writeError(w, r, "InvalidRequest", "You must specify at least one part.", http.StatusBadRequest)
		return
	}

	stored := make(map[int]string)
	rows, err := s.Db.QueryContext(ctx, `SELECT part_number, etag FROM upload_parts WHERE upload_id = ?`, uploadID)
	if err != nil {
		slog.Error("List parts", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}
	for rows.Next() {
		var (
			n    int
			etag string
		)
		if err := rows.Scan(&n, &etag); err != nil {
			rows.Close()
			writeInternalError(w, r)
			return
		}
		stored[n] = etag
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		writeInternalError(w, r)
		return
	}

	partPaths := make([]string, 0, len(req.Parts))
	partETags := make([]string, 0, len(req.Parts))
	for i, part := range req.Parts {
		if i > 0 && part.PartNumber <= req.Parts[i-1].PartNumber {
			writeError(w, r, "InvalidPartOrder", "The list of parts was not in ascending order.", http.StatusBadRequest)
			return
		}
		etag, found := stored[part.PartNumber]
		if !found || !strings.EqualFold(etag, strings.Trim(part.ETag, `"`)) {
			writeError(w, r, "InvalidPart", fmt.Sprintf("Part %d could not be found or its ETag does not match.", part.PartNumber), http.StatusBadRequest)
			return
		}
		partPaths = append(partPaths, s.Store.PartPath(uploadID, part.PartNumber))
		partETags = append(partETags, etag)
	}

	etag, err := multipartETag(partETags)
	if err != nil {
		slog.Error("Compute multipart ETag", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	tmp, err := s.Store.CreateTemp("complete-*")
	if err != nil {
		writeInternalError(w, r)
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	size, err := fsutil.ConcatFiles(tmpPath, partPaths...)
	if err != nil {
		slog.Error("Assemble parts", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	contentType := content.DefaultContentType
	if upload.contentType.Valid && upload.contentType.String != "" {
		contentType = upload.contentType.String
	}

	if err := s.storeObject(ctx, bucket, key, etag, tmpPath, size, contentType, map[string]string{}); err != nil {
		slog.Error("Store assembled object", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	if err := s.removeUpload(ctx, uploadID); err != nil {
		slog.Warn("Remove completed upload", "upload_id", uploadID, "err", err)
	}

	slog.Debug("Multipart upload completed", "bucket", bucket, "key", key, "upload_id", uploadID, "parts", len(partETags))
	if err := writeJSONResponse(w, client.CompleteUploadResult{
		Bucket:   bucket,
		Key:      key,
		ETag:     createETag(etag),
		Location: "/" + bucket + "/" + key,
	}); err != nil {
		slog.Error("Write response", "err", err)
	}
}

func (s *Server) handleAbortUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	if _, ok := s.requireUpload(ctx, w, r, bucket, key, uploadID); !ok {
		return
	}

	if err := s.removeUpload(ctx, uploadID); err != nil {
		slog.Error("Abort upload", "upload_id", uploadID, "err", err)
		writeInternalError(w, r)
		return
	}

	slog.Debug("Multipart upload aborted", "bucket", bucket, "key", key, "upload_id", uploadID)
	w.WriteHeader(http.StatusNoContent)
}

// removeUpload forgets uploadID and its staged parts.
func (s *Server) removeUpload(ctx context.Context, uploadID string) error {
	err := withTransaction(ctx, s.Db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID)
		return err
	})
	if err != nil {
		return err
	}
	return s.Store.RemoveUpload(uploadID)
}
