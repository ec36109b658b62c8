package jsstest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eteran/jss/pkg/client"
	"github.com/eteran/jss/pkg/content"
)

const defaultMaxKeys = 1000

func (s *Server) handleListBuckets(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	rows, err := s.Db.QueryContext(ctx, `SELECT name, location, created_at FROM buckets ORDER BY name`)
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	buckets := make([]client.Bucket, 0)
	for rows.Next() {
		var (
			b         client.Bucket
			createdAt time.Time
		)
		if err := rows.Scan(&b.Name, &b.Location, &createdAt); err != nil {
			slog.Error("Scan bucket", "err", err)
			continue
		}
		b.CreationDate = client.Time{Time: createdAt}
		buckets = append(buckets, b)
	}

	if err := writeJSONResponse(w, client.ListBucketsResult{Buckets: buckets}); err != nil {
		slog.Error("Encode list buckets", "err", err)
	}
}

func (s *Server) handleBucketPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !content.IsValidBucketName(bucket) {
		writeError(w, r, "InvalidBucketName", "The specified bucket is not valid.", http.StatusBadRequest)
		return
	}

	res, err := s.Db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(name, location, created_at) VALUES(?, ?, ?)`,
		bucket, s.Config.Location, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("Create bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		writeError(w, r, "BucketAlreadyExists", "The requested bucket name is not available.", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBucketDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	var count int
	if err := s.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket = ?`, bucket).Scan(&count); err != nil {
		slog.Error("Count bucket objects", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if count > 0 {
		writeError(w, r, "BucketNotEmpty", "The bucket you tried to delete is not empty.", http.StatusConflict)
		return
	}

	if _, err := s.Db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, bucket); err != nil {
		slog.Error("Delete bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}

	if err := s.Store.DeleteBucket(bucket); err != nil {
		slog.Debug("Failed to remove bucket payloads", "bucket", bucket, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListObjects lists keys in order, folding keys that contain the
// delimiter after the prefix into CommonPrefixes.
func (s *Server) handleListObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if !s.requireBucket(ctx, w, r, bucket) {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	marker := q.Get("marker")
	delimiter := q.Get("delimiter")
	maxKeys := defaultMaxKeys
	if raw := q.Get("maxKeys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			maxKeys = min(v, defaultMaxKeys)
		}
	}

	// Keys sharing the prefix are contiguous in key order, so the scan can
	// start at the prefix and stop at the first key without it.
	rows, err := s.Db.QueryContext(ctx,
		`SELECT key, hash, size, modified_at FROM objects
		 WHERE bucket = ? AND key > ? AND key >= ?
		 ORDER BY key`,
		bucket, marker, prefix,
	)
	if err != nil {
		slog.Error("List objects", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	listing := client.ObjectListing{
		Name:           bucket,
		Prefix:         prefix,
		Marker:         marker,
		Delimiter:      delimiter,
		MaxKeys:        maxKeys,
		Contents:       make([]client.ObjectSummary, 0),
		CommonPrefixes: make([]string, 0),
	}
	seenPrefixes := make(map[string]struct{})
	entryCount := 0

	for rows.Next() {
		var (
			key        string
			hashHex    string
			size       int64
			modifiedAt time.Time
		)
		if err := rows.Scan(&key, &hashHex, &size, &modifiedAt); err != nil {
			slog.Error("Scan object", "bucket", bucket, "err", err)
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			break
		}

		if delimiter != "" {
			rel := strings.TrimPrefix(key, prefix)
			if idx := strings.Index(rel, delimiter); idx >= 0 {
				cp := prefix + rel[:idx+len(delimiter)]
				if _, ok := seenPrefixes[cp]; ok {
					continue
				}
				if entryCount == maxKeys {
					listing.HasNext = true
					break
				}
				seenPrefixes[cp] = struct{}{}
				listing.CommonPrefixes = append(listing.CommonPrefixes, cp)
				entryCount++
				continue
			}
		}

		if entryCount == maxKeys {
			listing.HasNext = true
			break
		}
		listing.Contents = append(listing.Contents, client.ObjectSummary{
			Key:          key,
			LastModified: client.Time{Time: modifiedAt},
			ETag:         createETag(hashHex),
			Size:         size,
		})
		entryCount++
	}

	if err := writeJSONResponse(w, listing); err != nil {
		slog.Error("Encode list objects", "bucket", bucket, "err", err)
	}
}
