package jsstest

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eteran/jss/pkg/auth"
	"github.com/eteran/jss/pkg/client"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Server is an in-process implementation of the JSS HTTP API. Metadata is
// kept in sqlite and payloads on the local filesystem.
type Server struct {
	Config Config
	Db     *sql.DB
	Store  *Storage
}

// initSchema applies every embedded migration in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// NewServer initializes the metadata database under cfg.DataDir.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(cfg.DataDir, "metadata.sqlite") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewCompoundAuthEngine(
			auth.NewHeaderAuthEngine(cfg.Credential),
			auth.NewPresignedAuthEngine(cfg.Credential),
		)
	}

	return &Server{
		Config: cfg,
		Db:     db,
		Store:  NewStorage(cfg.DataDir),
	}, nil
}

func (s *Server) Close() error {
	return s.Db.Close()
}

// withTransaction runs fn within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func (s *Server) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var count int
	if err := s.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// requireBucket writes NoSuchBucket and returns false when bucket is missing.
func (s *Server) requireBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) bool {
	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return false
	}
	if !exists {
		writeNoSuchBucketError(w, r)
		return false
	}
	return true
}

// ActiveUploads returns the ids of multipart uploads that were initiated but
// neither completed nor aborted.
func (s *Server) ActiveUploads(ctx context.Context) ([]string, error) {
	rows, err := s.Db.QueryContext(ctx, `SELECT id FROM uploads ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(client.APIError{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: requestID(r.Context()),
	})
}

func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, "InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError)
}

func writeNoSuchBucketError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
}

func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
}

func writeNoSuchUploadError(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, "NoSuchUpload", "The specified multipart upload does not exist.", http.StatusNotFound)
}

// writeJSONResponse encodes v as JSON with a 200 OK status.
func writeJSONResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(v)
}

// isValidObjectKey enforces basic key constraints: non-empty, at most 1024
// bytes, and no control characters.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

func validateObjectKeyOrError(w http.ResponseWriter, r *http.Request, key string) bool {
	if !isValidObjectKey(key) {
		writeError(w, r, "InvalidObjectName", "The specified key is not valid.", http.StatusBadRequest)
		return false
	}
	return true
}

func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// metadataHeaders extracts user metadata headers keyed by lower-cased name.
func metadataHeaders(h http.Header) map[string]string {
	meta := make(map[string]string)
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, client.MetaHeaderPrefix) {
			meta[lower] = strings.Join(values, ",")
		}
	}
	return meta
}

// upsertObjectMetadata inserts or replaces an object's metadata row.
func upsertObjectMetadata(ctx context.Context, tx *sql.Tx, bucket, key, hashHex string, size int64, contentType string, meta map[string]string, now time.Time) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO objects(bucket, key, hash, size, content_type, metadata, created_at, modified_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	metadata=excluded.metadata,
		 	modified_at=excluded.modified_at`,
		bucket, key, hashHex, size, contentType, string(encoded), now, now,
	)
	return err
}
