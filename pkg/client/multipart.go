package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/eteran/jss/pkg/content"
	"github.com/eteran/jss/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// UploadObject uploads the file at path in parts. The object is stored under
// key, or under the file's base name when key is empty.
func (c *Client) UploadObject(ctx context.Context, bucket string, key string, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return c.UploadReader(ctx, bucket, key, filepath.Base(path), f)
}

// partTracker collects part outcomes as they complete, in any order.
type partTracker struct {
	mu     sync.Mutex
	done   []CompletePart
	failed []PartError
	size   int64
}

func (t *partTracker) succeed(partNumber int, etag string, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = append(t.done, CompletePart{PartNumber: partNumber, ETag: etag})
	t.size += int64(size)
}

func (t *partTracker) fail(partNumber int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = append(t.failed, PartError{PartNumber: partNumber, Err: err})
}

// manifest returns the successful and failed parts sorted by part number.
// It must only be called once every part has reported.
func (t *partTracker) manifest() ([]CompletePart, []PartError) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sort.Slice(t.done, func(i, j int) bool { return t.done[i].PartNumber < t.done[j].PartNumber })
	sort.Slice(t.failed, func(i, j int) bool { return t.failed[i].PartNumber < t.failed[j].PartNumber })
	return t.done, t.failed
}

// UploadReader uploads everything read from r as a multipart upload. Parts
// of PartSize bytes are sent as soon as they are read, at most
// PartConcurrency at a time. The upload is completed once every part has
// reported, with the manifest in ascending part order.
func (c *Client) UploadReader(ctx context.Context, bucket string, key string, filename string, r io.Reader) (*UploadResult, error) {
	if key == "" {
		key = filename
	}
	c.checkKey(ctx, key)

	uploadID, err := c.initUpload(ctx, bucket, key, content.GuessContentType(filename))
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("bucket", bucket, "key", key, "upload_id", uploadID)
	logger.DebugContext(ctx, "Multipart upload started")

	abortOnFailure := c.cfg.AbortOnPartFailure
	tracker := &partTracker{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PartConcurrency)

	var readErr error
	for partNumber := 1; ; partNumber++ {
		if gctx.Err() != nil {
			break
		}

		buf := make([]byte, c.cfg.PartSize)
		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) && partNumber > 1 {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			readErr = fmt.Errorf("read part %d: %w", partNumber, err)
			break
		}

		num, chunk := partNumber, buf[:n]
		g.Go(func() error {
			etag, err := c.uploadPart(gctx, bucket, key, uploadID, num, chunk)
			if err != nil && gctx.Err() != nil && errors.Is(err, context.Canceled) {
				// Cancelled by the caller or by a failed sibling part.
				return nil
			}
			c.cfg.Metrics.ObservePart(err == nil, len(chunk))
			if err != nil {
				logger.WarnContext(ctx, "Part upload failed", "part", num, "err", err)
				tracker.fail(num, err)
				if abortOnFailure {
					return PartError{PartNumber: num, Err: err}
				}
				return nil
			}
			tracker.succeed(num, etag, len(chunk))
			return nil
		})

		if err != nil {
			// Short or empty read: this was the last part.
			break
		}
	}

	waitErr := g.Wait()
	parts, failed := tracker.manifest()

	if readErr != nil || waitErr != nil || ctx.Err() != nil || len(parts) == 0 {
		var cause error
		switch {
		case readErr != nil:
			cause = readErr
		case waitErr != nil:
			cause = waitErr
		case ctx.Err() != nil:
			cause = &TransportError{
				Method: http.MethodPut,
				URL:    c.endpoint(bucket, key, objectQuery(uploadID, 0)).Redacted(),
				Err:    ctx.Err(),
			}
		case len(failed) > 0:
			cause = fmt.Errorf("every part failed: %w", joinPartErrors(failed))
		default:
			cause = errors.New("no parts were uploaded")
		}
		return nil, c.abortUpload(ctx, bucket, key, uploadID, failed, cause)
	}

	result, err := c.completeUpload(ctx, bucket, key, uploadID, parts)
	if err != nil {
		return nil, c.abortUpload(ctx, bucket, key, uploadID, failed, err)
	}

	outcome := metrics.UploadCompleted
	if len(failed) > 0 {
		outcome = metrics.UploadPartial
		logger.WarnContext(ctx, "Multipart upload completed with failed parts left out", "failed", len(failed))
	}
	c.cfg.Metrics.ObserveUpload(outcome)
	logger.DebugContext(ctx, "Multipart upload completed", "parts", len(parts))

	return &UploadResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
		ETag:     trimETag(result.ETag),
		Size:     tracker.size,
		Parts:    parts,
		Failed:   failed,
	}, nil
}

func joinPartErrors(failed []PartError) error {
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (c *Client) initUpload(ctx context.Context, bucket string, key string, contentType string) (string, error) {
	header := make(http.Header)
	header.Set("Content-Type", contentType)

	var result InitUploadResult
	req := request{
		method: http.MethodPost,
		bucket: bucket,
		key:    key,
		query:  url.Values{"uploads": {""}},
		header: header,
	}
	if _, err := c.doJSON(ctx, req, &result); err != nil {
		return "", err
	}
	if result.UploadID == "" {
		return "", fmt.Errorf("initiate upload of %s/%s: response carries no upload id", bucket, key)
	}
	return result.UploadID, nil
}

func (c *Client) uploadPart(ctx context.Context, bucket string, key string, uploadID string, partNumber int, data []byte) (string, error) {
	header := make(http.Header)
	header.Set("Content-MD5", content.ContentMD5(data))

	resp, err := c.discard(ctx, request{
		method:        http.MethodPut,
		bucket:        bucket,
		key:           key,
		query:         objectQuery(uploadID, partNumber),
		header:        header,
		body:          bytes.NewReader(data),
		contentLength: int64(len(data)),
	})
	if err != nil {
		return "", err
	}
	return trimETag(resp.Header.Get("ETag")), nil
}

func (c *Client) completeUpload(ctx context.Context, bucket string, key string, uploadID string, parts []CompletePart) (*CompleteUploadResult, error) {
	body, err := json.Marshal(CompleteUploadRequest{Parts: parts})
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	var result CompleteUploadResult
	_, err = c.doJSON(ctx, request{
		method:        http.MethodPost,
		bucket:        bucket,
		key:           key,
		query:         objectQuery(uploadID, 0),
		header:        header,
		body:          bytes.NewReader(body),
		contentLength: int64(len(body)),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// abortUpload discards an unfinished upload and returns the UploadError
// describing why. The abort is sent even when ctx is already cancelled.
func (c *Client) abortUpload(ctx context.Context, bucket string, key string, uploadID string, failed []PartError, cause error) error {
	c.cfg.Metrics.ObserveUpload(metrics.UploadAborted)

	_, abortErr := c.discard(context.WithoutCancel(ctx), request{
		method: http.MethodDelete,
		bucket: bucket,
		key:    key,
		query:  objectQuery(uploadID, 0),
	})
	if abortErr != nil {
		c.logger.ErrorContext(ctx, "Abort multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID, "err", abortErr)
	}

	return &UploadError{
		UploadID: uploadID,
		Failed:   failed,
		Aborted:  abortErr == nil,
		AbortErr: abortErr,
		Err:      cause,
	}
}
