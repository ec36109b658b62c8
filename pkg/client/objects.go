package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eteran/jss/pkg/content"

	"github.com/minio/minio-go/v7/pkg/s3utils"
)

func (c *Client) checkKey(ctx context.Context, key string) {
	if err := s3utils.CheckValidObjectName(key); err != nil {
		c.logger.WarnContext(ctx, "Object key may be rejected", "key", key, "err", err)
	}
}

// HeadObject returns the metadata of an object without its payload.
func (c *Client) HeadObject(ctx context.Context, bucket string, key string) (*ObjectInfo, error) {
	resp, err := c.discard(ctx, request{method: http.MethodHead, bucket: bucket, key: key})
	if err != nil {
		return nil, err
	}
	return objectInfoFromHeader(bucket, key, resp.Header), nil
}

// GetObject downloads an object into memory. The payload is returned
// byte for byte.
func (c *Client) GetObject(ctx context.Context, bucket string, key string) ([]byte, *ObjectInfo, error) {
	body, info, err := c.GetObjectStream(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, &TransportError{Method: http.MethodGet, URL: c.endpoint(bucket, key, nil).Redacted(), Err: err}
	}
	return data, info, nil
}

// GetObjectStream starts downloading an object. The caller must close the
// returned body.
func (c *Client) GetObjectStream(ctx context.Context, bucket string, key string) (io.ReadCloser, *ObjectInfo, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, bucket: bucket, key: key})
	if err != nil {
		return nil, nil, err
	}
	return resp.Body, objectInfoFromHeader(bucket, key, resp.Header), nil
}

// PutObject stores data under key, or under filename when key is empty.
// The Content-Type is derived from filename.
func (c *Client) PutObject(ctx context.Context, bucket string, key string, filename string, data []byte) (*ObjectInfo, error) {
	if key == "" {
		key = filename
	}
	c.checkKey(ctx, key)

	header := make(http.Header)
	header.Set("Content-Type", content.GuessContentType(filename))
	header.Set("Content-MD5", content.ContentMD5(data))

	resp, err := c.discard(ctx, request{
		method:        http.MethodPut,
		bucket:        bucket,
		key:           key,
		header:        header,
		body:          bytes.NewReader(data),
		contentLength: int64(len(data)),
	})
	if err != nil {
		return nil, err
	}

	info := objectInfoFromHeader(bucket, key, resp.Header)
	info.ContentType = header.Get("Content-Type")
	info.ContentLength = int64(len(data))
	return info, nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket string, key string) error {
	_, err := c.discard(ctx, request{method: http.MethodDelete, bucket: bucket, key: key})
	return err
}

// PresignedURL returns a URL granting method on the object for expires,
// starting now. A zero expires selects auth.DefaultPresignExpiry.
func (c *Client) PresignedURL(method string, bucket string, key string, expires time.Duration) (string, error) {
	return c.PresignedURLAt(method, bucket, key, nil, time.Time{}, expires)
}

// PresignedURLAt is PresignedURL with an explicit start time. Content-Type,
// Content-MD5 and x-jss- headers in h are signed and must accompany the
// request made with the URL.
func (c *Client) PresignedURLAt(method string, bucket string, key string, h http.Header, start time.Time, expires time.Duration) (string, error) {
	if method == "" {
		method = http.MethodGet
	}
	if start.IsZero() {
		start = c.cfg.Now()
	}

	u, err := c.signer.PresignURL(c.baseURL, method, c.baseURL.Path+c.resourcePath(bucket, key), h, start, expires)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// objectQuery builds the query of a multipart request.
func objectQuery(uploadID string, partNumber int) url.Values {
	q := url.Values{"uploadId": {uploadID}}
	if partNumber > 0 {
		q.Set("partNumber", fmt.Sprint(partNumber))
	}
	return q
}
