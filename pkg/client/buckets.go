package client

import (
	"context"
	"net/http"

	"github.com/eteran/jss/pkg/content"
)

// ListBuckets returns the buckets owned by the credential.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var result ListBucketsResult
	if _, err := c.doJSON(ctx, request{method: http.MethodGet}, &result); err != nil {
		return nil, err
	}
	return result.Buckets, nil
}

// PutBucket creates a bucket. A name that breaks the naming rules is only
// logged; the request is still sent and the service decides.
func (c *Client) PutBucket(ctx context.Context, name string) error {
	if !content.IsValidBucketName(name) {
		c.logger.WarnContext(ctx, "Bucket name does not follow the naming rules", "bucket", name)
	}

	_, err := c.discard(ctx, request{method: http.MethodPut, bucket: name})
	return err
}

func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	_, err := c.discard(ctx, request{method: http.MethodDelete, bucket: name})
	return err
}

// ListObjects lists the objects of bucket. When the listing is truncated,
// HasNext is set and the last key returned can be passed as Marker.
func (c *Client) ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) (*ObjectListing, error) {
	var listing ObjectListing
	req := request{
		method: http.MethodGet,
		bucket: bucket,
		query:  opts.query(),
	}
	if _, err := c.doJSON(ctx, req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}
