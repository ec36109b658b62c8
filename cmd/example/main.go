package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eteran/jss/internal/jsstest"
	"github.com/eteran/jss/pkg/auth"
	"github.com/eteran/jss/pkg/client"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	BucketName         = "example-bucket"
	OtherBucket        = "another-bucket"
	ObjectName         = "example.txt"
	ObjectContent      = "Hello from the JSS example!\n"
	OtherObjectName    = "home/eteran/documents/report.pdf"
	OtherObjectContent = `Lorem ipsum dolor sit amet, consetetur sadipscing elitr, sed diam nonumy eirmod tempor invidunt ut labore et dolore magna aliquyam erat, sed diam voluptua. At vero eos et accusam et justo duo dolores et ea rebum. Stet clita kasd gubergren, no sea takimata sanctus est Lorem ipsum dolor sit amet.
`
)

// EnsureBucket creates bucketName unless it is already listed.
func EnsureBucket(ctx context.Context, c *client.Client, bucketName string) error {
	buckets, err := c.ListBuckets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}

	for _, b := range buckets {
		if b.Name == bucketName {
			return nil
		}
	}

	if err := c.PutBucket(ctx, bucketName); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
	}
	slog.Info("Created bucket", "bucket", bucketName)
	return nil
}

// UploadFile uploads an object to the specified bucket.
func UploadFile(ctx context.Context, c *client.Client, bucketName string, objectName string, objectContent []byte) error {
	info, err := c.PutObject(ctx, bucketName, objectName, filepath.Base(objectName), objectContent)
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", objectName, bucketName, err)
	}

	slog.Info("Uploaded object to bucket", "object", objectName, "bucket", bucketName, "etag", info.ETag, "content_type", info.ContentType)
	return nil
}

// ListBucketObjects lists all objects in the specified bucket, page by page.
func ListBucketObjects(ctx context.Context, c *client.Client, bucketName string) error {
	slog.Info("Objects in bucket", "bucket", bucketName)

	opts := client.ListObjectsOptions{MaxKeys: 100}
	for {
		listing, err := c.ListObjects(ctx, bucketName, opts)
		if err != nil {
			return fmt.Errorf("failed to list objects in bucket %q: %w", bucketName, err)
		}
		for _, obj := range listing.Contents {
			slog.Info("Object in bucket", "key", obj.Key, "size", obj.Size)
		}
		if !listing.HasNext || len(listing.Contents) == 0 {
			return nil
		}
		opts.Marker = listing.Contents[len(listing.Contents)-1].Key
	}
}

// DownloadFile downloads an object from the specified bucket to a local file.
func DownloadFile(ctx context.Context, c *client.Client, bucketName string, objectName string, downloadPath string) error {
	data, _, err := c.GetObject(ctx, bucketName, objectName)
	if err != nil {
		return fmt.Errorf("failed to download object %q from bucket %q: %w", objectName, bucketName, err)
	}
	if err := os.WriteFile(downloadPath, data, 0o644); err != nil {
		return err
	}
	slog.Info("Downloaded object", "path", downloadPath, "size", len(data))
	return nil
}

// FetchPresigned downloads an object through a pre-signed URL with a plain
// HTTP client.
func FetchPresigned(ctx context.Context, c *client.Client, httpClient *http.Client, bucketName string, objectName string) error {
	signed, err := c.PresignedURL(http.MethodGet, bucketName, objectName, time.Minute)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pre-signed GET returned %s", resp.Status)
	}
	slog.Info("Fetched object through pre-signed URL", "object", objectName, "size", len(body))
	return nil
}

func MultipartUploadExample(ctx context.Context, c *client.Client) error {
	const object = "multipart-object.bin"

	// Three and a bit parts at the example's part size.
	data := bytes.Repeat([]byte("ABCD"), 3*c.Config().PartSize/4+128)

	result, err := c.UploadReader(ctx, BucketName, object, object, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to upload %q in parts: %w", object, err)
	}

	log := slog.With("bucket", result.Bucket, "object", result.Key, "upload_id", result.UploadID)
	log.Info("Completed multipart upload", "parts", len(result.Parts), "total_size", result.Size, "etag", result.ETag)

	got, _, err := c.GetObject(ctx, BucketName, object)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("multipart object %q does not match what was uploaded", object)
	}
	return nil
}

// ConcurrentHeads fetches the metadata of several objects at once.
func ConcurrentHeads(ctx context.Context, c *client.Client, bucketName string, keys ...string) error {
	futures := make([]*client.Future[*client.ObjectInfo], 0, len(keys))
	for _, key := range keys {
		futures = append(futures, client.Async(ctx, func(ctx context.Context) (*client.ObjectInfo, error) {
			return c.HeadObject(ctx, bucketName, key)
		}))
	}

	for _, f := range futures {
		info, err := f.Await(ctx)
		if err != nil {
			return err
		}
		slog.Info("Object metadata", "key", info.Key, "content_type", info.ContentType, "size", info.ContentLength)
	}
	return nil
}

// Cleanup deletes every object of the given buckets and then the buckets.
func Cleanup(ctx context.Context, c *client.Client, buckets ...string) error {
	for _, bucket := range buckets {
		listing, err := c.ListObjects(ctx, bucket, client.ListObjectsOptions{})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, obj := range listing.Contents {
			g.Go(func() error {
				return c.DeleteObject(gctx, bucket, obj.Key)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to empty bucket %q: %w", bucket, err)
		}

		if err := c.DeleteBucket(ctx, bucket); err != nil {
			return fmt.Errorf("failed to delete bucket %q: %w", bucket, err)
		}
		slog.Info("Deleted bucket", "bucket", bucket)
	}
	return nil
}

func Run(ctx context.Context, c *client.Client, httpClient *http.Client) error {
	// 1. Ensure both buckets exist.
	for _, bucket := range []string{BucketName, OtherBucket} {
		if err := EnsureBucket(ctx, c, bucket); err != nil {
			return fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	}

	// 2. Upload two objects in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return UploadFile(gctx, c, BucketName, ObjectName, []byte(ObjectContent))
	})
	g.Go(func() error {
		return UploadFile(gctx, c, OtherBucket, OtherObjectName, []byte(OtherObjectContent))
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to upload example files: %w", err)
	}

	// 3. List the contents of both buckets.
	for _, bucket := range []string{BucketName, OtherBucket} {
		if err := ListBucketObjects(ctx, c, bucket); err != nil {
			return fmt.Errorf("failed to list bucket objects: %w", err)
		}
	}

	// 4. Download the file.
	downloadDir, err := os.MkdirTemp("", "jss-example-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(downloadDir)

	if err := DownloadFile(ctx, c, BucketName, ObjectName, filepath.Join(downloadDir, "downloaded_"+ObjectName)); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	// 5. Fetch the same file without the client.
	if err := FetchPresigned(ctx, c, httpClient, BucketName, ObjectName); err != nil {
		return fmt.Errorf("failed to fetch pre-signed URL: %w", err)
	}

	// 6. Multipart upload.
	if err := MultipartUploadExample(ctx, c); err != nil {
		return fmt.Errorf("failed to run multipart upload example: %w", err)
	}

	// 7. Head several objects concurrently.
	if err := ConcurrentHeads(ctx, c, BucketName, ObjectName, "multipart-object.bin"); err != nil {
		return fmt.Errorf("failed to head objects: %w", err)
	}

	// 8. Remove everything again.
	if err := Cleanup(ctx, c, BucketName, OtherBucket); err != nil {
		return fmt.Errorf("failed to clean up: %w", err)
	}

	return nil
}

// startLocalServer runs an in-process JSS server under a temporary
// directory. The returned function stops it.
func startLocalServer(ctx context.Context, accessKey string, secretKey string) (string, func(), error) {
	dataDir, err := os.MkdirTemp("", "jss-server-")
	if err != nil {
		return "", nil, err
	}

	srv, err := jsstest.NewServer(ctx, jsstest.NewConfig(
		jsstest.WithDataDir(dataDir),
		jsstest.WithCredential(auth.Credential{AccessKey: accessKey, SecretKey: secretKey}),
	))
	if err != nil {
		os.RemoveAll(dataDir)
		return "", nil, err
	}

	ts := httptest.NewServer(srv.Handler())
	slog.Info("Started local JSS server", "url", ts.URL, "data_dir", dataDir)

	return ts.URL, func() {
		ts.Close()
		_ = srv.Close()
		os.RemoveAll(dataDir)
	}, nil
}

func main() {
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	endpoint := getenv("JSS_ENDPOINT", "")
	accessKey := getenv("ACCESS_KEY", jsstest.DefaultAccessKey)
	secretKey := getenv("SECRET_KEY", jsstest.DefaultSecretKey)

	ctx := context.Background()

	if strings.TrimSpace(endpoint) == "" {
		url, stop, err := startLocalServer(ctx, accessKey, secretKey)
		if err != nil {
			slog.Error("failed to start local server", "err", err)
			os.Exit(1)
		}
		defer stop()
		endpoint = url
	}

	c, err := client.New(accessKey, secretKey,
		client.WithBaseURL(endpoint),
		client.WithPartSize(64*1024),
	)
	if err != nil {
		slog.Error("failed to create JSS client", "err", err)
		os.Exit(1)
	}

	if err := Run(ctx, c, http.DefaultClient); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}
