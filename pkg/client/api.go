package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eteran/jss/pkg/auth"
)

const (
	// MetaHeaderPrefix marks user metadata headers on objects.
	MetaHeaderPrefix = auth.HeaderPrefix + "meta-"

	// RequestIDHeader carries the service's id for a request.
	RequestIDHeader = auth.HeaderPrefix + "request-id"
)

// Time is a timestamp carried in JSON as an RFC 1123 GMT string.
type Time struct {
	time.Time
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(http.TimeFormat))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := http.ParseTime(s)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339, s); err != nil {
			return err
		}
	}
	t.Time = parsed.UTC()
	return nil
}

type Bucket struct {
	Name         string `json:"Name"`
	CreationDate Time   `json:"CreationDate"`
	Location     string `json:"Location,omitempty"`
}

type ListBucketsResult struct {
	Buckets []Bucket `json:"Buckets"`
}

type ListObjectsOptions struct {
	Prefix    string
	Marker    string
	Delimiter string
	MaxKeys   int
}

func (o ListObjectsOptions) query() url.Values {
	q := url.Values{}
	if o.Prefix != "" {
		q["prefix"] = []string{o.Prefix}
	}
	if o.Marker != "" {
		q["marker"] = []string{o.Marker}
	}
	if o.Delimiter != "" {
		q["delimiter"] = []string{o.Delimiter}
	}
	if o.MaxKeys > 0 {
		q["maxKeys"] = []string{strconv.Itoa(o.MaxKeys)}
	}
	return q
}

type ObjectSummary struct {
	Key          string `json:"Key"`
	LastModified Time   `json:"LastModified"`
	ETag         string `json:"ETag"`
	Size         int64  `json:"Size"`
}

type ObjectListing struct {
	Name           string          `json:"Name"`
	Prefix         string          `json:"Prefix"`
	Marker         string          `json:"Marker"`
	Delimiter      string          `json:"Delimiter"`
	MaxKeys        int             `json:"MaxKeys"`
	HasNext        bool            `json:"HasNext"`
	Contents       []ObjectSummary `json:"Contents"`
	CommonPrefixes []string        `json:"CommonPrefixes"`
}

// ObjectInfo is the metadata returned with an object.
type ObjectInfo struct {
	Bucket        string
	Key           string
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	Metadata      map[string]string
	Header        http.Header
}

func objectInfoFromHeader(bucket string, key string, h http.Header) *ObjectInfo {
	info := &ObjectInfo{
		Bucket:        bucket,
		Key:           key,
		ContentType:   h.Get("Content-Type"),
		ContentLength: -1,
		ETag:          trimETag(h.Get("ETag")),
		Metadata:      make(map[string]string),
		Header:        h,
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		info.ContentLength = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t.UTC()
	}
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, MetaHeaderPrefix) && len(values) > 0 {
			info.Metadata[strings.TrimPrefix(lower, MetaHeaderPrefix)] = strings.Join(values, ",")
		}
	}
	return info
}

func trimETag(etag string) string {
	return strings.TrimSuffix(strings.TrimPrefix(etag, `"`), `"`)
}

type InitUploadResult struct {
	Bucket   string `json:"Bucket"`
	Key      string `json:"Key"`
	UploadID string `json:"UploadId"`
}

type CompletePart struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

type CompleteUploadRequest struct {
	Parts []CompletePart `json:"Part"`
}

type CompleteUploadResult struct {
	Bucket   string `json:"Bucket"`
	Key      string `json:"Key"`
	ETag     string `json:"ETag"`
	Location string `json:"Location,omitempty"`
}

// UploadResult describes a finished multipart upload. Parts lists the parts
// in the completed object in ascending order. Failed is only non-empty when
// the client was configured to complete uploads despite part failures.
type UploadResult struct {
	Bucket   string
	Key      string
	UploadID string
	ETag     string
	Size     int64
	Parts    []CompletePart
	Failed   []PartError
}
