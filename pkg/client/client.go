package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/eteran/jss/pkg/auth"
)

// maxErrorBody bounds how much of a failed response is read looking for a
// structured error.
const maxErrorBody = 1 << 20

// Client issues signed requests against a JSS endpoint. It is safe for
// concurrent use; apart from the credential and base URL it holds no state
// shared between calls.
type Client struct {
	cfg     Config
	baseURL *url.URL
	signer  *auth.Signer
	http    *http.Client
	logger  *slog.Logger
}

// New returns a Client for the given credential.
func New(accessKey string, secretKey string, opts ...ConfigOption) (*Client, error) {
	cfg := NewConfig(opts...)

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	signer, err := auth.NewSigner(
		auth.Credential{AccessKey: accessKey, SecretKey: secretKey},
		auth.WithClock(cfg.Now),
	)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		signer:  signer,
		logger:  cfg.Logger,
	}

	next := cfg.HTTPClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	next = cfg.Metrics.RoundTripper(next)
	next = LogRequests(cfg.Logger, next)

	hooks := append([]BeforeSendFunc(nil), cfg.BeforeSend...)
	hooks = append(hooks, signer.SignRequest)

	httpClient := *cfg.HTTPClient
	httpClient.Transport = BeforeSend(next, hooks...)
	c.http = &httpClient

	return c, nil
}

// Config returns the effective configuration of c.
func (c *Client) Config() Config {
	return c.cfg
}

type request struct {
	method        string
	bucket        string
	key           string
	query         url.Values
	header        http.Header
	body          io.Reader
	contentLength int64
}

func (c *Client) resourcePath(bucket string, key string) string {
	p := "/"
	if bucket != "" {
		p += bucket
		if key != "" {
			p += "/" + key
		}
	}
	return p
}

func (c *Client) endpoint(bucket string, key string, query url.Values) *url.URL {
	u := *c.baseURL
	u.Path = c.baseURL.Path + c.resourcePath(bucket, key)
	u.RawPath = ""
	u.RawQuery = encodeQuery(query)
	return &u
}

// encodeQuery writes valueless parameters such as "uploads" as bare names.
func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	encoded := q.Encode()
	parts := strings.Split(encoded, "&")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "=")
	}
	return strings.Join(parts, "&")
}

// do sends req and returns the response when its status is below 400. Any
// failure is returned as one of *TransportError, *APIError,
// *HTTPStatusError or *auth.SignatureError.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	u := c.endpoint(req.bucket, req.key, req.query)

	r, err := http.NewRequestWithContext(ctx, req.method, u.String(), req.body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.method, err)
	}
	for name, values := range req.header {
		r.Header[name] = values
	}
	if req.body != nil {
		r.ContentLength = req.contentLength
	}

	resp, err := c.http.Do(r)
	if err != nil {
		var sigErr *auth.SignatureError
		if errors.As(err, &sigErr) {
			return nil, sigErr
		}

		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &TransportError{Method: req.method, URL: u.Redacted(), Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return &HTTPStatusError{StatusCode: resp.StatusCode}
	}
	apiErr.StatusCode = resp.StatusCode
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get(RequestIDHeader)
	}
	return &apiErr
}

// doJSON sends req and decodes a JSON response body into out.
func (c *Client) doJSON(ctx context.Context, req request, out any) (*http.Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return resp, nil
		}
		return nil, fmt.Errorf("decode %s %s response: %w", req.method, c.resourcePath(req.bucket, req.key), err)
	}
	return resp, nil
}

// discard sends req and drops the response body.
func (c *Client) discard(ctx context.Context, req request) (*http.Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}
