package client

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/eteran/jss/pkg/auth"
)

// BeforeSendFunc may inspect or modify an outgoing request before it is
// signed and sent. It always receives a private copy of the request.
type BeforeSendFunc func(r *http.Request) error

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(r *http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// BeforeSend runs hooks against a clone of each request and passes the
// clone on to next. The caller's request is never modified.
func BeforeSend(next http.RoundTripper, hooks ...BeforeSendFunc) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		clone := r.Clone(r.Context())
		for _, hook := range hooks {
			if err := hook(clone); err != nil {
				if r.Body != nil {
					r.Body.Close()
				}
				return nil, err
			}
		}
		return next.RoundTrip(clone)
	})
}

type LogEntry struct {
	Method     string
	URL        string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequests logs every exchange at a level chosen by its outcome. Header
// dumps are emitted at debug level with credentials redacted.
func LogRequests(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		entry := LogEntry{
			Method: r.Method,
			URL:    redactURL(r.URL),
		}

		start := time.Now()
		resp, err := next.RoundTrip(r)
		entry.DurationMS = float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

		ctx := r.Context()
		if err != nil {
			logger.ErrorContext(ctx, "Request failed", entry.Request(), "err", err)
			return nil, err
		}

		entry.StatusCode = resp.StatusCode
		switch {
		case resp.StatusCode >= 500:
			logger.ErrorContext(ctx, "Request", entry.Request())
		case resp.StatusCode >= 400:
			logger.WarnContext(ctx, "Request", entry.Request())
		default:
			logger.DebugContext(ctx, "Request", entry.Request())
		}

		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.DebugContext(ctx, "Request Headers", headerGroup("headers", r.Header))
		}
		return resp, nil
	})
}

func redactURL(u *url.URL) string {
	q := u.Query()
	if q.Get(auth.SignatureParam) == "" {
		return u.Redacted()
	}
	q.Set(auth.SignatureParam, "[REDACTED]")
	c := *u
	c.RawQuery = q.Encode()
	return c.Redacted()
}

func headerGroup(name string, h http.Header) slog.Attr {
	var attrs []any
	for key, values := range h {
		for _, value := range values {
			if key == "Authorization" || key == "Cookie" {
				value = "[REDACTED]"
			}
			attrs = append(attrs, slog.String(key, value))
		}
	}
	return slog.Group(name, attrs...)
}
