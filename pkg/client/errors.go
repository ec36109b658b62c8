package client

import (
	"fmt"
	"strings"
)

// APIError is a failure reported by the service with a structured body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Resource   string `json:"resource"`
	RequestID  string `json:"requestId"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// HTTPStatusError is returned for a failed response whose body does not
// carry a structured error.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP response code %d", e.StatusCode)
}

// TransportError wraps a failure to exchange a request with the service at
// all: DNS, connection, timeout or cancellation.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PartError records why a single part of a multipart upload failed.
type PartError struct {
	PartNumber int
	Err        error
}

func (e PartError) Error() string {
	return fmt.Sprintf("part %d: %v", e.PartNumber, e.Err)
}

func (e PartError) Unwrap() error {
	return e.Err
}

// UploadError is returned when a multipart upload could not be completed.
// Err is the failure that stopped the upload.
type UploadError struct {
	UploadID string
	Failed   []PartError
	Aborted  bool
	AbortErr error
	Err      error
}

func (e *UploadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "multipart upload %s failed", e.UploadID)
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, " (%d failed parts)", len(e.Failed))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.AbortErr != nil {
		fmt.Fprintf(&b, "; abort: %v", e.AbortErr)
	}
	return b.String()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
