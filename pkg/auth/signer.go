package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPresignExpiry is the validity window of a pre-signed URL when
	// the caller does not give one.
	DefaultPresignExpiry = 300 * time.Second

	// Query parameters carrying a pre-signed signature.
	ExpiresParam   = "Expires"
	AccessKeyParam = "AccessKey"
	SignatureParam = "Signature"
)

// Signer computes request signatures for a single credential. It holds no
// mutable state and is safe for concurrent use.
type Signer struct {
	cred   Credential
	scheme string
	now    func() time.Time
}

type SignerOption func(*Signer)

// WithClock replaces the time source used for Date headers and pre-signed
// URL start times.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithScheme overrides the token scheme written before the access key.
func WithScheme(scheme string) SignerOption {
	return func(s *Signer) {
		s.scheme = scheme
	}
}

// NewSigner returns a Signer for cred.
func NewSigner(cred Credential, opts ...SignerOption) (*Signer, error) {
	if cred.AccessKey == "" || cred.SecretKey == "" {
		return nil, &SignatureError{Reason: "access key and secret key must not be empty"}
	}

	s := &Signer{
		cred:   cred,
		scheme: DefaultScheme,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessKey returns the access key the signer signs for.
func (s *Signer) AccessKey() string {
	return s.cred.AccessKey
}

// ComputeSignature returns base64(HMAC-SHA1(stringToSign, secret)).
func ComputeSignature(secret string, stringToSign string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// StringToSign builds the exact string covered by the signature:
//
//	METHOD\nContent-MD5\nContent-Type\nDate\n[vendor headers\n]resource
//
// date is either the Date header or the Expires timestamp of a pre-signed
// URL. The vendor header line is omitted when there are none.
func StringToSign(method string, date string, resource string, h http.Header) (string, error) {
	contentMD5 := h.Get("Content-MD5")
	contentType := h.Get("Content-Type")

	for name, v := range map[string]string{"Content-MD5": contentMD5, "Content-Type": contentType, "Date": date} {
		if strings.ContainsAny(v, "\r\n") {
			return "", &SignatureError{Reason: name + " contains a line break"}
		}
	}

	for name, vs := range h {
		if !strings.HasPrefix(strings.ToLower(name), HeaderPrefix) {
			continue
		}
		for _, v := range vs {
			if strings.ContainsAny(v, "\r\n") {
				return "", &SignatureError{Reason: name + " contains a line break"}
			}
		}
	}
	headers := CanonicalizeHeaders(h)

	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteString("\n")
	b.WriteString(contentMD5)
	b.WriteString("\n")
	b.WriteString(contentType)
	b.WriteString("\n")
	b.WriteString(date)
	b.WriteString("\n")
	if headers != "" {
		b.WriteString(headers)
		b.WriteString("\n")
	}
	b.WriteString(resource)
	return b.String(), nil
}

// Sign computes the authorization token for a request and stores it in the
// Authorization header of h. A Date header is added when h has none. When
// params carries Expires, that timestamp is signed in place of the Date.
func (s *Signer) Sign(method string, path string, params url.Values, h http.Header) (string, error) {
	if h == nil {
		return "", &SignatureError{Reason: "header map is nil"}
	}

	if d := h.Get("Date"); d == "" {
		h.Set("Date", s.now().UTC().Format(http.TimeFormat))
	} else if _, err := time.Parse(http.TimeFormat, d); err != nil {
		return "", &SignatureError{Reason: "Date is not an RFC 1123 GMT timestamp", Err: err}
	}

	date := h.Get("Date")
	if exp := params.Get(ExpiresParam); exp != "" {
		if _, err := strconv.ParseInt(exp, 10, 64); err != nil {
			return "", &SignatureError{Reason: "Expires is not an epoch timestamp", Err: err}
		}
		date = exp
	}

	sts, err := StringToSign(method, date, CanonicalizeResource(path, params), h)
	if err != nil {
		return "", err
	}

	token := s.scheme + " " + s.cred.AccessKey + ":" + ComputeSignature(s.cred.SecretKey, sts)
	h.Set("Authorization", token)
	return token, nil
}

// SignRequest signs r in place using its escaped path and query.
func (s *Signer) SignRequest(r *http.Request) error {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	_, err := s.Sign(r.Method, r.URL.EscapedPath(), r.URL.Query(), r.Header)
	return err
}

// PresignURL returns base resolved to path with a signature that stays valid
// until start+expires. Content-Type, Content-MD5 and vendor headers in h, if
// any, are covered by the signature and must be sent with the request.
func (s *Signer) PresignURL(base *url.URL, method string, path string, h http.Header, start time.Time, expires time.Duration) (*url.URL, error) {
	if base == nil {
		return nil, &SignatureError{Reason: "base URL is nil"}
	}
	if expires <= 0 {
		expires = DefaultPresignExpiry
	}
	if start.IsZero() {
		start = s.now()
	}
	if h == nil {
		h = make(http.Header)
	}

	// Sub-second windows round up so a URL is never born expired.
	window := int64((expires + time.Second - 1) / time.Second)
	expiresAt := strconv.FormatInt(start.Unix()+window, 10)

	u := *base
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	sts, err := StringToSign(method, expiresAt, CanonicalizeResource(u.EscapedPath(), nil), h)
	if err != nil {
		return nil, err
	}

	u.RawQuery = ExpiresParam + "=" + expiresAt +
		"&" + AccessKeyParam + "=" + queryEscape(s.cred.AccessKey) +
		"&" + SignatureParam + "=" + queryEscape(ComputeSignature(s.cred.SecretKey, sts))
	return &u, nil
}
