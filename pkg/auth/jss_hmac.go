package auth

import (
	"context"
	"crypto/hmac"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxSkew is how far a request Date may drift from the verifier's
// clock before the request is rejected.
const DefaultMaxSkew = 15 * time.Minute

// HeaderAuthEngine validates requests signed through the Authorization
// header. It performs the same computation as Signer, on the receiving side.
type HeaderAuthEngine struct {
	Credential Credential
	Scheme     string
	MaxSkew    time.Duration
	Now        func() time.Time
}

// NewHeaderAuthEngine creates a HeaderAuthEngine accepting cred.
func NewHeaderAuthEngine(cred Credential) *HeaderAuthEngine {
	return &HeaderAuthEngine{
		Credential: cred,
		Scheme:     DefaultScheme,
		MaxSkew:    DefaultMaxSkew,
		Now:        time.Now,
	}
}

// AuthenticateRequest checks the Authorization header for a valid signature.
// It returns a User object if the signature is valid, nil otherwise.
func (e *HeaderAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	prefix := e.Scheme + " "
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, prefix) {
		return nil, nil
	}

	accessKey, signature, ok := strings.Cut(strings.TrimPrefix(authz, prefix), ":")
	if !ok || accessKey != e.Credential.AccessKey {
		return nil, nil
	}

	date := r.Header.Get("Date")
	if date == "" {
		return nil, nil
	}

	if e.MaxSkew > 0 {
		sent, err := time.Parse(http.TimeFormat, date)
		if err != nil {
			return nil, nil
		}
		if skew := e.Now().Sub(sent); skew > e.MaxSkew || skew < -e.MaxSkew {
			return nil, nil
		}
	}

	resource := CanonicalizeResource(r.URL.EscapedPath(), r.URL.Query())
	sts, err := StringToSign(r.Method, date, resource, r.Header)
	if err != nil {
		return nil, err
	}

	expected := ComputeSignature(e.Credential.SecretKey, sts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, nil
	}

	return &User{
		AccessKey: accessKey,
	}, nil
}

// PresignedAuthEngine validates requests carrying Expires, AccessKey and
// Signature query parameters.
type PresignedAuthEngine struct {
	Credential Credential
	Now        func() time.Time
}

// NewPresignedAuthEngine creates a PresignedAuthEngine accepting cred.
func NewPresignedAuthEngine(cred Credential) *PresignedAuthEngine {
	return &PresignedAuthEngine{
		Credential: cred,
		Now:        time.Now,
	}
}

// AuthenticateRequest checks the query string for a valid, unexpired
// signature. It returns a User object if the signature is valid, nil otherwise.
func (e *PresignedAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	q := r.URL.Query()
	expires := q.Get(ExpiresParam)
	accessKey := q.Get(AccessKeyParam)
	signature := q.Get(SignatureParam)
	if expires == "" || accessKey == "" || signature == "" {
		return nil, nil
	}
	if accessKey != e.Credential.AccessKey {
		return nil, nil
	}

	deadline, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, nil
	}
	if e.Now().Unix() > deadline {
		return nil, nil
	}

	q.Del(ExpiresParam)
	q.Del(AccessKeyParam)
	q.Del(SignatureParam)

	sts, err := StringToSign(r.Method, expires, CanonicalizeResource(r.URL.EscapedPath(), q), r.Header)
	if err != nil {
		return nil, err
	}

	expected := ComputeSignature(e.Credential.SecretKey, sts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, nil
	}

	return &User{
		AccessKey: accessKey,
	}, nil
}
