package auth

import (
	"context"
	"log/slog"
	"net/http"
)

const (
	// DefaultScheme is the token scheme the storage service expects in the
	// Authorization header.
	DefaultScheme = "jingdong"
)

// Credential is the access key pair used to sign requests.
type Credential struct {
	AccessKey string
	SecretKey string
}

// String implements fmt.Stringer without exposing the secret key.
func (c Credential) String() string {
	return c.AccessKey + ":[REDACTED]"
}

// LogValue keeps the secret out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.AccessKey)
}

type User struct {
	AccessKey string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for a valid
	// signature. If valid, it returns a User object; otherwise, it
	// returns nil. An error is returned if there was an issue processing
	// the authentication.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}
