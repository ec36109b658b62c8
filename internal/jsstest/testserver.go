package jsstest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestServer starts a Server backed by a temporary directory behind an
// httptest.Server. Both are shut down when the test ends.
func NewTestServer(t testing.TB, opts ...ConfigOption) (*Server, *httptest.Server) {
	t.Helper()

	opts = append([]ConfigOption{WithDataDir(t.TempDir())}, opts...)
	srv, err := NewServer(t.Context(), NewConfig(opts...))
	require.NoError(t, err, "NewServer error")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}
