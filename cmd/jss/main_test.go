package main

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eteran/jss/internal/jsstest"

	"github.com/stretchr/testify/require"
)

// run executes the CLI against endpoint and returns what it printed.
func run(t *testing.T, endpoint string, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	argv := append([]string{"jss",
		"--endpoint", endpoint,
		"--appkey", jsstest.DefaultAccessKey,
		"--appsecret", jsstest.DefaultSecretKey,
		"--log-level", "error",
	}, args...)
	err := app.RunContext(t.Context(), argv)
	return stdout.String(), err
}

func TestCommands(t *testing.T) {
	_, ts := jsstest.NewTestServer(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello from the cli"), 0o644))

	out, err := run(t, ts.URL, "put-bucket", "-b", "docs")
	require.NoError(t, err)
	require.Contains(t, out, "create bucket success.")

	out, err = run(t, ts.URL, "list-buckets")
	require.NoError(t, err)
	require.Contains(t, out, "Found 1 buckets.")
	require.Contains(t, out, "Bucket: docs")

	out, err = run(t, ts.URL, "put-object", "-b", "docs", "-f", src)
	require.NoError(t, err)
	require.Contains(t, out, "Upload hello.txt success")

	out, err = run(t, ts.URL, "--part-size", "4", "upload-object", "-b", "docs", "-k", "dir/parts.txt", "-f", src)
	require.NoError(t, err)
	require.Contains(t, out, "Upload dir/parts.txt success: 5 parts")

	out, err = run(t, ts.URL, "list-objects", "-b", "docs")
	require.NoError(t, err)
	require.Contains(t, out, "Found 2 objects.")
	require.Contains(t, out, "Object: dir/parts.txt")

	out, err = run(t, ts.URL, "head-object", "-b", "docs", "-k", "hello.txt")
	require.NoError(t, err)
	require.Contains(t, out, "Head: content-type = text/plain")

	outdir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(outdir, 0o755))
	out, err = run(t, ts.URL, "get-object", "-b", "docs", "-k", "dir/parts.txt", "-o", outdir)
	require.NoError(t, err)
	require.Contains(t, out, "Write 18 bytes success.")
	got, err := os.ReadFile(filepath.Join(outdir, "dir", "parts.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello from the cli", string(got))

	out, err = run(t, ts.URL, "signed-url", "-b", "docs", "-k", "hello.txt")
	require.NoError(t, err)
	signed := strings.TrimSpace(strings.TrimPrefix(out, "Signed url:"))
	resp, err := ts.Client().Get(signed)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, key := range []string{"hello.txt", "dir/parts.txt"} {
		out, err = run(t, ts.URL, "delete-object", "-b", "docs", "-k", key)
		require.NoError(t, err)
		require.Contains(t, out, "Delete "+key+" success.")
	}

	out, err = run(t, ts.URL, "delete-bucket", "-b", "docs")
	require.NoError(t, err)
	require.Contains(t, out, "delete bucket success.")
}

func TestGetObjectRejectsEscapingKey(t *testing.T) {
	_, ts := jsstest.NewTestServer(t)

	_, err := run(t, ts.URL, "get-object", "-b", "docs", "-k", "../escape.txt", "-o", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot be written")
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv("ACCESS_KEY", "")
	t.Setenv("SECRET_KEY", "")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}

	err := app.RunContext(t.Context(), []string{"jss", "list-buckets"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "access_key and secret_key are required")
}

func TestConfigFile(t *testing.T) {
	_, ts := jsstest.NewTestServer(t)

	cfgPath := filepath.Join(t.TempDir(), "jss.yaml")
	content := "endpoint: " + ts.URL + "\naccess_key: " + jsstest.DefaultAccessKey + "\nsecret_key: " + jsstest.DefaultSecretKey + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	require.NoError(t, app.RunContext(t.Context(), []string{"jss", "--config", cfgPath, "--metrics", "list-buckets"}))
	require.Contains(t, stdout.String(), "Found 0 buckets.")
	require.Contains(t, stderr.String(), `jss_client_requests_total{code="200",method="get"} 1`)
}
