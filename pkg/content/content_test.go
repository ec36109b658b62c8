package content_test

import (
	"io"
	"strings"
	"testing"

	"github.com/eteran/jss/pkg/content"

	"github.com/stretchr/testify/require"
)

func TestIsValidBucketName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		valid bool
	}{
		{"0", false},
		{"00", false},
		{"-00", false},
		{".00", false},
		{"_00", false},
		{"00a", true},
		{"aa0", true},
		{"00a.", true},
		{"00a_", true},
		{"00a-", true},
		{"Books", false},
		{"books/cats", false},
		{strings.Repeat("a", 255), true},
		{strings.Repeat("0123456789", 25) + "012345", false},
		{"1.2.3.4", false},
		{"1.11.111.1111", true},
		{"jingdong", false},
		{"jingdong123", false},
		{"123jingdong", true},
		{".+/", false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.valid, content.IsValidBucketName(tc.name), "IsValidBucketName(%q)", tc.name)
	}
}

func TestGuessContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"cat.jpg":             "image/jpeg",
		"photos/cat.JPEG":     "image/jpeg",
		"index.html":          "text/html",
		"notes.txt":           "text/plain",
		"archive.tar.gz":      "application/x-gzip",
		"movie.webm":          "video/webm",
		"data.unknownext":     content.DefaultContentType,
		"README":              content.DefaultContentType,
		"":                    content.DefaultContentType,
		"dir.with.dots/plain": content.DefaultContentType,
	}

	for name, want := range tests {
		require.Equal(t, want, content.GuessContentType(name), "GuessContentType(%q)", name)
	}
}

func TestContentMD5(t *testing.T) {
	t.Parallel()

	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", content.ContentMD5(nil))
	require.Equal(t, "5d41402abc4b2a76b9719d911017c592", content.ContentMD5([]byte("hello")))
}

func TestDigester(t *testing.T) {
	t.Parallel()

	d := content.NewDigester(strings.NewReader("hello"))
	data, err := io.ReadAll(d)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, content.ContentMD5(data), d.Sum())
	require.EqualValues(t, 5, d.Size())
}
