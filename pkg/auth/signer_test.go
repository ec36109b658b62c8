package auth_test

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/eteran/jss/pkg/auth"

	"github.com/minio/minio-go/v7/pkg/signer"
	"github.com/stretchr/testify/require"
)

const (
	AccessKey = "49de4df0e7b54348a2f2b18304f5daff"
	SecretKey = "63c44a9c87274e5f8ad2b0577d9c97cd99KbnyPy"
)

var fixedTime = time.Date(2014, time.July, 30, 15, 32, 14, 0, time.UTC)

func newSigner(t *testing.T, opts ...auth.SignerOption) *auth.Signer {
	t.Helper()
	s, err := auth.NewSigner(auth.Credential{AccessKey: AccessKey, SecretKey: SecretKey}, opts...)
	require.NoError(t, err, "NewSigner error")
	return s
}

func TestSign_GoldenValues(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	tests := []struct {
		date string
		want string
	}{
		{"Wed, 30 Jul 2014 15:32:14 GMT", "jingdong 49de4df0e7b54348a2f2b18304f5daff:ors0T7CjUxkGqNPR+l9VlCa2KGE="},
		{"Wed, 10 Sep 2014 07:51:30 GMT", "jingdong 49de4df0e7b54348a2f2b18304f5daff:kz2n2bEJpzHulkjuhsfEclSSr+w="},
	}

	for _, tc := range tests {
		h := http.Header{}
		h.Set("Date", tc.date)

		token, err := s.Sign(http.MethodGet, "/", url.Values{}, h)
		require.NoError(t, err, "Sign error")
		require.Equal(t, tc.want, token, "token for %s", tc.date)
		require.Equal(t, tc.want, h.Get("Authorization"), "Authorization header")
		require.Equal(t, tc.date, h.Get("Date"), "Date must be left untouched")
	}
}

func TestSign_VendorHeadersAndSubResources(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	h := http.Header{}
	h.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-MD5", "abc")
	h["X-Jss-Meta-A"] = []string{"1"}
	h["x-jss-meta-a"] = []string{"3"}
	h.Set("X-JSS-Meta-B", "2")
	h.Set("X-Other", "ignored")

	params := url.Values{
		"uploadId":   {"abc"},
		"partNumber": {"1"},
		"foo":        {"bar"},
	}

	token, err := s.Sign(http.MethodPut, "/books/cat.jpg", params, h)
	require.NoError(t, err, "Sign error")
	require.Equal(t, "jingdong "+AccessKey+":8RpfFrbA2wh6KIwZAmH54onk+Ro=", token)
}

func TestSign_SetsDateWhenMissing(t *testing.T) {
	t.Parallel()

	s := newSigner(t, auth.WithClock(func() time.Time { return fixedTime }))

	h := http.Header{}
	token, err := s.Sign(http.MethodGet, "/", nil, h)
	require.NoError(t, err, "Sign error")
	require.Equal(t, "Wed, 30 Jul 2014 15:32:14 GMT", h.Get("Date"))
	require.Equal(t, "jingdong "+AccessKey+":ors0T7CjUxkGqNPR+l9VlCa2KGE=", token)
}

func TestSign_Deterministic(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	var first string
	for i := 0; i < 10; i++ {
		h := http.Header{}
		h.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
		h.Set("X-Jss-Meta-Owner", "books")
		h.Set("X-Jss-Acl", "private")

		token, err := s.Sign(http.MethodDelete, "/books/a.txt", url.Values{"acl": {""}}, h)
		require.NoError(t, err, "Sign error")
		if i == 0 {
			first = token
			continue
		}
		require.Equal(t, first, token, "signature must not vary between calls")
	}
}

func TestSign_UnrelatedParamsDoNotAffectSignature(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	sign := func(params url.Values) string {
		h := http.Header{}
		h.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
		token, err := s.Sign(http.MethodGet, "/books", params, h)
		require.NoError(t, err, "Sign error")
		return token
	}

	base := sign(url.Values{"acl": {""}})
	require.Equal(t, base, sign(url.Values{"acl": {""}, "prefix": {"a/"}}))
	require.Equal(t, base, sign(url.Values{"acl": {""}, "prefix": {"b/"}, "maxKeys": {"10"}}))
	require.Equal(t, base, sign(url.Values{"acl": {""}, "contentType": {""}}))

	require.NotEqual(t, base, sign(url.Values{}), "dropping a sub-resource must change the signature")
	require.NotEqual(t, base, sign(url.Values{"acl": {""}, "contentType": {"text/plain"}}))
}

func TestSign_ChangesWithMethodAndPath(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	sign := func(method, path string) string {
		h := http.Header{}
		h.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
		token, err := s.Sign(method, path, nil, h)
		require.NoError(t, err, "Sign error")
		return token
	}

	base := sign(http.MethodGet, "/books/cat.jpg")
	require.NotEqual(t, base, sign(http.MethodHead, "/books/cat.jpg"))
	require.NotEqual(t, base, sign(http.MethodGet, "/books/dog.jpg"))
}

func TestSign_ExpiresReplacesDate(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	h := http.Header{}
	h.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
	token, err := s.Sign(http.MethodGet, "/books/cat.jpg", url.Values{"Expires": {"1406734634"}}, h)
	require.NoError(t, err, "Sign error")
	require.Equal(t, "jingdong "+AccessKey+":adD5XvQojqdvDNILwLc+i1VF8ao=", token)
}

func TestSign_Errors(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	tests := []struct {
		name   string
		header http.Header
		params url.Values
	}{
		{"nil header", nil, nil},
		{"local date format", http.Header{"Date": {"2014-07-30T15:32:14Z"}}, nil},
		{"non GMT zone", http.Header{"Date": {"Wed, 30 Jul 2014 15:32:14 PST"}}, nil},
		{"line break in vendor header", http.Header{"X-Jss-Meta": {"a\nb"}}, nil},
		{"line break in content type", http.Header{"Content-Type": {"text/plain\r\nX: y"}}, nil},
		{"bad expires", http.Header{}, url.Values{"Expires": {"tomorrow"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Sign(http.MethodGet, "/", tc.params, tc.header)
			require.Error(t, err, "expected signing to fail")

			var sigErr *auth.SignatureError
			require.True(t, errors.As(err, &sigErr), "expected *auth.SignatureError, got %T", err)
		})
	}
}

func TestNewSigner_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := auth.NewSigner(auth.Credential{AccessKey: AccessKey})
	var sigErr *auth.SignatureError
	require.ErrorAs(t, err, &sigErr)

	_, err = auth.NewSigner(auth.Credential{SecretKey: SecretKey})
	require.ErrorAs(t, err, &sigErr)
}

func TestCredential_StringRedactsSecret(t *testing.T) {
	t.Parallel()

	cred := auth.Credential{AccessKey: AccessKey, SecretKey: SecretKey}
	require.NotContains(t, cred.String(), SecretKey)
	require.NotContains(t, cred.LogValue().String(), SecretKey)
}

func TestSignRequest_UsesEscapedPathAndQuery(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, "http://storage.jcloud.com/books/cat.jpg?uploadId=abc&partNumber=1&foo=bar", nil)
	require.NoError(t, err, "NewRequest error")
	req.Header.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Content-MD5", "abc")
	req.Header.Add("X-Jss-Meta-A", "1")
	req.Header.Add("X-Jss-Meta-A", "3")
	req.Header.Set("X-Jss-Meta-B", "2")

	require.NoError(t, s.SignRequest(req), "SignRequest error")
	require.Equal(t, "jingdong "+AccessKey+":8RpfFrbA2wh6KIwZAmH54onk+Ro=", req.Header.Get("Authorization"))
}

func TestPresignURL_Golden(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	base, err := url.Parse("http://storage.jcloud.com")
	require.NoError(t, err)

	u, err := s.PresignURL(base, http.MethodGet, "/books/cat.jpg", nil, fixedTime, 0)
	require.NoError(t, err, "PresignURL error")
	require.Equal(t,
		"http://storage.jcloud.com/books/cat.jpg?Expires=1406734634&AccessKey="+AccessKey+"&Signature=adD5XvQojqdvDNILwLc%2Bi1VF8ao%3D",
		u.String())

	q := u.Query()
	require.Equal(t, strconv.FormatInt(fixedTime.Unix()+300, 10), q.Get("Expires"), "default expiry window is 300s")
	require.Equal(t, "adD5XvQojqdvDNILwLc+i1VF8ao=", q.Get("Signature"))
}

func TestPresignURL_DiffersByMethodAndPath(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	base, err := url.Parse("http://storage.jcloud.com")
	require.NoError(t, err)

	sig := func(method, path string) string {
		u, err := s.PresignURL(base, method, path, nil, fixedTime, time.Minute)
		require.NoError(t, err, "PresignURL error")
		return u.Query().Get("Signature")
	}

	require.Equal(t, sig(http.MethodGet, "/books/cat.jpg"), sig(http.MethodGet, "/books/cat.jpg"))
	require.NotEqual(t, sig(http.MethodGet, "/books/cat.jpg"), sig(http.MethodPut, "/books/cat.jpg"))
	require.NotEqual(t, sig(http.MethodGet, "/books/cat.jpg"), sig(http.MethodGet, "/books/dog.jpg"))
}

func TestPresignURL_RoundsWindowUp(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	base, err := url.Parse("http://storage.jcloud.com")
	require.NoError(t, err)

	tests := []struct {
		expires time.Duration
		want    string
	}{
		{500 * time.Millisecond, "1001"},
		{time.Second, "1001"},
		{1500 * time.Millisecond, "1002"},
		{time.Minute, "1060"},
	}
	for _, tc := range tests {
		u, err := s.PresignURL(base, http.MethodGet, "/books/cat.jpg", nil, time.Unix(1000, 0), tc.expires)
		require.NoError(t, err, "PresignURL error")
		require.Equal(t, tc.want, u.Query().Get("Expires"), "window %v", tc.expires)
	}
}

// The signing core is the same HMAC-SHA1 construction as S3 signature V2,
// so for requests without vendor headers the signatures must agree.
func TestSign_MatchesS3SignatureV2(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://storage.jcloud.com/books/cat.jpg", nil)
	require.NoError(t, err)
	req.Header.Set("Date", "Wed, 30 Jul 2014 15:32:14 GMT")
	req.Header.Set("Content-Type", "image/jpeg")

	v2 := signer.SignV2(*req, AccessKey, SecretKey, false)
	_, v2Sig, ok := strings.Cut(v2.Header.Get("Authorization"), ":")
	require.True(t, ok, "unexpected V2 header %q", v2.Header.Get("Authorization"))

	require.NoError(t, s.SignRequest(req))
	_, sig, ok := strings.Cut(req.Header.Get("Authorization"), ":")
	require.True(t, ok)
	require.Equal(t, v2Sig, sig)
}

func TestPresignURL_MatchesS3PresignV2(t *testing.T) {
	t.Parallel()

	s := newSigner(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://storage.jcloud.com/books/cat.jpg", nil)
	require.NoError(t, err)

	v2 := signer.PreSignV2(*req, AccessKey, SecretKey, 300, false)
	expires, err := strconv.ParseInt(v2.URL.Query().Get("Expires"), 10, 64)
	require.NoError(t, err, "parsing V2 Expires")

	base, err := url.Parse("http://storage.jcloud.com")
	require.NoError(t, err)
	u, err := s.PresignURL(base, http.MethodGet, "/books/cat.jpg", nil, time.Unix(expires-300, 0), 300*time.Second)
	require.NoError(t, err)

	require.Equal(t, v2.URL.Query().Get("Signature"), u.Query().Get("Signature"))
}

func TestCanonicalizeHeaders_PermutationInvariant(t *testing.T) {
	t.Parallel()

	type entry struct{ name, value string }
	entries := []entry{
		{"X-Jss-Meta-Color", "red"},
		{"X-Jss-Meta-Size", "10"},
		{"X-Jss-Acl", "public-read"},
		{"x-jss-meta-zeta", "z"},
		{"Content-Type", "text/plain"},
		{"X-Amz-Meta-Other", "skip"},
	}

	build := func(order []entry) http.Header {
		h := http.Header{}
		for _, e := range order {
			h[e.name] = []string{e.value}
		}
		return h
	}

	want := auth.CanonicalizeHeaders(build(entries))
	require.Equal(t, "x-jss-acl:public-read\nx-jss-meta-color:red\nx-jss-meta-size:10\nx-jss-meta-zeta:z", want)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		shuffled := append([]entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, auth.CanonicalizeHeaders(build(shuffled)), "iteration %d", i)
	}
}

func TestCanonicalizeHeaders_MergesDuplicates(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Add("X-Jss-Meta-Tag", "a")
	h.Add("X-Jss-Meta-Tag", "b")
	h["x-jss-meta-tag"] = []string{"c"}

	require.Equal(t, "x-jss-meta-tag:a,b,c", auth.CanonicalizeHeaders(h))
	require.Empty(t, auth.CanonicalizeHeaders(http.Header{"Content-Type": {"text/plain"}}))
}

func TestCanonicalizeResource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		params url.Values
		want   string
	}{
		{"unknown params dropped", "/books/cat.jpg", url.Values{"uploadId": {"abc"}, "foo": {"bar"}}, "/books/cat.jpg?uploadId=abc"},
		{"empty path", "", nil, "/"},
		{"no params", "/books", url.Values{}, "/books"},
		{"empty sub-resource kept", "/books", url.Values{"acl": {""}}, "/books?acl="},
		{"empty override dropped", "/books", url.Values{"contentType": {""}}, "/books"},
		{"override kept", "/books/a", url.Values{"contentType": {"text/plain"}}, "/books/a?contentType=text%2Fplain"},
		{"sorted by key", "/b/k", url.Values{"uploadId": {"x y"}, "partNumber": {"2"}, "acl": {""}}, "/b/k?acl=&partNumber=2&uploadId=x%20y"},
		{"uploads flag", "/b/k", url.Values{"uploads": {""}}, "/b/k?uploads="},
		{"presign params ignored", "/b/k", url.Values{"Expires": {"1"}, "AccessKey": {"a"}, "Signature": {"s"}}, "/b/k"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, auth.CanonicalizeResource(tc.path, tc.params))
		})
	}
}
