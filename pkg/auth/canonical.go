package auth

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// HeaderPrefix marks the vendor headers that participate in the signature.
const HeaderPrefix = "x-jss-"

var (
	// subResources are query parameters that address a sub-resource of a
	// bucket or object. They are signed whenever present, even when empty.
	subResources = map[string]struct{}{
		"acl":        {},
		"lifecycle":  {},
		"location":   {},
		"logging":    {},
		"partNumber": {},
		"policy":     {},
		"uploadId":   {},
		"uploads":    {},
		"versionId":  {},
		"versioning": {},
		"versions":   {},
		"website":    {},
	}

	// responseOverrides are query parameters that override response headers.
	// They are signed only when they carry a value.
	responseOverrides = map[string]struct{}{
		"contentType":        {},
		"contentLanguage":    {},
		"cacheControl":       {},
		"contentDisposition": {},
		"contentEncoding":    {},
	}
)

// IsSubResource reports whether name is a signed sub-resource parameter.
func IsSubResource(name string) bool {
	_, ok := subResources[name]
	return ok
}

// queryEscape percent-encodes s for use as a query component. Everything
// outside A-Z a-z 0-9 and -_.!~*'() is escaped as UTF-8 bytes.
func queryEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			strings.IndexByte("-_.!~*'()", c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&0x0f])
	}
	return b.String()
}

// CanonicalizeHeaders returns the vendor headers of h as sorted
// "name:value" lines joined by "\n". Names are lower-cased and values of
// duplicated names are joined with ",".
func CanonicalizeHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string][]string)
	var lowered []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, HeaderPrefix) {
			continue
		}
		if _, seen := merged[lower]; !seen {
			lowered = append(lowered, lower)
		}
		merged[lower] = append(merged[lower], h[name]...)
	}
	if len(lowered) == 0 {
		return ""
	}
	sort.Strings(lowered)

	lines := make([]string, 0, len(lowered))
	for _, name := range lowered {
		lines = append(lines, name+":"+strings.Join(merged[name], ","))
	}
	return strings.Join(lines, "\n")
}

// CanonicalizeResource returns path followed by the signed subset of params.
// Parameters outside the sub-resource and response-override sets never
// affect the result.
func CanonicalizeResource(path string, params url.Values) string {
	if path == "" {
		path = "/"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if _, ok := subResources[k]; ok {
			keys = append(keys, k)
			continue
		}
		if _, ok := responseOverrides[k]; ok && hasValue(params[k]) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return path
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		_, override := responseOverrides[k]
		vs := append([]string(nil), params[k]...)
		sort.Strings(vs)
		if len(vs) == 0 {
			vs = []string{""}
		}
		for _, v := range vs {
			if override && v == "" {
				continue
			}
			parts = append(parts, queryEscape(k)+"="+queryEscape(v))
		}
	}
	return path + "?" + strings.Join(parts, "&")
}

func hasValue(vs []string) bool {
	for _, v := range vs {
		if v != "" {
			return true
		}
	}
	return false
}
