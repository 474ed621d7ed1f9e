package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
)

// AssignNames maps each URL to a local file name. Names are the URL path
// basename, assigned in sorted URL order; a URL whose basename is empty or
// already taken gets "<stem>-<8 hex of sha256(url)><ext>" instead.
func AssignNames(urls []string) map[string]string {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)

	names := make(map[string]string, len(sorted))
	used := make(map[string]struct{}, len(sorted))
	for _, u := range sorted {
		if _, ok := names[u]; ok {
			continue
		}
		name := BaseName(u)
		if _, taken := used[name]; name == "" || taken {
			name = qualifiedName(u, name)
		}
		used[name] = struct{}{}
		names[u] = name
	}
	return names
}

// BaseName returns the last segment of rawURL's escaped path, or "" when the
// path has no usable file name. Percent-escapes are kept so the name can be
// appended to a public base URL as is.
func BaseName(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.EscapedPath()
	}
	base := path.Base(p)
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}

func qualifiedName(rawURL, base string) string {
	sum := sha256.Sum256([]byte(rawURL))
	tag := hex.EncodeToString(sum[:])[:8]

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "image"
	}
	return stem + "-" + tag + ext
}
