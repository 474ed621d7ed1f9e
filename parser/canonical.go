package parser

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// Path markers used by WooCommerce stores served through PhastPress.
const (
	DefaultProxyMarker  = "/wp-content/plugins/phastpress/phast.php/"
	DefaultPluginMarker = "/wp-content/plugins/phastpress/"
	DefaultUploadMarker = "/wp-content/uploads/"
)

// Canonicalizer resolves image references and unwraps proxy-wrapped URLs
// back to their origin.
type Canonicalizer struct {
	ProxyMarker string
}

// NewCanonicalizer returns a Canonicalizer for the PhastPress proxy layout.
func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{ProxyMarker: DefaultProxyMarker}
}

// Canonicalize resolves raw against base and unwraps it when it is a proxy
// URL. When unwrapping fails the resolved URL is returned unchanged.
func (c *Canonicalizer) Canonicalize(raw, base string) string {
	abs := Resolve(raw, base)
	if abs == "" {
		return ""
	}
	if origin, ok := c.Unwrap(abs); ok {
		return origin
	}
	return abs
}

// Unwrap decodes the origin URL embedded in a proxy-wrapped URL. The payload
// is the URL-safe base64 of a query string carrying the origin in "src".
func (c *Canonicalizer) Unwrap(rawURL string) (string, bool) {
	marker := c.ProxyMarker
	if marker == "" {
		marker = DefaultProxyMarker
	}
	if !strings.Contains(rawURL, marker) {
		return "", false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	_, remainder, found := strings.Cut(parsed.Path, marker)
	if !found {
		return "", false
	}

	parts := strings.Split(remainder, "/")
	// A trailing "q.jpeg"-style segment is a cache-busting suffix.
	if last := parts[len(parts)-1]; strings.Contains(last, ".") && len(last) <= 10 {
		parts = parts[:len(parts)-1]
	}
	payload := strings.Join(parts, "")
	if payload == "" {
		return "", false
	}
	if pad := len(payload) % 4; pad != 0 {
		payload += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}

	// Malformed pairs are skipped; only a usable src matters.
	values, _ := url.ParseQuery(string(decoded))
	src := values.Get("src")
	if src == "" {
		for key, vals := range values {
			if strings.EqualFold(key, "src") && len(vals) > 0 && vals[0] != "" {
				src = vals[0]
				break
			}
		}
	}
	if src == "" {
		return "", false
	}
	if unescaped, err := url.PathUnescape(src); err == nil {
		src = unescaped
	}
	return src, true
}

// Resolve returns ref as an absolute URL relative to base. Unparseable input
// yields "".
func Resolve(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return refURL.String()
	}
	return baseURL.ResolveReference(refURL).String()
}
