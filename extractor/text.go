package extractor

import (
	"net/url"
	"strings"
)

// collapseSpace trims s and folds every internal whitespace run into a
// single space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeURL repairs malformed absolute URLs such as "https:///x.jpg"
// and resolves relative references against base. Anything unparseable is
// returned trimmed but otherwise untouched.
func NormalizeURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	lower := strings.ToLower(raw)
	for _, scheme := range []string{"https:", "http:"} {
		if strings.HasPrefix(lower, scheme+"///") {
			raw = raw[:len(scheme)] + "//" + strings.TrimLeft(raw[len(scheme):], "/")
			break
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return raw
	}
	return b.ResolveReference(u).String()
}

// urlPath returns the path of raw relative to its origin, or raw itself
// if it is already a path. Used to turn site links into slugs.
func urlPath(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := u.EscapedPath()
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
