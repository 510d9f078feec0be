package extractor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// transformFunc rewrites a field value. An empty result means "no value",
// which lets the selector chain fall through to the next candidate.
type transformFunc func(v, arg, base string) string

var transforms = map[string]transformFunc{
	"url":         func(v, _, base string) string { return NormalizeURL(v, base) },
	"path":        func(v, _, _ string) string { return urlPath(v) },
	"slug":        slugTransform,
	"slugify":     func(v, _, _ string) string { return Slugify(v) },
	"lower":       func(v, _, _ string) string { return strings.ToLower(v) },
	"upper":       func(v, _, _ string) string { return strings.ToUpper(v) },
	"regex":       regexTransform,
	"trim_prefix": func(v, arg, _ string) string { return strings.TrimPrefix(v, arg) },
	"trim_suffix": func(v, arg, _ string) string { return strings.TrimSuffix(v, arg) },
	"replace":     replaceTransform,
	"b64json":     b64JSONTransform,
	"default": func(v, arg, _ string) string {
		if v == "" {
			return arg
		}
		return v
	},
}

// needsArg lists transforms that are meaningless without an argument.
var needsArg = map[string]bool{
	"regex":       true,
	"trim_prefix": true,
	"trim_suffix": true,
	"replace":     true,
	"default":     true,
}

func splitTransform(spec string) (name, arg string) {
	name, arg, _ = strings.Cut(spec, "=")
	return strings.TrimSpace(name), arg
}

func checkTransform(spec string) error {
	name, arg := splitTransform(spec)
	if _, ok := transforms[name]; !ok {
		return fmt.Errorf("unknown transform %q", name)
	}
	if needsArg[name] && arg == "" {
		return fmt.Errorf("transform %q needs an argument", name)
	}
	switch name {
	case "regex":
		if _, err := compileRegex(arg); err != nil {
			return fmt.Errorf("transform regex: %w", err)
		}
	case "replace":
		if !strings.Contains(arg, "=>") {
			return fmt.Errorf("transform replace: want old=>new, got %q", arg)
		}
	}
	return nil
}

func applyTransforms(v string, specs []string, base string) string {
	for _, spec := range specs {
		name, arg := splitTransform(spec)
		fn, ok := transforms[name]
		if !ok {
			continue
		}
		v = fn(v, arg, base)
	}
	return v
}

// slugTransform turns a site link into its path with surrounding slashes
// removed. With an argument, a leading path segment equal to it is dropped
// too, so "https://site/series/foo/" with "series" becomes "foo".
func slugTransform(v, arg, _ string) string {
	p := strings.Trim(urlPath(v), "/")
	if arg != "" {
		prefix := strings.Trim(arg, "/") + "/"
		p = strings.TrimPrefix(p, prefix)
	}
	return p
}

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// regexTransform returns the first capture group, or the whole match when
// the pattern has no groups.
func regexTransform(v, pattern, _ string) string {
	re, err := compileRegex(pattern)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}

func replaceTransform(v, arg, _ string) string {
	oldS, newS, ok := strings.Cut(arg, "=>")
	if !ok {
		return v
	}
	return strings.ReplaceAll(v, oldS, newS)
}

// b64JSONTransform decodes a base64 JSON blob. With a key it returns that
// member as a string, otherwise the compact JSON.
func b64JSONTransform(v, key, _ string) string {
	v = strings.TrimSpace(v)
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(v); err != nil {
			return ""
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if key == "" {
		out, err := json.Marshal(obj)
		if err != nil {
			return ""
		}
		return string(out)
	}
	val, ok := obj[key]
	if !ok || val == nil {
		return ""
	}
	switch x := val.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		out, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(out)
	}
}
