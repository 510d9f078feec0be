package engine

import (
	"net/url"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// browserHeaders returns a realistic Chrome header set for target, with
// the referer set to the target's own origin. extra overrides defaults.
func browserHeaders(target string, extra map[string]string) map[string]string {
	h := map[string]string{
		"User-Agent":                chromeUA,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9,id;q=0.8",
		"Accept-Encoding":           "identity",
		"Cache-Control":             "no-cache",
		"Upgrade-Insecure-Requests": "1",
	}
	if origin := originOf(target); origin != "" {
		h["Referer"] = origin + "/"
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
