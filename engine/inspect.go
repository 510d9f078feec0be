package engine

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/otakuscrape/models"
)

// challengeMarkers are lowercase fragments of anti-bot interstitials.
// They are checked before the status code because challenge pages are
// often served with 403 or 503.
var challengeMarkers = []string{
	"cf-browser-verification",
	"cf_chl_opt",
	"/cdn-cgi/challenge-platform/",
	"<title>just a moment...</title>",
	"attention required! | cloudflare",
	"checking your browser before accessing",
	"ddos-guard",
	"enable javascript and cookies to continue",
}

// inspect judges a strategy's answer. It returns "" when the response is
// usable HTML, otherwise the failure kind and a short reason.
func inspect(resp *Response, p Policy) (models.ErrorKind, string) {
	lower := strings.ToLower(resp.Body)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return models.KindBlocked, fmt.Sprintf("challenge page (%s)", m)
		}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusProxyAuthRequired,
		code == http.StatusTooManyRequests,
		code == http.StatusUnavailableForLegalReasons:
		return models.KindBlocked, http.StatusText(code)
	case code == http.StatusNotFound, code == http.StatusGone:
		return models.KindNotFound, http.StatusText(code)
	case code >= 400:
		return models.KindUpstream, fmt.Sprintf("upstream status %d", code)
	}

	if ct := resp.ContentType; ct != "" && !isHTMLContentType(ct) {
		return models.KindBlocked, "non-html content-type " + ct
	}

	if p.MinBodyLength > 0 {
		if n := len(extractVisibleText([]byte(resp.Body))); n < p.MinBodyLength {
			return models.KindBlocked, fmt.Sprintf("body too short (%d < %d visible chars)", n, p.MinBodyLength)
		}
	}

	if p.Marker != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
		if err != nil || doc.Find(p.Marker).Length() == 0 {
			return models.KindBlocked, "marker " + p.Marker + " missing"
		}
	}

	return "", ""
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractVisibleText extracts the visible text from within <body>, stripping
// all tags and <script>/<style> content.
func extractVisibleText(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				inBody = true
			}
			if tag == "script" || tag == "style" || tag == "noscript" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "script" || tag == "style" || tag == "noscript" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
