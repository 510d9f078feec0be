package extractor

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum TextContent length for readability
// output to count as the page's main content.
const minContentLength = 50

// mainText runs the Mozilla Readability algorithm over the whole page and
// returns its plain-text main content, or "" when it cannot find any.
func mainText(rawHTML, sourceURL string) string {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("readability: invalid source URL", "url", sourceURL, "error", err)
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("readability: extraction failed", "url", sourceURL, "error", err)
		return ""
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minContentLength {
		return ""
	}
	return text
}
