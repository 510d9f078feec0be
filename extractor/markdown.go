package extractor

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// newMarkdownConverter creates a goroutine-safe converter for the
// "markdown" pseudo-attribute. Synopses on these sites are short rich-text
// blocks, so only the base, commonmark and table plugins are needed.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// toMarkdown converts an element's inner HTML, resolving relative links
// against base.
func toMarkdown(conv *converter.Converter, fragment, base string) string {
	out, err := conv.ConvertString(fragment, converter.WithDomain(base))
	if err != nil {
		return ""
	}
	return out
}
