package feed

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanHTML reduces an HTML fragment to its plain text. Script and style
// subtrees are removed so their contents never leak into the text; every
// other tag, and with it every attribute (event handlers, javascript: URLs
// included), is discarded by the text extraction itself. Runs of whitespace
// collapse to a single space.
func cleanHTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		// Not parseable as HTML; treat as plain text.
		return collapseWhitespace(raw)
	}

	doc.Find("script,style").Remove()

	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
