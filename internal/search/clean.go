package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanText strips markup left over from ingestion and collapses whitespace.
// Plain text passes through unchanged apart from whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style").Remove()
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
