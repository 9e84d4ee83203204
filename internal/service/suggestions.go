package service

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SearchSuggestions extracts the search chips from the HTML snippet that
// accompanies grounded replies. Returns nil for empty or unparsable input.
func SearchSuggestions(renderedContent string) []string {
	if strings.TrimSpace(renderedContent) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(renderedContent))
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	doc.Find("a.chip").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}
