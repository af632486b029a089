// Package htmltext reduces HTML mail bodies to plain text.
package htmltext

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ResponseSelectors match wrapper elements that some mobile clients put
// around the actual reply, padding the rest of the document with
// boilerplate. The first one present wins.
var ResponseSelectors = []string{
	"#BB10_response_div",
}

const invisible = "script, style, noscript, template"

// Reduce converts an HTML document to text. When a known response wrapper
// is present only its text is returned; otherwise the text of every text
// node in document order. No line structure is reconstructed.
func Reduce(src string) string {
	node, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	doc := goquery.NewDocumentFromNode(node)

	for _, selector := range ResponseSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel.Text()
		}
	}

	doc.Find(invisible).Remove()
	return doc.Text()
}
