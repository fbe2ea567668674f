package contentize

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// minReadableChars is the shortest text a readable region may yield before
// the next strategy is tried.
const minReadableChars = 200

const (
	// Never text, wherever it appears.
	junkSelector = "script, style, noscript, template, svg, iframe, canvas, object"
	// Page chrome around the content.
	chromeSelector = "nav, header, footer, aside, form, [role=navigation], [role=banner], [role=contentinfo], [aria-hidden=true]"
)

// Regions that usually hold the main content, best first.
var readableSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	"#main-content",
	".post-content",
	".entry-content",
	".article-body",
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "hr": true, "li": true, "main": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "td": true, "th": true,
	"tr": true, "ul": true,
}

// extractHTML applies the extraction strategies in order: the readable
// region, the whole body without page chrome, then title and description.
func extractHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find(junkSelector).Remove()

	if text := readableRegion(doc); text != "" {
		return text, nil
	}

	body := doc.Find("body")
	body.Find(chromeSelector).Remove()
	if text := blockText(body); text != "" {
		return text, nil
	}

	return titleAndDescription(doc), nil
}

func readableRegion(doc *goquery.Document) string {
	for _, sel := range readableSelectors {
		region := doc.Find(sel)
		if region.Length() == 0 {
			continue
		}
		// The largest match wins; pages often have a small teaser <article>
		// next to the real one.
		var best string
		region.Each(func(_ int, s *goquery.Selection) {
			clone := s.Clone()
			clone.Find("nav, aside, form, footer").Remove()
			if text := blockText(clone); len(text) > len(best) {
				best = text
			}
		})
		if len(best) >= minReadableChars {
			return best
		}
	}
	return ""
}

func titleAndDescription(doc *goquery.Document) string {
	var lines []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		lines = append(lines, title)
	}
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if desc, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(desc) != "" {
			lines = append(lines, strings.TrimSpace(desc))
			break
		}
	}
	return normalizeLines(strings.Join(lines, "\n"))
}

// blockText renders a selection as text, starting a new line at every block
// element boundary.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				block := blockElements[c.Data]
				if block {
					b.WriteByte('\n')
				}
				if c.Data == "li" {
					b.WriteString("- ")
				}
				walk(c)
				if block {
					b.WriteByte('\n')
				}
			}
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeLines(b.String())
}

// normalizeLines collapses runs of whitespace inside lines and drops blank
// lines.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" && line != "-" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
