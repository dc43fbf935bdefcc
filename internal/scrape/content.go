package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minBlockChars drops navigation crumbs and other short snippets during
// content extraction.
const minBlockChars = 50

var (
	multiBlankRe = regexp.MustCompile(`\n\s*\n`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	codeFenceRe  = regexp.MustCompile("```\\w*\n")
)

// PageContent is the distilled text of one fetched page.
type PageContent struct {
	Title string
	Text  string
}

// ExtractContent isolates the main article of an HTML page and returns its
// meaningful text blocks. Readability finds the article; goquery walks the
// cleaned fragment collecting headings, paragraphs, list items, and code.
// Readability lifts the page's top heading out of the fragment, so the
// article title is re-attached as the first block; without it, pages that
// differ only in their heading would extract to identical text. When
// readability cannot identify an article, a plain HTML text walk over the
// whole document stands in.
func ExtractContent(raw []byte, pageURL *url.URL) PageContent {
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(raw), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		doc, qerr := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if qerr == nil {
			var blocks []string
			doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, code, table").Each(func(_ int, s *goquery.Selection) {
				text := strings.TrimSpace(s.Text())
				if len(text) > minBlockChars {
					blocks = append(blocks, text)
				}
			})
			if len(blocks) > 0 {
				title := strings.TrimSpace(article.Title)
				if title != "" {
					blocks = append([]string{title}, blocks...)
				}
				return PageContent{
					Title: title,
					Text:  cleanText(strings.Join(blocks, "\n")),
				}
			}
		}
	}
	return fallbackExtract(raw)
}

// fallbackExtract walks the raw HTML tree directly, skipping script, style,
// and boilerplate containers. It is the safety net for pages readability
// rejects.
func fallbackExtract(raw []byte) PageContent {
	node, err := html.Parse(bytes.NewReader(raw))
	if err != nil || node == nil {
		return PageContent{}
	}
	var b strings.Builder
	collectText(&b, node)
	lines := strings.Split(b.String(), "\n")
	var blocks []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > minBlockChars {
			blocks = append(blocks, line)
		}
	}
	return PageContent{
		Title: findTitle(node),
		Text:  cleanText(strings.Join(blocks, "\n")),
	}
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "nav", "footer", "header", "aside", "iframe":
			return
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "pre", "br", "tr":
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

func findTitle(n *html.Node) string {
	var title string
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if title != "" {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "title") && cur.FirstChild != nil {
			title = strings.TrimSpace(cur.FirstChild.Data)
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
		}
	}
	dfs(n)
	return title
}

// cleanText normalizes whitespace and strips markdown code fence markers
// while keeping the fenced content itself.
func cleanText(text string) string {
	text = codeFenceRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = multiBlankRe.ReplaceAllString(text, "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractLinks returns the absolute form of every anchor href on the page.
// Fragments are dropped so the same page is not revisited per anchor.
func ExtractLinks(raw []byte, base *url.URL) []string {
	node, err := html.Parse(bytes.NewReader(raw))
	if err != nil || node == nil {
		return nil
	}
	var links []string
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "a") {
			for _, attr := range cur.Attr {
				if !strings.EqualFold(attr.Key, "href") {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				abs := base.ResolveReference(ref)
				abs.Fragment = ""
				if isHTTPScheme(abs) {
					links = append(links, abs.String())
				}
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
		}
	}
	dfs(node)
	return links
}
