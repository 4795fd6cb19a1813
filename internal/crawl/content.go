package crawl

import (
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Content extraction modes.
const (
	// ContentModeSelectors walks a fixed selector chain and converts
	// the first match to Markdown.
	ContentModeSelectors = "selectors"
	// ContentModeReadability applies the readability heuristic before
	// converting, which strips navigation and boilerplate harder.
	ContentModeReadability = "readability"
)

// Page is the extracted form of one fetched document.
type Page struct {
	Title    string
	Markdown string
	Links    []string
}

// extractPage parses rendered HTML into a title, Markdown body, and the
// absolute URLs of every link on the page. Links always come from the
// full document, not the extracted region, so that crawl mode can
// follow navigation menus even when the content selector skips them.
func extractPage(rawHTML string, base *url.URL, mode string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{
		Title: strings.TrimSpace(textContent(findFirst(doc, isElement("title")))),
		Links: collectLinks(doc, base),
	}

	if mode == ContentModeReadability {
		article, err := readability.FromReader(strings.NewReader(rawHTML), base)
		if err != nil {
			return nil, fmt.Errorf("readability: %w", err)
		}
		markdown, err := htmltomarkdown.ConvertString(article.Content)
		if err != nil {
			return nil, fmt.Errorf("convert markdown: %w", err)
		}
		if title := strings.TrimSpace(article.Title); title != "" {
			page.Title = title
		}
		page.Markdown = strings.TrimSpace(markdown)
		return page, nil
	}

	node := selectContent(doc)
	if node == nil {
		return page, nil
	}
	var rendered strings.Builder
	if err := html.Render(&rendered, node); err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(rendered.String())
	if err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	page.Markdown = strings.TrimSpace(markdown)
	return page, nil
}

// selectContent returns the first node matching the preference chain
// main, article, .content, #content, body.
func selectContent(doc *html.Node) *html.Node {
	matchers := []func(*html.Node) bool{
		isElement("main"),
		isElement("article"),
		hasClassToken("content"),
		hasID("content"),
		isElement("body"),
	}
	for _, match := range matchers {
		if node := findFirst(doc, match); node != nil {
			return node
		}
	}
	return nil
}

func collectLinks(doc *html.Node, base *url.URL) []string {
	var links []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href := strings.TrimSpace(attrVal(n, "href"))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved.String())
	})
	return links
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func walk(n *html.Node, visit func(*html.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func isElement(name string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == name
	}
}

func hasClassToken(token string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, class := range strings.Fields(attrVal(n, "class")) {
			if class == token {
				return true
			}
		}
		return false
	}
}

func hasID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && attrVal(n, "id") == id
	}
}

func attrVal(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
