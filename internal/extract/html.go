package extract

import (
	"bytes"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// extractHTML converts an uploaded HTML file to Markdown.
func (s *Service) extractHTML(content []byte) (*Result, error) {
	markdown, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return nil, &Error{Stage: "html", Err: err}
	}
	return &Result{
		Text:  strings.TrimSpace(normalizeNewlines(markdown)),
		Title: htmlTitle(content),
	}, nil
}

func htmlTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
