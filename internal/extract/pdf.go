package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// extractPDF renders each page to text, prefixing every page with a
// [Page N] marker. Pages are 1-based in the markers.
func (s *Service) extractPDF(ctx context.Context, content []byte) (*Result, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, &Error{Stage: "pdf", Err: fmt.Errorf("open document: %w", err)}
	}
	defer doc.Close()

	var b strings.Builder
	pages := doc.NumPage()
	for n := 0; n < pages; n++ {
		select {
		case <-ctx.Done():
			return nil, &Error{Stage: "pdf", Err: ctx.Err()}
		default:
		}

		text, err := doc.Text(n)
		if err != nil {
			return nil, &Error{Stage: "pdf", Err: fmt.Errorf("page %d: %w", n+1, err)}
		}
		text = strings.TrimSpace(normalizeNewlines(text))
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[Page %d]\n\n%s\n\n", n+1, text)
	}

	result := &Result{
		Text:  strings.TrimSpace(b.String()),
		Pages: pages,
	}
	if meta := doc.Metadata(); meta != nil {
		result.Title = strings.TrimSpace(meta["title"])
	}
	return result, nil
}
