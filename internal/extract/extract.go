// Package extract turns uploaded payloads into plain text for chunking.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/relayforge/corpus-engine/internal/observability"
)

// ErrUnsupportedType is returned for content types with no extractor.
var ErrUnsupportedType = errors.New("unsupported content type")

// Error wraps an extraction failure with the stage that produced it.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the extracted text plus whatever structure the format exposed.
type Result struct {
	Text  string
	Title string
	Pages int
}

// Supported MIME types.
const (
	TypePDF      = "application/pdf"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeMarkdown = "text/markdown"
	TypeText     = "text/plain"
	TypeHTML     = "text/html"
)

// TypeForFilename maps a filename extension to a supported MIME type, or ""
// when the extension is unknown.
func TypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF
	case ".docx":
		return TypeDOCX
	case ".md", ".markdown":
		return TypeMarkdown
	case ".txt":
		return TypeText
	case ".html", ".htm":
		return TypeHTML
	default:
		return ""
	}
}

// Service dispatches extraction by MIME type.
type Service struct {
	logger *observability.Logger
}

// NewService creates a new extraction service.
func NewService(logger *observability.Logger) *Service {
	return &Service{logger: logger.WithComponent("extract")}
}

// Extract converts a payload to plain text. PDF output carries [Page N]
// markers so downstream chunking can attribute pages.
func (s *Service) Extract(ctx context.Context, content []byte, contentType string) (*Result, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch strings.ToLower(mediaType) {
	case TypePDF:
		return s.extractPDF(ctx, content)
	case TypeDOCX:
		return s.extractDOCX(content)
	case TypeMarkdown, "text/x-markdown":
		return markdownResult(content), nil
	case TypeText:
		return &Result{Text: normalizeNewlines(string(content))}, nil
	case TypeHTML:
		return s.extractHTML(content)
	default:
		return nil, &Error{Stage: "dispatch", Err: fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)}
	}
}

func markdownResult(content []byte) *Result {
	text := normalizeNewlines(string(content))
	result := &Result{Text: text}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "# "); ok {
			result.Title = strings.TrimSpace(after)
			break
		}
		if trimmed != "" {
			break
		}
	}
	return result
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
