package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDOCX pulls paragraph text out of the word/document.xml part. Runs
// inside a paragraph are concatenated; paragraphs become blank-line separated
// blocks so the chunker sees them as units.
func (s *Service) extractDOCX(content []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &Error{Stage: "docx", Err: fmt.Errorf("open archive: %w", err)}
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return nil, &Error{Stage: "docx", Err: fmt.Errorf("missing word/document.xml")}
	}

	rc, err := part.Open()
	if err != nil {
		return nil, &Error{Stage: "docx", Err: err}
	}
	defer rc.Close()

	text, err := docxPartText(rc)
	if err != nil {
		return nil, &Error{Stage: "docx", Err: err}
	}
	return &Result{Text: text}, nil
}

func docxPartText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var b strings.Builder
	var paragraph strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var run string
				if err := decoder.DecodeElement(&run, &t); err != nil {
					return "", fmt.Errorf("parse text run: %w", err)
				}
				paragraph.WriteString(run)
			case "tab":
				paragraph.WriteString("\t")
			case "br", "cr":
				paragraph.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				if line := strings.TrimSpace(paragraph.String()); line != "" {
					b.WriteString(line)
					b.WriteString("\n\n")
				}
				paragraph.Reset()
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
