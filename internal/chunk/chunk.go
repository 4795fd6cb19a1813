// Package chunk splits extracted text into embedding-sized pieces. Splitting
// is deterministic: the same input always yields byte-identical chunks.
package chunk

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config controls chunk sizing. Sizes are in bytes of UTF-8 text; window
// boundaries are adjusted so no rune is ever split.
type Config struct {
	MaxSize int
	Overlap int
}

// DefaultConfig returns the standard 800/150 sizing.
func DefaultConfig() Config {
	return Config{MaxSize: 800, Overlap: 150}
}

// Chunk is one output unit.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
	Metadata   map[string]any
}

// Chunker splits text.
type Chunker struct {
	config Config
}

var pageMarker = regexp.MustCompile(`\[Page (\d+)\]`)

// Document metadata fields carried onto every chunk when present.
var inheritedFields = []string{"source_quality", "last_verified", "published_date"}

// New creates a chunker, normalizing nonsensical config values.
func New(cfg Config) *Chunker {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 800
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.MaxSize {
		cfg.Overlap = cfg.MaxSize / 4
	}
	return &Chunker{config: cfg}
}

// Split chunks text and attaches per-chunk metadata. Paragraphs (blank-line
// separated) are greedily packed up to MaxSize; a paragraph larger than
// MaxSize is cut into fixed windows with Overlap bytes of backward overlap;
// when packing stops because the next paragraph would not fit, the new chunk
// starts with the trailing Overlap bytes of the previous one.
func (c *Chunker) Split(text string, docMeta map[string]any) []Chunk {
	texts := c.splitText(text)
	if len(texts) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, len(texts))
	currentPage := 0
	for i, t := range texts {
		page := currentPage
		if markers := pageMarker.FindAllStringSubmatch(t, -1); len(markers) > 0 {
			page, _ = strconv.Atoi(markers[0][1])
			currentPage, _ = strconv.Atoi(markers[len(markers)-1][1])
		}

		meta := map[string]any{}
		for _, field := range inheritedFields {
			if v, ok := docMeta[field].(string); ok && v != "" {
				meta[field] = v
			}
		}
		if page > 0 {
			meta["page"] = page
		}
		if heading := headingOf(t); heading != "" {
			meta["heading"] = heading
		}

		chunks = append(chunks, Chunk{
			Index:      i,
			Text:       t,
			TokenCount: (len(t) + 3) / 4,
			Metadata:   meta,
		})
	}
	return chunks
}

func (c *Chunker) splitText(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var out []string
	var current strings.Builder
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > c.config.MaxSize {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, c.windows(para)...)
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(para) > c.config.MaxSize {
			overlap := tail(current.String(), c.config.Overlap)
			out = append(out, current.String())
			current.Reset()
			current.WriteString(overlap)
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// windows cuts an oversized paragraph into MaxSize slices whose starts
// advance by MaxSize-Overlap.
func (c *Chunker) windows(para string) []string {
	step := c.config.MaxSize - c.config.Overlap
	var out []string
	for start := 0; start < len(para); start += step {
		end := start + c.config.MaxSize
		if end > len(para) {
			end = len(para)
		}
		s := runeFloor(para, start)
		e := runeFloor(para, end)
		if e > s {
			out = append(out, para[s:e])
		}
		if end == len(para) {
			break
		}
	}
	return out
}

// headingOf returns the first line when it looks like a section heading:
// at most 100 bytes and starting with an uppercase letter.
func headingOf(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 100 {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(line)
	if !unicode.IsUpper(first) {
		return ""
	}
	return line
}

// tail returns the trailing n bytes of s, moved forward to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// runeFloor moves i backward to the nearest rune boundary.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
