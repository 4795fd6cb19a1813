package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

// Crawl modes.
const (
	// ModeSingle ingests only the requested URL.
	ModeSingle = "single"
	// ModeCrawl follows same-origin links breadth-first up to MaxPages.
	ModeCrawl = "crawl"
)

// Request describes one crawl invocation.
type Request struct {
	URL          string
	CollectionID uuid.UUID
	Mode         string
	MaxPages     int
	TitlePrefix  string
}

// PageResult identifies one document created or refreshed by a crawl.
type PageResult struct {
	DocumentID uuid.UUID `json:"doc_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
}

// Config tunes crawler behavior.
type Config struct {
	ContentMode     string
	NavTimeout      time.Duration
	PolitenessDelay time.Duration
	DefaultMaxPages int
	UserAgent       string
}

func (c Config) withDefaults() Config {
	if c.ContentMode == "" {
		c.ContentMode = ContentModeSelectors
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.PolitenessDelay <= 0 {
		c.PolitenessDelay = time.Second
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 10
	}
	return c
}

type documentStore interface {
	Create(ctx context.Context, doc *storage.Document) error
	GetBySourceURL(ctx context.Context, collectionID uuid.UUID, sourceURL string) (*storage.Document, error)
	Update(ctx context.Context, doc *storage.Document) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.DocumentStatus) error
}

type fileSaver interface {
	Save(dir, id, ext string, content io.Reader) (string, int64, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// Crawler turns web pages into pending documents. Fetching is
// delegated to a Fetcher so the browser stays swappable; processing is
// handed to the ingestion queue and never blocks the crawl.
type Crawler struct {
	logger    *observability.Logger
	config    Config
	fetcher   Fetcher
	documents documentStore
	files     fileSaver
	queue     enqueuer
}

func NewCrawler(logger *observability.Logger, cfg Config, fetcher Fetcher, documents documentStore, files fileSaver, queue enqueuer) *Crawler {
	return &Crawler{
		logger:    logger.WithComponent("crawl"),
		config:    cfg.withDefaults(),
		fetcher:   fetcher,
		documents: documents,
		files:     files,
		queue:     queue,
	}
}

// Run crawls starting from req.URL and returns one PageResult per
// stored page. The call fails only when the initial URL is unusable or
// the browser cannot launch; individual page failures are logged and
// skipped so one broken link does not abort a site crawl.
func (c *Crawler) Run(ctx context.Context, req Request) ([]PageResult, error) {
	start, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	if err := ValidateURL(start); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeSingle
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = c.config.DefaultMaxPages
	}
	if mode == ModeSingle {
		maxPages = 1
	}

	c.logger.Info().
		Str("url", start).
		Str("mode", mode).
		Int("max_pages", maxPages).
		Msg("starting crawl")

	visited := map[string]bool{start: true}
	frontier := []string{start}
	results := make([]PageResult, 0, maxPages)
	first := true

	for len(frontier) > 0 && len(results) < maxPages {
		pageURL := frontier[0]
		frontier = frontier[1:]

		if !first {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.config.PolitenessDelay):
			}
		}

		navCtx, cancel := context.WithTimeout(ctx, c.config.NavTimeout)
		rawHTML, err := c.fetcher.Fetch(navCtx, pageURL)
		cancel()
		if err != nil {
			if first || errors.Is(err, ErrBrowserLaunch) {
				return nil, err
			}
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("page fetch failed, skipping")
			continue
		}
		first = false

		base, err := url.Parse(pageURL)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("unparseable page url, skipping")
			continue
		}

		page, err := extractPage(rawHTML, base, c.config.ContentMode)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("content extraction failed, skipping")
			continue
		}
		if page.Markdown == "" {
			c.logger.Debug().Str("url", pageURL).Msg("page has no extractable content, skipping")
			continue
		}

		result, err := c.storePage(ctx, req, pageURL, base, page)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("storing page failed, skipping")
			continue
		}
		results = append(results, *result)

		if mode == ModeCrawl {
			frontier = c.enqueueLinks(base, page.Links, visited, frontier, maxPages)
		}
	}

	c.logger.Info().
		Str("url", start).
		Int("pages", len(results)).
		Msg("crawl finished")
	return results, nil
}

// enqueueLinks filters discovered links down to unvisited, same-origin,
// non-private URLs and appends them to the frontier. The visited set
// counts queued and fetched pages alike, so its size caps total work.
func (c *Crawler) enqueueLinks(base *url.URL, links []string, visited map[string]bool, frontier []string, maxPages int) []string {
	for _, link := range links {
		if len(visited) >= maxPages {
			break
		}
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if visited[normalized] {
			continue
		}
		parsed, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		if !sameOrigin(base, parsed) {
			continue
		}
		if ValidateURL(normalized) != nil {
			continue
		}
		visited[normalized] = true
		frontier = append(frontier, normalized)
	}
	return frontier
}

// storePage writes the page Markdown to the file store and creates a
// pending document, or refreshes the existing one when the URL was
// crawled before. The document is then enqueued for processing; a full
// queue is logged and left for a later re-crawl rather than failing
// the page.
func (c *Crawler) storePage(ctx context.Context, req Request, pageURL string, base *url.URL, page *Page) (*PageResult, error) {
	title := page.Title
	if title == "" {
		title = base.Host
	}
	if req.TitlePrefix != "" {
		title = req.TitlePrefix + title
	}

	var docID uuid.UUID
	existing, err := c.documents.GetBySourceURL(ctx, req.CollectionID, pageURL)
	switch {
	case err == nil:
		path, size, err := c.files.Save(req.CollectionID.String(), existing.ID.String(), ".md", strings.NewReader(page.Markdown))
		if err != nil {
			return nil, fmt.Errorf("save page: %w", err)
		}
		existing.Title = title
		existing.FilePath = &path
		existing.FileSize = size
		existing.ContentType = "text/markdown"
		existing.Metadata = existing.Metadata.Merge(storage.Metadata{
			"crawled_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err := c.documents.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
		if err := c.documents.UpdateStatus(ctx, existing.ID, storage.StatusPending); err != nil {
			return nil, fmt.Errorf("reset document status: %w", err)
		}
		docID = existing.ID

	case errors.Is(err, storage.ErrNotFound):
		doc := &storage.Document{
			ID:           uuid.New(),
			CollectionID: req.CollectionID,
			Title:        title,
			ContentType:  "text/markdown",
			SourceURL:    &pageURL,
			Metadata: storage.Metadata{
				"crawled_at": time.Now().UTC().Format(time.RFC3339),
			},
		}
		path, size, err := c.files.Save(req.CollectionID.String(), doc.ID.String(), ".md", strings.NewReader(page.Markdown))
		if err != nil {
			return nil, fmt.Errorf("save page: %w", err)
		}
		doc.FilePath = &path
		doc.FileSize = size
		if err := c.documents.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("create document: %w", err)
		}
		docID = doc.ID

	default:
		return nil, fmt.Errorf("look up document: %w", err)
	}

	if err := c.queue.Enqueue(ctx, docID); err != nil {
		c.logger.Warn().Err(err).
			Str("document_id", docID.String()).
			Msg("could not enqueue crawled document")
	}

	return &PageResult{DocumentID: docID, URL: pageURL, Title: title}, nil
}
