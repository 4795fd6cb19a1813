package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return "", err
	}
	page, ok := f.pages[pageURL]
	if !ok {
		return "", fmt.Errorf("no page registered for %s", pageURL)
	}
	return page, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCrawlStore struct {
	mu       sync.Mutex
	bySource map[string]*storage.Document
	created  []*storage.Document
	updated  []*storage.Document
	statuses map[uuid.UUID][]storage.DocumentStatus
}

func newFakeCrawlStore() *fakeCrawlStore {
	return &fakeCrawlStore{
		bySource: map[string]*storage.Document{},
		statuses: map[uuid.UUID][]storage.DocumentStatus{},
	}
}

func sourceKey(collectionID uuid.UUID, sourceURL string) string {
	return collectionID.String() + "|" + sourceURL
}

func (s *fakeCrawlStore) Create(ctx context.Context, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.created = append(s.created, &copied)
	if doc.SourceURL != nil {
		s.bySource[sourceKey(doc.CollectionID, *doc.SourceURL)] = &copied
	}
	return nil
}

func (s *fakeCrawlStore) GetBySourceURL(ctx context.Context, collectionID uuid.UUID, sourceURL string) (*storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.bySource[sourceKey(collectionID, sourceURL)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeCrawlStore) Update(ctx context.Context, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.updated = append(s.updated, &copied)
	if doc.SourceURL != nil {
		s.bySource[sourceKey(doc.CollectionID, *doc.SourceURL)] = &copied
	}
	return nil
}

func (s *fakeCrawlStore) UpdateStatus(ctx context.Context, id uuid.UUID, status storage.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
}

func (s *fakeSaver) Save(dir, id, ext string, content io.Reader) (string, int64, error) {
	if s.err != nil {
		return "", 0, s.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[id+ext] = string(data)
	return "/files/" + dir + "/" + id + ext, int64(len(data)), nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *fakeEnqueuer) Enqueue(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func crawlLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "test",
	})
}

type crawlEnv struct {
	fetcher *fakeFetcher
	docs    *fakeCrawlStore
	files   *fakeSaver
	queue   *fakeEnqueuer
	crawler *Crawler
}

func newCrawlEnv(pages map[string]string) *crawlEnv {
	env := &crawlEnv{
		fetcher: &fakeFetcher{pages: pages, errs: map[string]error{}},
		docs:    newFakeCrawlStore(),
		files:   &fakeSaver{},
		queue:   &fakeEnqueuer{},
	}
	env.crawler = NewCrawler(crawlLogger(), Config{PolitenessDelay: time.Millisecond}, env.fetcher, env.docs, env.files, env.queue)
	return env
}

func htmlPage(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><nav>")
	for _, link := range links {
		b.WriteString(`<a href="` + link + `">` + link + `</a>`)
	}
	b.WriteString("</nav><main><p>Content for " + title + ".</p></main></body></html>")
	return b.String()
}

func TestCrawler_Run_SingleMode(t *testing.T) {
	collectionID := uuid.New()
	env := newCrawlEnv(map[string]string{
		"https://example.com/docs": htmlPage("Docs Home", "/docs/install"),
	})

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "example.com/docs",
		CollectionID: collectionID,
		Mode:         ModeSingle,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "https://example.com/docs", results[0].URL)
	assert.Equal(t, "Docs Home", results[0].Title)
	assert.Equal(t, []string{"https://example.com/docs"}, env.fetcher.fetched(), "single mode must not follow links")

	require.Len(t, env.docs.created, 1)
	doc := env.docs.created[0]
	assert.Equal(t, results[0].DocumentID, doc.ID)
	assert.Equal(t, collectionID, doc.CollectionID)
	require.NotNil(t, doc.SourceURL)
	assert.Equal(t, "https://example.com/docs", *doc.SourceURL)
	assert.Equal(t, "text/markdown", doc.ContentType)
	require.NotNil(t, doc.FilePath)
	assert.Equal(t, "/files/"+doc.ID.String()+".md", *doc.FilePath)
	assert.NotEmpty(t, doc.Metadata.GetString("crawled_at"))

	assert.Contains(t, env.files.saved[doc.ID.String()+".md"], "Content for Docs Home.")
	assert.Equal(t, []uuid.UUID{doc.ID}, env.queue.ids)
}

func TestCrawler_Run_DefaultModeIsSingle(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/": htmlPage("Home", "/a", "/b"),
	})

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, []string{"https://example.com/"}, env.fetcher.fetched())
}

func TestCrawler_Run_CrawlFollowsSameOriginLinks(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/":  htmlPage("Home", "/a", "https://other.com/x", "/a#section", "/b"),
		"https://example.com/a": htmlPage("Page A"),
		"https://example.com/b": htmlPage("Page B"),
	})

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     5,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	}, env.fetcher.fetched(), "breadth-first order, external and duplicate links dropped")

	titles := []string{results[0].Title, results[1].Title, results[2].Title}
	assert.Equal(t, []string{"Home", "Page A", "Page B"}, titles)
	assert.Len(t, env.docs.created, 3)
}

func TestCrawler_Run_MaxPagesCaps(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/":  htmlPage("Home", "/a", "/b", "/c"),
		"https://example.com/a": htmlPage("Page A"),
		"https://example.com/b": htmlPage("Page B"),
		"https://example.com/c": htmlPage("Page C"),
	})

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/a"}, env.fetcher.fetched())
}

func TestCrawler_Run_RejectsInvalidStart(t *testing.T) {
	env := newCrawlEnv(nil)

	_, err := env.crawler.Run(context.Background(), Request{URL: "ftp://example.com/file", CollectionID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = env.crawler.Run(context.Background(), Request{URL: "http://127.0.0.1/admin", CollectionID: uuid.New()})
	assert.ErrorIs(t, err, ErrPrivateAddress)

	assert.Empty(t, env.fetcher.fetched(), "rejected URLs must never be fetched")
}

func TestCrawler_Run_InitialFetchFailureFails(t *testing.T) {
	env := newCrawlEnv(nil)
	env.fetcher.errs["https://example.com/"] = errors.New("navigation timeout")

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation timeout")
	assert.Nil(t, results)
}

func TestCrawler_Run_LaterFetchFailureSkips(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/":     htmlPage("Home", "/bad", "/good"),
		"https://example.com/good": htmlPage("Good Page"),
	})
	env.fetcher.errs["https://example.com/bad"] = errors.New("navigation timeout")

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Home", results[0].Title)
	assert.Equal(t, "Good Page", results[1].Title)
}

func TestCrawler_Run_BrowserLaunchFailureAborts(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/": htmlPage("Home", "/next"),
	})
	env.fetcher.errs["https://example.com/next"] = fmt.Errorf("%w: chrome not found", ErrBrowserLaunch)

	_, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     5,
	})
	assert.ErrorIs(t, err, ErrBrowserLaunch)
}

func TestCrawler_Run_SkipsEmptyPages(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/": htmlPage("Home", "/empty", "/b"),
		"https://example.com/empty": `<html><head><title>Empty</title></head><body>` +
			`<a href="/c">c</a><main>   </main></body></html>`,
		"https://example.com/b": htmlPage("Page B"),
		"https://example.com/c": htmlPage("Page C"),
	})

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Home", results[0].Title)
	assert.Equal(t, "Page B", results[1].Title)
	assert.NotContains(t, env.fetcher.fetched(), "https://example.com/c",
		"links on skipped pages must not be followed")
}

func TestCrawler_Run_RecrawlRefreshesDocument(t *testing.T) {
	collectionID := uuid.New()
	env := newCrawlEnv(map[string]string{
		"https://example.com/docs": htmlPage("Docs v1"),
	})

	first, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/docs",
		CollectionID: collectionID,
		Mode:         ModeSingle,
	})
	require.NoError(t, err)
	require.Len(t, first, 1)

	env.fetcher.pages["https://example.com/docs"] = htmlPage("Docs v2")

	second, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/docs",
		CollectionID: collectionID,
		Mode:         ModeSingle,
	})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].DocumentID, second[0].DocumentID, "re-crawl must reuse the existing document")
	assert.Len(t, env.docs.created, 1)
	require.Len(t, env.docs.updated, 1)
	assert.Equal(t, "Docs v2", env.docs.updated[0].Title)
	assert.Equal(t, []storage.DocumentStatus{storage.StatusPending}, env.docs.statuses[first[0].DocumentID])
	assert.Contains(t, env.files.saved[first[0].DocumentID.String()+".md"], "Content for Docs v2.")
	assert.Equal(t, []uuid.UUID{first[0].DocumentID, first[0].DocumentID}, env.queue.ids)
}

func TestCrawler_Run_TitleHandling(t *testing.T) {
	t.Run("prefix prepended", func(t *testing.T) {
		env := newCrawlEnv(map[string]string{
			"https://example.com/docs": htmlPage("Docs Home"),
		})
		results, err := env.crawler.Run(context.Background(), Request{
			URL:          "https://example.com/docs",
			CollectionID: uuid.New(),
			Mode:         ModeSingle,
			TitlePrefix:  "Go Docs: ",
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Go Docs: Docs Home", results[0].Title)
	})

	t.Run("untitled page falls back to host", func(t *testing.T) {
		env := newCrawlEnv(map[string]string{
			"https://example.com/docs": `<html><body><main><p>No title here.</p></main></body></html>`,
		})
		results, err := env.crawler.Run(context.Background(), Request{
			URL:          "https://example.com/docs",
			CollectionID: uuid.New(),
			Mode:         ModeSingle,
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "example.com", results[0].Title)
	})
}

func TestCrawler_Run_EnqueueFailureDoesNotFailCrawl(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/docs": htmlPage("Docs Home"),
	})
	env.queue.err = errors.New("queue stopped")

	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/docs",
		CollectionID: uuid.New(),
		Mode:         ModeSingle,
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, env.docs.created, 1, "document must still be stored when the queue is unavailable")
}

func TestCrawler_Run_CancelledBetweenPages(t *testing.T) {
	env := newCrawlEnv(map[string]string{
		"https://example.com/":  htmlPage("Home", "/a"),
		"https://example.com/a": htmlPage("Page A"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := env.crawler.Run(ctx, Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     2,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1, "pages stored before cancellation are returned")
}

func TestCrawler_Run_PolitenessDelay(t *testing.T) {
	env := &crawlEnv{
		fetcher: &fakeFetcher{pages: map[string]string{
			"https://example.com/":  htmlPage("Home", "/a", "/b"),
			"https://example.com/a": htmlPage("Page A"),
			"https://example.com/b": htmlPage("Page B"),
		}, errs: map[string]error{}},
		docs:  newFakeCrawlStore(),
		files: &fakeSaver{},
		queue: &fakeEnqueuer{},
	}
	env.crawler = NewCrawler(crawlLogger(), Config{PolitenessDelay: 30 * time.Millisecond},
		env.fetcher, env.docs, env.files, env.queue)

	start := time.Now()
	results, err := env.crawler.Run(context.Background(), Request{
		URL:          "https://example.com/",
		CollectionID: uuid.New(),
		Mode:         ModeCrawl,
		MaxPages:     3,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "second and third fetches must be delayed")
}
