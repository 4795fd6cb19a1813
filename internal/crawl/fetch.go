package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// maxFetchBytes caps how much of a single page is read.
const maxFetchBytes = 50 << 20

// ErrBrowserLaunch marks a failure to start the headless browser.
// Unlike per-page navigation errors it aborts the whole crawl.
var ErrBrowserLaunch = errors.New("browser launch failed")

// Fetcher retrieves the rendered HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher fetches pages with a plain HTTP client. It is the
// fallback for environments without a browser and the default for
// tests; JavaScript-rendered content will be missing.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	if len(body) > maxFetchBytes {
		return "", fmt.Errorf("fetch %s: page exceeds %d bytes", pageURL, maxFetchBytes)
	}
	return string(body), nil
}

// BrowserFetcher renders pages in headless Chrome so that
// JavaScript-built documentation sites produce real content. The
// browser is launched lazily on the first fetch and shared by all
// subsequent pages; each page gets its own tab.
type BrowserFetcher struct {
	userAgent string

	mu          sync.Mutex
	started     bool
	launchErr   error
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func NewBrowserFetcher(userAgent string) *BrowserFetcher {
	return &BrowserFetcher{userAgent: userAgent}
}

func (f *BrowserFetcher) ensureBrowser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return f.browserCtx, f.launchErr
	}
	f.started = true

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if f.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser process to start now, so
	// launch failures surface before the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		f.launchErr = fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
		return nil, f.launchErr
	}

	f.browserCtx = browserCtx
	f.cancelTab = cancelBrowser
	f.cancelAlloc = cancelAlloc
	return f.browserCtx, nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	browserCtx, err := f.ensureBrowser()
	if err != nil {
		return "", err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	// chromedp contexts do not inherit from the caller, so propagate
	// cancellation and the navigation deadline by hand.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	var pageHTML string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
		}
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if len(pageHTML) > maxFetchBytes {
		return "", fmt.Errorf("fetch %s: page exceeds %d bytes", pageURL, maxFetchBytes)
	}
	if strings.TrimSpace(pageHTML) == "" {
		return "", fmt.Errorf("fetch %s: empty page", pageURL)
	}
	return pageHTML, nil
}

// Close shuts the shared browser down. Safe to call before the first
// fetch and more than once.
func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelTab != nil {
		f.cancelTab()
		f.cancelTab = nil
	}
	if f.cancelAlloc != nil {
		f.cancelAlloc()
		f.cancelAlloc = nil
	}
	f.browserCtx = nil
}
