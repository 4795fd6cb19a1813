package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/pkg/engine"
)

// newCrawlCmd creates the crawl subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		collection  string
		mode        string
		maxPages    int
		titlePrefix string
		watch       bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a URL into a collection",
		Long: `Crawl fetches a page (mode "single") or follows same-host links
(mode "crawl") and ingests every page as a document. The crawl runs on the
server; with --watch the command polls the collection and shows pages as
they arrive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			collectionID, err := uuid.Parse(collection)
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			// Snapshot the document count so --watch can report only
			// pages this crawl adds.
			baseline := 0
			if watch {
				page, err := api.ListDocuments(ctx, engine.ListDocumentsOptions{CollectionID: collectionID, Limit: 1})
				if err != nil {
					return fmt.Errorf("list documents: %w", err)
				}
				baseline = page.Total
			}

			resp, err := api.IngestURL(ctx, engine.IngestURLRequest{
				CollectionID: collectionID,
				URL:          args[0],
				Mode:         mode,
				MaxPages:     maxPages,
				TitlePrefix:  titlePrefix,
			})
			if err != nil {
				return fmt.Errorf("crawl failed: %w", err)
			}

			if !watch {
				if outputJSON {
					return emitJSON(resp)
				}
				ui := NewUI(outputJSON, noColor)
				ui.Success("Crawl accepted: %s (mode %s)", resp.URL, resp.Mode)
				ui.Info("Watch pages arrive with: corpus-cli crawl --watch, or list documents")
				return nil
			}

			expected := int64(1)
			if resp.Mode == "crawl" {
				expected = int64(maxPages)
				if expected <= 0 {
					expected = int64(cfg.Crawler.MaxPages)
				}
			}
			return watchCrawl(ctx, collectionID, baseline, expected, resp.URL)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "C", "", "collection ID (required)")
	cmd.Flags().StringVar(&mode, "mode", "single", "crawl mode: single or crawl")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit for crawl mode (default: server setting)")
	cmd.Flags().StringVar(&titlePrefix, "title-prefix", "", "prefix for generated document titles")
	cmd.Flags().BoolVar(&watch, "watch", true, "poll the collection while the crawl runs")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

// watchCrawl polls the collection until pages stop arriving, treating a
// quiet period as the end of the crawl.
func watchCrawl(ctx context.Context, collectionID uuid.UUID, baseline int, expected int64, url string) error {
	const settle = 20 * time.Second

	ui := NewUI(outputJSON, noColor)
	bar := ui.PageBar(expected, "crawling")

	crawled := 0
	lastChange := time.Now()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out watching crawl: %w", ctx.Err())
		case <-ticker.C:
		}

		page, err := api.ListDocuments(ctx, engine.ListDocumentsOptions{CollectionID: collectionID, Limit: 1})
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}

		if added := page.Total - baseline; added != crawled {
			crawled = added
			lastChange = time.Now()
			if bar != nil {
				_ = bar.Set64(int64(crawled))
			}
		}

		if int64(crawled) >= expected {
			break
		}
		if crawled > 0 && time.Since(lastChange) > settle {
			break
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	if outputJSON {
		return emitJSON(map[string]any{"url": url, "pages": crawled})
	}
	ui.Success("Crawled %d page(s) from %s", crawled, url)
	ui.Info("Documents are processed in the background; check: corpus-cli collections get %s", collectionID)
	return nil
}
