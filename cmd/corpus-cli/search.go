package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/pkg/engine"
)

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		collection    string
		mode          string
		provider      string
		topK          int
		minSimilarity float64
		full          bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search a collection",
		Long: `Search runs vector or hybrid retrieval over a collection and prints
ranked results with citations. Multi-word queries do not need quoting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			collectionID, err := uuid.Parse(collection)
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			req := engine.SearchRequest{
				Query:        strings.Join(args, " "),
				CollectionID: collectionID,
				Mode:         mode,
				Provider:     provider,
			}
			if topK > 0 {
				req.TopK = &topK
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = &minSimilarity
			}

			ui := NewUI(outputJSON, noColor)
			spin := ui.Wait("searching")
			resp, err := api.Search(ctx, req)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if outputJSON {
				return emitJSON(resp)
			}

			printSearchResults(ui, resp, full)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "C", "", "collection ID (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "search mode: vector or hybrid (default: server setting)")
	cmd.Flags().StringVar(&provider, "provider", "", "force an embedding provider for the query")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default: server setting)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "minimum similarity threshold")
	cmd.Flags().BoolVar(&full, "full", false, "print full chunk text instead of snippets")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func printSearchResults(ui *UI, resp *engine.SearchResponse, full bool) {
	if resp.TotalResults == 0 {
		ui.Info("No results for %q", resp.Query)
		return
	}

	meta := resp.Metadata
	header := fmt.Sprintf("%d result(s) in %dms (%s", resp.TotalResults, resp.SearchTimeMs, meta.SearchMode)
	if meta.EmbeddingProvider != "" {
		header += ", " + meta.EmbeddingProvider
	}
	header += ")"
	ui.Info("%s", header)
	ui.Newline()

	dim := color.New(color.Faint)
	for i, result := range resp.Results {
		title := result.DocTitle
		if result.Citation.Page != nil {
			title += fmt.Sprintf(", p. %d", *result.Citation.Page)
		} else if result.Citation.Section != "" {
			title += ", " + result.Citation.Section
		}

		score := result.Similarity
		if result.RerankScore != 0 {
			score = result.RerankScore
		}

		fmt.Printf("%2d. %s  (%.3f)\n", i+1, title, score)

		text := result.Text
		if !full {
			text = truncate(text, 160)
		}
		fmt.Printf("    %s\n", text)

		if result.SourceURL != "" {
			if noColor {
				fmt.Printf("    %s\n", result.SourceURL)
			} else {
				dim.Printf("    %s\n", result.SourceURL)
			}
		}
		fmt.Println()
	}
}
