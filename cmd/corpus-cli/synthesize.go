package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/pkg/engine"
)

// newSynthesizeCmd creates the synthesize subcommand.
func newSynthesizeCmd() *cobra.Command {
	var (
		collection string
		topK       int
	)

	cmd := &cobra.Command{
		Use:   "synthesize <query>...",
		Short: "Compare the approaches a collection takes on a topic",
		Long: `Synthesize clusters search results into distinct approaches, scores
consensus across sources, and flags contradictions between them. Requires
a server with synthesis enabled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			collectionID, err := uuid.Parse(collection)
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			req := engine.CompareRequest{
				Query:        strings.Join(args, " "),
				CollectionID: collectionID,
			}
			if topK > 0 {
				req.TopK = &topK
			}

			ui := NewUI(outputJSON, noColor)
			spin := ui.Wait("synthesizing")
			comparison, err := api.Compare(ctx, req)
			spin.Stop()
			if err != nil {
				var apiErr *engine.APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && apiErr.Code == "" {
					return fmt.Errorf("synthesis is disabled on this server")
				}
				return fmt.Errorf("synthesize failed: %w", err)
			}

			if outputJSON {
				return emitJSON(comparison)
			}

			printComparison(ui, comparison)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "C", "", "collection ID (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results to cluster (default: server setting)")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func printComparison(ui *UI, comparison *engine.Comparison) {
	meta := comparison.Metadata
	ui.Info("%d approach(es) and %d conflict(s) across %d source(s) in %dms",
		meta.ApproachesFound, meta.ConflictsFound, meta.TotalSources, meta.SynthesisTimeMs)
	if meta.EmbeddingFallback {
		ui.Warning("Cloud embedding unavailable, clustering used the local provider")
	}

	for i, approach := range comparison.Approaches {
		title := fmt.Sprintf("Approach %d: %s", i+1, approach.Method)
		if comparison.Recommended != nil && approach.Method == comparison.Recommended.Method {
			title += " (recommended)"
		}
		ui.Section(title)
		ui.KeyValue("Consensus", fmt.Sprintf("%.0f%% of sources", approach.Consensus*100))
		fmt.Printf("  %s\n", approach.Summary)
		for _, source := range approach.Sources {
			fmt.Printf("    • %s (%.3f)\n", source.Title, source.Similarity)
			if source.Snippet != "" {
				fmt.Printf("      %s\n", truncate(source.Snippet, 140))
			}
		}
	}

	if len(comparison.Conflicts) > 0 {
		ui.Section("Conflicts")
		for _, conflict := range comparison.Conflicts {
			fmt.Printf("  %s  %s ↔ %s\n",
				severityTag(conflict.Severity), conflict.SourceA.Title, conflict.SourceB.Title)
			fmt.Printf("      %s (confidence %.2f)\n", conflict.Description, conflict.Confidence)
		}
	}
}

func severityTag(severity string) string {
	tag := "[" + severity + "]"
	if noColor {
		return tag
	}
	switch severity {
	case "high":
		return color.New(color.FgRed, color.Bold).Sprint(tag)
	case "medium":
		return color.New(color.FgYellow).Sprint(tag)
	default:
		return color.New(color.FgCyan).Sprint(tag)
	}
}
