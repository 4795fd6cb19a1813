package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/relayforge/corpus-engine/pkg/engine"
)

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		collection string
		wait       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Upload files into a collection",
		Long: `Ingest uploads one or more files (.md, .txt, .pdf, .html, .docx) into a
collection. The server extracts, chunks, and embeds each document
asynchronously; with --wait the command tracks per-document progress until
every upload finishes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			collectionID, err := uuid.Parse(collection)
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			files := make([]engine.File, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				defer f.Close()
				files = append(files, engine.File{Name: filepath.Base(path), Content: f})
			}

			resp, err := api.Ingest(ctx, collectionID, files)
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}

			if !wait {
				if outputJSON {
					return emitJSON(resp)
				}
				ui := NewUI(outputJSON, noColor)
				ui.Success("Accepted %d file(s) for ingestion", len(resp.Documents))
				for _, doc := range resp.Documents {
					ui.KeyValue(doc.Title, doc.ID)
				}
				ui.Info("Track progress with: corpus-cli ingest status, or use --wait")
				return nil
			}

			return watchIngest(ctx, resp.Documents)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "C", "", "collection ID (required)")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for processing to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout including processing")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

// watchIngest polls ingest status until every document reaches a terminal
// state, rendering one progress bar per document.
func watchIngest(ctx context.Context, docs []engine.IngestedDocument) error {
	ui := NewUI(outputJSON, noColor)
	defer ui.Close()

	bars := make(map[uuid.UUID]*mpb.Bar, len(docs))
	for _, doc := range docs {
		bars[doc.ID] = ui.FileBar(doc.Title)
	}

	type outcome struct {
		Title  string `json:"title"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	done := make(map[uuid.UUID]outcome, len(docs))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for len(done) < len(docs) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for ingestion: %w", ctx.Err())
		case <-ticker.C:
		}

		for _, doc := range docs {
			if _, ok := done[doc.ID]; ok {
				continue
			}

			status, err := api.IngestStatus(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("poll %s: %w", doc.Title, err)
			}

			bar := bars[doc.ID]
			switch status.Status {
			case "complete":
				if bar != nil {
					bar.SetCurrent(100)
				}
				done[doc.ID] = outcome{Title: doc.Title, Status: status.Status}
			case "error":
				if bar != nil {
					bar.Abort(false)
				}
				done[doc.ID] = outcome{Title: doc.Title, Status: status.Status, Error: status.ErrorMessage}
			default:
				if bar != nil {
					bar.SetCurrent(int64(status.Progress * 100))
				}
			}
		}
	}
	ui.Close()

	var failed []outcome
	results := make([]outcome, 0, len(docs))
	for _, doc := range docs {
		result := done[doc.ID]
		results = append(results, result)
		if result.Status == "error" {
			failed = append(failed, result)
		}
	}

	if outputJSON {
		if err := emitJSON(map[string]any{"documents": results}); err != nil {
			return err
		}
	} else {
		for _, f := range failed {
			ui.Failure("%s: %s", f.Title, f.Error)
		}
		ui.Success("Ingested %d of %d document(s)", len(docs)-len(failed), len(docs))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d document(s) failed", len(failed))
	}
	return nil
}
