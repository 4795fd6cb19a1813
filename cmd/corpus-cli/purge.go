package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/internal/storage"
)

const purgePageSize = 500

// newPurgeCmd creates the purge subcommand.
func newPurgeCmd() *cobra.Command {
	var (
		collection string
		olderThan  int
		status     string
		dryRun     bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stale documents and their stored files",
		Long: `Purge connects straight to Postgres and deletes documents whose last
update is older than the retention window, along with their chunks and
stored files. By default only failed documents are purged; pass
--status any to purge regardless of state.

Deleting a document removes its chunks with it. Cached search responses
referencing purged documents expire within a minute on their own.

WARNING: deletion is irreversible. Always run with --dry-run first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			if !validPurgeStatus(status) {
				return fmt.Errorf("invalid --status %q", status)
			}

			cutoff := time.Now().AddDate(0, 0, -olderThan)

			logger.Info().
				Str("status", status).
				Int("older_than_days", olderThan).
				Str("cutoff", cutoff.Format(time.RFC3339)).
				Bool("dry_run", dryRun).
				Msg("starting purge")

			db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			repos := storage.NewRepositories(db)
			files, err := storage.NewFileStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open file store: %w", err)
			}

			var collections []*storage.CollectionWithCount
			if collection != "" {
				id, err := uuid.Parse(collection)
				if err != nil {
					return fmt.Errorf("invalid collection ID: %w", err)
				}
				col, err := repos.Collections.GetByID(ctx, id)
				if err != nil {
					return fmt.Errorf("collection not found: %w", err)
				}
				collections = []*storage.CollectionWithCount{{Collection: *col}}
			} else {
				collections, err = repos.Collections.ListWithCounts(ctx)
				if err != nil {
					return fmt.Errorf("list collections: %w", err)
				}
			}

			type candidate struct {
				doc        *storage.Document
				collection string
			}
			var candidates []candidate
			var reclaimed int64

			for _, col := range collections {
				for offset := 0; ; offset += purgePageSize {
					filter := storage.DocumentFilter{
						CollectionID: col.ID,
						Limit:        purgePageSize,
						Offset:       offset,
					}
					if status != "any" {
						filter.Status = storage.DocumentStatus(status)
					}

					docs, err := repos.Documents.List(ctx, filter)
					if err != nil {
						return fmt.Errorf("list documents in %s: %w", col.Name, err)
					}
					for _, doc := range docs {
						if doc.UpdatedAt.Before(cutoff) {
							candidates = append(candidates, candidate{doc: doc, collection: col.Name})
							reclaimed += doc.FileSize
						}
					}
					if len(docs) < purgePageSize {
						break
					}
				}
			}

			ui := NewUI(outputJSON, noColor)

			if len(candidates) == 0 {
				if outputJSON {
					return emitJSON(map[string]any{"deleted": 0, "dry_run": dryRun})
				}
				ui.Success("Nothing to purge")
				return nil
			}

			if dryRun {
				if outputJSON {
					ids := make([]string, 0, len(candidates))
					for _, c := range candidates {
						ids = append(ids, c.doc.ID.String())
					}
					return emitJSON(map[string]any{
						"dry_run":         true,
						"would_delete":    len(candidates),
						"reclaimed_bytes": reclaimed,
						"document_ids":    ids,
					})
				}

				rows := make([][]string, 0, len(candidates))
				for _, c := range candidates {
					rows = append(rows, []string{
						c.collection,
						truncate(c.doc.Title, 40),
						string(c.doc.Status),
						c.doc.UpdatedAt.Format("2006-01-02"),
						formatBytes(c.doc.FileSize),
					})
				}
				ui.Table([]string{"COLLECTION", "TITLE", "STATUS", "UPDATED", "SIZE"}, rows)
				ui.Newline()
				ui.Info("Would delete %d document(s), reclaiming %s", len(candidates), formatBytes(reclaimed))
				return nil
			}

			if !yes && !outputJSON {
				question := fmt.Sprintf("Delete %d document(s), reclaiming %s?", len(candidates), formatBytes(reclaimed))
				if !confirm(question) {
					return fmt.Errorf("aborted")
				}
			}

			deleted := 0
			for _, c := range candidates {
				if err := repos.Documents.Delete(ctx, c.doc.ID); err != nil {
					ui.Failure("%s: %v", c.doc.Title, err)
					continue
				}
				if c.doc.FilePath != nil {
					if err := files.Remove(*c.doc.FilePath); err != nil {
						logger.Warn().Err(err).Str("path", *c.doc.FilePath).Msg("could not remove stored file")
					}
				}
				deleted++
			}

			logger.Info().Int("deleted", deleted).Msg("purge finished")

			if outputJSON {
				return emitJSON(map[string]any{
					"deleted":         deleted,
					"reclaimed_bytes": reclaimed,
					"dry_run":         false,
				})
			}
			ui.Success("Deleted %d of %d document(s)", deleted, len(candidates))
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "C", "", "restrict to one collection ID")
	cmd.Flags().IntVar(&olderThan, "older-than", 30, "retention window in days")
	cmd.Flags().StringVar(&status, "status", "error", "status to purge (pending, extracting, chunking, embedding, complete, error, any)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview what would be deleted")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func validPurgeStatus(status string) bool {
	switch storage.DocumentStatus(status) {
	case storage.StatusPending, storage.StatusExtracting, storage.StatusChunking,
		storage.StatusEmbedding, storage.StatusComplete, storage.StatusError:
		return true
	}
	return status == "any"
}
