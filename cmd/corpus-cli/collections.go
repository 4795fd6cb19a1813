package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/pkg/engine"
)

// newCollectionsCmd creates the collections command group.
func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "Manage collections",
	}
	cmd.AddCommand(newCollectionsListCmd())
	cmd.AddCommand(newCollectionsCreateCmd())
	cmd.AddCommand(newCollectionsGetCmd())
	cmd.AddCommand(newCollectionsDeleteCmd())
	return cmd
}

func newCollectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections with document counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			collections, err := api.ListCollections(ctx)
			if err != nil {
				return fmt.Errorf("list collections: %w", err)
			}

			if outputJSON {
				return emitJSON(map[string]any{"collections": collections})
			}

			ui := NewUI(outputJSON, noColor)
			if len(collections) == 0 {
				ui.Info("No collections yet. Create one with: corpus-cli collections create --name <name>")
				return nil
			}

			rows := make([][]string, 0, len(collections))
			for _, c := range collections {
				rows = append(rows, []string{
					c.ID.String(),
					c.Name,
					fmt.Sprintf("%d", c.DocumentCount),
					c.CreatedAt.Format("2006-01-02"),
				})
			}
			ui.Table([]string{"ID", "NAME", "DOCUMENTS", "CREATED"}, rows)
			return nil
		},
	}
}

func newCollectionsCreateCmd() *cobra.Command {
	var (
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			collection, err := api.CreateCollection(ctx, engine.CreateCollectionRequest{
				Name:        name,
				Description: description,
			})
			if err != nil {
				return fmt.Errorf("create collection: %w", err)
			}

			if outputJSON {
				return emitJSON(collection)
			}

			ui := NewUI(outputJSON, noColor)
			ui.Success("Created collection %q", collection.Name)
			ui.KeyValue("ID", collection.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "collection name (required)")
	cmd.Flags().StringVar(&description, "description", "", "collection description")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newCollectionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection-id>",
		Short: "Show a collection with its stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			detail, err := api.GetCollection(ctx, id)
			if err != nil {
				return fmt.Errorf("get collection: %w", err)
			}

			if outputJSON {
				return emitJSON(detail)
			}

			ui := NewUI(outputJSON, noColor)
			ui.Section(detail.Name)
			ui.KeyValue("ID", detail.ID)
			if detail.Description != "" {
				ui.KeyValue("Description", detail.Description)
			}
			ui.KeyValue("Created", detail.CreatedAt.Format(time.RFC3339))
			if detail.Stats != nil {
				ui.KeyValue("Documents", detail.Stats.DocumentCount)
				ui.KeyValue("Chunks", detail.Stats.ChunkCount)
				ui.KeyValue("Tokens", detail.Stats.TotalTokens)
				for status, count := range detail.Stats.StatusCounts {
					ui.KeyValue("  "+status, count)
				}
			}
			return nil
		},
	}
}

func newCollectionsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <collection-id>",
		Short: "Delete a collection and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid collection ID: %w", err)
			}

			detail, err := api.GetCollection(ctx, id)
			if err != nil {
				return fmt.Errorf("get collection: %w", err)
			}

			if !yes && !outputJSON {
				docCount := 0
				if detail.Stats != nil {
					docCount = detail.Stats.DocumentCount
				}
				if !confirm(fmt.Sprintf("Delete collection %q and its %d document(s)?", detail.Name, docCount)) {
					return fmt.Errorf("aborted")
				}
			}

			if err := api.DeleteCollection(ctx, id); err != nil {
				return fmt.Errorf("delete collection: %w", err)
			}

			if outputJSON {
				return emitJSON(map[string]string{"deleted": id.String()})
			}

			NewUI(outputJSON, noColor).Success("Deleted collection %q", detail.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// confirm asks a yes/no question on the terminal, defaulting to no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
