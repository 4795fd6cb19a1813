// Package main provides the corpus engine CLI entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/relayforge/corpus-engine/internal/config"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/pkg/engine"
)

var (
	// Global flags
	cfgFile    string
	serverURL  string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration, logger, and API client shared by subcommands
	cfg    *config.Config
	logger *observability.Logger
	api    *engine.Client
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "corpus-cli",
	Short: "Corpus engine CLI for collections, ingestion, search, and administration",
	Long: `Corpus engine CLI manages a personal knowledge base served by corpus-api.

Use this tool to:
- Create collections and upload documents into them
- Crawl documentation sites into a collection
- Search with vector or hybrid retrieval and synthesize comparisons
- Track embedding and LLM spend against the monthly budget
- Apply schema migrations and purge stale documents

Most commands talk to a running corpus-api server (--server); migrate and
purge connect straight to Postgres. All commands support --json for
automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      logFormat,
			ServiceName: "corpus-cli",
		})

		api = engine.NewClient(engine.Config{BaseURL: resolveServerURL()})
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "corpus-api base URL (default: CORPUS_API_URL or local server port)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(newCollectionsCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newSynthesizeCmd())
	rootCmd.AddCommand(newCostsCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveServerURL picks the API base URL: flag, then environment, then
// the configured server port on localhost.
func resolveServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("CORPUS_API_URL"); env != "" {
		return env
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

// emitJSON writes v to stdout as indented JSON.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				_ = emitJSON(map[string]string{"version": "0.1.0"})
				return
			}
			fmt.Println("corpus-cli v0.1.0")
		},
	}
}
