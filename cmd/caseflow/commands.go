package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/api"
	"github.com/kalambet/caseflow/internal/config"
	"github.com/kalambet/caseflow/internal/docinspect"
	"github.com/kalambet/caseflow/internal/history"
	"github.com/kalambet/caseflow/internal/storage"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for analysis",
	Long: `Upload a document to the analysis server and remember it locally.

Examples:
  caseflow upload ./checkout-spec.pdf
  caseflow upload ./requirements.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		info, err := docinspect.Inspect(path)
		if err != nil {
			return err
		}
		printStep("Uploading %s (%d bytes)", info.Name, info.Size)
		if info.Kind == "pdf" {
			printStatus("Pages", "%d", info.Pages)
		}
		if info.Preview != "" {
			printStatus("Preview", "%s", info.Preview)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		client := api.NewClient(cfg.Server.BaseURL)
		up, err := client.Upload(cmd.Context(), info.Name, f)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := history.NewDocumentStore(store).Add(up.Document); err != nil {
			return err
		}

		if up.Duplicate {
			printWarning("Already uploaded, reusing %s (id %s)", up.Document.OriginalName, up.Document.ID)
		} else {
			printSuccess("Uploaded %s (id %s)", up.Document.OriginalName, up.Document.ID)
		}
		return nil
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		docStore := history.NewDocumentStore(store)
		docs, err := docStore.Load()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("no documents uploaded")
			return nil
		}

		last, _ := docStore.Last()
		for _, d := range docs {
			marker := " "
			if d.ID == last {
				marker = colorize(colorGreen, "*")
			}
			fmt.Printf("%s %s  %s  %d bytes\n", marker, d.ID, colorize(colorBold, d.OriginalName), d.Size)
		}
		return nil
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a document and its archived runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := history.NewDocumentStore(store).Remove(id); err != nil {
			return err
		}
		if err := history.New(store).Clear(id); err != nil {
			return err
		}

		printSuccess("Removed %s", id)
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsRemoveCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "Show a document's archived analysis runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := history.New(store).Get(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no archived runs")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		for _, e := range entries {
			fmt.Printf("%s  %s\n", colorize(colorBold, e.SessionID), e.Timestamp.Format("2006-01-02 15:04:05"))
			for _, r := range e.AgentResults {
				fmt.Printf("    [%s] %s: %s\n", r.Stage, r.Sender, firstLine(r.Content))
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("json", false, "print full entries as JSON")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List analysis sessions on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sessions, err := api.NewClient(cfg.Server.BaseURL).Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  doc=%s  %s\n", colorize(colorBold, s.ID), s.DocumentID, s.Status)
		}
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <session-id>",
	Short: "Show the results of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		results, err := api.NewClient(cfg.Server.BaseURL).SessionResults(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(configCmd)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
