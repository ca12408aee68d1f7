package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/api"
	"github.com/kalambet/caseflow/internal/history"
	"github.com/kalambet/caseflow/internal/session"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the local analysis archive over MCP (stdio)",
	Long: `Expose uploaded documents and archived analysis runs as MCP tools
and resources over stdio, for use by MCP-capable assistants.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer kv.Close()

		hist := history.New(kv)
		store := session.New(cfg.Stages(), hist)

		docs, err := history.NewDocumentStore(kv).Load()
		if err != nil {
			return err
		}
		for _, d := range docs {
			store.AddDocument(d)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, History: hist})
		stdioSrv := server.NewStdioServer(mcpSrv)
		slog.Info("MCP server started (stdio transport)")

		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
