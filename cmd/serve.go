package cmd

import (
	"github.com/agentic-research/loom/internal/mcpserver"
	"github.com/agentic-research/loom/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchVault bool

func init() {
	serveCmd.Flags().BoolVar(&watchVault, "watch", true, "Refresh the graph when vault files change")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a live graph session over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		w, err := openWorkspace(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		if watchVault {
			wt, err := watch.New(vaultPath, w.vault, w.session, watch.WithLogger(w.logger))
			if err != nil {
				return err
			}
			if err := wt.Start(ctx); err != nil {
				return err
			}
			defer wt.Stop()
		}

		w.logger.Info("serving MCP on stdio", zap.String("session", w.session.ID()))
		return mcpserver.ServeStdio(mcpserver.New(w.session, w.logger))
	},
}
