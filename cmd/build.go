package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/agentic-research/loom/internal/store"
	"github.com/agentic-research/loom/internal/vault"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var buildCmd = &cobra.Command{
	Use:   "build [vault] [output.db]",
	Short: "Archive a vault into a SQLite database that loom can serve as a read-only store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		output := args[1]

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		// 1. Scan
		v := vault.New(osfs.New(source), vault.WithLogger(logger))
		if err := v.Scan(cmd.Context()); err != nil {
			return fmt.Errorf("scan vault %s: %w", source, err)
		}

		// 2. Setup Writer
		_ = os.Remove(output) // Overwrite
		writer, err := store.NewSQLiteWriter(output, logger)
		if err != nil {
			return err
		}

		// 3. Write
		start := time.Now()
		fmt.Fprintf(cmd.ErrOrStderr(), "Building %s from %s...\n", output, source)
		docs, links, err := store.WriteVault(cmd.Context(), v, writer)
		if err != nil {
			_ = writer.Close()
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		logger.Info("archive written", zap.String("output", output), zap.Int("documents", docs), zap.Int("links", links))
		fmt.Fprintf(cmd.ErrOrStderr(), "Done in %v: %d documents, %d links.\n", time.Since(start), docs, links)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
