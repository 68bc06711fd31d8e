package cmd

import (
	"fmt"

	"github.com/agentic-research/loom/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var minInDegree int

func init() {
	condenseCmd.Flags().IntVar(&minInDegree, "min-in-degree", -1, "Keep nodes with at least this many visible incoming edges (default from config)")
	rootCmd.AddCommand(condenseCmd)
}

var condenseCmd = &cobra.Command{
	Use:   "condense [id...]",
	Short: "Condense a graph to its most referenced documents and print it as JSON",
	Long: `Condense builds a graph, either the whole vault or the neighbourhood of the
given ids, removes every visible node with too few incoming references and
reconnects the survivors through the removed ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		frontier, err := parseIDs(w.session, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if len(frontier) == 0 {
			if _, err := w.session.LoadCorpus(ctx); err != nil {
				return err
			}
		} else if _, err := w.session.Expand(ctx, frontier, session.DefaultExpandOptions()); err != nil {
			return err
		}

		var pred session.ImportancePredicate
		if minInDegree >= 0 {
			pred = session.MinInDegree(minInDegree)
		}
		res, err := w.session.Condense(ctx, pred)
		if err != nil {
			return fmt.Errorf("condense: %w", err)
		}
		w.logger.Info("condensed",
			zap.Int("removed", len(res.Removed)),
			zap.Int("orphans", len(res.Orphans)),
			zap.Int("synthesized", len(res.Synthesized)))
		return printSnapshot(cmd.OutOrStdout(), w.session)
	},
}
