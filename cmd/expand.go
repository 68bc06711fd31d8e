package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/mcpserver"
	"github.com/agentic-research/loom/internal/session"
	"github.com/spf13/cobra"
)

var (
	expandOut      bool
	expandIn       bool
	filterQuery    string
	visibleOnly    bool
	includeContent bool
)

func init() {
	expandCmd.Flags().BoolVar(&expandOut, "out", true, "Follow outgoing references")
	expandCmd.Flags().BoolVar(&expandIn, "in", true, "Follow incoming references")
	for _, c := range []*cobra.Command{expandCmd, condenseCmd} {
		c.Flags().StringVarP(&filterQuery, "filter", "f", "", "JSONPath filter applied before printing")
		c.Flags().BoolVar(&visibleOnly, "visible", false, "Print only nodes passing the filters")
		c.Flags().BoolVar(&includeContent, "content", false, "Include document bodies")
	}
	rootCmd.AddCommand(expandCmd)
}

var expandCmd = &cobra.Command{
	Use:   "expand <id>...",
	Short: "Expand documents and print the resulting graph as JSON",
	Long: `Expand pulls the neighbourhood of each given node into an empty graph and
prints it. Ids are "<name>:<store>"; a bare name is a core document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !expandOut && !expandIn {
			return fmt.Errorf("--out and --in cannot both be false")
		}
		w, err := openWorkspace(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		frontier, err := parseIDs(w.session, args)
		if err != nil {
			return err
		}

		opts := session.ExpandOptions{IncludeOutLinks: expandOut, IncludeInLinks: expandIn}
		if _, err := w.session.Expand(cmd.Context(), frontier, opts); err != nil {
			return err
		}
		return printSnapshot(cmd.OutOrStdout(), w.session)
	},
}

func parseIDs(s *session.Session, args []string) ([]graph.Identity, error) {
	known := mcpserver.StoreIDs(s)
	out := make([]graph.Identity, 0, len(args))
	for _, a := range args {
		id, err := mcpserver.ParseID(a, known)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func printSnapshot(out io.Writer, s *session.Session) error {
	if filterQuery != "" {
		if err := s.SearchFilter(filterQuery); err != nil {
			return err
		}
	}
	snap, err := s.Snapshot(session.SnapshotOptions{VisibleOnly: visibleOnly, OmitContent: !includeContent})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
