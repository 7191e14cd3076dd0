package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/searcher"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		limit  int
		source string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documentation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if source != "" {
				if _, ok := a.cfg.Source(source); !ok {
					return fmt.Errorf("unknown source %q", source)
				}
			}

			resp, err := a.searcher.Search(cmd.Context(), searcher.SearchRequest{
				Query:  strings.Join(args, " "),
				Limit:  limit,
				Mode:   searcher.SearchMode(mode),
				Source: source,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.TotalResults == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			if resp.SearchMode == searcher.SearchModeVector {
				for i, r := range resp.Documents {
					fmt.Fprintf(out, "%d. %s (%.3f) [%s]\n   %s\n", i+1, r.Title, r.Relevance, r.Source, r.URL)
				}
				return nil
			}
			for i, r := range resp.Results {
				fmt.Fprintf(out, "%d. %s (%.3f) [%s]\n   %s\n", i+1, r.Title, r.MaxRelevance, r.Source, r.URL)
				for _, c := range r.TopChunks {
					fmt.Fprintf(out, "   - %s: %s\n", c.Section, c.Snippet)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", searcher.DefaultLimit, "maximum number of results")
	cmd.Flags().StringVar(&source, "source", "", "search only this source")
	cmd.Flags().StringVar(&mode, "mode", string(searcher.SearchModeHybrid), "search mode: hybrid, vector or keyword")
	return cmd
}
