package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing state and store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.sources(source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, src := range sources {
				st, err := a.indexer.Status(cmd.Context(), src)
				if err != nil {
					return fmt.Errorf("source %s: %w", src.Name, err)
				}
				fmt.Fprintf(out, "Source %s (version %q): %s\n", st.Source, st.Version, st.State)
				fmt.Fprintf(out, "  Files: %d total, %d processed, %d failed, %d pending\n",
					st.Total, st.Processed, st.Failed, st.Pending)
				fmt.Fprintf(out, "  Documents: %d\n", st.Documents)
				if st.LastRunErr != "" {
					fmt.Fprintf(out, "  Last error: %s\n", st.LastRunErr)
				}
			}

			store, err := a.store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Store: %d documents, %d elements, %d relationships, %.2f MB\n",
				store.Documents, store.Elements, store.Relationships, store.IndexSizeMB)
			fmt.Fprintf(out, "  Dimension: %d, build mode: %s, vector extension: %v, schema: %s\n",
				store.Dimension, store.BuildMode, store.VectorExtension, store.SchemaVersion)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "report only this source")
	return cmd
}
