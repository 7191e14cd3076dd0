package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/docsearch-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// globalFlags are shared by every command
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:          "docsearch",
		Short:        "Index and semantically search HTML documentation",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.docsearch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "database path (overrides config and DOCSEARCH_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print build information")

	rootCmd.AddCommand(
		newIndexCmd(flags),
		newSearchCmd(flags),
		newStatusCmd(flags),
		newServeCmd(flags),
	)
	return rootCmd
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "docsearch MCP Server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
}
