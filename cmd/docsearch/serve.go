package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/mcp"
	"github.com/dshills/docsearch-mcp/internal/schedule"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout is reserved for the protocol
			a, err := openApp(ctx, flags, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.sources("")
			if err != nil {
				a.logger.Warn("no sources configured, index_docs will fail until one is added")
			}

			server, err := mcp.NewServer(mcp.Deps{
				Store:    a.store,
				Indexer:  a.indexer,
				Searcher: a.searcher,
				Sources:  sources,
				Logger:   a.logger.Named("mcp"),
				Version:  version,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			if spec := a.cfg.Indexing.ReindexSchedule; spec != "" && len(sources) > 0 {
				sched := schedule.NewCronScheduler(a.logger.Named("schedule"))
				job := &schedule.ReindexJob{Indexer: a.indexer, Sources: sources, Logger: a.logger.Named("reindex")}
				if err := sched.AddJob(job, spec); err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
				a.logger.Info("scheduled reindex enabled", zap.String("schedule", spec))
			}

			a.logger.Info("MCP server ready, listening on stdio",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName),
				zap.Bool("vector_extension", storage.VectorExtensionAvailable),
				zap.Int("sources", len(sources)))

			err = server.Serve(ctx, os.Stdin, os.Stdout)
			a.logger.Info("server stopped")
			return err
		},
	}
}
