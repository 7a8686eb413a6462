// Command pgform serves schema-driven PostgreSQL object dialogs and checks
// node schema files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/pgform/internal/config"
	"github.com/matthewbaird/pgform/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "pgform",
		Short:         "Schema-driven dialogs for PostgreSQL objects",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitLogger(logger.ParseLevel(cfg.LogLevel))
		},
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	root.PersistentFlags().StringVar(&cfg.SchemaDir, "schema-dir", cfg.SchemaDir, "Directory of node schema files loaded over the built-in nodes")
	root.PersistentFlags().StringVar(&cfg.CatalogDir, "catalog-dir", cfg.CatalogDir, "Directory of option catalogs merged over the built-in ones")

	root.AddCommand(
		newServeCmd(cfg),
		newLintCmd(cfg),
		newRenderCmd(cfg),
	)
	return root
}
