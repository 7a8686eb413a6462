package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/pgform/internal/config"
	"github.com/matthewbaird/pgform/internal/eventbus"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/server"
	"github.com/matthewbaird/pgform/internal/session"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dialog server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd, cfg)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	f.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Save store driver: sqlite or pgx")
	f.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "Save store connection string")
	f.StringVar(&cfg.OptionsURL, "options-url", cfg.OptionsURL, "Base URL of a remote options provider")
	f.StringVar(&cfg.SaveURL, "save-url", cfg.SaveURL, "URL of a remote persistence provider")
	f.DurationVar(&cfg.OptionsTTL, "options-ttl", cfg.OptionsTTL, "Lifetime of cached option lists")
	return cmd
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	log := logger.Default()

	eng, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}

	store, err := persist.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	log.WithField("driver", cfg.DBDriver).Info("save store ready")

	var provider options.Provider = eng.catalog
	if cfg.OptionsURL != "" {
		provider = options.NewHTTPProvider(cfg.OptionsURL)
	}
	var saver persist.Provider = store
	if cfg.SaveURL != "" {
		saver = persist.NewHTTPProvider(cfg.SaveURL, nil)
	}

	bus := eventbus.New(256)
	bus.Subscribe("log", eventbus.NewLogConsumer())
	bus.Start(ctx)
	defer bus.Stop()

	orch := form.NewOrchestrator(eng.reg, eng.defs, options.NewCache(provider, cfg.OptionsTTL), bus)
	for _, issue := range orch.Lint() {
		if issue.Severity == form.SeverityError {
			return fmt.Errorf("invalid node schema: %s", issue)
		}
		log.Warn(issue.String())
	}

	sessions := session.NewManager(cfg.SessionMaxAge, cfg.SessionIdle)
	defer sessions.CloseAll()
	go sessions.Run(ctx, time.Minute)

	return server.Run(ctx, server.Config{
		Addr:         cfg.Addr(),
		Orchestrator: orch,
		Sessions:     sessions,
		Saver:        saver,
		Store:        store,
		Catalog:      eng.catalog,
		Bus:          bus,
	})
}
