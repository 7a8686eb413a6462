package main

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/pgform/internal/config"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/ui"
)

// settleTimeout bounds the wait for option lists before a dialog is drawn.
const settleTimeout = 200 * time.Millisecond

func newRenderCmd(cfg *config.Config) *cobra.Command {
	var (
		mode    string
		data    string
		version int
		user    string
		asHTML  bool
	)
	cmd := &cobra.Command{
		Use:   "render <node>",
		Short: "Draw the dialog of a node type in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			attrs := map[string]any{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &attrs); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}
			info := &schema.NodeInfo{
				Server:   &schema.Server{ID: 1, Version: version, Type: "pg", User: schema.User{Name: user}},
				Database: &schema.Object{ID: 1, Name: "postgres"},
				Schema:   &schema.Object{ID: 2200, Name: "public"},
			}
			m, err := model.NewArena(eng.defs, info, mode).NewTop(args[0], attrs)
			if err != nil {
				return err
			}
			orch := form.NewOrchestrator(eng.reg, eng.defs, options.NewCache(eng.catalog, 0), nil)
			f, err := orch.Open(cmd.Context(), m)
			if err != nil {
				return err
			}
			defer f.Close()
			settle(cmd.Context(), f)

			out := cmd.OutOrStdout()
			if asHTML {
				return f.View().WriteHTML(out)
			}
			fmt.Fprintln(out, ui.RenderTerminal(f.View(), ui.DefaultStyles()))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", schema.ModeCreate, "Dialog mode: create, edit or properties")
	flags.StringVar(&data, "data", "", "Object attributes as JSON")
	flags.IntVar(&version, "server-version", 160000, "Server version number")
	flags.StringVar(&user, "user", "postgres", "Connected user")
	flags.BoolVar(&asHTML, "html", false, "Write HTML instead of terminal output")
	return cmd
}

// settle applies async option completions until none arrive for a while.
func settle(ctx context.Context, f *form.Form) {
	for {
		wctx, cancel := context.WithTimeout(ctx, settleTimeout)
		err := f.Wait(wctx)
		cancel()
		if err != nil {
			return
		}
	}
}
