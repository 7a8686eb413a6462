package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/pgform/internal/config"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/options"
)

var (
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func newLintCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [schema-dir]",
		Short: "Check node schema files for broken references",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.SchemaDir = args[0]
			}
			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			orch := form.NewOrchestrator(eng.reg, eng.defs, options.NewCache(eng.catalog, 0), nil)
			out := cmd.OutOrStdout()
			errs := 0
			for _, issue := range orch.Lint() {
				style := warnStyle
				if issue.Severity == form.SeverityError {
					style = errorStyle
					errs++
				}
				fmt.Fprintln(out, style.Render(issue.String()))
			}
			if errs > 0 {
				return fmt.Errorf("%d schema errors", errs)
			}
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("%d nodes ok", len(eng.defs.Names()))))
			return nil
		},
	}
}
