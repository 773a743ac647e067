package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mfinley/stepflow/internal/output"
	"github.com/mfinley/stepflow/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and validate plan documents",
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan.yaml>",
	Short: "Show a plan's ordered steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return planShowRun(args[0])
	},
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "Check plan structure: anchors, dependencies, ordering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return planValidateRun(args[0])
	},
}

func init() {
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planValidateCmd)
	rootCmd.AddCommand(planCmd)
}

func planShowRun(path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Plan:  %s\n", output.Cyan(p.ID))
	if p.Title != "" {
		fmt.Fprintf(ui.Out, "Title: %s\n", p.Title)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"#", "Anchor", "Title", "Depends on", "Artifacts"})
	for i, step := range p.Steps {
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			step.Anchor,
			step.Title,
			deps,
			fmt.Sprintf("%d", len(step.Artifacts)),
		})
	}
	return table.Render()
}

func planValidateRun(path string) error {
	p, err := plan.Load(path)
	if err != nil {
		ui.Error("%v", err)
		return err
	}
	ui.Success("Plan %s is valid: %d step(s), anchors unique, dependencies ordered", p.ID, len(p.Steps))
	return nil
}
