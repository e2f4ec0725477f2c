package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sahel-hr/import-cli/internal/oracle"
	"github.com/sahel-hr/import-cli/internal/source"
	anthropicpkg "github.com/sahel-hr/import-cli/pkg/anthropic"
)

var planCmd = &cobra.Command{
	Use:   "plan <workbook.xlsx> [workbook.xlsx ...]",
	Short: "Classify workbook sheets and print the import plan",
	Long:  "Runs only the classification step and prints the resulting plan as YAML, ready for `run --plan`.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		workbooks, err := source.Load(args)
		if err != nil {
			return err
		}

		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		o := oracle.NewAnthropic(anthropicClient, cfg.Anthropic.Model, cfg.Import.Country)

		plan, err := o.PlanImport(ctx, source.Summaries(workbooks))
		if err != nil {
			return eris.Wrap(err, "classify sheets")
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(plan)
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
