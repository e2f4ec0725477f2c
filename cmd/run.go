package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/pipeline"
)

var (
	runPlanPath     string
	runExportPath   string
	runAllowPartial bool
)

var runCmd = &cobra.Command{
	Use:   "run <workbook.xlsx> [workbook.xlsx ...]",
	Short: "Import one or more HR workbooks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := pipeline.Options{
			AllowPartial: runAllowPartial,
			ExportPath:   runExportPath,
			Progress: func(e model.ProgressEvent) {
				zap.L().Info("progress",
					zap.String("phase", e.Phase),
					zap.Int("percent", e.Percent),
					zap.String("message", e.Message),
				)
			},
		}

		if runPlanPath != "" {
			plan, err := loadPlanFile(runPlanPath)
			if err != nil {
				return err
			}
			opts.Plan = plan
		}

		if opts.ExportPath == "" && cfg.Import.ExportDir != "" {
			name := "review-" + time.Now().Format("20060102-150405") + ".xlsx"
			opts.ExportPath = filepath.Join(cfg.Import.ExportDir, name)
		}

		env, err := initPipeline(ctx, "import", opts)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, args)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("import complete",
			zap.String("run_id", result.RunID),
			zap.Int("linked", result.Summary.TotalLinked),
			zap.Int("rejected", result.Summary.TotalRejected),
			zap.Int("review_required", result.Summary.ReviewRequired),
		)

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// loadPlanFile reads an operator-supplied import plan, bypassing the
// classification oracle for the planning step.
func loadPlanFile(path string) (*model.ImportPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read plan file %s", path)
	}
	var plan model.ImportPlan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, eris.Wrapf(err, "parse plan file %s", path)
	}
	return &plan, nil
}

func init() {
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "YAML import plan (skips sheet classification)")
	runCmd.Flags().StringVar(&runExportPath, "export", "", "write a review workbook to this path")
	runCmd.Flags().BoolVar(&runAllowPartial, "allow-partial", false, "continue importing other entity types when one fails")
	rootCmd.AddCommand(runCmd)
}
