package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mentalia/services/journal/internal/app"
	"mentalia/services/journal/internal/report"
)

func init() {
	var mode string
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate an empathetic mood report",
		RunE: withEnv(func(ctx context.Context, env *journalEnv, cmd *cobra.Command, _ []string) error {
			res, err := env.app.List(ctx)
			if err != nil {
				return err
			}
			if mode == "" {
				saved, err := env.app.Setting(ctx, app.SettingReportMode, "")
				if err != nil {
					return err
				}
				mode = saved
			}
			var m report.Mode
			switch mode {
			case "":
				m = report.Mode(env.cfg.ReportMode)
			case string(report.ModeFast), string(report.ModeLocal):
				m = report.Mode(mode)
			default:
				return fmt.Errorf("--mode must be fast or local")
			}
			rep := env.reports.GenerateWithMode(ctx, res.Entries, m)
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			renderReport(cmd.OutOrStdout(), rep)
			return nil
		}),
	}
	reportCmd.Flags().StringVar(&mode, "mode", "", "fast (external providers first) or local")
	rootCmd.AddCommand(reportCmd)
}
