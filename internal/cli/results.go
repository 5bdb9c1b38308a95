package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dyike/TradingAgentsGo/internal/display"
	"github.com/dyike/TradingAgentsGo/internal/storage"
	"github.com/dyike/TradingAgentsGo/models"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export RESULTS_DIR",
		Short: "Render a finished analysis as markdown, html or pdf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			path, err := exportBundle(args[0], format, out)
			if err != nil {
				return err
			}
			DisplaySuccess(cmd.OutOrStdout(), "exported "+path)
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", storage.FormatMarkdown, "Output format: markdown, html, pdf")
	cmd.Flags().StringP("out", "o", "", "Output file (defaults to <RESULTS_DIR>/report.<ext>)")
	return cmd
}

func exportBundle(dir, format, out string) (string, error) {
	exp, err := storage.NewExporter(format)
	if err != nil {
		return "", err
	}
	b, err := storage.LoadBundle(dir)
	if err != nil {
		return "", err
	}
	data, err := exp.Export(b)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", exp.Format(), err)
	}
	if out == "" {
		out = filepath.Join(dir, "report"+exp.Extension())
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show RESULTS_DIR",
		Short: "Print a finished analysis in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := storage.LoadBundle(args[0])
			if err != nil {
				return err
			}
			display.NewResultsDisplay(cmd.OutOrStdout()).DisplayBundle(b)
			return nil
		},
	}
}

func newResultsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List finished analyses, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			fromMongo, _ := cmd.Flags().GetBool("mongo")

			var rows []storage.Summary
			if fromMongo {
				eng, err := e.Engine(cmd.Context())
				if err != nil {
					return err
				}
				if eng.Reports == nil {
					return fmt.Errorf("mongodb is not configured")
				}
				bundles, err := eng.Reports.ListRecent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, b := range bundles {
					rows = append(rows, storage.Summary{Bundle: b})
				}
			} else {
				var err error
				rows, err = storage.ListResults(e.cfg.Paths.ResultsDir, limit)
				if err != nil {
					return err
				}
			}
			if len(rows) == 0 {
				DisplayInfo(cmd.OutOrStdout(), "no results yet")
				return nil
			}
			return printResults(cmd, rows)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of results")
	cmd.Flags().Bool("mongo", false, "Read from the MongoDB report store instead of disk")
	return cmd
}

func printResults(cmd *cobra.Command, rows []storage.Summary) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tDATE\tACTION\tCONF\tCOST\tCOMPLETED\tDIR")
	for _, r := range rows {
		b := r.Bundle
		action, conf := "-", "-"
		if b.Decision != nil {
			action = b.Decision.Action
			conf = fmt.Sprintf("%.0f%%", b.Decision.Confidence*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%.4f\t%s\t%s\n",
			b.Ticker, b.AnalysisDate, action, conf, bundleCost(b), b.CompletedAt.Format("2006-01-02 15:04"), r.Dir)
	}
	return tw.Flush()
}

func bundleCost(b *models.ReportBundle) float64 {
	if b.Cost > 0 {
		return b.Cost
	}
	return b.Usage.Cost
}
