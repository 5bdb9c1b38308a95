package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/TradingAgentsGo/internal/dataflows"
)

// newDataCmd exposes the data access layer for ad-hoc inspection. Every
// answer goes through the same cache tiers the agents use.
func newDataCmd(e *env) *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Query the market data layer directly",
	}

	withData := func(run func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}
			return run(cmd, eng.Data, args)
		}
	}
	dateFlag := func(cmd *cobra.Command) (time.Time, error) {
		s, _ := cmd.Flags().GetString("date")
		return dataflows.ParseDate(s)
	}

	barsCmd := &cobra.Command{
		Use:   "bars TICKER",
		Short: "Daily OHLCV bars ending at --date",
		Args:  cobra.ExactArgs(1),
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			end, err := dateFlag(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")
			res, err := dl.GetHistoricalBars(cmd.Context(), strings.ToUpper(args[0]), end.AddDate(0, 0, -days), end)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		}),
	}
	barsCmd.Flags().Int("days", 30, "Calendar days of history")

	indicatorCmd := &cobra.Command{
		Use:   "indicator TICKER NAME",
		Short: "Technical indicator values, e.g. rsi, macd, close_50_sma",
		Args:  cobra.ExactArgs(2),
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}
			lookBack, _ := cmd.Flags().GetInt("lookback")
			text, err := dl.Indicator(cmd.Context(), strings.ToUpper(args[0]), args[1], date, lookBack)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		}),
	}
	indicatorCmd.Flags().Int("lookback", 30, "Days of values to print")

	newsCmd := &cobra.Command{
		Use:   "news TICKER",
		Short: "Company news for the week before --date",
		Args:  cobra.ExactArgs(1),
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			end, err := dateFlag(cmd)
			if err != nil {
				return err
			}
			res, err := dl.GetCompanyNews(cmd.Context(), strings.ToUpper(args[0]), end.AddDate(0, 0, -7), end)
			if err != nil {
				return err
			}
			return printText(cmd.OutOrStdout(), res)
		}),
	}

	fundamentalsCmd := &cobra.Command{
		Use:   "fundamentals TICKER",
		Short: "Fundamentals snapshot as of --date",
		Args:  cobra.ExactArgs(1),
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			date, err := dateFlag(cmd)
			if err != nil {
				return err
			}
			res, err := dl.GetFundamentals(cmd.Context(), strings.ToUpper(args[0]), date)
			if err != nil {
				return err
			}
			return printText(cmd.OutOrStdout(), res)
		}),
	}

	indicesCmd := &cobra.Command{
		Use:   "indices [SYMBOL...]",
		Short: "Index and sector ETF quotes",
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			quotes, err := dl.GetIndicesSnapshot(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), quotes)
		}),
	}

	trendingCmd := &cobra.Command{
		Use:   "trending",
		Short: "Top gainers, losers and most active stocks",
		RunE: withData(func(cmd *cobra.Command, dl *dataflows.DataLayer, args []string) error {
			t, err := dl.GetTrendingUniverse(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), t)
		}),
	}

	for _, c := range []*cobra.Command{barsCmd, indicatorCmd, newsCmd, fundamentalsCmd} {
		c.Flags().String("date", time.Now().Format("2006-01-02"), "As-of date in YYYY-MM-DD format")
	}
	dataCmd.AddCommand(barsCmd, indicatorCmd, newsCmd, fundamentalsCmd, indicesCmd, trendingCmd)
	return dataCmd
}

func printText(w io.Writer, res *dataflows.TextResult) error {
	stale := ""
	if res.Stale {
		stale = " (stale)"
	}
	fmt.Fprintln(w, pendingStyle.Render("source: "+res.Source+stale))
	_, err := fmt.Fprintln(w, res.Text)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
