package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crossbot/internal/models"
	"crossbot/pkg/utils"
)

func newPerformanceCmd(app *App) *cobra.Command {
	var (
		symbol    string
		timeframe string
		strategy  string
		days      int
		recalc    bool
	)

	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Show aggregated strategy performance",
		Long: `Performance shows the stored metrics for one (strategy, symbol,
timeframe) key. With --recalc the metrics are rebuilt by replaying the
recorded trade history and the stored row is updated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			cfg := app.Config
			if symbol == "" {
				symbol = cfg.Bot.Symbol
			}
			if timeframe == "" {
				timeframe = cfg.Bot.Timeframe
			}
			if strategy == "" {
				strategy = cfg.Strategy.Name
			}
			ctx := cmd.Context()

			var metrics *models.PerformanceMetrics
			var err error
			if recalc {
				end := time.Now().UTC()
				start := end.AddDate(0, 0, -days)
				metrics, err = app.Store.CalculatePerformance(ctx, strategy, symbol, timeframe, start, end)
				if err != nil {
					return fmt.Errorf("recalculating performance: %w", err)
				}
				if err := app.Store.SavePerformance(ctx, metrics); err != nil {
					return fmt.Errorf("saving performance: %w", err)
				}
			} else {
				metrics, err = app.Store.GetPerformance(ctx, strategy, symbol, timeframe)
				if err != nil {
					return fmt.Errorf("loading performance: %w", err)
				}
			}

			output := NewOutput(cmd)
			if metrics == nil {
				output.Warning("No performance recorded for %s %s %s. Run a backtest or --recalc first.",
					strategy, symbol, timeframe)
				return nil
			}
			if output.IsJSON() {
				return output.JSON(metrics)
			}

			output.Bold("Performance: %s %s %s", metrics.StrategyName, metrics.Symbol, metrics.Timeframe)
			output.Printf("  trades:        %d (%d wins / %d losses)\n",
				metrics.TotalTrades, metrics.WinningTrades, metrics.LosingTrades)
			output.Printf("  win rate:      %.1f%%\n", metrics.WinRate*100)
			output.Printf("  total pnl:     %s\n", output.PnLString(utils.FormatUSD(metrics.TotalPnLUSD), metrics.TotalPnLUSD))
			output.Printf("  avg pnl:       %s\n", utils.FormatUSD(metrics.AvgPnLUSD))
			output.Printf("  max drawdown:  %s\n", utils.FormatUSD(metrics.MaxDrawdown))
			output.Printf("  sharpe:        %.2f\n", metrics.SharpeRatio)
			if metrics.ProfitFactor > 0 {
				output.Printf("  profit factor: %.2f\n", metrics.ProfitFactor)
			}
			if !metrics.UpdatedAt.IsZero() {
				output.Dim("  updated %s", metrics.UpdatedAt.Format(time.RFC3339))
			}
			if len(metrics.RegimeDistribution) > 0 {
				output.Println()
				output.Bold("Regime distribution:")
				for reg, n := range metrics.RegimeDistribution {
					output.Printf("  %-10s %d\n", output.RegimeTag(reg), n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol override")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe override")
	cmd.Flags().StringVar(&strategy, "strategy", "", "strategy name override")
	cmd.Flags().IntVar(&days, "days", 90, "history window for --recalc")
	cmd.Flags().BoolVar(&recalc, "recalc", false, "rebuild metrics from recorded trades")
	return cmd
}
