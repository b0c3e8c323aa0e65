package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crossbot/internal/regime"
)

func newRegimeCmd(app *App) *cobra.Command {
	var (
		symbol    string
		timeframe string
		days      int
		history   bool
	)

	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Classify the current market regime",
		Long: `Regime classifies the prevailing market condition from the most recent
stored candles. With --history it also shows the per-regime aggregates
recorded over the analysis window.`,
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
			barDur, err := timeframeDuration(timeframe)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			end := time.Now().UTC()
			from := end.Add(-time.Duration(cfg.Backtest.WindowBars+2) * barDur)
			bars, err := app.Store.GetCandles(ctx, symbol, timeframe, from, end)
			if err != nil {
				return fmt.Errorf("loading candles: %w", err)
			}

			classifier := regime.NewClassifier(regime.Config{
				LookbackPeriods:     cfg.Regime.LookbackPeriods,
				VolatilityThreshold: cfg.Regime.VolatilityThreshold,
				TrendThreshold:      cfg.Regime.TrendThreshold,
				VolumeThreshold:     cfg.Regime.VolumeThreshold,
				MomentumThreshold:   cfg.Regime.MomentumThreshold,
				HistoryCap:          cfg.Regime.HistoryCap,
			})
			m := classifier.Detect(bars)

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(m)
			}

			output.Bold("Regime: %s %s", symbol, timeframe)
			output.Printf("  regime:      %s\n", output.RegimeTag(m.Regime))
			output.Printf("  confidence:  %.2f\n", m.Confidence)
			output.Printf("  trend:       %+.4f\n", m.TrendStrength)
			output.Printf("  volatility:  %.4f\n", m.Volatility)
			output.Printf("  volume:      %+.4f\n", m.VolumeTrend)
			output.Printf("  momentum:    %+.4f\n", m.Momentum)
			output.Dim("  ema20=%.2f ema50=%.2f rsi14=%.1f atr14=%.2f close=%.2f",
				m.Indicators.EMA20, m.Indicators.EMA50, m.Indicators.RSI14,
				m.Indicators.ATR14, m.Indicators.Close)

			if history {
				start := end.AddDate(0, 0, -days)
				stats, err := app.Store.RegimeAnalysis(ctx, symbol, start, end)
				if err != nil {
					return fmt.Errorf("loading regime history: %w", err)
				}
				output.Println()
				output.Bold("Recorded regimes (last %d days):", days)
				if len(stats) == 0 {
					output.Dim("  none recorded")
				}
				for _, st := range stats {
					output.Printf("  %-10s count=%-5d conf=%.2f trend=%+.4f vol=%.4f\n",
						output.RegimeTag(st.Regime), st.Count, st.AvgConfidence,
						st.AvgTrend, st.AvgVolatility)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol override")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe override")
	cmd.Flags().IntVar(&days, "days", 30, "history window for --history")
	cmd.Flags().BoolVar(&history, "history", false, "show recorded regime aggregates")
	return cmd
}
