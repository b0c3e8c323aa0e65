package cli

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crossbot/internal/backtest"
	"crossbot/internal/config"
	"crossbot/internal/models"
	"crossbot/internal/regime"
	"crossbot/pkg/utils"
)

func newBacktestCmd(app *App) *cobra.Command {
	var (
		days      int
		symbol    string
		timeframe string
		noRecord  bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over stored candles",
		Long: `Backtest replays the crossover strategy over a historical candle range
from the local store, bar by bar, with slippage and commission applied to
every fill. Results are persisted to the performance table unless
--no-record is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store unavailable: backtests read candles from it")
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

			end := time.Now().UTC()
			start := end.AddDate(0, 0, -days)
			bars, err := app.Store.GetCandles(cmd.Context(), symbol, timeframe, start, end)
			if err != nil {
				return fmt.Errorf("loading candles: %w", err)
			}

			simCfg := backtest.Config{
				StrategyName:   cfg.Strategy.Name,
				Symbol:         symbol,
				Timeframe:      timeframe,
				BarDuration:    barDur,
				FastPeriod:     cfg.Strategy.FastPeriod,
				SlowPeriod:     cfg.Strategy.SlowPeriod,
				ConfirmBars:    cfg.Strategy.ConfirmBars,
				ThresholdPct:   cfg.Strategy.ThresholdPct,
				MinHoldBars:    cfg.Strategy.MinHoldBars,
				WarmupBars:     cfg.Backtest.WarmupBars,
				WindowBars:     cfg.Backtest.WindowBars,
				InitialCashUSD: cfg.Bot.InitialCashUSD,
				TradeUSD:       cfg.Bot.TradeUSD,
				SlippageRate:   cfg.Backtest.SlippageRate,
				CommissionRate: cfg.Backtest.CommissionRate,
			}

			classifier := regime.NewClassifier(regime.Config{
				LookbackPeriods:     cfg.Regime.LookbackPeriods,
				VolatilityThreshold: cfg.Regime.VolatilityThreshold,
				TrendThreshold:      cfg.Regime.TrendThreshold,
				VolumeThreshold:     cfg.Regime.VolumeThreshold,
				MomentumThreshold:   cfg.Regime.MomentumThreshold,
				HistoryCap:          cfg.Regime.HistoryCap,
			})

			var recorder backtest.Recorder
			if !noRecord {
				recorder = app.Store
			}
			sim := backtest.NewSimulator(simCfg, classifier, recorder, app.Logger)

			result, err := sim.Run(cmd.Context(), bars)
			if err != nil {
				return err
			}

			if !noRecord {
				metrics := &models.PerformanceMetrics{
					StrategyName:       simCfg.StrategyName,
					Symbol:             symbol,
					Timeframe:          timeframe,
					TotalTrades:        result.TotalTrades,
					WinningTrades:      result.WinningTrades,
					LosingTrades:       result.LosingTrades,
					WinRate:            result.WinRate,
					TotalPnLUSD:        result.TotalPnLUSD,
					ProfitFactor:       result.ProfitFactor,
					MaxDrawdown:        result.MaxDrawdown,
					SharpeRatio:        result.SharpeRatio,
					RegimeDistribution: result.RegimeDistribution,
				}
				if result.TotalTrades > 0 {
					metrics.AvgPnLUSD = result.TotalPnLUSD / float64(result.TotalTrades)
				}
				if err := app.Store.SavePerformance(cmd.Context(), metrics); err != nil {
					return fmt.Errorf("saving performance: %w", err)
				}
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(result)
			}
			printBacktestResult(output, simCfg, len(bars), result)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "number of days of history to replay")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol override")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe override")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "skip persisting trades and performance")
	return cmd
}

func printBacktestResult(o *Output, cfg backtest.Config, bars int, r *backtest.Result) {
	o.Bold("Backtest: %s %s (%d bars)", cfg.Symbol, cfg.Timeframe, bars)
	o.Printf("  strategy:      %s fast=%d slow=%d confirm=%d\n",
		cfg.StrategyName, cfg.FastPeriod, cfg.SlowPeriod, cfg.ConfirmBars)
	o.Printf("  trades:        %d (%d wins / %d losses)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades)
	o.Printf("  win rate:      %.1f%%\n", r.WinRate*100)
	o.Printf("  total pnl:     %s\n", o.PnLString(utils.FormatUSD(r.TotalPnLUSD), r.TotalPnLUSD))
	o.Printf("  final equity:  %s\n", utils.FormatUSD(r.FinalEquity))
	o.Printf("  max drawdown:  %.2f%%\n", r.MaxDrawdown*100)
	o.Printf("  sharpe:        %.2f\n", r.SharpeRatio)
	if r.ProfitFactor > 0 {
		o.Printf("  profit factor: %.2f\n", r.ProfitFactor)
	}

	if len(r.RegimeDistribution) > 0 {
		o.Println()
		o.Bold("Regime distribution:")
		for _, reg := range []models.Regime{models.RegimeBull, models.RegimeBear,
			models.RegimeSideways, models.RegimeVolatile, models.RegimeUnknown} {
			if n, ok := r.RegimeDistribution[reg]; ok {
				o.Printf("  %-10s %d\n", o.RegimeTag(reg), n)
			}
		}
	}

	if len(r.EquityCurve) > 1 {
		o.Println()
		o.Bold("Equity curve:")
		for _, line := range renderEquityCurve(r.EquityCurve, 60, 8) {
			o.Printf("  %s\n", line)
		}
	}

	if len(r.Trades) > 0 {
		o.Println()
		o.Bold("Closed trades:")
		for _, t := range r.Trades {
			o.Printf("  %s  %s -> %s  units=%s  pnl=%s  (%s)\n",
				t.ExitTime.Format("2006-01-02 15:04"),
				utils.FormatUSD(t.EntryPrice), utils.FormatUSD(t.ExitPrice),
				utils.FormatUnits(t.Units),
				o.PnLString(utils.FormatUSD(t.PnLUSD), t.PnLUSD),
				t.Reason)
		}
	}
}

// renderEquityCurve downsamples the equity series into a width x height
// character grid.
func renderEquityCurve(curve []backtest.EquityPoint, width, height int) []string {
	if width > len(curve) {
		width = len(curve)
	}

	// Downsample by taking the last equity value of each column's slice.
	sampled := make([]float64, width)
	lo, hi := curve[0].Equity, curve[0].Equity
	for col := 0; col < width; col++ {
		idx := (col+1)*len(curve)/width - 1
		v := curve[idx].Equity
		sampled[col] = v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	grid := make([][]byte, height)
	for row := range grid {
		grid[row] = bytes.Repeat([]byte{' '}, width)
	}
	for col, v := range sampled {
		row := int(float64(height-1) * (v - lo) / span)
		grid[height-1-row][col] = '*'
	}

	lines := make([]string, 0, height+1)
	for _, row := range grid {
		lines = append(lines, string(row))
	}
	lines = append(lines, fmt.Sprintf("low %s  high %s", utils.FormatUSD(lo), utils.FormatUSD(hi)))
	return lines
}

func timeframeDuration(tf string) (time.Duration, error) {
	d, err := config.ParseTimeframe(tf)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", tf, err)
	}
	return d, nil
}
