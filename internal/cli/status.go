package cli

import (
	"time"

	"github.com/spf13/cobra"

	"crossbot/internal/models"
	"crossbot/internal/portfolio"
	"crossbot/internal/signal"
	"crossbot/pkg/utils"
)

func newStatusCmd(app *App) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the paper portfolio state",
		Long: `Status reads the snapshot and trade log files and prints the current
portfolio: cash, open position, realized PnL, and the most recent fills.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			defaults := portfolio.Snapshot{
				State: models.PortfolioState{
					CashUSD:  cfg.Bot.InitialCashUSD,
					Position: models.PositionFlat,
				},
				Guards: signal.GuardConfig{
					ConfirmBars:  cfg.Strategy.ConfirmBars,
					ThresholdPct: cfg.Strategy.ThresholdPct,
					MinHoldBars:  cfg.Strategy.MinHoldBars,
				},
			}
			snap, err := portfolio.LoadSnapshot(cfg.Bot.SnapshotPath, defaults)
			if err != nil {
				return err
			}
			tradeLog, err := portfolio.LoadTradeLog(cfg.Bot.TradeLogPath)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"snapshot":  snap,
					"trade_log": tradeLog,
				})
			}

			st := snap.State
			output.Bold("Portfolio: %s", cfg.Bot.Symbol)
			output.Printf("  cash:         %s\n", utils.FormatUSD(st.CashUSD))
			output.Printf("  position:     %s\n", st.Position)
			if st.Position == models.PositionLong {
				output.Printf("  units:        %s @ %s\n",
					utils.FormatUnits(st.CoinUnits), utils.FormatUSD(st.EntryPrice))
			}
			output.Printf("  realized pnl: %s\n",
				output.PnLString(utils.FormatUSD(st.RealizedPnLUSD), st.RealizedPnLUSD))
			output.Printf("  fees paid:    %s\n", utils.FormatUSD(st.FeesPaidUSD))
			if !st.LastTradeBarAt.IsZero() {
				output.Printf("  last trade:   %s\n", st.LastTradeBarAt.Format(time.RFC3339))
			}
			if st.LastSkipReason != "" {
				output.Dim("  last skip:    %s", st.LastSkipReason)
			}
			if !snap.SavedAt.IsZero() {
				output.Dim("  snapshot saved %s", snap.SavedAt.Format(time.RFC3339))
			}

			if len(tradeLog) > 0 {
				start := len(tradeLog) - tail
				if start < 0 {
					start = 0
				}
				output.Println()
				output.Bold("Recent fills:")
				for _, e := range tradeLog[start:] {
					output.Printf("  %s  %-4s %s @ %s  fee=%s  pnl=%s  (%s)\n",
						e.Timestamp.Format("2006-01-02 15:04"), e.Side,
						utils.FormatUnits(e.Units), utils.FormatUSD(e.Price),
						utils.FormatUSD(e.FeeUSD),
						output.PnLString(utils.FormatUSD(e.PnLUSD), e.PnLUSD),
						e.Reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 10, "number of recent fills to show")
	return cmd
}
