package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crossbot/internal/bot"
	"crossbot/internal/feed"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live paper trading loop",
		Long: `Run evaluates the crossover strategy on every poll tick: it fetches
the latest closed candles, classifies the market regime, decides, and
executes paper fills. Stop with Ctrl-C; portfolio state survives restarts
via the snapshot file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store unavailable: the run loop needs candle data")
			}

			session, err := bot.NewSession(app.Config, feed.NewSQLiteFeed(app.Store), app.Store, app.Logger)
			if err != nil {
				return fmt.Errorf("initializing session: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			output := NewOutput(cmd)
			output.Info("Paper trading %s on %s bars. Ctrl-C to stop.",
				app.Config.Bot.Symbol, app.Config.Bot.Timeframe)

			if err := session.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			st := session.State()
			output.Println()
			output.Bold("Final state:")
			output.Printf("  cash:         $%.2f\n", st.CashUSD)
			output.Printf("  position:     %s\n", st.Position)
			output.Printf("  realized pnl: %s\n", output.PnLString(fmt.Sprintf("$%.2f", st.RealizedPnLUSD), st.RealizedPnLUSD))
			return nil
		},
	}
	return cmd
}
