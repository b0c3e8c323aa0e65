package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crossbot/internal/models"
)

func newImportCmd(app *App) *cobra.Command {
	var (
		symbol    string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load candles into the local store",
		Long: `Import reads OHLCV candles from a JSON or CSV file and bulk-upserts
them into the candles table. JSON files hold an array of objects with
timestamp/open/high/low/close/volume keys; CSV files use the same columns
with a header row. Timestamps are RFC 3339 or unix seconds.`,
		Args: cobra.ExactArgs(1),
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
			if _, err := timeframeDuration(timeframe); err != nil {
				return err
			}

			candles, err := readCandleFile(args[0])
			if err != nil {
				return err
			}
			if len(candles) == 0 {
				return fmt.Errorf("no candles found in %s", args[0])
			}
			sort.Slice(candles, func(i, j int) bool {
				return candles[i].Timestamp.Before(candles[j].Timestamp)
			})

			if err := app.Store.SaveCandles(cmd.Context(), symbol, timeframe, candles); err != nil {
				return fmt.Errorf("saving candles: %w", err)
			}

			output := NewOutput(cmd)
			output.Success("Imported %d candles for %s %s (%s .. %s)",
				len(candles), symbol, timeframe,
				candles[0].Timestamp.Format(time.RFC3339),
				candles[len(candles)-1].Timestamp.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol override")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe override")
	return cmd
}

// rawTimestamp accepts either a JSON string (RFC 3339) or a number
// (unix seconds).
type rawTimestamp string

func (t *rawTimestamp) UnmarshalJSON(data []byte) error {
	*t = rawTimestamp(strings.Trim(string(data), `"`))
	return nil
}

type candleRecord struct {
	Timestamp rawTimestamp `json:"timestamp"`
	Open      float64      `json:"open"`
	High      float64      `json:"high"`
	Low       float64      `json:"low"`
	Close     float64      `json:"close"`
	Volume    float64      `json:"volume"`
}

func readCandleFile(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// Peek the first non-space byte to pick the format.
	var head [1]byte
	for {
		if _, err := f.Read(head[:]); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if head[0] != ' ' && head[0] != '\n' && head[0] != '\t' && head[0] != '\r' {
			break
		}
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	if head[0] == '[' {
		return readCandleJSON(f)
	}
	return readCandleCSV(f)
}

func readCandleJSON(f *os.File) ([]models.Candle, error) {
	var records []candleRecord
	if err := json.NewDecoder(f).Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing JSON candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(records))
	for i, r := range records {
		ts, err := parseCandleTime(string(r.Timestamp))
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

func readCandleCSV(f *os.File) ([]models.Candle, error) {
	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV candles: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	candles := make([]models.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: expected 6 columns, got %d", i+2, len(row))
		}
		ts, err := parseCandleTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		vals := make([]float64, 5)
		for j := 1; j < 6; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+2, j+1, err)
			}
			vals[j-1] = v
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}

func parseCandleTime(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}
