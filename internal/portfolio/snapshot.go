package portfolio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"crossbot/internal/errors"
	"crossbot/internal/models"
	"crossbot/internal/signal"
)

// Snapshot is the single JSON object persisted after every evaluation:
// the full portfolio state plus the guard configuration it was produced
// under. It is always rewritten whole via atomic replace.
type Snapshot struct {
	State   models.PortfolioState `json:"state"`
	Guards  signal.GuardConfig    `json:"guards"`
	SavedAt time.Time             `json:"saved_at"`
}

// LoadSnapshot reads a snapshot from path, filling missing keys with the
// provided defaults. A missing file returns the defaults untouched.
func LoadSnapshot(path string, defaults Snapshot) (Snapshot, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return defaults, errors.Wrap(err, "reading snapshot")
	}

	s := defaults
	if err := json.Unmarshal(b, &s); err != nil {
		return defaults, errors.Wrap(err, "parsing snapshot")
	}
	if s.State.Position == "" {
		s.State.Position = models.PositionFlat
	}
	if s.State.CashUSD < 0 || s.State.CoinUnits < 0 {
		return defaults, errors.Wrap(errors.ErrConfigInvalid, "snapshot has negative balances")
	}
	return s, nil
}

// SaveSnapshot writes the snapshot to path with atomic whole-file replace.
// On failure the prior durable copy is left intact.
func SaveSnapshot(path string, s Snapshot) error {
	s.SavedAt = time.Now().UTC()
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating snapshot dir")
	}
	if err := writeFileAtomic(path, b, 0o600); err != nil {
		return errors.Wrap(errors.ErrPersistence, err.Error())
	}
	return nil
}

// TradeLogEntry is one line of the bounded trade log.
type TradeLogEntry struct {
	Timestamp time.Time           `json:"timestamp"`
	Side      models.SignalAction `json:"side"`
	Reason    string              `json:"reason"`
	Price     float64             `json:"price"`
	Units     float64             `json:"units"`
	FeeUSD    float64             `json:"fee_usd"`
	PnLUSD    float64             `json:"pnl_usd"`
}

// tradeLogCap bounds the persisted trade log to the most recent entries.
const tradeLogCap = 500

// LoadTradeLog reads the trade log from path. A missing file yields an
// empty log.
func LoadTradeLog(path string) ([]TradeLogEntry, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading trade log")
	}
	var entries []TradeLogEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrap(err, "parsing trade log")
	}
	return entries, nil
}

// AppendTradeLog appends an entry, trims to the most recent entries, and
// rewrites the log atomically. It returns the trimmed log.
func AppendTradeLog(path string, entries []TradeLogEntry, e TradeLogEntry) ([]TradeLogEntry, error) {
	entries = append(entries, e)
	if len(entries) > tradeLogCap {
		entries = entries[len(entries)-tradeLogCap:]
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return entries, errors.Wrap(err, "encoding trade log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return entries, errors.Wrap(err, "creating trade log dir")
	}
	if err := writeFileAtomic(path, b, 0o600); err != nil {
		return entries, errors.Wrap(errors.ErrPersistence, err.Error())
	}
	return entries, nil
}
