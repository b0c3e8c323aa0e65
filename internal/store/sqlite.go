// Package store provides the durable performance store backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crossbot/internal/errors"
	"crossbot/internal/models"
)

// Store persists trades, regime snapshots, and aggregated performance
// metrics. All calls are blocking round trips; callers sequence them.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and initializes
// the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	-- Candles table for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Trades table: insert-only log of executed buys and sells
	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		signal TEXT NOT NULL,
		reason TEXT,
		price REAL NOT NULL,
		units REAL NOT NULL,
		fee_usd REAL NOT NULL DEFAULT 0,
		pnl_usd REAL NOT NULL DEFAULT 0,
		market_regime TEXT,
		regime_confidence REAL,
		regime_trend REAL,
		regime_volatility REAL,
		volume REAL,
		timeframe TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Performance table: one row per (strategy, symbol, timeframe)
	CREATE TABLE IF NOT EXISTS performance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		winning_trades INTEGER NOT NULL DEFAULT 0,
		losing_trades INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		total_pnl_usd REAL NOT NULL DEFAULT 0,
		avg_pnl_usd REAL NOT NULL DEFAULT 0,
		profit_factor REAL NOT NULL DEFAULT 0,
		max_drawdown REAL NOT NULL DEFAULT 0,
		sharpe_ratio REAL NOT NULL DEFAULT 0,
		regime_distribution TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(strategy_name, symbol, timeframe)
	);

	-- Market regimes table: insert-only log of classifications
	CREATE TABLE IF NOT EXISTS market_regimes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		regime TEXT NOT NULL,
		confidence REAL NOT NULL,
		trend REAL NOT NULL,
		volatility REAL NOT NULL,
		volume_trend REAL NOT NULL,
		momentum REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_name);
	CREATE INDEX IF NOT EXISTS idx_regimes_symbol ON market_regimes(symbol);
	CREATE INDEX IF NOT EXISTS idx_regimes_timestamp ON market_regimes(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database in one transaction.
func (s *Store) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles ordered by timestamp ascending.
func (s *Store) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	return candles, rows.Err()
}

// ============================================================================
// Trades Methods
// ============================================================================

// RecordTrade appends an executed trade. Trade rows are never updated.
func (s *Store) RecordTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (trade_id, timestamp, strategy_name, symbol, signal, reason, price, units, fee_usd, pnl_usd, market_regime, regime_confidence, regime_trend, regime_volatility, volume, timeframe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Timestamp, t.StrategyName, t.Symbol, string(t.Signal), t.Reason, t.Price, t.Units, t.FeeUSD, t.PnLUSD,
		string(t.MarketRegime), t.RegimeConfidence, t.RegimeTrend, t.RegimeVolatility, t.Volume, t.Timeframe)
	if err != nil {
		return errors.NewStoreError("insert", "trades", err)
	}
	return nil
}

// TradeFilter narrows GetTrades results.
type TradeFilter struct {
	Strategy  string
	Symbol    string
	Timeframe string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// GetTrades retrieves trades ordered by timestamp ascending.
func (s *Store) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT trade_id, timestamp, strategy_name, symbol, signal, COALESCE(reason, ''), price, units, fee_usd, pnl_usd,
		COALESCE(market_regime, 'unknown'), COALESCE(regime_confidence, 0), COALESCE(regime_trend, 0), COALESCE(regime_volatility, 0),
		COALESCE(volume, 0), COALESCE(timeframe, '') FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Strategy != "" {
		query += " AND strategy_name = ?"
		args = append(args, filter.Strategy)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, filter.Timeframe)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var signal, regime string
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.StrategyName, &t.Symbol, &signal, &t.Reason, &t.Price, &t.Units,
			&t.FeeUSD, &t.PnLUSD, &regime, &t.RegimeConfidence, &t.RegimeTrend, &t.RegimeVolatility, &t.Volume, &t.Timeframe); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Signal = models.SignalAction(signal)
		t.MarketRegime = models.Regime(regime)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Market Regimes Methods
// ============================================================================

// RecordMarketRegime appends a regime classification for a symbol.
func (s *Store) RecordMarketRegime(ctx context.Context, symbol string, m models.RegimeMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_regimes (timestamp, symbol, regime, confidence, trend, volatility, volume_trend, momentum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Timestamp, symbol, string(m.Regime), m.Confidence, m.TrendStrength, m.Volatility, m.VolumeTrend, m.Momentum)
	if err != nil {
		return errors.NewStoreError("insert", "market_regimes", err)
	}
	return nil
}

// RegimeStat is one group of the regime analysis.
type RegimeStat struct {
	Regime        models.Regime
	Count         int
	AvgConfidence float64
	AvgTrend      float64
	AvgVolatility float64
}

// RegimeAnalysis groups regime rows by label with averaged components,
// for correlation analysis against trade outcomes.
func (s *Store) RegimeAnalysis(ctx context.Context, symbol string, start, end time.Time) ([]RegimeStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT regime, COUNT(*), COALESCE(AVG(confidence), 0), COALESCE(AVG(trend), 0), COALESCE(AVG(volatility), 0)
		FROM market_regimes
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY regime
		ORDER BY COUNT(*) DESC
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime analysis: %w", err)
	}
	defer rows.Close()

	var stats []RegimeStat
	for rows.Next() {
		var st RegimeStat
		var regime string
		if err := rows.Scan(&regime, &st.Count, &st.AvgConfidence, &st.AvgTrend, &st.AvgVolatility); err != nil {
			return nil, fmt.Errorf("failed to scan regime stat: %w", err)
		}
		st.Regime = models.Regime(regime)
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// RegimeDistribution returns per-label classification counts for a symbol
// and date range.
func (s *Store) RegimeDistribution(ctx context.Context, symbol string, start, end time.Time) (map[models.Regime]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT regime, COUNT(*) FROM market_regimes
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY regime
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[models.Regime]int)
	for rows.Next() {
		var regime string
		var count int
		if err := rows.Scan(&regime, &count); err != nil {
			return nil, fmt.Errorf("failed to scan regime count: %w", err)
		}
		dist[models.Regime(regime)] = count
	}

	return dist, rows.Err()
}

// ============================================================================
// Performance Methods
// ============================================================================

// SavePerformance upserts the aggregated metrics row keyed by
// (strategy, symbol, timeframe).
func (s *Store) SavePerformance(ctx context.Context, m *models.PerformanceMetrics) error {
	dist, _ := json.Marshal(m.RegimeDistribution)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance (strategy_name, symbol, timeframe, total_trades, winning_trades, losing_trades, win_rate, total_pnl_usd, avg_pnl_usd, profit_factor, max_drawdown, sharpe_ratio, regime_distribution, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_name, symbol, timeframe) DO UPDATE SET
			total_trades = excluded.total_trades,
			winning_trades = excluded.winning_trades,
			losing_trades = excluded.losing_trades,
			win_rate = excluded.win_rate,
			total_pnl_usd = excluded.total_pnl_usd,
			avg_pnl_usd = excluded.avg_pnl_usd,
			profit_factor = excluded.profit_factor,
			max_drawdown = excluded.max_drawdown,
			sharpe_ratio = excluded.sharpe_ratio,
			regime_distribution = excluded.regime_distribution,
			updated_at = excluded.updated_at
	`, m.StrategyName, m.Symbol, m.Timeframe, m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate,
		m.TotalPnLUSD, m.AvgPnLUSD, m.ProfitFactor, m.MaxDrawdown, m.SharpeRatio, string(dist), time.Now())
	if err != nil {
		return errors.NewStoreError("upsert", "performance", err)
	}
	return nil
}

// GetPerformance retrieves the stored metrics row, or nil if absent.
func (s *Store) GetPerformance(ctx context.Context, strategy, symbol, timeframe string) (*models.PerformanceMetrics, error) {
	var m models.PerformanceMetrics
	var distJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT strategy_name, symbol, timeframe, total_trades, winning_trades, losing_trades, win_rate, total_pnl_usd, avg_pnl_usd, profit_factor, max_drawdown, sharpe_ratio, COALESCE(regime_distribution, '{}'), updated_at
		FROM performance WHERE strategy_name = ? AND symbol = ? AND timeframe = ?
	`, strategy, symbol, timeframe).Scan(&m.StrategyName, &m.Symbol, &m.Timeframe, &m.TotalTrades, &m.WinningTrades,
		&m.LosingTrades, &m.WinRate, &m.TotalPnLUSD, &m.AvgPnLUSD, &m.ProfitFactor, &m.MaxDrawdown, &m.SharpeRatio, &distJSON, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get performance: %w", err)
	}

	if err := json.Unmarshal([]byte(distJSON), &m.RegimeDistribution); err != nil {
		return nil, errors.NewStoreError("decode", "performance", err)
	}
	return &m, nil
}

// CalculatePerformance recomputes metrics from scratch by replaying the
// ordered buy/sell rows in range with single-position semantics: a sell
// closes the most recent unmatched buy.
func (s *Store) CalculatePerformance(ctx context.Context, strategy, symbol, timeframe string, start, end time.Time) (*models.PerformanceMetrics, error) {
	trades, err := s.GetTrades(ctx, TradeFilter{
		Strategy:  strategy,
		Symbol:    symbol,
		Timeframe: timeframe,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		return nil, err
	}

	m := &models.PerformanceMetrics{
		StrategyName:       strategy,
		Symbol:             symbol,
		Timeframe:          timeframe,
		RegimeDistribution: make(map[models.Regime]int),
	}

	var openBuys []models.Trade
	var pairPnLs []float64
	for _, t := range trades {
		m.RegimeDistribution[t.MarketRegime]++
		switch t.Signal {
		case models.SignalBuy:
			openBuys = append(openBuys, t)
		case models.SignalSell:
			if len(openBuys) == 0 {
				continue // unmatched sell, nothing to close
			}
			buy := openBuys[len(openBuys)-1]
			openBuys = openBuys[:len(openBuys)-1]
			pnl := (t.Price-buy.Price)*t.Units - t.FeeUSD - buy.FeeUSD
			pairPnLs = append(pairPnLs, pnl)
		}
	}

	m.TotalTrades = len(pairPnLs)
	var grossWins, grossLosses, cum, peak, maxDD float64
	for _, pnl := range pairPnLs {
		m.TotalPnLUSD += pnl
		if pnl > 0 {
			m.WinningTrades++
			grossWins += pnl
		} else {
			m.LosingTrades++
			grossLosses += -pnl
		}
		cum += pnl
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	m.MaxDrawdown = maxDD

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgPnLUSD = m.TotalPnLUSD / float64(m.TotalTrades)
	}
	if grossLosses > 0 {
		m.ProfitFactor = grossWins / grossLosses
	}
	m.SharpeRatio = sharpe(pairPnLs)
	m.UpdatedAt = time.Now()

	return m, nil
}

// sharpe returns mean/stdev of the per-trade PnLs, 0 with fewer than two
// trades or zero variance.
func sharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var total float64
	for _, p := range pnls {
		total += p
	}
	avg := total / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - avg
		variance += diff * diff
	}
	variance /= float64(len(pnls))
	if variance == 0 {
		return 0
	}
	return avg / math.Sqrt(variance)
}
