package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

const paperSchema = `
CREATE TABLE IF NOT EXISTS paper_positions (
    id            TEXT PRIMARY KEY,
    signal_id     TEXT     NOT NULL UNIQUE,
    strategy      TEXT     NOT NULL,
    symbol        TEXT     NOT NULL,
    timeframe     TEXT     NOT NULL,
    bar_time      DATETIME NOT NULL,
    bar_index     INTEGER  NOT NULL,
    direction     TEXT     NOT NULL,
    entry         REAL     NOT NULL,
    stop_loss     REAL     NOT NULL,
    take_profit   REAL     NOT NULL DEFAULT 0,
    risk_reward   REAL     NOT NULL DEFAULT 0,
    reason        TEXT,
    status        TEXT     NOT NULL DEFAULT 'OPEN',
    opened_at     DATETIME NOT NULL,
    risk_amount   REAL     NOT NULL DEFAULT 0,
    balance_open  REAL     NOT NULL DEFAULT 0,
    exit_price    REAL     NOT NULL DEFAULT 0,
    closed_at     DATETIME,
    pnl           REAL     NOT NULL DEFAULT 0,
    balance_after REAL     NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_paper_positions_status ON paper_positions(status);
CREATE INDEX IF NOT EXISTS idx_paper_positions_strat  ON paper_positions(strategy, symbol, opened_at);
`

const positionColumns = `
	id, signal_id, strategy, symbol, timeframe, bar_time, bar_index, direction,
	entry, stop_loss, take_profit, risk_reward, reason,
	status, opened_at, risk_amount, balance_open, exit_price, closed_at, pnl, balance_after`

// ApplyPaperSchema creates paper trading tables if they don't exist.
func (s *SQLiteStorage) ApplyPaperSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, paperSchema); err != nil {
		return fmt.Errorf("storage.ApplyPaperSchema: %w", err)
	}
	return nil
}

// SavePosition inserts a newly opened position.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	sig := p.Signal
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paper_positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, sig.ID, sig.Strategy, sig.Symbol, string(sig.Timeframe), fmtTime(sig.Time), sig.BarIndex,
		string(sig.Direction), sig.Entry, sig.StopLoss, sig.TakeProfit, sig.RiskReward, sig.Reason,
		string(p.Status), fmtTime(p.OpenedAt), p.RiskAmount, p.BalanceAtOpen, p.ExitPrice, closedAt(p), p.PnL, p.BalanceAfter,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %w", err)
	}
	return nil
}

// ClosePosition records the outcome of a resolved position.
func (s *SQLiteStorage) ClosePosition(ctx context.Context, p domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE paper_positions
		SET status = ?, exit_price = ?, closed_at = ?, pnl = ?, balance_after = ?
		WHERE id = ? AND status = 'OPEN'`,
		string(p.Status), p.ExitPrice, closedAt(p), p.PnL, p.BalanceAfter, p.ID,
	)
	if err != nil {
		return fmt.Errorf("storage.ClosePosition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.ClosePosition: position %s not open", p.ID)
	}
	return nil
}

// GetOpenPositions returns every open position, oldest first.
func (s *SQLiteStorage) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.queryPositions(ctx, "storage.GetOpenPositions", `
		SELECT `+positionColumns+` FROM paper_positions
		WHERE status = 'OPEN'
		ORDER BY opened_at, id`)
}

// GetClosedPositions returns resolved positions in the order they closed.
func (s *SQLiteStorage) GetClosedPositions(ctx context.Context) ([]domain.Position, error) {
	return s.queryPositions(ctx, "storage.GetClosedPositions", `
		SELECT `+positionColumns+` FROM paper_positions
		WHERE status != 'OPEN'
		ORDER BY closed_at, id`)
}

// CountOpenedSince counts positions for strategy+symbol opened at or after since.
func (s *SQLiteStorage) CountOpenedSince(ctx context.Context, strategy, symbol string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM paper_positions
		WHERE strategy = ? AND symbol = ? AND opened_at >= ?`,
		strategy, symbol, fmtTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.CountOpenedSince: %w", err)
	}
	return n, nil
}

// HasSignal reports whether a position was already opened for the signal.
func (s *SQLiteStorage) HasSignal(ctx context.Context, signalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paper_positions WHERE signal_id = ?`, signalID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.HasSignal: %w", err)
	}
	return n > 0, nil
}

// GetPaperStats aggregates every position into the paper report.
func (s *SQLiteStorage) GetPaperStats(ctx context.Context, initialBalance float64) (domain.PaperStats, error) {
	stats := domain.PaperStats{
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		BySymbol:       map[string]domain.SymbolStats{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, status, COUNT(*), COALESCE(SUM(pnl), 0)
		FROM paper_positions
		GROUP BY symbol, status`)
	if err != nil {
		return stats, fmt.Errorf("storage.GetPaperStats: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol, status string
		var n int
		var pnl float64
		if err := rows.Scan(&symbol, &status, &n, &pnl); err != nil {
			return stats, fmt.Errorf("storage.GetPaperStats: scan: %w", err)
		}
		sym := stats.BySymbol[symbol]
		sym.Positions += n
		stats.TotalPositions += n
		switch domain.PositionStatus(status) {
		case domain.PositionOpen:
			stats.OpenPositions += n
		case domain.PositionWon:
			sym.Wins += n
			stats.Wins += n
		case domain.PositionLost:
			sym.Losses += n
			stats.Losses += n
		}
		sym.PnL += pnl
		stats.TotalPnL += pnl
		stats.BySymbol[symbol] = sym
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("storage.GetPaperStats: %w", err)
	}

	stats.Balance = initialBalance + stats.TotalPnL
	if closed := stats.Wins + stats.Losses; closed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(closed) * 100
	}
	if initialBalance > 0 {
		stats.ReturnPct = stats.TotalPnL / initialBalance * 100
	}

	var first sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(opened_at) FROM paper_positions`).Scan(&first); err != nil {
		return stats, fmt.Errorf("storage.GetPaperStats: first opened: %w", err)
	}
	if first.Valid {
		t := parseTime(first.String)
		stats.FirstOpenedAt = &t
	}
	return stats, nil
}

func (s *SQLiteStorage) queryPositions(ctx context.Context, op, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var tf, barTime, dir, status, opened string
		var reason, closed sql.NullString
		sig := &p.Signal
		if err := rows.Scan(
			&p.ID, &sig.ID, &sig.Strategy, &sig.Symbol, &tf, &barTime, &sig.BarIndex, &dir,
			&sig.Entry, &sig.StopLoss, &sig.TakeProfit, &sig.RiskReward, &reason,
			&status, &opened, &p.RiskAmount, &p.BalanceAtOpen, &p.ExitPrice, &closed, &p.PnL, &p.BalanceAfter,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		sig.Timeframe = domain.Timeframe(tf)
		sig.Time = parseTime(barTime)
		sig.Direction = domain.Direction(dir)
		sig.Reason = reason.String
		p.Status = domain.PositionStatus(status)
		p.OpenedAt = parseTime(opened)
		if closed.Valid {
			t := parseTime(closed.String)
			p.ClosedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func closedAt(p domain.Position) any {
	if p.ClosedAt == nil {
		return nil
	}
	return fmtTime(*p.ClosedAt)
}
