package storage

// sqlite.go — histórico de corridas de backtest y replay.
//
// Estrategia:
//   - `runs`: una fila por (estrategia, símbolo, corrida) con el resumen de stats.
//   - `signals`: señales emitidas en la corrida. El ID de señal es determinístico,
//     así que la clave es (run_id, id): la misma señal aparece en cada corrida.
//   - `trades`: resolución de cada señal (WIN/LOSS/UNRESOLVED) y balance después.
//   - Todo lo de una corrida se escribe en una sola transacción.
//   - Prune automático al arrancar: corridas de más de 90 días.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    mode            TEXT     NOT NULL,
    strategy        TEXT     NOT NULL,
    symbol          TEXT     NOT NULL,
    timeframe       TEXT     NOT NULL,
    started_at      DATETIME NOT NULL,
    range_from      DATETIME,
    range_to        DATETIME,
    signals         INTEGER  NOT NULL DEFAULT 0,
    trades          INTEGER  NOT NULL DEFAULT 0,
    wins            INTEGER  NOT NULL DEFAULT 0,
    losses          INTEGER  NOT NULL DEFAULT 0,
    unresolved      INTEGER  NOT NULL DEFAULT 0,
    initial_balance REAL     NOT NULL DEFAULT 0,
    final_balance   REAL     NOT NULL DEFAULT 0,
    return_pct      REAL     NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS signals (
    run_id      TEXT     NOT NULL,
    id          TEXT     NOT NULL,
    strategy    TEXT     NOT NULL,
    symbol      TEXT     NOT NULL,
    timeframe   TEXT     NOT NULL,
    bar_time    DATETIME NOT NULL,
    bar_index   INTEGER  NOT NULL,
    direction   TEXT     NOT NULL,
    entry       REAL     NOT NULL,
    stop_loss   REAL     NOT NULL,
    take_profit REAL     NOT NULL DEFAULT 0,
    risk_reward REAL     NOT NULL DEFAULT 0,
    reason      TEXT,
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS trades (
    run_id        TEXT    NOT NULL,
    signal_id     TEXT    NOT NULL,
    outcome       TEXT    NOT NULL,
    exit_price    REAL    NOT NULL DEFAULT 0,
    exit_index    INTEGER NOT NULL DEFAULT -1,
    exit_offset   INTEGER NOT NULL DEFAULT 0,
    exit_time     DATETIME,
    pnl           REAL    NOT NULL DEFAULT 0,
    balance_after REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, signal_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started  ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, symbol);
`

const retentionRuns = 90 * 24 * time.Hour

// SQLiteStorage implementa ports.Storage y ports.PaperStorage usando SQLite
// (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia corridas antiguas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveRun persiste la corrida, sus señales y sus trades en una transacción.
// Si run.RunID está vacío se genera uno.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run domain.BacktestResult, mode string) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: begin tx: %w", err)
	}
	defer tx.Rollback()

	st := run.Stats
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, mode, strategy, symbol, timeframe, started_at, range_from, range_to,
			signals, trades, wins, losses, unresolved, initial_balance, final_balance, return_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, mode, run.Strategy, run.Symbol, string(run.Timeframe), fmtTime(time.Now()),
		fmtTime(run.From), fmtTime(run.To),
		len(run.Signals), st.Trades, st.Wins, st.Losses, st.Unresolved,
		st.InitialBalance, st.FinalBalance, st.ReturnPct,
	); err != nil {
		return fmt.Errorf("storage.SaveRun: insert run: %w", err)
	}

	sigStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (
			run_id, id, strategy, symbol, timeframe, bar_time, bar_index,
			direction, entry, stop_loss, take_profit, risk_reward, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: prepare signals: %w", err)
	}
	defer sigStmt.Close()

	for _, sig := range run.Signals {
		if err := insertSignal(ctx, sigStmt, run.RunID, sig); err != nil {
			return fmt.Errorf("storage.SaveRun: insert signal %s: %w", sig.ID, err)
		}
	}

	trStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO trades (
			run_id, signal_id, outcome, exit_price, exit_index, exit_offset, exit_time, pnl, balance_after
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: prepare trades: %w", err)
	}
	defer trStmt.Close()

	for _, tr := range run.Trades {
		// un trade puede venir de una señal que no está en run.Signals (replay)
		if err := insertSignal(ctx, sigStmt, run.RunID, tr.Signal); err != nil {
			return fmt.Errorf("storage.SaveRun: insert signal %s: %w", tr.Signal.ID, err)
		}
		if _, err := trStmt.ExecContext(ctx,
			run.RunID, tr.Signal.ID, string(tr.Outcome), tr.ExitPrice, tr.ExitIndex, tr.ExitOffset,
			fmtTime(tr.ExitTime), tr.PnL, tr.BalanceAfter,
		); err != nil {
			return fmt.Errorf("storage.SaveRun: insert trade %s: %w", tr.Signal.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveRun: commit: %w", err)
	}
	return nil
}

func insertSignal(ctx context.Context, stmt *sql.Stmt, runID string, sig domain.Signal) error {
	_, err := stmt.ExecContext(ctx,
		runID, sig.ID, sig.Strategy, sig.Symbol, string(sig.Timeframe), fmtTime(sig.Time), sig.BarIndex,
		string(sig.Direction), sig.Entry, sig.StopLoss, sig.TakeProfit, sig.RiskReward, sig.Reason,
	)
	return err
}

// GetRuns devuelve las corridas iniciadas en [from, to], más recientes primero.
func (s *SQLiteStorage) GetRuns(ctx context.Context, from, to time.Time) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, strategy, symbol, timeframe, started_at, range_from, range_to,
		       signals, trades, wins, losses, unresolved, initial_balance, final_balance, return_pct
		FROM runs
		WHERE started_at BETWEEN ? AND ?
		ORDER BY started_at DESC, strategy, symbol`,
		fmtTime(from), fmtTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRuns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var r domain.RunSummary
		var tf, started string
		var rangeFrom, rangeTo sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Mode, &r.Strategy, &r.Symbol, &tf, &started, &rangeFrom, &rangeTo,
			&r.Signals, &r.Trades, &r.Wins, &r.Losses, &r.Unresolved,
			&r.InitialBalance, &r.FinalBalance, &r.ReturnPct,
		); err != nil {
			return nil, fmt.Errorf("storage.GetRuns: scan: %w", err)
		}
		r.Timeframe = domain.Timeframe(tf)
		r.StartedAt = parseTime(started)
		r.From = parseTime(rangeFrom.String)
		r.To = parseTime(rangeTo.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetTrades devuelve los trades de una corrida en orden de señal.
func (s *SQLiteStorage) GetTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.strategy, s.symbol, s.timeframe, s.bar_time, s.bar_index, s.direction,
		       s.entry, s.stop_loss, s.take_profit, s.risk_reward, s.reason,
		       t.outcome, t.exit_price, t.exit_index, t.exit_offset, t.exit_time, t.pnl, t.balance_after
		FROM trades t
		JOIN signals s ON s.run_id = t.run_id AND s.id = t.signal_id
		WHERE t.run_id = ?
		ORDER BY s.bar_time, s.id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.GetTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var tr domain.Trade
		var tf, dir, barTime, outcome string
		var reason, exitTime sql.NullString
		sig := &tr.Signal
		if err := rows.Scan(
			&sig.ID, &sig.Strategy, &sig.Symbol, &tf, &barTime, &sig.BarIndex, &dir,
			&sig.Entry, &sig.StopLoss, &sig.TakeProfit, &sig.RiskReward, &reason,
			&outcome, &tr.ExitPrice, &tr.ExitIndex, &tr.ExitOffset, &exitTime, &tr.PnL, &tr.BalanceAfter,
		); err != nil {
			return nil, fmt.Errorf("storage.GetTrades: scan: %w", err)
		}
		sig.Timeframe = domain.Timeframe(tf)
		sig.Direction = domain.Direction(dir)
		sig.Time = parseTime(barTime)
		sig.Reason = reason.String
		tr.Outcome = domain.Outcome(outcome)
		tr.ExitTime = parseTime(exitTime.String)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina corridas fuera de la ventana de retención.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := fmtTime(time.Now().Add(-retentionRuns))
	// best effort: un prune fallido no impide arrancar
	_, _ = s.db.ExecContext(ctx, `DELETE FROM trades  WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM signals WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM runs    WHERE started_at < ?`, cutoff)
}

// fmtTime guarda tiempos como RFC3339 en UTC; el cero se guarda como NULL.
func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
