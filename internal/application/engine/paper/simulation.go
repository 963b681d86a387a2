package paper

// simulation.go — ejecución virtual: apertura de posiciones con gate de riesgo
// y cierre contra las velas que llegan, usando el mismo CheckBar que backtest.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/ictbot/internal/application/engine"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

var _ ports.Executor = (*Engine)(nil)

// Execute abre una posición virtual para la señal. Rechaza (domain.ErrRejected)
// señales ya ejecutadas, una segunda posición abierta para la misma estrategia
// y símbolo, y lo que exceda el límite diario.
func (e *Engine) Execute(ctx context.Context, sig domain.Signal) (domain.Position, error) {
	if err := sig.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("paper.Execute: %w", err)
	}

	if err := e.gate(ctx, sig); err != nil {
		if errors.Is(err, domain.ErrRejected) {
			e.metrics.RecordRejection(sig.Strategy)
			slog.Info("paper: signal rejected", "signal", sig.ID, "reason", err)
		}
		return domain.Position{}, err
	}

	e.mu.Lock()
	balance := e.balance
	e.mu.Unlock()

	pos := domain.Position{
		ID:            uuid.New().String(),
		Signal:        sig,
		Status:        domain.PositionOpen,
		OpenedAt:      e.now().UTC(),
		RiskAmount:    e.cfg.RiskPerTrade * balance,
		BalanceAtOpen: balance,
		BalanceAfter:  balance,
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("paper.Execute: %w", err)
	}

	slog.Info("paper: position opened",
		"strategy", sig.Strategy,
		"symbol", sig.Symbol,
		"direction", sig.Direction,
		"entry", sig.Entry,
		"stop", sig.StopLoss,
		"target", sig.TakeProfit,
		"risk", fmt.Sprintf("%.2f", pos.RiskAmount),
	)
	return pos, nil
}

func (e *Engine) gate(ctx context.Context, sig domain.Signal) error {
	dup, err := e.store.HasSignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("paper.Execute: %w", err)
	}
	if dup {
		return fmt.Errorf("%w: signal %s already executed", domain.ErrRejected, sig.ID)
	}

	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("paper.Execute: %w", err)
	}
	for _, p := range open {
		if p.Signal.Strategy == sig.Strategy && p.Signal.Symbol == sig.Symbol {
			return fmt.Errorf("%w: position %s already open for %s %s",
				domain.ErrRejected, engine.TruncateStr(p.ID, 11), sig.Strategy, sig.Symbol)
		}
	}

	if e.cfg.MaxTradesPerDay > 0 {
		day := e.now().UTC().Truncate(24 * time.Hour)
		n, err := e.store.CountOpenedSince(ctx, sig.Strategy, sig.Symbol, day)
		if err != nil {
			return fmt.Errorf("paper.Execute: %w", err)
		}
		if n >= e.cfg.MaxTradesPerDay {
			return fmt.Errorf("%w: daily limit %d reached for %s %s",
				domain.ErrRejected, e.cfg.MaxTradesPerDay, sig.Strategy, sig.Symbol)
		}
	}
	return nil
}

// checkPositions resuelve las posiciones abiertas de la instancia contra las
// velas posteriores a su señal. Revisar una vela dos veces no cambia el
// resultado: si hubiera tocado stop o target la posición ya estaría cerrada.
func (e *Engine) checkPositions(ctx context.Context, in *engine.Instance, cycle *domain.PaperCycle) error {
	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("paper.checkPositions: %w", err)
	}

	for _, pos := range open {
		sig := pos.Signal
		if sig.Strategy != in.Name() || sig.Symbol != in.Symbol() {
			continue
		}
		for _, bar := range in.BarsAfter(sig.Time) {
			outcome, price, ok := domain.CheckBar(sig, bar)
			if !ok {
				continue
			}
			closed, err := e.close(ctx, pos, outcome, price, bar.Time)
			if err != nil {
				return err
			}
			cycle.Closed = append(cycle.Closed, closed)
			break
		}
	}
	return nil
}

func (e *Engine) close(ctx context.Context, pos domain.Position, outcome domain.Outcome, price float64, at time.Time) (domain.Position, error) {
	// mismo sizing que backtest y replay: riesgo sobre el balance al abrir
	pnl := domain.TradePnL(outcome, e.cfg.RiskPerTrade, pos.BalanceAtOpen, pos.Signal.RiskReward)
	pos.Status = domain.PositionLost
	if outcome == domain.OutcomeWin {
		pos.Status = domain.PositionWon
	}

	e.mu.Lock()
	balance := e.balance + pnl
	e.mu.Unlock()

	closedAt := at
	pos.ExitPrice = price
	pos.ClosedAt = &closedAt
	pos.PnL = pnl
	pos.BalanceAfter = balance
	if err := e.store.ClosePosition(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("paper.close %s: %w", pos.ID, err)
	}

	// el balance sólo cambia cuando el cierre quedó persistido
	e.mu.Lock()
	e.balance += pnl
	e.mu.Unlock()

	e.metrics.RecordTrade(pos.Signal.Strategy, outcome)
	slog.Info("paper: position closed",
		"strategy", pos.Signal.Strategy,
		"symbol", pos.Signal.Symbol,
		"outcome", outcome,
		"exit", price,
		"pnl", fmt.Sprintf("%+.2f", pnl),
		"balance", fmt.Sprintf("%.2f", balance),
	)
	return pos, nil
}
