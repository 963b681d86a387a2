package domain

// CheckBar evalúa una vela posterior a la señal. Devuelve el outcome, el precio
// de salida y true si la vela resolvió el trade.
//
// El stop se considera tocado cuando el precio operó en o más allá de él
// (incluye gaps que lo saltan). Si stop y target se tocan en la misma vela el
// resultado es LOSS: no hay información intrabar y se asume la excursión adversa
// primero.
func CheckBar(sig Signal, bar Bar) (Outcome, float64, bool) {
	var stopHit, targetHit bool
	switch sig.Direction {
	case Buy:
		stopHit = bar.Low <= sig.StopLoss
		targetHit = sig.HasTarget() && bar.High >= sig.TakeProfit
	case Sell:
		stopHit = bar.High >= sig.StopLoss
		targetHit = sig.HasTarget() && bar.Low <= sig.TakeProfit
	}

	switch {
	case stopHit:
		return OutcomeLoss, sig.StopLoss, true
	case targetHit:
		return OutcomeWin, sig.TakeProfit, true
	default:
		return OutcomeUnresolved, 0, false
	}
}

// TradePnL calcula el P&L de un trade resuelto para el balance dado:
// LOSS pierde risk×balance, WIN gana risk×balance×RR.
func TradePnL(outcome Outcome, riskFraction, balance, riskReward float64) float64 {
	switch outcome {
	case OutcomeLoss:
		return -riskFraction * balance
	case OutcomeWin:
		return riskFraction * balance * riskReward
	default:
		return 0
	}
}

// Resolve recorre forward (velas estrictamente posteriores a la señal, en
// orden) hasta que el stop o el target se tocan. Función pura: el mismo input
// produce siempre el mismo Trade.
func Resolve(sig Signal, forward []Bar, riskFraction, balance float64) Trade {
	for k, bar := range forward {
		outcome, price, ok := CheckBar(sig, bar)
		if !ok {
			continue
		}
		pnl := TradePnL(outcome, riskFraction, balance, sig.RiskReward)
		return Trade{
			Signal:       sig,
			Outcome:      outcome,
			ExitPrice:    price,
			ExitIndex:    sig.BarIndex + k + 1,
			ExitOffset:   k + 1,
			ExitTime:     bar.Time,
			PnL:          pnl,
			BalanceAfter: balance + pnl,
		}
	}

	t := Trade{
		Signal:       sig,
		Outcome:      OutcomeUnresolved,
		ExitIndex:    -1,
		BalanceAfter: balance,
	}
	if n := len(forward); n > 0 {
		t.ExitPrice = forward[n-1].Close
		t.ExitTime = forward[n-1].Time
	}
	return t
}
