package domain

// Stats resume un conjunto de trades en el orden en que se aplicaron al balance.
// Trades cuenta sólo WIN + LOSS; los UNRESOLVED se reportan aparte.
type Stats struct {
	Trades         int
	Wins           int
	Losses         int
	Unresolved     int
	WinRate        float64 // %
	TotalProfit    float64
	TotalLoss      float64 // positivo
	InitialBalance float64
	FinalBalance   float64
	ReturnPct      float64
	MaxDrawdownPct float64
	EquityCurve    []float64 // balance inicial + un punto por trade resuelto
}

// ComputeStats agrega trades ya resueltos. El balance final sale de aplicar
// los P&L en orden, no de BalanceAfter, para que los trades de distintas
// corridas se puedan combinar.
func ComputeStats(initialBalance float64, trades []Trade) Stats {
	s := Stats{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		EquityCurve:    []float64{initialBalance},
	}
	peak := initialBalance

	for _, t := range trades {
		switch t.Outcome {
		case OutcomeWin:
			s.Wins++
			s.TotalProfit += t.PnL
		case OutcomeLoss:
			s.Losses++
			s.TotalLoss += -t.PnL
		default:
			s.Unresolved++
			continue
		}
		s.FinalBalance += t.PnL
		s.EquityCurve = append(s.EquityCurve, s.FinalBalance)
		if s.FinalBalance > peak {
			peak = s.FinalBalance
		}
		if peak > 0 {
			if dd := (peak - s.FinalBalance) / peak * 100; dd > s.MaxDrawdownPct {
				s.MaxDrawdownPct = dd
			}
		}
	}

	s.Trades = s.Wins + s.Losses
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	if initialBalance > 0 {
		s.ReturnPct = (s.FinalBalance - initialBalance) / initialBalance * 100
	}
	return s
}

// CompoundBalance aplica la regla de sizing sobre una secuencia de outcomes:
// cada trade arriesga riskFraction del balance vigente.
func CompoundBalance(initialBalance, riskFraction, riskReward float64, outcomes []Outcome) float64 {
	balance := initialBalance
	for _, o := range outcomes {
		balance += TradePnL(o, riskFraction, balance, riskReward)
	}
	return balance
}
