package domain

import (
	"fmt"
	"time"
)

// Bias es la dirección del timeframe superior.
type Bias string

const (
	BiasNeutral Bias = "NEUTRAL"
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// Opposes es true sólo cuando ambos bias son direccionales y de signo contrario.
func (b Bias) Opposes(other Bias) bool {
	return (b == BiasBullish && other == BiasBearish) || (b == BiasBearish && other == BiasBullish)
}

// Direction devuelve la dirección de trade asociada al bias.
func (b Bias) Direction() Direction {
	if b == BiasBearish {
		return Sell
	}
	return Buy
}

// Direction es el lado de una señal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// ZoneSource identifica el origen de una zona de entrada.
type ZoneSource string

const (
	ZoneFVG        ZoneSource = "FVG"
	ZoneOrderBlock ZoneSource = "ORDER_BLOCK"
)

// Zone es un rango de precio donde se espera el retroceso. Los bordes son inclusivos.
type Zone struct {
	Low    float64
	High   float64
	Index  int  // vela en la que la zona quedó definida
	Side   Bias // BULLISH = zona de demanda, BEARISH = zona de oferta
	Source ZoneSource
}

// Contains es true si price está dentro de la zona, bordes incluidos.
func (z Zone) Contains(price float64) bool {
	return price >= z.Low && price <= z.High
}

// Signal es una instrucción de trade emitida por la máquina de patrones.
// Es inmutable una vez creada.
type Signal struct {
	ID         string
	Strategy   string
	Symbol     string
	Timeframe  Timeframe
	Time       time.Time // apertura de la vela de confirmación
	BarIndex   int
	Direction  Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64 // 0 = sin target
	RiskReward float64
	Reason     string
}

// SignalID arma un identificador determinístico: la misma vela de la misma
// estrategia produce siempre el mismo ID.
func SignalID(strategy, symbol string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%d", strategy, symbol, t.Unix())
}

// HasTarget indica si la señal tiene take profit.
func (s Signal) HasTarget() bool { return s.TakeProfit > 0 }

// Risk devuelve la distancia entre entrada y stop.
func (s Signal) Risk() float64 {
	if s.Direction == Sell {
		return s.StopLoss - s.Entry
	}
	return s.Entry - s.StopLoss
}

// Validate verifica el invariante de lados: el stop estrictamente del lado de
// pérdida y, si hay target, del lado de ganancia. Una señal con RiskReward
// tiene que tener target.
func (s Signal) Validate() error {
	switch s.Direction {
	case Buy:
		if s.StopLoss >= s.Entry {
			return fmt.Errorf("%w: BUY stop %.5f not below entry %.5f", ErrInvalidSignal, s.StopLoss, s.Entry)
		}
		if s.HasTarget() && s.TakeProfit <= s.Entry {
			return fmt.Errorf("%w: BUY target %.5f not above entry %.5f", ErrInvalidSignal, s.TakeProfit, s.Entry)
		}
	case Sell:
		if s.StopLoss <= s.Entry {
			return fmt.Errorf("%w: SELL stop %.5f not above entry %.5f", ErrInvalidSignal, s.StopLoss, s.Entry)
		}
		if s.HasTarget() && s.TakeProfit >= s.Entry {
			return fmt.Errorf("%w: SELL target %.5f not below entry %.5f", ErrInvalidSignal, s.TakeProfit, s.Entry)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("%w: non-positive stop %.5f", ErrInvalidSignal, s.StopLoss)
	}
	// con RR la señal siempre lleva target; uno <= 0 no es "sin target"
	if s.RiskReward > 0 && !s.HasTarget() {
		return fmt.Errorf("%w: non-positive target %.5f with RR %.2f", ErrInvalidSignal, s.TakeProfit, s.RiskReward)
	}
	return nil
}
