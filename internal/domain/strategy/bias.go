package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
)

// FixedBias devuelve siempre el mismo bias.
func FixedBias(b domain.Bias) BiasFunc {
	return func(string, time.Time) domain.Bias { return b }
}

// seriesBias resuelve un bias precalculado por vela contra el cierre de cada vela.
type seriesBias struct {
	closes []time.Time
	bias   []domain.Bias
}

func (s seriesBias) at(_ string, asOf time.Time) domain.Bias {
	// primera vela que cierra después de asOf; la anterior es la última cerrada
	n := sort.Search(len(s.closes), func(i int) bool { return s.closes[i].After(asOf) })
	if n == 0 {
		return domain.BiasNeutral
	}
	return s.bias[n-1]
}

func newSeriesBias(htf domain.Series) seriesBias {
	s := seriesBias{closes: make([]time.Time, htf.Len()), bias: make([]domain.Bias, htf.Len())}
	for i := range htf.Bars {
		s.closes[i] = htf.CloseTime(i)
	}
	return s
}

// StructureBias calcula el bias por ruptura de estructura sobre swings
// confirmados: un cierre por encima del último swing high lo vuelve BULLISH,
// uno por debajo del último swing low lo vuelve BEARISH; si no, se mantiene.
func StructureBias(htf domain.Series, lookback int) BiasFunc {
	s := newSeriesBias(htf)
	ann := make([]feature.Annotation, htf.Len())
	feature.DetectSwings(htf.Bars, lookback, ann)

	current := domain.BiasNeutral
	for i, b := range htf.Bars {
		if sh, ok := ann[i].LastSwingHigh.Get(); ok && b.Close > sh.Level {
			current = domain.BiasBullish
		}
		if sl, ok := ann[i].LastSwingLow.Get(); ok && b.Close < sl.Level {
			current = domain.BiasBearish
		}
		s.bias[i] = current
	}
	return s.at
}

// EMABias es BULLISH con el cierre sobre la EMA y BEARISH debajo.
func EMABias(htf domain.Series, period int) BiasFunc {
	s := newSeriesBias(htf)
	ann := make([]feature.Annotation, htf.Len())
	feature.DetectEMA(htf.Bars, period, ann)

	for i, b := range htf.Bars {
		ema, ok := ann[i].EMA.Get()
		switch {
		case !ok:
			s.bias[i] = domain.BiasNeutral
		case b.Close > ema:
			s.bias[i] = domain.BiasBullish
		case b.Close < ema:
			s.bias[i] = domain.BiasBearish
		default:
			s.bias[i] = domain.BiasNeutral
		}
	}
	return s.at
}

// NewBias arma el proveedor de bias que pide la configuración.
func NewBias(cfg Config, htf domain.Series) (BiasFunc, error) {
	switch cfg.BiasSource {
	case BiasStructure:
		return StructureBias(htf, cfg.BiasLookback), nil
	case BiasEMA:
		return EMABias(htf, cfg.BiasLookback), nil
	default:
		return nil, fmt.Errorf("strategy.NewBias: unknown bias source %q", cfg.BiasSource)
	}
}
