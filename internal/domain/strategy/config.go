package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
)

// ZoneMode elige de dónde sale la zona de entrada.
type ZoneMode string

const (
	ZoneModeFVG        ZoneMode = "fvg"
	ZoneModeOrderBlock ZoneMode = "order_block"
	ZoneModeAny        ZoneMode = "any" // FVG primero, order block si no hay
)

// BiasSource elige cómo se calcula el bias del timeframe superior.
type BiasSource string

const (
	BiasStructure BiasSource = "structure"
	BiasEMA       BiasSource = "ema"
)

// Config parametriza una variante de estrategia sobre la misma máquina.
type Config struct {
	Name          string
	Timeframe     domain.Timeframe // velas de entrada
	BiasTimeframe domain.Timeframe // velas del bias
	BiasSource    BiasSource
	BiasLookback  int // swing lookback (structure) o período (ema)

	Features feature.Params

	KillZoneHours        []int // horas UTC; vacío = siempre
	SweepMinSize         float64
	DisplacementMinRatio float64
	MinBodyRange         float64 // 0 = sin filtro body/range
	DisplacementWindow   time.Duration
	ZoneWindow           time.Duration
	RetraceWindow        time.Duration
	ZoneSource           ZoneMode
	StopBuffer           float64
	RiskReward           float64
	EMAFilter            bool
}

// Validate verifica que la configuración sea usable.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy.Config: empty name")
	}
	if c.Timeframe.Duration() == 0 {
		return fmt.Errorf("strategy.Config %s: unknown timeframe %q", c.Name, c.Timeframe)
	}
	if c.BiasTimeframe.Duration() == 0 {
		return fmt.Errorf("strategy.Config %s: unknown bias timeframe %q", c.Name, c.BiasTimeframe)
	}
	if c.BiasTimeframe.Duration() < c.Timeframe.Duration() {
		return fmt.Errorf("strategy.Config %s: bias timeframe %s below entry timeframe %s", c.Name, c.BiasTimeframe, c.Timeframe)
	}
	switch c.ZoneSource {
	case ZoneModeFVG, ZoneModeOrderBlock, ZoneModeAny:
	default:
		return fmt.Errorf("strategy.Config %s: unknown zone source %q", c.Name, c.ZoneSource)
	}
	switch c.BiasSource {
	case BiasStructure, BiasEMA:
	default:
		return fmt.Errorf("strategy.Config %s: unknown bias source %q", c.Name, c.BiasSource)
	}
	if c.DisplacementWindow <= 0 || c.ZoneWindow <= 0 || c.RetraceWindow <= 0 {
		return fmt.Errorf("strategy.Config %s: stage windows must be positive", c.Name)
	}
	if c.RiskReward <= 0 {
		return fmt.Errorf("strategy.Config %s: risk reward must be positive", c.Name)
	}
	if c.StopBuffer < 0 || c.SweepMinSize < 0 || c.DisplacementMinRatio < 0 {
		return fmt.Errorf("strategy.Config %s: thresholds must not be negative", c.Name)
	}
	for _, h := range c.KillZoneHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("strategy.Config %s: kill zone hour %d out of range", c.Name, h)
		}
	}
	if c.EMAFilter && c.Features.EMAPeriod <= 0 {
		return fmt.Errorf("strategy.Config %s: ema filter needs a positive ema period", c.Name)
	}
	return nil
}

// DefaultKillZoneHours son las sesiones de Londres y Nueva York en UTC.
var DefaultKillZoneHours = []int{7, 8, 9, 10, 13, 14, 15, 16}

// Presets son las variantes de estrategia conocidas. Los umbrales son
// defaults razonables; la configuración los sobreescribe.
var Presets = map[string]Config{
	"liquidity_sweep": {
		Name:                 "liquidity_sweep",
		Timeframe:            domain.TF15m,
		BiasTimeframe:        domain.TF4h,
		BiasSource:           BiasStructure,
		BiasLookback:         3,
		Features:             feature.DefaultParams(),
		KillZoneHours:        DefaultKillZoneHours,
		DisplacementMinRatio: 1.8,
		DisplacementWindow:   2 * time.Hour,
		ZoneWindow:           time.Hour,
		RetraceWindow:        4 * time.Hour,
		ZoneSource:           ZoneModeFVG,
		RiskReward:           3,
	},
	"h1_m5_bos": {
		Name:                 "h1_m5_bos",
		Timeframe:            domain.TF5m,
		BiasTimeframe:        domain.TF1h,
		BiasSource:           BiasStructure,
		BiasLookback:         3,
		Features:             feature.DefaultParams(),
		KillZoneHours:        DefaultKillZoneHours,
		DisplacementMinRatio: 1.5,
		MinBodyRange:         0.7,
		DisplacementWindow:   time.Hour,
		ZoneWindow:           30 * time.Minute,
		RetraceWindow:        2 * time.Hour,
		ZoneSource:           ZoneModeOrderBlock,
		RiskReward:           3,
	},
	"pdh_pdl": {
		Name:          "pdh_pdl",
		Timeframe:     domain.TF15m,
		BiasTimeframe: domain.TF1h,
		BiasSource:    BiasStructure,
		BiasLookback:  3,
		Features: func() feature.Params {
			p := feature.DefaultParams()
			p.SweepReference = feature.ReferencePreviousDay
			return p
		}(),
		KillZoneHours:        DefaultKillZoneHours,
		DisplacementMinRatio: 1.5,
		DisplacementWindow:   2 * time.Hour,
		ZoneWindow:           time.Hour,
		RetraceWindow:        4 * time.Hour,
		ZoneSource:           ZoneModeAny,
		RiskReward:           3,
	},
	"confluence": {
		Name:                 "confluence",
		Timeframe:            domain.TF15m,
		BiasTimeframe:        domain.TF4h,
		BiasSource:           BiasEMA,
		BiasLookback:         50,
		Features:             feature.DefaultParams(),
		KillZoneHours:        DefaultKillZoneHours,
		DisplacementMinRatio: 1.8,
		DisplacementWindow:   2 * time.Hour,
		ZoneWindow:           time.Hour,
		RetraceWindow:        4 * time.Hour,
		ZoneSource:           ZoneModeFVG,
		RiskReward:           3,
		EMAFilter:            true,
	},
}

// Preset devuelve una copia del preset con ese nombre.
func Preset(name string) (Config, error) {
	c, ok := Presets[name]
	if !ok {
		return Config{}, fmt.Errorf("strategy.Preset: unknown preset %q (known: %v)", name, PresetNames())
	}
	c.KillZoneHours = append([]int(nil), c.KillZoneHours...)
	return c, nil
}

// PresetNames devuelve los nombres de preset ordenados.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
