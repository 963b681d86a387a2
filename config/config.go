package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

// Config es la configuración completa del bot.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Replay     ReplayConfig     `yaml:"replay"`
	Paper      PaperConfig      `yaml:"paper"`
	Strategies []StrategyConfig `yaml:"strategies" validate:"required,min=1,dive"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// DataConfig define de dónde salen las velas.
type DataConfig struct {
	Source          string            `yaml:"source" default:"csv" validate:"oneof=csv yahoo"`
	Symbols         []string          `yaml:"symbols" validate:"required,min=1,dive,required"`
	Files           map[string]string `yaml:"files"`                                       // símbolo → CSV (source csv)
	NativeTimeframe string            `yaml:"native_timeframe" default:"15m"`              // timeframe de los CSV
	YahooBase       string            `yaml:"yahoo_base"`                                  // vacío = producción
	From            string            `yaml:"from" validate:"omitempty,datetime=2006-01-02"` // inclusive
	To              string            `yaml:"to" validate:"omitempty,datetime=2006-01-02"`   // exclusive
}

// BacktestConfig controla el sizing de backtest (y replay).
type BacktestConfig struct {
	InitialBalance float64 `yaml:"initial_balance" default:"100" validate:"gt=0"`
	RiskPerTrade   float64 `yaml:"risk_per_trade" default:"0.1" validate:"gt=0,lte=1"`
	MaxHoldBars    int     `yaml:"max_hold_bars" validate:"gte=0"` // 0 = hasta el final de la serie
	Workers        int     `yaml:"workers" validate:"gte=0"`       // 0 = NumCPU
}

// ReplayConfig controla el replay de datos históricos.
type ReplayConfig struct {
	StepBars        int `yaml:"step_bars" default:"1" validate:"gte=1"`
	MaxTradesPerDay int `yaml:"max_trades_per_day" default:"3" validate:"gte=0"`
	DelayMS         int `yaml:"delay_ms" validate:"gte=0"`
}

// PaperConfig controla el loop de paper trading.
type PaperConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds" default:"60" validate:"gte=1"`
	MaxTradesPerDay int    `yaml:"max_trades_per_day" default:"3" validate:"gte=0"`
	HistoryHours    int    `yaml:"history_hours" default:"120" validate:"gte=1"`
	HTFHistoryHours int    `yaml:"htf_history_hours" default:"720" validate:"gte=1"`
	StopFile        string `yaml:"stop_file" default:"STOP"` // si existe, el loop termina
}

// StrategyConfig parte de un preset y sobreescribe lo que se indique.
type StrategyConfig struct {
	Preset        string `yaml:"preset" validate:"required"`
	Name          string `yaml:"name"` // default: el nombre del preset
	Timeframe     string `yaml:"timeframe"`
	BiasTimeframe string `yaml:"bias_timeframe"`
	BiasSource    string `yaml:"bias_source" validate:"omitempty,oneof=structure ema"`
	BiasLookback  int    `yaml:"bias_lookback" validate:"gte=0"`
	ZoneSource    string `yaml:"zone_source" validate:"omitempty,oneof=fvg order_block any"`

	KillZoneHours        *[]int         `yaml:"kill_zone_hours"`
	SweepMinSize         *float64       `yaml:"sweep_min_size" validate:"omitempty,gte=0"`
	DisplacementMinRatio *float64       `yaml:"displacement_min_ratio" validate:"omitempty,gte=0"`
	MinBodyRange         *float64       `yaml:"min_body_range" validate:"omitempty,gte=0,lte=1"`
	DisplacementWindow   *time.Duration `yaml:"displacement_window"`
	ZoneWindow           *time.Duration `yaml:"zone_window"`
	RetraceWindow        *time.Duration `yaml:"retrace_window"`
	StopBuffer           *float64       `yaml:"stop_buffer" validate:"omitempty,gte=0"`
	RiskReward           *float64       `yaml:"risk_reward" validate:"omitempty,gt=0"`
	EMAFilter            *bool          `yaml:"ema_filter"`

	SwingLookback      int    `yaml:"swing_lookback" validate:"gte=0"`
	SweepLookback      int    `yaml:"sweep_lookback" validate:"gte=0"`
	SweepReference     string `yaml:"sweep_reference" validate:"omitempty,oneof=swing previous_day"`
	DisplacementPeriod int    `yaml:"displacement_period" validate:"gte=0"`
	OBLookback         int    `yaml:"ob_lookback" validate:"gte=0"`
	EMAPeriod          int    `yaml:"ema_period" validate:"gte=0"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn" default:"ictbot.db"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el endpoint de Prometheus (sólo modo paper).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:":9090"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

var validate = validator.New()

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Orden: defaults de los tags, YAML, variables de entorno, validación.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse arma la configuración a partir del YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate corre las reglas de los tags y las que cruzan secciones.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s %s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("config.Validate: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config.Validate: %w", err)
	}

	if _, err := domain.ParseTimeframe(c.Data.NativeTimeframe); err != nil {
		return fmt.Errorf("config.Validate: data.native_timeframe: %w", err)
	}
	if c.Data.Source == "csv" {
		for _, sym := range c.Data.Symbols {
			if c.Data.Files[sym] == "" {
				return fmt.Errorf("config.Validate: data.files: no CSV for symbol %q", sym)
			}
		}
	}
	from, to, err := c.Data.Range()
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return fmt.Errorf("config.Validate: data.to must be after data.from")
	}

	seen := map[string]bool{}
	for i, s := range c.Strategies {
		sc, err := s.Build()
		if err != nil {
			return fmt.Errorf("config.Validate: strategies[%d]: %w", i, err)
		}
		if seen[sc.Name] {
			return fmt.Errorf("config.Validate: duplicate strategy name %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}

// Range devuelve el rango de fechas configurado; cero = sin límite.
func (d DataConfig) Range() (from, to time.Time, err error) {
	if d.From != "" {
		if from, err = time.Parse(time.DateOnly, d.From); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: data.from: %w", err)
		}
	}
	if d.To != "" {
		if to, err = time.Parse(time.DateOnly, d.To); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("config: data.to: %w", err)
		}
	}
	return from, to, nil
}

// Build aplica los overrides sobre el preset y valida el resultado.
func (s StrategyConfig) Build() (strategy.Config, error) {
	c, err := strategy.Preset(s.Preset)
	if err != nil {
		return strategy.Config{}, err
	}
	if s.Name != "" {
		c.Name = s.Name
	}
	if s.Timeframe != "" {
		if c.Timeframe, err = domain.ParseTimeframe(s.Timeframe); err != nil {
			return strategy.Config{}, err
		}
	}
	if s.BiasTimeframe != "" {
		if c.BiasTimeframe, err = domain.ParseTimeframe(s.BiasTimeframe); err != nil {
			return strategy.Config{}, err
		}
	}
	if s.BiasSource != "" {
		c.BiasSource = strategy.BiasSource(s.BiasSource)
	}
	if s.BiasLookback > 0 {
		c.BiasLookback = s.BiasLookback
	}
	if s.ZoneSource != "" {
		c.ZoneSource = strategy.ZoneMode(s.ZoneSource)
	}

	if s.KillZoneHours != nil {
		c.KillZoneHours = append([]int(nil), (*s.KillZoneHours)...)
	}
	setIf(&c.SweepMinSize, s.SweepMinSize)
	setIf(&c.DisplacementMinRatio, s.DisplacementMinRatio)
	setIf(&c.MinBodyRange, s.MinBodyRange)
	setIf(&c.DisplacementWindow, s.DisplacementWindow)
	setIf(&c.ZoneWindow, s.ZoneWindow)
	setIf(&c.RetraceWindow, s.RetraceWindow)
	setIf(&c.StopBuffer, s.StopBuffer)
	setIf(&c.RiskReward, s.RiskReward)
	setIf(&c.EMAFilter, s.EMAFilter)

	p := &c.Features
	setPositive(&p.SwingLookback, s.SwingLookback)
	setPositive(&p.SweepLookback, s.SweepLookback)
	setPositive(&p.DisplacementPeriod, s.DisplacementPeriod)
	setPositive(&p.OBLookback, s.OBLookback)
	setPositive(&p.EMAPeriod, s.EMAPeriod)
	if s.SweepReference != "" {
		p.SweepReference = feature.SweepReference(s.SweepReference)
	}

	if err := c.Validate(); err != nil {
		return strategy.Config{}, err
	}
	return c, nil
}

// StrategyConfigs construye todas las estrategias configuradas.
func (c *Config) StrategyConfigs() ([]strategy.Config, error) {
	out := make([]strategy.Config, 0, len(c.Strategies))
	for i, s := range c.Strategies {
		sc, err := s.Build()
		if err != nil {
			return nil, fmt.Errorf("config: strategies[%d]: %w", i, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// PaperInterval devuelve el intervalo de polling como time.Duration.
func (c *Config) PaperInterval() time.Duration {
	return time.Duration(c.Paper.IntervalSeconds) * time.Second
}

// ReplayDelay devuelve la pausa entre batches de replay.
func (c *Config) ReplayDelay() time.Duration {
	return time.Duration(c.Replay.DelayMS) * time.Millisecond
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ICTBOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ICTBOT_SYMBOLS"); v != "" {
		cfg.Data.Symbols = splitList(v)
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
