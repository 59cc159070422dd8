package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoInstruments        = errors.New("config: no instruments configured")
	ErrInstrumentKey        = errors.New("config: instrument without key")
	ErrDuplicateInstrument  = errors.New("config: duplicate instrument key")
	ErrIncompleteInstrument = errors.New("config: instrument needs a slug or market_id + up_token + down_token")
	ErrInvalidLogLevel      = errors.New("config: invalid log level")
	ErrInvalidStepInterval  = errors.New("config: step interval must be positive")
	ErrNegativeStartingCash = errors.New("config: starting cash must not be negative")
)

// Config es la configuración completa del simulador paper.
type Config struct {
	Paper       PaperConfig        `yaml:"paper"`
	Risk        RiskConfig         `yaml:"risk"`
	Feed        FeedConfig         `yaml:"feed"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	API         APIConfig          `yaml:"api"`
	Storage     StorageConfig      `yaml:"storage"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Log         LogConfig          `yaml:"log"`
}

// PaperConfig controla la simulación de fills.
type PaperConfig struct {
	StrategyID     string  `yaml:"strategy_id"`
	StepIntervalMs int     `yaml:"step_interval_ms"`
	Seed           uint64  `yaml:"seed"`
	StartingCash   float64 `yaml:"starting_cash_usdc"`

	PostLatencyMs        int `yaml:"post_latency_ms"`
	CancelReqLatencyMs   int `yaml:"cancel_req_latency_ms"`
	CancelClearLatencyMs int `yaml:"cancel_clear_latency_ms"`

	FlowBasePerSec        float64  `yaml:"flow_base_per_sec"`
	FlowDepthFracPerSec   float64  `yaml:"flow_depth_frac_per_sec"`
	FlowNoiseFrac         *float64 `yaml:"flow_noise_frac"`      // nil = default; 0 desactiva el ruido
	FlowUseBookDeltas     *bool    `yaml:"flow_use_book_deltas"` // nil = true
	FlowFallbackMult      float64  `yaml:"flow_fallback_mult"`
	FlowRequireTradePrint bool     `yaml:"flow_require_trade_print"`

	QueueAddAheadFrac float64 `yaml:"queue_add_ahead_frac"`

	TradePrintMaxAgeMs int     `yaml:"trade_print_max_age_ms"`
	TradePrintBoost    float64 `yaml:"trade_print_boost"`
}

// RiskConfig son los caps de colocación. 0 desactiva un cap solo si se
// pone explícitamente por env; en YAML 0 significa "usar default".
type RiskConfig struct {
	MaxWorstTotalUSD     float64 `yaml:"max_worst_total_usd"`
	MaxWorstPerMarketUSD float64 `yaml:"max_worst_per_market_usd"`
	MaxTradesPerSession  int     `yaml:"max_trades_per_session"`
	MaxPositionShares    float64 `yaml:"max_position_shares"`
}

// FeedConfig indica de dónde salen market data e intents.
type FeedConfig struct {
	Sources        []string `yaml:"sources"`         // ficheros NDJSON con mensajes crudos del canal market
	Intents        string   `yaml:"intents"`         // fichero JSONL de intents, opcional
	BootstrapBooks bool     `yaml:"bootstrap_books"` // snapshot REST de los libros antes del feed
	LineDelayMs    int      `yaml:"line_delay_ms"`   // ritmo de reproducción, 0 = lo más rápido posible
}

// InstrumentConfig es un instrumento seguido. Si solo hay slug, la sesión
// se resuelve contra Gamma al arrancar.
type InstrumentConfig struct {
	Key       string `yaml:"key"`
	Slug      string `yaml:"slug"`
	MarketID  string `yaml:"market_id"`
	UpToken   string `yaml:"up_token"`
	DownToken string `yaml:"down_token"`
}

// Resolved devuelve true si la sesión está completa sin consultar Gamma.
func (i InstrumentConfig) Resolved() bool {
	return i.MarketID != "" && i.UpToken != "" && i.DownToken != ""
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	DataBase  string `yaml:"data_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// TelemetryConfig controla los sinks del stream de eventos.
type TelemetryConfig struct {
	EventsPath  string `yaml:"events_path"`  // JSONL, vacío = desactivado
	MetricsAddr string `yaml:"metrics_addr"` // ej. ":9108", vacío = sin servidor
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica YAML, overrides de entorno, defaults y validación.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	setDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// StepInterval es el periodo del ticker que llama a Broker.Step.
func (c *Config) StepInterval() time.Duration {
	return ms(c.Paper.StepIntervalMs)
}

// PostLatency es el retraso submit→OPEN simulado.
func (c *Config) PostLatency() time.Duration { return ms(c.Paper.PostLatencyMs) }

// CancelRequestLatency es el retraso hasta que el venue recibe el cancel.
func (c *Config) CancelRequestLatency() time.Duration { return ms(c.Paper.CancelReqLatencyMs) }

// CancelClearLatency es el retraso entre recibir y confirmar el cancel.
func (c *Config) CancelClearLatency() time.Duration { return ms(c.Paper.CancelClearLatencyMs) }

// TradePrintMaxAge es la edad máxima de un print para contar como fresco.
func (c *Config) TradePrintMaxAge() time.Duration { return ms(c.Paper.TradePrintMaxAgeMs) }

// LineDelay es la espera entre líneas al reproducir un feed.
func (c *Config) LineDelay() time.Duration { return ms(c.Feed.LineDelayMs) }

// NoiseFrac devuelve el ruido de flow efectivo.
func (c *Config) NoiseFrac() float64 {
	if c.Paper.FlowNoiseFrac == nil {
		return 0.25
	}
	return *c.Paper.FlowNoiseFrac
}

// UseBookDeltas devuelve si se infiere flow de los deltas del libro.
func (c *Config) UseBookDeltas() bool {
	return c.Paper.FlowUseBookDeltas == nil || *c.Paper.FlowUseBookDeltas
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Los nombres son los históricos del .env (PM_PAPER_*, MAX_*).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	p := &cfg.Paper
	envFloat("PM_PAPER_STARTING_CASH", &p.StartingCash)
	envInt("PM_PAPER_POST_LATENCY_MS", &p.PostLatencyMs)
	envInt("PM_PAPER_CANCEL_REQ_LATENCY_MS", &p.CancelReqLatencyMs)
	envInt("PM_PAPER_CANCEL_CLEAR_LATENCY_MS", &p.CancelClearLatencyMs)
	envFloat("PM_PAPER_FLOW_BASE", &p.FlowBasePerSec)
	envFloat("PM_PAPER_FLOW_DEPTH_FRAC", &p.FlowDepthFracPerSec)
	envFloat("PM_PAPER_FLOW_FALLBACK_MULT", &p.FlowFallbackMult)
	envBool("PM_PAPER_FLOW_REQUIRE_TRADE_PRINT", &p.FlowRequireTradePrint)
	envFloat("PM_PAPER_QUEUE_ADD_AHEAD_FRAC", &p.QueueAddAheadFrac)

	if v, ok := lookupFloat("PM_PAPER_FLOW_NOISE_FRAC"); ok {
		p.FlowNoiseFrac = &v
	}
	if v, ok := lookupBool("PM_PAPER_FLOW_USE_BOOK_DELTAS"); ok {
		p.FlowUseBookDeltas = &v
	}
	if v := os.Getenv("PM_PAPER_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.Seed = n
		} else {
			slog.Warn("config: ignoring malformed env value", "key", "PM_PAPER_SEED", "value", v)
		}
	}

	r := &cfg.Risk
	envFloat("MAX_WORST_TOTAL_USD", &r.MaxWorstTotalUSD)
	envFloat("MAX_WORST_PER_MARKET_USD", &r.MaxWorstPerMarketUSD)
	envInt("MAX_TRADES_PER_SESSION", &r.MaxTradesPerSession)
	envFloat("MAX_POSITION_SHARES", &r.MaxPositionShares)
}

func envFloat(key string, dst *float64) {
	if v, ok := lookupFloat(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config: ignoring malformed env value", "key", key, "value", v)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	if v, ok := lookupBool(key); ok {
		*dst = v
	}
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		slog.Warn("config: ignoring malformed env value", "key", key, "value", v)
		return 0, false
	}
	return f, true
}

// lookupBool acepta 1/0, true/false, yes/no, on/off.
func lookupBool(key string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return false, false
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	slog.Warn("config: ignoring malformed env value", "key", key, "value", v)
	return false, false
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	p := &cfg.Paper
	if p.StrategyID == "" {
		p.StrategyID = "paper"
	}
	if p.StepIntervalMs == 0 {
		p.StepIntervalMs = 100
	}
	if p.Seed == 0 {
		p.Seed = 1
	}
	if p.StartingCash == 0 {
		p.StartingCash = 1000
	}
	if p.PostLatencyMs <= 0 {
		p.PostLatencyMs = 250
	}
	if p.CancelReqLatencyMs <= 0 {
		p.CancelReqLatencyMs = 80
	}
	if p.CancelClearLatencyMs <= 0 {
		p.CancelClearLatencyMs = 350
	}
	if p.FlowBasePerSec <= 0 {
		p.FlowBasePerSec = 5
	}
	if p.FlowDepthFracPerSec <= 0 {
		p.FlowDepthFracPerSec = 0.02
	}
	if p.FlowFallbackMult <= 0 {
		p.FlowFallbackMult = 1.0
	}
	if p.TradePrintMaxAgeMs <= 0 {
		p.TradePrintMaxAgeMs = 10_000
	}
	if p.TradePrintBoost <= 0 {
		p.TradePrintBoost = 1.25
	}

	r := &cfg.Risk
	if r.MaxWorstTotalUSD <= 0 {
		r.MaxWorstTotalUSD = 200
	}
	if r.MaxWorstPerMarketUSD <= 0 {
		r.MaxWorstPerMarketUSD = 75
	}
	if r.MaxTradesPerSession <= 0 {
		r.MaxTradesPerSession = 1
	}
	if r.MaxPositionShares <= 0 {
		r.MaxPositionShares = 50
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polypaper.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Paper.StepIntervalMs < 0 {
		return ErrInvalidStepInterval
	}
	if c.Paper.StartingCash < 0 {
		return ErrNegativeStartingCash
	}

	if len(c.Instruments) == 0 {
		return ErrNoInstruments
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Key == "" {
			return ErrInstrumentKey
		}
		if seen[in.Key] {
			return fmt.Errorf("%w: %q", ErrDuplicateInstrument, in.Key)
		}
		seen[in.Key] = true
		if in.Slug == "" && !in.Resolved() {
			return fmt.Errorf("%w: %q", ErrIncompleteInstrument, in.Key)
		}
	}
	return nil
}
