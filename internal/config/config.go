package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"alphafactory/internal/domain"
	"alphafactory/internal/engine"
	"alphafactory/internal/sweep"
)

// EnvConfigPath names the environment variable binaries read the config path
// from when no -config flag is given.
const EnvConfigPath = "AF_CONFIG"

// DefaultPath is the config file used when neither flag nor env is set.
const DefaultPath = "config/alphafactory.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for alphafactory.
type Config struct {
	Storage  Storage  `yaml:"storage" toml:"storage"`
	Postgres Postgres `yaml:"postgres" toml:"postgres"`
	Redis    Redis    `yaml:"redis" toml:"redis"`
	S3       S3       `yaml:"s3" toml:"s3"`
	Server   Server   `yaml:"server" toml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca" toml:"alpaca"`
	Logging  Logging  `yaml:"logging" toml:"logging"`
	Import   Import   `yaml:"import" toml:"import"`
	Backtest Backtest `yaml:"backtest" toml:"backtest"`
	Strategy Strategy `yaml:"strategy" toml:"strategy"`
	Sweep    Sweep    `yaml:"sweep" toml:"sweep"`
}

// Result store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Storage holds paths for data persistence.
type Storage struct {
	DataDir       string `yaml:"data_dir" toml:"data_dir"`
	SQLitePath    string `yaml:"sqlite_path" toml:"sqlite_path"`
	ResultBackend string `yaml:"result_backend" toml:"result_backend"`
}

// Postgres configures the PostgreSQL result store.
type Postgres struct {
	DSN      string `yaml:"dsn" toml:"dsn"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Database string `yaml:"database" toml:"database"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
}

// Redis configures the optional report cache.
type Redis struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl"`
}

// S3 configures the optional report archive.
type S3 struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Region         string `yaml:"region" toml:"region"`
	Bucket         string `yaml:"bucket" toml:"bucket"`
	Prefix         string `yaml:"prefix" toml:"prefix"`
	AccessKey      string `yaml:"access_key" toml:"access_key"`
	SecretKey      string `yaml:"secret_key" toml:"secret_key"`
	UseSSL         bool   `yaml:"use_ssl" toml:"use_ssl"`
	ForcePathStyle bool   `yaml:"force_path_style" toml:"force_path_style"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	GRPCPort int    `yaml:"grpc_port" toml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	APISecret string `yaml:"api_secret" toml:"api_secret"`
	DataURL   string `yaml:"data_url" toml:"data_url"`
	Feed      string `yaml:"feed" toml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Import controls daily bar gathering.
type Import struct {
	Market          string   `yaml:"market" toml:"market"`
	Symbols         []string `yaml:"symbols" toml:"symbols"`
	StartDate       string   `yaml:"start_date" toml:"start_date"`
	BatchSize       int      `yaml:"batch_size" toml:"batch_size"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" toml:"rate_limit_per_min"`
	Indicators      bool     `yaml:"indicators" toml:"indicators"`
}

// Backtest is the simulation configuration surface.
type Backtest struct {
	InitialCapital         float64 `yaml:"initial_capital" toml:"initial_capital" json:"initial_capital"`
	CommissionPct          float64 `yaml:"commission_pct" toml:"commission_pct" json:"commission_pct"`
	SlippagePct            float64 `yaml:"slippage_pct" toml:"slippage_pct" json:"slippage_pct"`
	MinCommission          float64 `yaml:"min_commission" toml:"min_commission" json:"min_commission"`
	PositionSizingMethod   string  `yaml:"position_sizing_method" toml:"position_sizing_method" json:"position_sizing_method"`
	PositionPct            float64 `yaml:"position_pct" toml:"position_pct" json:"position_pct"`
	RiskPerTrade           float64 `yaml:"risk_per_trade" toml:"risk_per_trade" json:"risk_per_trade"`
	StopLossPct            float64 `yaml:"stop_loss_pct" toml:"stop_loss_pct" json:"stop_loss_pct"`
	ATRMultiplier          float64 `yaml:"atr_multiplier" toml:"atr_multiplier" json:"atr_multiplier"`
	ATRIndicator           string  `yaml:"atr_indicator" toml:"atr_indicator" json:"atr_indicator"`
	TakeProfitPct          float64 `yaml:"take_profit_pct" toml:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct        float64 `yaml:"trailing_stop_pct" toml:"trailing_stop_pct" json:"trailing_stop_pct"`
	MaxHoldBars            int     `yaml:"max_hold_bars" toml:"max_hold_bars" json:"max_hold_bars"`
	KellyFraction          float64 `yaml:"kelly_fraction" toml:"kelly_fraction" json:"kelly_fraction"`
	KellyMinTrades         int     `yaml:"kelly_min_trades" toml:"kelly_min_trades" json:"kelly_min_trades"`
	MaxPositionPct         float64 `yaml:"max_position_pct" toml:"max_position_pct" json:"max_position_pct"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions" toml:"max_concurrent_positions" json:"max_concurrent_positions"`
	ReserveCashPct         float64 `yaml:"reserve_cash_pct" toml:"reserve_cash_pct" json:"reserve_cash_pct"`
	ComputeIndicators      bool    `yaml:"compute_indicators" toml:"compute_indicators" json:"compute_indicators"`
}

// Strategy selects the signal provider and its parameters.
type Strategy struct {
	Name   string         `yaml:"name" toml:"name"`
	Params map[string]any `yaml:"params" toml:"params"`
}

// Sweep configures parameter sweeps.
type Sweep struct {
	Parallelism int        `yaml:"parallelism" toml:"parallelism"`
	Grid        sweep.Grid `yaml:"grid" toml:"grid"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Defaults returns the configuration used for any key a file leaves unset.
func Defaults() Config {
	return Config{
		Storage: Storage{
			DataDir:       "data",
			SQLitePath:    "data/alphafactory.db",
			ResultBackend: BackendSQLite,
		},
		Postgres: Postgres{Port: 5432, SSLMode: "disable", MaxConns: 10},
		Redis:    Redis{Addr: "localhost:6379", TTL: 24 * time.Hour},
		S3:       S3{Region: "us-east-1", Prefix: "backtests"},
		Server:   Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Alpaca:   Alpaca{Feed: "iex"},
		Logging:  Logging{Level: "info", Format: "json"},
		Import: Import{
			Market:          string(domain.MarketUS),
			StartDate:       "2020-01-01",
			BatchSize:       100,
			RateLimitPerMin: 180,
			Indicators:      true,
		},
		Backtest: Backtest{
			InitialCapital:       100000,
			CommissionPct:        0.001,
			SlippagePct:          0.0005,
			PositionSizingMethod: string(engine.SizingFixed),
			PositionPct:          0.10,
			RiskPerTrade:         0.01,
			StopLossPct:          0.05,
			TakeProfitPct:        0.10,
			ATRIndicator:         engine.DefaultATRIndicator,
			KellyFraction:        engine.DefaultKellyScale,
			KellyMinTrades:       engine.DefaultKellyMinTrades,
		},
		Strategy: Strategy{Name: "sma_cross"},
		Sweep:    Sweep{Parallelism: 4},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads .env (if present), decodes the YAML or TOML file at path over
// Defaults, applies environment variable overrides and validates the result.
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath picks the config path from the flag value, then AF_CONFIG, then
// DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", domain.ErrInvalidConfig, filepath.Ext(path))
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"DATA_DIR":          &cfg.Storage.DataDir,
		"SQLITE_PATH":       &cfg.Storage.SQLitePath,
		"RESULT_BACKEND":    &cfg.Storage.ResultBackend,
		"POSTGRES_DSN":      &cfg.Postgres.DSN,
		"REDIS_ADDR":        &cfg.Redis.Addr,
		"REDIS_PASSWORD":    &cfg.Redis.Password,
		"S3_ENDPOINT":       &cfg.S3.Endpoint,
		"S3_REGION":         &cfg.S3.Region,
		"S3_BUCKET":         &cfg.S3.Bucket,
		"S3_ACCESS_KEY":     &cfg.S3.AccessKey,
		"S3_SECRET_KEY":     &cfg.S3.SecretKey,
		"ALPACA_API_KEY":    &cfg.Alpaca.APIKey,
		"ALPACA_API_SECRET": &cfg.Alpaca.APISecret,
		"ALPACA_DATA_URL":   &cfg.Alpaca.DataURL,
		"LOG_LEVEL":         &cfg.Logging.Level,
		"LOG_FORMAT":        &cfg.Logging.Format,
		"AF_STRATEGY":       &cfg.Strategy.Name,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	// Standard Alpaca env vars take priority; they are the names the SDK uses.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_ENABLED=%q", domain.ErrInvalidConfig, v)
		}
		cfg.Redis.Enabled = b
	}
	if v := os.Getenv("S3_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: S3_ENABLED=%q", domain.ErrInvalidConfig, v)
		}
		cfg.S3.Enabled = b
	}
	if v := os.Getenv("AF_INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: AF_INITIAL_CAPITAL=%q", domain.ErrInvalidConfig, v)
		}
		cfg.Backtest.InitialCapital = f
	}
	if v := os.Getenv("AF_MAX_CONCURRENT_POSITIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: AF_MAX_CONCURRENT_POSITIONS=%q", domain.ErrInvalidConfig, v)
		}
		cfg.Backtest.MaxConcurrentPositions = n
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks every section and returns the first problem, wrapped in
// domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Storage.ResultBackend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: storage.sqlite_path is required for the sqlite backend", domain.ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("%w: postgres.dsn or postgres.host is required", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.result_backend %q", domain.ErrInvalidConfig, c.Storage.ResultBackend)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when redis is enabled", domain.ErrInvalidConfig)
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		return fmt.Errorf("%w: s3.bucket and s3.region are required when s3 is enabled", domain.ErrInvalidConfig)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: logging.format %q not json or text", domain.ErrInvalidConfig, c.Logging.Format)
	}
	if c.Import.StartDate != "" {
		if _, err := time.Parse(time.DateOnly, c.Import.StartDate); err != nil {
			return fmt.Errorf("%w: import.start_date %q: %v", domain.ErrInvalidConfig, c.Import.StartDate, err)
		}
	}
	if c.Sweep.Parallelism < 0 {
		return fmt.Errorf("%w: sweep.parallelism must be >= 0", domain.ErrInvalidConfig)
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("%w: strategy.name is required", domain.ErrInvalidConfig)
	}
	return c.Backtest.EngineSettings().Validate()
}

// EngineSettings maps the backtest section onto engine settings. The single
// atr_multiplier drives both ATR sizing and ATR stops.
func (b Backtest) EngineSettings() engine.Settings {
	return engine.Settings{
		InitialCapital: b.InitialCapital,
		CommissionPct:  b.CommissionPct,
		SlippagePct:    b.SlippagePct,
		MinCommission:  b.MinCommission,
		Sizer: engine.Sizer{
			Method:         engine.SizingMethod(b.PositionSizingMethod),
			PositionPct:    b.PositionPct,
			RiskPerTrade:   b.RiskPerTrade,
			ATRMultiple:    b.ATRMultiplier,
			StopLossPct:    b.StopLossPct,
			KellyScale:     b.KellyFraction,
			KellyMinTrades: b.KellyMinTrades,
			MaxPositionPct: b.MaxPositionPct,
		},
		Risk: engine.RiskPolicy{
			StopLossPct:     b.StopLossPct,
			StopATRMultiple: b.ATRMultiplier,
			TakeProfitPct:   b.TakeProfitPct,
			TrailingStopPct: b.TrailingStopPct,
			MaxHoldBars:     b.MaxHoldBars,
		},
		ATRIndicator:           b.ATRIndicator,
		MaxConcurrentPositions: b.MaxConcurrentPositions,
		ReserveCashPct:         b.ReserveCashPct,
	}
}

// StartTime parses Import.StartDate, or returns the zero time.
func (i Import) StartTime() time.Time {
	t, _ := time.Parse(time.DateOnly, i.StartDate)
	return t
}
