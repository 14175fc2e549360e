package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/scheduler"
)

// Config holds all application configuration.
type Config struct {
	Engine EngineConfig

	// Alpaca brokerage, one account per strategy
	AlpacaTradingURL string
	AlpacaDataURL    string
	AlpacaStreamURL  string
	AlpacaFeed       string
	Credentials      map[domain.StrategyID]Credentials

	// LLM providers
	OpenAIKey      string
	OpenAIModel    string
	DeepSeekKey    string
	DeepSeekModel  string
	AnthropicKey   string
	AnthropicModel string
	GeminiKey      string
	GeminiModel    string
	LLMRatePerMin  float64

	// Universe
	UniverseFile     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	UniverseCacheTTL time.Duration

	// Persistence
	DBDriver     string // sqlite3 or postgres
	DBDSN        string
	QueryTimeout time.Duration
	BackupDir    string

	// Status API
	HTTPAddr string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat logger.Format
}

// Credentials is one Alpaca key pair.
type Credentials struct {
	KeyID     string
	SecretKey string
}

// EngineConfig is the operator-facing configuration object of the engine.
type EngineConfig struct {
	Cadence             CadenceConfig      `yaml:"cadence"`
	MaxHoldingPeriod    time.Duration      `yaml:"max_holding_period"`
	RiskFractionBounds  RiskFractionBounds `yaml:"risk_fraction_bounds"`
	StopLossBounds      Bounds             `yaml:"stop_loss_bounds"`
	ProfitMultiplier    float64            `yaml:"profit_multiplier"`
	MaxPositionFraction float64            `yaml:"max_position_fraction"`
	MaxExposure         float64            `yaml:"max_exposure"`
	VolatilityLookback  int                `yaml:"volatility_lookback"`
	RetryPolicy         RetryPolicy        `yaml:"retry_policy"`
	StrategyTimeout     time.Duration      `yaml:"strategy_timeout"`
	SubmitTimeout       time.Duration      `yaml:"submit_timeout"`
	SweepInterval       time.Duration      `yaml:"sweep_interval"`
	StartingCapital     float64            `yaml:"starting_capital"`
	TransactionCost     float64            `yaml:"transaction_cost"`
	RiskFreeRate        float64            `yaml:"risk_free_rate"`
	RankingMetric       string             `yaml:"ranking_metric"`
	AllowList           []string           `yaml:"allow_list"`
	DryRun              bool               `yaml:"dry_run"`
	MaxCandidates       int                `yaml:"max_candidates"`
	MaxPositions        int                `yaml:"max_positions"`
	RandomSeed          int64              `yaml:"random_seed"`
}

// CadenceConfig describes when rebalance cycles fire.
type CadenceConfig struct {
	Kind     string `yaml:"kind"`    // weekly or daily
	Weekday  string `yaml:"weekday"` // e.g. friday
	At       string `yaml:"at"`      // HH:MM
	Timezone string `yaml:"timezone"`
}

// Bounds is an inclusive [Min, Max] range.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// RiskFractionBounds bounds the suggested risk fraction of a recommendation.
type RiskFractionBounds struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Default float64 `yaml:"default"`
}

// RetryPolicy controls strategy fetch retries and next-cycle resubmission.
type RetryPolicy struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	ResubmitRejected bool          `yaml:"resubmit_rejected"`
}

// Schedule builds the scheduler cadence described by the config.
func (e EngineConfig) Schedule() (scheduler.Cadence, error) {
	return scheduler.NewCadence(e.Cadence.Kind, e.Cadence.Weekday, e.Cadence.At, e.Cadence.Timezone)
}

// Allowed reports whether a strategy is enabled by the allow-list.
// An empty allow-list enables every strategy.
func (e EngineConfig) Allowed(id domain.StrategyID) bool {
	if len(e.AllowList) == 0 {
		return true
	}
	for _, s := range e.AllowList {
		if strings.EqualFold(strings.TrimSpace(s), string(id)) {
			return true
		}
	}
	return false
}

// TakeProfitMultiple is the only accepted profit_multiplier: take profit sits
// at twice the stop distance from entry.
const TakeProfitMultiple = 2.0

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Cadence:             CadenceConfig{Kind: "weekly", Weekday: "friday", At: "15:30", Timezone: "America/New_York"},
		MaxHoldingPeriod:    21 * 24 * time.Hour,
		RiskFractionBounds:  RiskFractionBounds{Min: 0.001, Max: 0.05, Default: 0.02},
		StopLossBounds:      Bounds{Min: 0.10, Max: 0.30},
		ProfitMultiplier:    TakeProfitMultiple,
		MaxPositionFraction: 0.10,
		MaxExposure:         0.95,
		VolatilityLookback:  20,
		RetryPolicy:         RetryPolicy{MaxAttempts: 2, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, ResubmitRejected: true},
		StrategyTimeout:     3 * time.Minute,
		SubmitTimeout:       30 * time.Second,
		SweepInterval:       time.Hour,
		StartingCapital:     100000,
		TransactionCost:     0.001,
		RiskFreeRate:        0.02,
		RankingMetric:       "sharpe",
		MaxCandidates:       150,
		MaxPositions:        10,
		RandomSeed:          42,
	}
}

// Overrides are command-line values that take precedence over file and env.
type Overrides struct {
	ConfigPath string
	DryRun     bool
	Strategies []string
	Cadence    string
	LogLevel   string

	fs *pflag.FlagSet
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) *Overrides {
	ov := &Overrides{fs: fs}
	fs.StringVar(&ov.ConfigPath, "config", "", "path to engine YAML config (default $ENGINE_CONFIG or ./config/engine.yaml)")
	fs.BoolVar(&ov.DryRun, "dry-run", false, "simulate orders with the paper broker")
	fs.StringSliceVar(&ov.Strategies, "strategies", nil, "strategy allow-list (comma separated)")
	fs.StringVar(&ov.Cadence, "cadence", "", "cadence override: weekly or daily")
	fs.StringVar(&ov.LogLevel, "log-level", "", "log level override")
	return ov
}

func (o *Overrides) changed(name string) bool {
	return o != nil && o.fs != nil && o.fs.Changed(name)
}

// LoadConfig loads configuration from the .env file, the engine YAML file and
// environment variables, applies flag overrides and validates the result.
func LoadConfig(ov *Overrides) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{Engine: DefaultEngineConfig()}
	var errs []string // Collect validation errors

	path := getEnv("ENGINE_CONFIG", "./config/engine.yaml")
	if ov != nil && ov.ConfigPath != "" {
		path = ov.ConfigPath
	}
	if err := loadEngineFile(path, &cfg.Engine, ov != nil && ov.ConfigPath != ""); err != nil {
		errs = append(errs, err.Error())
	}

	// Env overrides of engine settings
	cfg.Engine.DryRun = getEnvAsBool("DRY_RUN", cfg.Engine.DryRun)
	if v := getEnv("STRATEGIES", ""); v != "" {
		cfg.Engine.AllowList = splitList(v)
	}
	cfg.Engine.StartingCapital = getEnvAsFloat("STARTING_CAPITAL", cfg.Engine.StartingCapital)

	// Brokerage
	cfg.AlpacaTradingURL = getEnv("ALPACA_TRADING_URL", "https://paper-api.alpaca.markets")
	cfg.AlpacaDataURL = getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets")
	cfg.AlpacaStreamURL = getEnv("ALPACA_STREAM_URL", "wss://stream.data.alpaca.markets/v2/iex")
	cfg.AlpacaFeed = getEnv("ALPACA_FEED", "iex")
	cfg.Credentials = make(map[domain.StrategyID]Credentials, len(domain.AllStrategies))
	for _, id := range domain.AllStrategies {
		cfg.Credentials[id] = Credentials{
			KeyID:     getEnv("ALPACA_"+id.EnvKey()+"_KEY_ID", getEnv("ALPACA_KEY_ID", "")),
			SecretKey: getEnv("ALPACA_"+id.EnvKey()+"_SECRET_KEY", getEnv("ALPACA_SECRET_KEY", "")),
		}
	}

	// LLM providers
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", "")
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", "gpt-4")
	cfg.DeepSeekKey = getEnv("DEEPSEEK_API_KEY", "")
	cfg.DeepSeekModel = getEnv("DEEPSEEK_MODEL", "deepseek-reasoner")
	cfg.AnthropicKey = getEnv("ANTHROPIC_API_KEY", "")
	cfg.AnthropicModel = getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022")
	cfg.GeminiKey = getEnv("GEMINI_API_KEY", "")
	cfg.GeminiModel = getEnv("GEMINI_MODEL", "gemini-1.5-pro")
	cfg.LLMRatePerMin = getEnvAsFloat("LLM_REQUESTS_PER_MINUTE", 20)
	if cfg.LLMRatePerMin <= 0 {
		errs = append(errs, "LLM_REQUESTS_PER_MINUTE must be positive")
	}

	// Universe
	cfg.UniverseFile = getEnv("UNIVERSE_FILE", "./data/russell3000.csv")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.UniverseCacheTTL = time.Duration(getEnvAsInt("UNIVERSE_CACHE_TTL_HOURS", 24)) * time.Hour

	// Database
	cfg.DBDriver = getEnv("DATABASE_DRIVER", "sqlite3")
	cfg.DBDSN = getEnv("DATABASE_DSN", "./data/ledgers.db")
	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "postgres" {
		errs = append(errs, "DATABASE_DRIVER must be sqlite3 or postgres")
	}
	if cfg.DBDSN == "" {
		errs = append(errs, "DATABASE_DSN must be set")
	}
	queryTimeout, err := getEnvAsIntRequired("DB_QUERY_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DB_QUERY_TIMEOUT_SECONDS: %v", err))
	} else if queryTimeout <= 0 {
		errs = append(errs, "DB_QUERY_TIMEOUT_SECONDS must be positive")
	}
	cfg.QueryTimeout = time.Duration(queryTimeout) * time.Second
	cfg.BackupDir = getEnv("BACKUP_DIR", "./data/backups")

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = logger.Format(strings.ToLower(getEnv("LOG_FORMAT", string(logger.FormatAuto))))

	// Flag overrides
	if ov.changed("dry-run") {
		cfg.Engine.DryRun = ov.DryRun
	}
	if ov.changed("strategies") {
		cfg.Engine.AllowList = ov.Strategies
	}
	if ov.changed("cadence") {
		cfg.Engine.Cadence.Kind = ov.Cadence
	}
	if ov.changed("log-level") {
		cfg.LogLevel = logger.ParseLevel(ov.LogLevel)
	}

	errs = append(errs, cfg.Engine.validate()...)

	if !cfg.Engine.DryRun {
		for _, id := range domain.AllStrategies {
			if !cfg.Engine.Allowed(id) {
				continue
			}
			if c := cfg.Credentials[id]; c.KeyID == "" || c.SecretKey == "" {
				errs = append(errs, fmt.Sprintf("ALPACA_%s_KEY_ID and ALPACA_%s_SECRET_KEY must be set (or run with --dry-run)", id.EnvKey(), id.EnvKey()))
			}
		}
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func loadEngineFile(path string, into *EngineConfig, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read engine config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse engine config %s: %v", path, err)
	}
	return nil
}

func (e EngineConfig) validate() []string {
	var errs []string
	if _, err := e.Schedule(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid cadence: %v", err))
	}
	if e.MaxHoldingPeriod <= 0 {
		errs = append(errs, "max_holding_period must be positive")
	}
	rb := e.RiskFractionBounds
	if rb.Min <= 0 || rb.Max <= rb.Min || rb.Max > 1 {
		errs = append(errs, "risk_fraction_bounds must satisfy 0 < min < max <= 1")
	}
	if rb.Default < rb.Min || rb.Default > rb.Max {
		errs = append(errs, "risk_fraction_bounds.default must lie within [min, max]")
	}
	if e.StopLossBounds.Min <= 0 || e.StopLossBounds.Max <= e.StopLossBounds.Min || e.StopLossBounds.Max >= 1 {
		errs = append(errs, "stop_loss_bounds must satisfy 0 < min < max < 1")
	}
	if e.ProfitMultiplier != TakeProfitMultiple {
		errs = append(errs, fmt.Sprintf("profit_multiplier must be %g, got %g", TakeProfitMultiple, e.ProfitMultiplier))
	}
	if e.MaxPositionFraction <= 0 || e.MaxPositionFraction > 1 {
		errs = append(errs, "max_position_fraction must be within (0, 1]")
	}
	if e.MaxExposure <= 0 || e.MaxExposure > 1 {
		errs = append(errs, "max_exposure must be within (0, 1]")
	}
	if e.VolatilityLookback <= 1 {
		errs = append(errs, "volatility_lookback must be greater than 1")
	}
	if e.RetryPolicy.MaxAttempts < 1 {
		errs = append(errs, "retry_policy.max_attempts must be at least 1")
	}
	if e.StrategyTimeout <= 0 || e.SubmitTimeout <= 0 || e.SweepInterval <= 0 {
		errs = append(errs, "strategy_timeout, submit_timeout and sweep_interval must be positive")
	}
	if e.StartingCapital <= 0 {
		errs = append(errs, "starting_capital must be positive")
	}
	if e.TransactionCost < 0 || e.TransactionCost >= 0.1 {
		errs = append(errs, "transaction_cost must be within [0, 0.1)")
	}
	switch e.RankingMetric {
	case "sharpe", "sortino", "calmar", "total_return", "max_drawdown":
	default:
		errs = append(errs, fmt.Sprintf("unsupported ranking_metric %q", e.RankingMetric))
	}
	for _, s := range e.AllowList {
		if !knownStrategy(s) {
			errs = append(errs, fmt.Sprintf("unknown strategy %q in allow_list", s))
		}
	}
	if e.MaxCandidates <= 0 || e.MaxPositions <= 0 {
		errs = append(errs, "max_candidates and max_positions must be positive")
	}
	return errs
}

func knownStrategy(s string) bool {
	for _, id := range domain.AllStrategies {
		if strings.EqualFold(strings.TrimSpace(s), string(id)) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
