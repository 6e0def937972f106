package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/trading-risk-engine/internal/exit"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/notifications"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/internal/safety"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

type Config struct {
	Environment string `yaml:"environment"`

	Portfolio struct {
		InitialCash     float64 `yaml:"initial_cash"`
		MaxPositionPct  float64 `yaml:"max_position_pct"`
		MaxRiskyPct     float64 `yaml:"max_risky_pct"`
		MaxPositions    int     `yaml:"max_positions"`
		MinPositionSize float64 `yaml:"min_position_size"`
		MaxPositionSize float64 `yaml:"max_position_size"`
	} `yaml:"portfolio"`

	Exit struct {
		ProfitTargetPct float64 `yaml:"profit_target_pct"`
		StopLossPct     float64 `yaml:"stop_loss_pct"`
		MaxHoldDays     int     `yaml:"max_hold_days"`
		TrailingStopPct float64 `yaml:"trailing_stop_pct"`
		MinSignalScore  float64 `yaml:"min_signal_score"`
	} `yaml:"exit"`

	Engine struct {
		MinEntryScore       float64 `yaml:"min_entry_score"`
		MaxPriceChangePct   float64 `yaml:"max_price_change_pct"`
		DefaultPositionType string  `yaml:"default_position_type"`
	} `yaml:"engine"`

	Storage struct {
		StateFile    string `yaml:"state_file"`
		JournalPath  string `yaml:"journal_path"`
		SaveSchedule string `yaml:"save_schedule"` // cron spec, seconds field included
		BackupOnLoad bool   `yaml:"backup_on_load"`
	} `yaml:"storage"`

	Breaker struct {
		FailureThreshold uint32        `yaml:"failure_threshold"`
		Timeout          time.Duration `yaml:"timeout"`
	} `yaml:"breaker"`

	Logging struct {
		Level    string `yaml:"level"`
		Format   string `yaml:"format"`
		Detailed bool   `yaml:"detailed"`
		Tracing  bool   `yaml:"tracing"`
	} `yaml:"logging"`

	Monitoring struct {
		MetricsAddr string        `yaml:"metrics_addr"`
		MaxTickAge  time.Duration `yaml:"max_tick_age"`
	} `yaml:"monitoring"`

	Notifications struct {
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
		MaxPerMinute   int    `yaml:"max_per_minute"`
	} `yaml:"notifications"`
}

// Default returns a config holding the built-in limits
func Default() *Config {
	c := &Config{Environment: "development"}

	pc := portfolio.DefaultPortfolioConfig()
	c.Portfolio.InitialCash = pc.InitialCash.InexactFloat64()
	c.Portfolio.MaxPositionPct = pc.MaxPositionPct.InexactFloat64()
	c.Portfolio.MaxRiskyPct = pc.MaxRiskyPct.InexactFloat64()
	c.Portfolio.MaxPositions = pc.MaxPositions
	c.Portfolio.MinPositionSize = pc.MinPositionSize.InexactFloat64()
	c.Portfolio.MaxPositionSize = pc.MaxPositionSize.InexactFloat64()

	ec := exit.DefaultConfig()
	c.Exit.ProfitTargetPct = ec.ProfitTargetPct.InexactFloat64()
	c.Exit.StopLossPct = ec.StopLossPct.InexactFloat64()
	c.Exit.MaxHoldDays = ec.MaxHoldDays
	c.Exit.TrailingStopPct = ec.TrailingStopPct.InexactFloat64()
	c.Exit.MinSignalScore = ec.MinSignalScore

	c.Engine.MinEntryScore = 70
	c.Engine.MaxPriceChangePct = safety.DefaultMaxChangePct.InexactFloat64()
	c.Engine.DefaultPositionType = string(types.PositionMomentum)

	c.Storage.StateFile = "portfolio_state.json"
	c.Storage.SaveSchedule = "*/30 * * * * *"

	c.Breaker.FailureThreshold = 3
	c.Breaker.Timeout = 30 * time.Second

	c.Logging.Level = "INFO"
	c.Logging.Format = "text"

	c.Monitoring.MaxTickAge = 5 * time.Minute

	c.Notifications.MaxPerMinute = 10
	return c
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENV", c.Environment)

	c.Portfolio.InitialCash = getEnvFloat("RISK_INITIAL_CASH", c.Portfolio.InitialCash)
	c.Portfolio.MaxPositionPct = getEnvFloat("RISK_MAX_POSITION_PCT", c.Portfolio.MaxPositionPct)
	c.Portfolio.MaxRiskyPct = getEnvFloat("RISK_MAX_RISKY_PCT", c.Portfolio.MaxRiskyPct)
	c.Portfolio.MaxPositions = getEnvInt("RISK_MAX_POSITIONS", c.Portfolio.MaxPositions)
	c.Engine.MinEntryScore = getEnvFloat("RISK_MIN_ENTRY_SCORE", c.Engine.MinEntryScore)

	c.Storage.StateFile = getEnv("RISK_STATE_FILE", c.Storage.StateFile)
	c.Storage.JournalPath = getEnv("RISK_JOURNAL_PATH", c.Storage.JournalPath)
	c.Storage.SaveSchedule = getEnv("RISK_SAVE_SCHEDULE", c.Storage.SaveSchedule)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Detailed = getEnvBool("LOG_DETAILED", c.Logging.Detailed)
	c.Logging.Tracing = getEnvBool("OTEL_TRACING", c.Logging.Tracing)

	c.Monitoring.MetricsAddr = getEnv("METRICS_ADDR", c.Monitoring.MetricsAddr)
	c.Monitoring.MaxTickAge = getEnvDuration("MAX_TICK_AGE", c.Monitoring.MaxTickAge)

	c.Notifications.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)
	c.Notifications.MaxPerMinute = getEnvInt("NOTIFY_MAX_PER_MINUTE", c.Notifications.MaxPerMinute)
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.PortfolioConfig().Validate(); err != nil {
		return err
	}
	if err := c.ExitConfig().Validate(); err != nil {
		return fmt.Errorf("exit: %w", err)
	}
	if c.Engine.MinEntryScore < 0 || c.Engine.MinEntryScore > 100 {
		return fmt.Errorf("engine.min_entry_score must be between 0-100, got %.2f", c.Engine.MinEntryScore)
	}
	if c.Engine.MaxPriceChangePct <= 0 {
		return fmt.Errorf("engine.max_price_change_pct must be positive, got %.2f", c.Engine.MaxPriceChangePct)
	}
	if _, err := types.ParsePositionType(c.Engine.DefaultPositionType); err != nil {
		return fmt.Errorf("engine.default_position_type: %w", err)
	}
	if c.Storage.StateFile == "" {
		return errors.New("storage.state_file cannot be empty")
	}
	if (c.Notifications.TelegramToken == "") != (c.Notifications.TelegramChatID == "") {
		return errors.New("notifications: telegram_token and telegram_chat_id must be set together")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}
	return nil
}

// PortfolioConfig converts the portfolio section
func (c *Config) PortfolioConfig() portfolio.PortfolioConfig {
	return portfolio.PortfolioConfig{
		InitialCash:     decimal.NewFromFloat(c.Portfolio.InitialCash),
		MaxPositionPct:  decimal.NewFromFloat(c.Portfolio.MaxPositionPct),
		MaxRiskyPct:     decimal.NewFromFloat(c.Portfolio.MaxRiskyPct),
		MaxPositions:    c.Portfolio.MaxPositions,
		MinPositionSize: decimal.NewFromFloat(c.Portfolio.MinPositionSize),
		MaxPositionSize: decimal.NewFromFloat(c.Portfolio.MaxPositionSize),
	}
}

// ExitConfig converts the exit section
func (c *Config) ExitConfig() exit.Config {
	return exit.Config{
		ProfitTargetPct: decimal.NewFromFloat(c.Exit.ProfitTargetPct),
		StopLossPct:     decimal.NewFromFloat(c.Exit.StopLossPct),
		MaxHoldDays:     c.Exit.MaxHoldDays,
		TrailingStopPct: decimal.NewFromFloat(c.Exit.TrailingStopPct),
		MinSignalScore:  c.Exit.MinSignalScore,
	}
}

// LogConfig converts the logging section
func (c *Config) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:           c.Logging.Level,
		Format:          c.Logging.Format,
		DetailedLogging: c.Logging.Detailed,
		TracingEnabled:  c.Logging.Tracing,
	}
}

// Notifier returns a throttled Telegram notifier when credentials are
// configured
func (c *Config) Notifier() notifications.Notifier {
	if c.Notifications.TelegramToken == "" {
		return notifications.NoopNotifier{}
	}
	telegram := notifications.NewTelegramNotifier(c.Notifications.TelegramToken, c.Notifications.TelegramChatID)
	return notifications.NewThrottledNotifier(telegram, c.Notifications.MaxPerMinute)
}

// BreakerConfig converts the breaker section
func (c *Config) BreakerConfig() safety.CircuitBreakerConfig {
	return safety.CircuitBreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		Timeout:          c.Breaker.Timeout,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
