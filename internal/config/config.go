package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/utils"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Fatal startup errors. The process refuses to run without a signer or a chain endpoint.
var (
	ErrMissingPrivateKey = errors.New("chain private key is not configured")
	ErrNoRPCEndpoints    = errors.New("no chain RPC endpoints configured")
)

type Config struct {
	Environment   string          `mapstructure:"environment"`
	LogLevel      string          `mapstructure:"log_level"`
	BotConfigPath string          `mapstructure:"bot_config_path"`
	Server        ServerConfig    `mapstructure:"server"`
	Database      DatabaseConfig  `mapstructure:"database"`
	Redis         RedisConfig     `mapstructure:"redis"`
	Chain         ChainConfig     `mapstructure:"chain"`
	Relay         RelayConfig     `mapstructure:"relay"`
	Scorer        ScorerConfig    `mapstructure:"scorer"`
	Telegram      TelegramConfig  `mapstructure:"telegram"`
	Telemetry     TelemetryConfig `mapstructure:"telemetry"`
	Security      SecurityConfig  `mapstructure:"security"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Bot           BotConfig       `mapstructure:"bot"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	DatabaseURL     string        `mapstructure:"database_url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ChainConfig configures chain access and the signing identity.
type ChainConfig struct {
	RPCURLs        []string      `mapstructure:"rpc_urls"`
	PrivateKey     string        `mapstructure:"private_key" json:"-" yaml:"-"`
	ChainID        int64         `mapstructure:"chain_id"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPoll    time.Duration `mapstructure:"receipt_poll"`
	GasMultiplier  float64       `mapstructure:"gas_multiplier"`
}

// RelayConfig configures the private bundle relay.
type RelayConfig struct {
	URL     string        `mapstructure:"url"`
	AuthKey string        `mapstructure:"auth_key" json:"-" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScorerConfig configures the external scoring service.
type ScorerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"-" yaml:"-"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	Stdout         bool    `mapstructure:"stdout"`
}

type SecurityConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry       string `mapstructure:"jwt_expiry"`
	AdminAPIKey     string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash" json:"-" yaml:"-"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// SchedulerConfig holds the timer periods of the control loop.
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	RPCMonitorInterval time.Duration `mapstructure:"rpc_monitor_interval"`
	AdviceInterval     time.Duration `mapstructure:"advice_interval"`
	SentimentInterval  time.Duration `mapstructure:"sentiment_interval"`
	ScanConcurrency    int           `mapstructure:"scan_concurrency"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Short names used by existing deployments
	bindings := map[string][]string{
		"security.jwt_secret":    {"JWT_SECRET"},
		"security.admin_api_key": {"ADMIN_API_KEY"},
		"chain.private_key":      {"CHAIN_PRIVATE_KEY", "PRIVATE_KEY"},
		"scorer.api_key":         {"SCORER_API_KEY", "GEMINI_API_KEY"},
		"telegram.bot_token":     {"TELEGRAM_BOT_TOKEN"},
	}
	for key, envs := range bindings {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", envs[0], err)
		}
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Chain.RPCURLs = collectRPCURLs(config.Chain.RPCURLs)
	config.Bot = config.Bot.withDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// collectRPCURLs trims the configured list and appends RPC_URL_1..RPC_URL_9.
func collectRPCURLs(configured []string) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, u := range configured {
		add(u)
	}
	for i := 1; i <= 9; i++ {
		add(os.Getenv(fmt.Sprintf("RPC_URL_%d", i)))
	}
	return urls
}

func (c *Config) validate() error {
	if c.Environment != "development" && c.Environment != "test" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if c.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Security.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost)
	}

	if c.Scheduler.TickInterval <= 0 || c.Scheduler.RPCMonitorInterval <= 0 {
		return utils.NewValidationErrorf("scheduler", "tick and rpc monitor intervals must be positive")
	}

	if c.Chain.GasMultiplier < 1 {
		return utils.NewValidationErrorf("chain.gas_multiplier", "must be at least 1, got %v", c.Chain.GasMultiplier)
	}

	return c.Bot.Validate()
}

// ValidateStartup reports the errors that must stop the process before any
// service is constructed.
func (c *Config) ValidateStartup() error {
	if strings.TrimSpace(c.Chain.PrivateKey) == "" {
		return ErrMissingPrivateKey
	}
	if len(c.Chain.RPCURLs) == 0 {
		return ErrNoRPCEndpoints
	}
	return nil
}

// JWTExpiryDuration returns the parsed token lifetime, defaulting to 24h.
func (c SecurityConfig) JWTExpiryDuration() time.Duration {
	d, err := time.ParseDuration(c.JWTExpiry)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("bot_config_path", "./configs/bot.yaml")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.enabled", true)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "flashloan_arb")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 1)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "flashloan-arb:")

	// Chain
	viper.SetDefault("chain.rpc_urls", []string{})
	viper.SetDefault("chain.private_key", "")
	viper.SetDefault("chain.chain_id", 137)
	viper.SetDefault("chain.probe_timeout", "5s")
	viper.SetDefault("chain.call_timeout", "10s")
	viper.SetDefault("chain.receipt_timeout", "2m")
	viper.SetDefault("chain.receipt_poll", "2s")
	viper.SetDefault("chain.gas_multiplier", 1.2)

	// Relay
	viper.SetDefault("relay.url", "https://relay.flashbots.net")
	viper.SetDefault("relay.auth_key", "")
	viper.SetDefault("relay.timeout", "10s")

	// Scorer
	viper.SetDefault("scorer.base_url", "http://localhost:3001")
	viper.SetDefault("scorer.api_key", "")
	viper.SetDefault("scorer.model", "gemini-2.5-flash")
	viper.SetDefault("scorer.timeout", "30s")

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "flashloan-arb-go")
	viper.SetDefault("telemetry.service_version", "1.0.0")
	viper.SetDefault("telemetry.sample_rate", 1.0)
	viper.SetDefault("telemetry.stdout", false)

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.admin_api_key", "")
	viper.SetDefault("security.admin_api_key_hash", "")
	viper.SetDefault("security.bcrypt_cost", 12)

	// Scheduler
	viper.SetDefault("scheduler.tick_interval", "20s")
	viper.SetDefault("scheduler.rpc_monitor_interval", "60s")
	viper.SetDefault("scheduler.advice_interval", "5m")
	viper.SetDefault("scheduler.sentiment_interval", "15m")
	viper.SetDefault("scheduler.scan_concurrency", 4)

	// Bot
	viper.SetDefault("bot.p_success_threshold", 0.7)
	viper.SetDefault("bot.simulation_mode", true)
	viper.SetDefault("bot.flash_loan.provider", "Aave V3")
	viper.SetDefault("bot.flash_loan.fee", 0.0009)
	viper.SetDefault("bot.flash_loan.contract_address", "0x60F28b947E445BA0090b2bED3Efe23ba115079f6")
	viper.SetDefault("bot.flash_loan.default_loan_eth", 1.5)
	viper.SetDefault("bot.risk_management.daily_loss_threshold", 0.02)
	viper.SetDefault("bot.risk_management.cooldown_minutes", 60)
	viper.SetDefault("bot.risk_management.capital_eth", 5.0)
	viper.SetDefault("bot.risk_management.kill_switch.enabled", true)
	viper.SetDefault("bot.risk_management.kill_switch.balance_threshold_eth", 0.5)
}

// routeRoles is a small helper for building default routes.
func routeRoles(a, b, c string) map[string]string {
	roles := map[string]string{models.RoleTokenA: a, models.RoleTokenB: b}
	if c != "" {
		roles[models.RoleTokenC] = c
	}
	return roles
}
