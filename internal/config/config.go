package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"goldsynth/internal/domain"
	"goldsynth/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Token     TokenConfig     `mapstructure:"token"`
	DCA       DCAConfig       `mapstructure:"dca"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// persistence; the executor then runs purely in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs executor cadence. When CronSpec is set it takes
// precedence over the fixed interval.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CronSpec        string        `mapstructure:"cron_spec"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain price feed access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// OracleConfig lists the registered price sources.
type OracleConfig struct {
	Sources        []OracleSourceConfig `mapstructure:"sources"`
	RequestTimeout time.Duration        `mapstructure:"request_timeout"`
	UserAgent      string               `mapstructure:"user_agent"`
}

// OracleSourceConfig describes one price source. Kind selects the feed
// implementation: http, chainlink or static.
type OracleSourceConfig struct {
	ID                  string  `mapstructure:"id"`
	Kind                string  `mapstructure:"kind"`
	WeightBps           int64   `mapstructure:"weight_bps"`
	MaxStalenessSeconds int64   `mapstructure:"max_staleness_seconds"`
	Endpoint            string  `mapstructure:"endpoint"`
	Address             string  `mapstructure:"address"`
	Price               float64 `mapstructure:"price"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	DeviationThresholdBps int64 `mapstructure:"deviation_threshold_bps"`
	WindowSeconds         int64 `mapstructure:"window_seconds"`
	CooldownSeconds       int64 `mapstructure:"cooldown_seconds"`
}

// TokenConfig parameterises the synthetic token.
type TokenConfig struct {
	Name         string `mapstructure:"name"`
	Symbol       string `mapstructure:"symbol"`
	MintFeeBps   int64  `mapstructure:"mint_fee_bps"`
	RedeemFeeBps int64  `mapstructure:"redeem_fee_bps"`
	FeeRecipient string `mapstructure:"fee_recipient"`
	Admin        string `mapstructure:"admin"`
}

// DCAConfig parameterises the plan scheduler and its executor loop.
type DCAConfig struct {
	ExecutionFeeBps int64  `mapstructure:"execution_fee_bps"`
	FeeRecipient    string `mapstructure:"fee_recipient"`
	MaxSlippageBps  int64  `mapstructure:"max_slippage_bps"`
	Operator        string `mapstructure:"operator"`
}

// APIConfig governs the HTTP read/management surface.
type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig covers the optional price cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig covers the optional event stream.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOLDSYNTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "goldsynth")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70676175))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "goldsynth/1.0")

	v.SetDefault("breaker.deviation_threshold_bps", domain.DefaultDeviationThresholdBps)
	v.SetDefault("breaker.window_seconds", domain.DefaultBreakerWindowSeconds)
	v.SetDefault("breaker.cooldown_seconds", domain.DefaultBreakerCooldownSeconds)

	v.SetDefault("token.name", "PentaGold")
	v.SetDefault("token.symbol", "PGAUx")
	v.SetDefault("token.mint_fee_bps", domain.DefaultMintFeeBps)
	v.SetDefault("token.redeem_fee_bps", domain.DefaultRedeemFeeBps)
	v.SetDefault("token.fee_recipient", "treasury")
	v.SetDefault("token.admin", "admin")

	v.SetDefault("dca.execution_fee_bps", domain.DefaultExecutionFeeBps)
	v.SetDefault("dca.fee_recipient", "treasury")
	v.SetDefault("dca.max_slippage_bps", 100)
	v.SetDefault("dca.operator", "executor")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "15s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "10m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "goldsynth.events")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.CronSpec == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero when no cron_spec is set")
	}
	if c.Breaker.DeviationThresholdBps <= 0 {
		return fmt.Errorf("breaker.deviation_threshold_bps must be greater than zero")
	}
	if c.Token.MintFeeBps < 0 || c.Token.MintFeeBps > domain.FeeCeilingBps {
		return fmt.Errorf("token.mint_fee_bps must be within [0, %d]", domain.FeeCeilingBps)
	}
	if c.Token.RedeemFeeBps < 0 || c.Token.RedeemFeeBps > domain.FeeCeilingBps {
		return fmt.Errorf("token.redeem_fee_bps must be within [0, %d]", domain.FeeCeilingBps)
	}
	if c.DCA.ExecutionFeeBps < 0 || c.DCA.ExecutionFeeBps > domain.FeeCeilingBps {
		return fmt.Errorf("dca.execution_fee_bps must be within [0, %d]", domain.FeeCeilingBps)
	}
	var totalWeight int64
	for i, src := range c.Oracle.Sources {
		if src.ID == "" {
			return fmt.Errorf("oracle.sources[%d].id 必须配置", i)
		}
		if src.WeightBps <= 0 {
			return fmt.Errorf("oracle.sources[%d].weight_bps must be greater than zero", i)
		}
		totalWeight += src.WeightBps
	}
	if totalWeight > domain.BpsDenominator {
		return fmt.Errorf("oracle source weights exceed %d bps", domain.BpsDenominator)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
