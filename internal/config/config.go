package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"mint-auditor/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Swap        SwapConfig        `mapstructure:"swap"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	API         APIConfig         `mapstructure:"api"`
	Geolocation GeolocationConfig `mapstructure:"geolocation"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WalletConfig covers access to the external wallet daemon that owns
// keys and proofs on behalf of the auditor.
type WalletConfig struct {
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MeltTimeout    time.Duration `mapstructure:"melt_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SwapConfig governs the rebalancing loop.
type SwapConfig struct {
	MinDelay            time.Duration `mapstructure:"min_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	MinAmount           int64         `mapstructure:"min_amount"`
	MaxAmount           int64         `mapstructure:"max_amount"`
	MinBalanceThreshold int64         `mapstructure:"min_balance_threshold"`
	ReserveRatio        float64       `mapstructure:"reserve_ratio"`
	SalvageDelay        time.Duration `mapstructure:"salvage_delay"`
	CreditDelay         time.Duration `mapstructure:"credit_delay"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
	InvalidateBatchSize int           `mapstructure:"invalidate_batch_size"`
	KeysetBumpIncrement int           `mapstructure:"keyset_bump_increment"`
	AdvisoryLockKey     int64         `mapstructure:"advisory_lock_key"`
}

// RefreshConfig governs the independent balance/info refresh loops.
type RefreshConfig struct {
	BalanceInterval  time.Duration `mapstructure:"balance_interval"`
	MintInfoInterval time.Duration `mapstructure:"mint_info_interval"`
}

// APIConfig configures the HTTP presentation layer.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	PageLimit  int    `mapstructure:"page_limit"`
}

// GeolocationConfig configures the mint location resolver.
type GeolocationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DatabaseURL    string        `mapstructure:"database_url"`
	DataDir        string        `mapstructure:"data_dir"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines operator notification routing for failed swaps.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
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
	v.SetEnvPrefix("MINTAUDITOR")
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
	v.SetDefault("app.name", "mint-auditor")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("wallet.api_base", "http://127.0.0.1:4448")
	v.SetDefault("wallet.request_timeout", "30s")
	v.SetDefault("wallet.melt_timeout", "120s")
	v.SetDefault("wallet.user_agent", "mint-auditor/1.0")

	v.SetDefault("swap.min_delay", "5m")
	v.SetDefault("swap.max_delay", "15m")
	v.SetDefault("swap.min_amount", int64(5))
	v.SetDefault("swap.max_amount", int64(100))
	v.SetDefault("swap.min_balance_threshold", int64(100))
	v.SetDefault("swap.reserve_ratio", 0.8)
	v.SetDefault("swap.salvage_delay", "5s")
	v.SetDefault("swap.credit_delay", "2s")
	v.SetDefault("swap.error_backoff", "5s")
	v.SetDefault("swap.invalidate_batch_size", 50)
	v.SetDefault("swap.keyset_bump_increment", 10)
	v.SetDefault("swap.advisory_lock_key", int64(0x6d696e74))

	v.SetDefault("refresh.balance_interval", "60s")
	v.SetDefault("refresh.mint_info_interval", "1h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8000")
	v.SetDefault("api.page_limit", 100)

	v.SetDefault("geolocation.enabled", false)
	v.SetDefault("geolocation.database_url", "https://raw.githubusercontent.com/sapics/ip-location-db/refs/heads/main/dbip-city/dbip-city-ipv4-num.csv.gz")
	v.SetDefault("geolocation.data_dir", "data")
	v.SetDefault("geolocation.update_interval", "168h")
	v.SetDefault("geolocation.request_timeout", "60s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Swap.MinDelay <= 0 || c.Swap.MaxDelay < c.Swap.MinDelay {
		return fmt.Errorf("swap.min_delay/swap.max_delay must satisfy 0 < min <= max")
	}
	if c.Swap.MinAmount <= 0 {
		return fmt.Errorf("swap.min_amount must be greater than zero")
	}
	if c.Swap.MaxAmount < c.Swap.MinAmount {
		return fmt.Errorf("swap.max_amount must not be below swap.min_amount")
	}
	if c.Swap.ReserveRatio <= 0 || c.Swap.ReserveRatio > 1 {
		return fmt.Errorf("swap.reserve_ratio must be in (0, 1]")
	}
	if c.Swap.InvalidateBatchSize <= 0 {
		return fmt.Errorf("swap.invalidate_batch_size must be greater than zero")
	}
	if c.Swap.KeysetBumpIncrement <= 0 {
		return fmt.Errorf("swap.keyset_bump_increment must be greater than zero")
	}
	if c.Refresh.BalanceInterval <= 0 {
		return fmt.Errorf("refresh.balance_interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when api.enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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
