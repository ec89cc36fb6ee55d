// Package config loads the service configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/models"
)

const EnvPrefix = "AFRIPAY"

type Config struct {
	MySQL struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"mysql"`
	Solana struct {
		RPCURL     string `mapstructure:"rpc_url"`
		USDC       string `mapstructure:"usdc_mint"`
		Commitment string `mapstructure:"commitment"`
	} `mapstructure:"solana"`
	App struct {
		Port            int           `mapstructure:"port"`
		Env             string        `mapstructure:"env"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		MonitorTimeout  time.Duration `mapstructure:"monitor_timeout"`
		HandlerTimeout  time.Duration `mapstructure:"handler_timeout"`
		RequestValidity time.Duration `mapstructure:"request_validity"`
	} `mapstructure:"app"`
	Fees struct {
		Tiers map[string]TierConfig `mapstructure:"tiers"`
	} `mapstructure:"fees"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	Notifications struct {
		MaxHistory    int  `mapstructure:"max_history"`
		NativeEnabled bool `mapstructure:"native_enabled"`
	} `mapstructure:"notifications"`
}

// TierConfig 费率配置，金额使用字符串避免浮点误差
type TierConfig struct {
	Rate  string            `mapstructure:"rate"`
	Fixed map[string]string `mapstructure:"fixed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.dbname", "afripay")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.usdc_mint", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("solana.commitment", "finalized")

	v.SetDefault("app.port", 8080)
	v.SetDefault("app.env", "development")
	v.SetDefault("app.poll_interval", "5s")
	v.SetDefault("app.monitor_timeout", "5m")
	v.SetDefault("app.handler_timeout", "10s")
	v.SetDefault("app.request_validity", "24h")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "payment.events")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("notifications.max_history", 50)
	v.SetDefault("notifications.native_enabled", true)
}

// Load reads path (or ./config.yaml when empty). A missing default config
// file is not an error: defaults and AFRIPAY_* variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// DSN returns the go-sql-driver/mysql connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQL.User, c.MySQL.Password, c.MySQL.Host, c.MySQL.Port, c.MySQL.DBName)
}

// FeeTiers converts the configured tiers. The standard tier is added by
// fees.NewCalculator when not configured.
func (c *Config) FeeTiers() (map[string]fees.Tier, error) {
	out := make(map[string]fees.Tier, len(c.Fees.Tiers))
	for name, tc := range c.Fees.Tiers {
		rate, err := decimal.NewFromString(tc.Rate)
		if err != nil {
			return nil, fmt.Errorf("fees.tiers.%s.rate: %w", name, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("fees.tiers.%s.rate: must not be negative", name)
		}
		tier := fees.Tier{Rate: rate, Fixed: make(map[models.Currency]decimal.Decimal, len(tc.Fixed))}
		for cur, amount := range tc.Fixed {
			currency := models.Currency(strings.ToUpper(cur))
			if !currency.Valid() {
				return nil, fmt.Errorf("fees.tiers.%s.fixed: %w: %s", name, fees.ErrUnsupportedCurrency, cur)
			}
			fixed, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("fees.tiers.%s.fixed.%s: %w", name, cur, err)
			}
			tier.Fixed[currency] = fixed
		}
		out[name] = tier
	}
	return out, nil
}
