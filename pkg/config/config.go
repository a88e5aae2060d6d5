package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// VerificationMode controls whether settlement requires passing CI checks
// ("checks") or merge alone ("merge_only").
type VerificationMode string

const (
	VerificationChecks    VerificationMode = "checks"
	VerificationMergeOnly VerificationMode = "merge_only"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Github struct {
		WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
		AppID         string `mapstructure:"APP_ID"`
	} `mapstructure:"GITHUB"`
	Tracker struct {
		VerificationMode string `mapstructure:"VERIFICATION_MODE"`
		TrackedLabels    string `mapstructure:"TRACKED_LABELS"`
	} `mapstructure:"TRACKER"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
}

// Mode normalises the configured verification mode; anything other than
// "merge_only" means CI checks are required.
func (c *Config) Mode() VerificationMode {
	if c.Tracker.VerificationMode == string(VerificationMergeOnly) {
		return VerificationMergeOnly
	}
	return VerificationChecks
}

// Labels returns the tracked label set in configured order, lowercased.
func (c *Config) Labels() []string {
	raw := c.Tracker.TrackedLabels
	if raw == "" {
		raw = "maintenance,toil,reliability,security"
	}
	parts := strings.Split(raw, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		labels = append(labels, strings.ToLower(strings.TrimSpace(p)))
	}
	return labels
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "farmops"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
}
