package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shohag/dispatchrelay/internal/geo"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Push     PushConfig     `mapstructure:"push"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RealtimeConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RoutingConfig struct {
	// Providers lists remote route providers in the order they are tried.
	// The straight-line estimate is always appended.
	Providers   []string      `mapstructure:"providers"`
	DefaultMode string        `mapstructure:"default_mode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ORS         ORSConfig     `mapstructure:"ors"`
	OSRM        OSRMConfig    `mapstructure:"osrm"`
}

type ORSConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OSRMConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type DispatchConfig struct {
	FeeTiers           []geo.FeeTier `mapstructure:"fee_tiers"`
	FeeBeyond          float64       `mapstructure:"fee_beyond"`
	FanoutWorkers      int           `mapstructure:"fanout_workers"`
	ReannounceOnReject bool          `mapstructure:"reannounce_on_reject"`
}

// FeeSchedule returns the configured schedule, or the default one when no
// tiers are configured.
func (d DispatchConfig) FeeSchedule() geo.FeeSchedule {
	if len(d.FeeTiers) == 0 {
		return geo.DefaultFeeSchedule
	}
	return geo.FeeSchedule{Tiers: d.FeeTiers, BeyondFee: d.FeeBeyond}
}

type PushConfig struct {
	Enabled       bool            `mapstructure:"enabled"`
	GatewayURL    string          `mapstructure:"gateway_url"`
	Secret        string          `mapstructure:"secret"`
	Workers       int             `mapstructure:"workers"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	MaxAttempts   int             `mapstructure:"max_attempts"`
	RetrySchedule []time.Duration `mapstructure:"retry_schedule"`
	PollInterval  time.Duration   `mapstructure:"poll_interval"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from path (or dispatchrelay.yaml in the usual
// places), then DISPATCHRELAY_* environment variables. A .env file in the
// working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dispatchrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dispatchrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("DISPATCHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if err := c.Dispatch.FeeSchedule().Validate(); err != nil {
		return fmt.Errorf("dispatch.fee_tiers: %w", err)
	}
	if c.Push.Enabled && c.Push.GatewayURL == "" {
		return errors.New("push.gateway_url is required when push is enabled")
	}
	if c.Push.Workers <= 0 {
		return errors.New("push.workers must be positive")
	}
	if c.Dispatch.FanoutWorkers <= 0 {
		return errors.New("dispatch.fanout_workers must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/dispatchrelay.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("realtime.sweep_interval", 30*time.Second)
	v.SetDefault("realtime.allowed_origins", []string{})
	v.SetDefault("realtime.send_buffer", 256)

	v.SetDefault("routing.providers", []string{"openrouteservice", "osrm"})
	v.SetDefault("routing.default_mode", "driving")
	v.SetDefault("routing.timeout", 5*time.Second)
	v.SetDefault("routing.ors.api_key", "")
	v.SetDefault("routing.ors.base_url", "https://api.openrouteservice.org")
	v.SetDefault("routing.osrm.base_url", "")

	v.SetDefault("dispatch.fee_tiers", []map[string]interface{}{})
	v.SetDefault("dispatch.fee_beyond", geo.DefaultFeeSchedule.BeyondFee)
	v.SetDefault("dispatch.fanout_workers", 16)
	v.SetDefault("dispatch.reannounce_on_reject", false)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.gateway_url", "")
	v.SetDefault("push.secret", "")
	v.SetDefault("push.workers", 10)
	v.SetDefault("push.timeout", 10*time.Second)
	v.SetDefault("push.max_attempts", 5)
	v.SetDefault("push.retry_schedule", []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
	})
	v.SetDefault("push.poll_interval", 2*time.Second)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
