package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AppConfig struct {
	ServiceName string     `mapstructure:"service_name"`
	Env         string     `mapstructure:"env"`
	LogLevel    string     `mapstructure:"log_level"`
	MetricsPath string     `mapstructure:"metrics_path"`
	HTTP        HTTPConfig `mapstructure:"http"`
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaTopics struct {
	WalletSettled string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type AuthConfig struct {
	JWTSecret string
}

type GameConfig struct {
	ReelCount  int
	MinStake   decimal.Decimal
	MaxStake   decimal.Decimal
	MaxRetries int
}

type Config struct {
	App   AppConfig
	DB    DBConfig
	Kafka KafkaConfig
	Auth  AuthConfig
	Game  GameConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPINBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	path := os.Getenv("SPINBANK_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var app AppConfig
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	minStake, err := decimal.NewFromString(envString("GAME_MIN_STAKE", v.GetString("game.min_stake")))
	if err != nil {
		return nil, fmt.Errorf("GAME_MIN_STAKE must be a decimal: %w", err)
	}
	maxStake, err := decimal.NewFromString(envString("GAME_MAX_STAKE", v.GetString("game.max_stake")))
	if err != nil {
		return nil, fmt.Errorf("GAME_MAX_STAKE must be a decimal: %w", err)
	}

	cfg := &Config{
		App: app,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "spinbank"),
			User:     envString("POSTGRES_USER", "spinbank"),
			Password: envString("POSTGRES_PASSWORD", "spinbank"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				WalletSettled: envString("KAFKA_WALLET_SETTLED_TOPIC", v.GetString("kafka.topics.wallet_settled")),
				DeadLetter:    envString("KAFKA_DEAD_LETTER_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Game: GameConfig{
			ReelCount:  envInt("GAME_REEL_COUNT", v.GetInt("game.reel_count")),
			MinStake:   minStake,
			MaxStake:   maxStake,
			MaxRetries: envInt("ENGINE_MAX_RETRIES", v.GetInt("engine.max_retries")),
		},
	}

	if cfg.App.HTTP.Port <= 0 {
		return nil, fmt.Errorf("http port must be positive")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.Topics.WalletSettled == "" {
		return nil, fmt.Errorf("kafka wallet settled topic required")
	}
	if cfg.Game.ReelCount <= 0 {
		return nil, fmt.Errorf("reel count must be positive")
	}
	if cfg.Game.MinStake.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("min stake must be positive")
	}
	if cfg.Game.MaxStake.LessThan(cfg.Game.MinStake) {
		return nil, fmt.Errorf("max stake must be >= min stake")
	}
	if cfg.Game.MaxRetries <= 0 {
		return nil, fmt.Errorf("engine max retries must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "spinbank")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.wallet_settled", "wallet.settled")
	v.SetDefault("kafka.topics.dead_letter", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("game.reel_count", 3)
	v.SetDefault("game.min_stake", "1")
	v.SetDefault("game.max_stake", "1000")
	v.SetDefault("engine.max_retries", 3)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
