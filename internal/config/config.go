package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode             string        `mapstructure:"mode"`
	Port             int           `mapstructure:"port"`
	Secret           string        `mapstructure:"secret"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig drives the SDK side (cmd/bot and embedding apps).
type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	AuthToken string        `mapstructure:"auth_token"`
	PlanAPI   string        `mapstructure:"plan_api"`
	CachePath string        `mapstructure:"cache_path"`
	Nickname  string        `mapstructure:"nickname"`
	Backoff   time.Duration `mapstructure:"backoff"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("snapshot_interval", "5s")
	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/bus")
	v.SetDefault("client.cache_path", "waypoint-cache.db")
	v.SetDefault("client.nickname", "guest")
	v.SetDefault("client.backoff", "2s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
