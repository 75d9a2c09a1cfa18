package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries daemon settings and the engine's policy constants.
// The presence window and heartbeat interval are empirical protocol
// values, configurable rather than hardcoded.
type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	Relays       []string `mapstructure:"relays"`
	SearchRelays []string `mapstructure:"search_relays"`

	PresenceWindow    time.Duration `mapstructure:"presence_window"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ResolveTimeout    time.Duration `mapstructure:"resolve_timeout"`

	Pubkey string `mapstructure:"pubkey"`
	Secret string `mapstructure:"secret"`
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
	v.SetDefault("relays", []string{"wss://relay.damus.io", "wss://nos.lol"})
	v.SetDefault("search_relays", []string{"wss://relay.nostr.band"})
	v.SetDefault("presence_window", "120s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("sweep_interval", "15s")
	v.SetDefault("resolve_timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
