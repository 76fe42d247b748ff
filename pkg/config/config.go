// Package config loads clawfeed settings.
//
// Precedence, lowest to highest: DefaultConfig, the YAML file passed to Load,
// CLAWFEED_* environment variables. Command-line flags are applied on top by
// cmd/clawfeed.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CLAWFEED_"

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway" envPrefix:"GATEWAY_"`
	Dashboard DashboardConfig `yaml:"dashboard" envPrefix:"DASHBOARD_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Channels  ChannelsConfig  `yaml:"channels" envPrefix:"CHANNELS_"`
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

// DashboardConfig locates the static dashboard page.
type DashboardConfig struct {
	AssetPath string `yaml:"asset_path" env:"ASSET_PATH"`
}

// LogConfig mirrors logger.Options.
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
}

// ChannelsConfig holds one block per chat network.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Discord  DiscordConfig  `yaml:"discord" envPrefix:"DISCORD_"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled" env:"ENABLED"`
	Token     string   `yaml:"token" env:"TOKEN"`
	AllowFrom []string `yaml:"allow_from" env:"ALLOW_FROM" envSeparator:","`
}

// DiscordConfig configures the Discord bot adapter.
type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled" env:"ENABLED"`
	Token     string   `yaml:"token" env:"TOKEN"`
	AllowFrom []string `yaml:"allow_from" env:"ALLOW_FROM" envSeparator:","`
}

// DefaultConfig returns the settings used when nothing else is supplied.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Dashboard: DashboardConfig{
			AssetPath: "web/dashboard.html",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return errors.New("channels.telegram.token required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return errors.New("channels.discord.token required when discord is enabled")
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
