// Package config loads the bot configuration from config.yaml, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GENAI_BOT_DISCORD_TOKEN.
const EnvPrefix = "GENAI_BOT"

// Config holds the configuration for the bot.
type Config struct {
	Discord struct {
		Token          string `mapstructure:"token"`
		AppID          string `mapstructure:"app_id"`
		GuildID        string `mapstructure:"guild_id"`
		GlobalAdminID  string `mapstructure:"global_admin_id"`
		MentionReplies bool   `mapstructure:"mention_replies"`
	} `mapstructure:"discord"`
	Features struct {
		Text  bool `mapstructure:"text"`
		Image bool `mapstructure:"image"`
	} `mapstructure:"features"`
	LLM struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		Temperature float32 `mapstructure:"temperature"`
	} `mapstructure:"llm"`
	Comfy struct {
		URL           string        `mapstructure:"url"`
		WSURL         string        `mapstructure:"ws_url"`
		Timeout       time.Duration `mapstructure:"timeout"`
		ModelMappings string        `mapstructure:"model_mappings"`
	} `mapstructure:"comfy"`
	Storage struct {
		Driver string `mapstructure:"driver"`
		// NodeID tells config ID generators apart; processes sharing a store need distinct values.
		NodeID uint16 `mapstructure:"node_id"`
		Redis  struct {
			Addr         string        `mapstructure:"addr"`
			Password     string        `mapstructure:"password"`
			DB           int           `mapstructure:"db"`
			PoolSize     int           `mapstructure:"pool_size"`
			MinIdleConns int           `mapstructure:"min_idle_conns"`
			IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
		} `mapstructure:"redis"`
		Postgres struct {
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"postgres"`
	} `mapstructure:"storage"`
	Workflow struct {
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"workflow"`
	Limits struct {
		ImagePerMinute int `mapstructure:"image_per_minute"`
	} `mapstructure:"limits"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Health struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`
}

var defaults = map[string]interface{}{
	"discord.token":                "",
	"discord.app_id":               "",
	"discord.guild_id":             "",
	"discord.global_admin_id":      "",
	"discord.mention_replies":      false,
	"features.text":                true,
	"features.image":               true,
	"llm.base_url":                 "http://127.0.0.1:1234/v1",
	"llm.api_key":                  "",
	"llm.model":                    "local-model",
	"llm.max_tokens":               1000,
	"llm.temperature":              0.975,
	"comfy.url":                    "http://127.0.0.1:8188",
	"comfy.ws_url":                 "",
	"comfy.timeout":                5 * time.Minute,
	"comfy.model_mappings":         "model_mappings.json",
	"storage.driver":               "memory",
	"storage.node_id":              1,
	"storage.redis.addr":           "127.0.0.1:6379",
	"storage.redis.password":       "",
	"storage.redis.db":             0,
	"storage.redis.pool_size":      10,
	"storage.redis.min_idle_conns": 2,
	"storage.redis.idle_timeout":   5 * time.Minute,
	"storage.postgres.dsn":         "",
	"workflow.ttl":                 15 * time.Minute,
	"workflow.sweep_interval":      5 * time.Minute,
	"limits.image_per_minute":      4,
	"log.level":                    "info",
	"log.format":                   "json",
	"log.file":                     "",
	"log.max_size_mb":              100,
	"log.max_backups":              3,
	"log.max_age_days":             28,
	"health.addr":                  ":8080",
}

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"discord.token":           "DISCORD_TOKEN",
	"discord.app_id":          "CLIENT_ID",
	"discord.global_admin_id": "GLOBAL_ADMIN_ID",
	"features.text":           "ENABLE_GPT",
	"features.image":          "ENABLE_COMFY",
	"llm.base_url":            "LMSTUDIO_URL",
	"llm.max_tokens":          "MAX_GPT_TOKENS",
	"comfy.url":               "COMFY_URL",
	"comfy.ws_url":            "COMFY_WS",
}

// Load reads configuration. path selects a config file; empty searches for
// config.yaml in . and ./config and tolerates its absence. envFile is loaded
// into the environment first when present; empty tries ".env".
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			envFile = ".env"
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed by a command. requireToken is set for
// commands that talk to the chat platform.
func (c *Config) Validate(requireToken bool) error {
	var errs []error
	if requireToken && c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if !c.Features.Text && !c.Features.Image {
		errs = append(errs, errors.New("at least one of features.text and features.image must be enabled"))
	}
	switch c.Storage.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Features.Image && c.Comfy.URL == "" {
		errs = append(errs, errors.New("comfy.url is required when features.image is enabled"))
	}
	if c.Workflow.TTL <= 0 {
		errs = append(errs, errors.New("workflow.ttl must be positive"))
	}
	if c.Workflow.SweepInterval <= 0 {
		errs = append(errs, errors.New("workflow.sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}
