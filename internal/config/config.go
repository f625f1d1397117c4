// ABOUTME: Configuration loading and parsing for sable
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete sable configuration
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Assist    AssistConfig    `yaml:"assist"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Memory    MemoryConfig    `yaml:"memory"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BotConfig holds the bot's persona settings
type BotConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	HistoryLimit int    `yaml:"history_limit"`
}

// AssistConfig holds completion API settings
type AssistConfig struct {
	APIKey        string  `yaml:"api_key"`
	APIURL        string  `yaml:"api_url"`
	Model         string  `yaml:"model"`
	Provider      string  `yaml:"provider"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	RetryAttempts int     `yaml:"retry_attempts"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// PlatformsConfig holds configuration for all platform connectors
type PlatformsConfig struct {
	DevNet DevNetConfig `yaml:"devnet"`
}

// DevNetConfig holds DevNet connector configuration
type DevNetConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIURL   string `yaml:"api_url"`
	BotToken string `yaml:"bot_token"`

	RespondToDMs           bool   `yaml:"respond_to_dms"`
	RespondToGroups        bool   `yaml:"respond_to_groups"`
	RequireMentionInGroups bool   `yaml:"require_mention_in_groups"`
	Format                 string `yaml:"format"`

	RateLimitMessages int `yaml:"rate_limit_messages"`
	MessageLimit      int `yaml:"message_limit"`

	RateLimitWindow    time.Duration `yaml:"-"`
	RateLimitWindowRaw string        `yaml:"rate_limit_window"`
	ChunkDelay         time.Duration `yaml:"-"`
	ChunkDelayRaw      string        `yaml:"chunk_delay"`
}

// MemoryConfig holds persistence configuration
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the management API configuration
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// APIKey guards the management API; when empty the API is open.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// defaults returns the configuration used when keys are absent from the file.
// Unmarshaling over it keeps any value the file does not mention.
func defaults() Config {
	return Config{
		Bot: BotConfig{
			Name:         "Sable",
			HistoryLimit: 20,
		},
		Assist: AssistConfig{
			APIURL:        "https://api.openai.com",
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     1024,
			RetryAttempts: 3,
		},
		Platforms: PlatformsConfig{
			DevNet: DevNetConfig{
				RespondToDMs:           true,
				RespondToGroups:        true,
				RequireMentionInGroups: true,
				RateLimitMessages:      10,
				MessageLimit:           1900,
			},
		},
		Memory: MemoryConfig{
			Path: "data/sable.db",
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the working directory is loaded first, so ${VAR_NAME}
// references in the YAML can come from either the environment or .env.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Assist.APIKey == "" {
		return fmt.Errorf("assist.api_key is required")
	}

	if c.Platforms.DevNet.Enabled {
		if c.Platforms.DevNet.APIURL == "" {
			return fmt.Errorf("platforms.devnet.api_url is required when devnet is enabled")
		}
		if c.Platforms.DevNet.BotToken == "" {
			return fmt.Errorf("platforms.devnet.bot_token is required when devnet is enabled")
		}
	}

	if c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the management API is enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Assist.TimeoutRaw != "" {
		cfg.Assist.Timeout, err = time.ParseDuration(cfg.Assist.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing assist.timeout %q: %w", cfg.Assist.TimeoutRaw, err)
		}
	}

	dn := &cfg.Platforms.DevNet
	if dn.RateLimitWindowRaw != "" {
		dn.RateLimitWindow, err = time.ParseDuration(dn.RateLimitWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit_window %q: %w", dn.RateLimitWindowRaw, err)
		}
	}
	if dn.ChunkDelayRaw != "" {
		dn.ChunkDelay, err = time.ParseDuration(dn.ChunkDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing chunk_delay %q: %w", dn.ChunkDelayRaw, err)
		}
	}

	return nil
}
