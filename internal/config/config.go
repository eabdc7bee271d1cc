package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config contains all runtime settings for the AFK bridge daemon.
type Config struct {
	BindAddr        string        `toml:"bind_addr"`
	ShutdownTimeout time.Duration `toml:"-"`

	MetricsNamespace string `toml:"metrics_namespace"`

	// Bridge channel settings.
	BridgeMode     string `toml:"bridge_mode"`
	BridgeBaseURL  string `toml:"bridge_base_url"`
	BridgeToken    string `toml:"-"`
	BridgeChatID   string `toml:"bridge_chat_id"`
	BridgeOperator string `toml:"bridge_operator"`
	GatewayURL     string `toml:"gateway_url"`

	// Local storage paths.
	ResponseDir string `toml:"response_dir"`
	RulesPath   string `toml:"rules_path"`
	DatabaseURL string `toml:"-"`

	// Session registry tuning.
	SessionStaleTTL time.Duration `toml:"-"`
	JanitorInterval time.Duration `toml:"-"`

	DesktopNotify bool `toml:"desktop_notify"`
}

// Load reads the optional config file, then environment variables on top,
// and applies safe defaults. Environment always wins over the file.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         ":7465",
		MetricsNamespace: "afkd",
		BridgeMode:       "auto",
		ShutdownTimeout:  15 * time.Second,
		SessionStaleTTL:  2 * time.Hour,
		JanitorInterval:  time.Minute,
		DesktopNotify:    true,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.ResponseDir = filepath.Join(home, ".afkd", "responses")
		cfg.RulesPath = filepath.Join(home, ".afkd", "rules.db")
	}

	if err := loadFile(&cfg); err != nil {
		return Config{}, err
	}

	cfg.BindAddr = envOrDefault("AFKD_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("AFKD_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.BridgeMode = envOrDefault("AFKD_BRIDGE_MODE", cfg.BridgeMode)
	cfg.BridgeBaseURL = envOrDefault("AFKD_BRIDGE_BASE_URL", cfg.BridgeBaseURL)
	cfg.BridgeToken = stringsTrimSpace("AFKD_BRIDGE_TOKEN")
	cfg.BridgeChatID = envOrDefault("AFKD_BRIDGE_CHAT_ID", cfg.BridgeChatID)
	cfg.BridgeOperator = envOrDefault("AFKD_BRIDGE_OPERATOR", cfg.BridgeOperator)
	cfg.GatewayURL = envOrDefault("AFKD_GATEWAY_URL", cfg.GatewayURL)
	cfg.ResponseDir = envOrDefault("AFKD_RESPONSE_DIR", cfg.ResponseDir)
	cfg.RulesPath = envOrDefault("AFKD_RULES_PATH", cfg.RulesPath)
	cfg.DatabaseURL = stringsTrimSpace("DATABASE_URL")

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("AFKD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionStaleTTL, err = durationFromEnv("AFKD_SESSION_STALE_TTL", cfg.SessionStaleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("AFKD_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DesktopNotify, err = boolFromEnv("AFKD_DESKTOP_NOTIFY", cfg.DesktopNotify)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionStaleTTL < time.Minute {
		return Config{}, fmt.Errorf("AFKD_SESSION_STALE_TTL must be at least 1m")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("AFKD_JANITOR_INTERVAL must be positive")
	}

	return cfg, nil
}

// FilePath returns the config file location, honoring AFKD_CONFIG_FILE.
func FilePath() string {
	if p := stringsTrimSpace("AFKD_CONFIG_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".afkd", "config.toml")
}

func loadFile(cfg *Config) error {
	path := FilePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
