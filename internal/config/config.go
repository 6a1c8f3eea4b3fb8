package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the slad daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir        string
	HTTPPort       int
	ARIURL         string
	ARIWebsocket   string
	ARIApplication string
	ARIUsername    string
	ARIPassword    string
	ExtensionsFile string
	EndpointTech   string // channel technology prefix for originations (PJSIP, SIP)
	RedisAddr      string // optional device-state mirror; empty disables it
	LogLevel       string
	LogFormat      string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultARIURL         = "http://localhost:8088/ari"
	defaultARIWebsocket   = "ws://localhost:8088/ari/events"
	defaultARIApplication = "sla"
	defaultExtensionsFile = "./extensions.json"
	defaultEndpointTech   = "PJSIP"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all slad environment variables.
const envPrefix = "SLAD_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("slad", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call record database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP admin server listen port")
	fs.StringVar(&cfg.ARIURL, "ari-url", defaultARIURL, "Asterisk REST Interface base URL")
	fs.StringVar(&cfg.ARIWebsocket, "ari-websocket", defaultARIWebsocket, "Asterisk REST Interface websocket event URL")
	fs.StringVar(&cfg.ARIApplication, "ari-application", defaultARIApplication, "Stasis application name")
	fs.StringVar(&cfg.ARIUsername, "ari-username", "", "ARI username")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "ARI password")
	fs.StringVar(&cfg.ExtensionsFile, "extensions-file", defaultExtensionsFile, "path to the shared extensions configuration file")
	fs.StringVar(&cfg.EndpointTech, "endpoint-tech", defaultEndpointTech, "channel technology prefix for originated endpoints")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the device-state mirror (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":        envPrefix + "DATA_DIR",
		"http-port":       envPrefix + "HTTP_PORT",
		"ari-url":         envPrefix + "ARI_URL",
		"ari-websocket":   envPrefix + "ARI_WEBSOCKET",
		"ari-application": envPrefix + "ARI_APPLICATION",
		"ari-username":    envPrefix + "ARI_USERNAME",
		"ari-password":    envPrefix + "ARI_PASSWORD",
		"extensions-file": envPrefix + "EXTENSIONS_FILE",
		"endpoint-tech":   envPrefix + "ENDPOINT_TECH",
		"redis-addr":      envPrefix + "REDIS_ADDR",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "ari-url":
			cfg.ARIURL = val
		case "ari-websocket":
			cfg.ARIWebsocket = val
		case "ari-application":
			cfg.ARIApplication = val
		case "ari-username":
			cfg.ARIUsername = val
		case "ari-password":
			cfg.ARIPassword = val
		case "extensions-file":
			cfg.ExtensionsFile = val
		case "endpoint-tech":
			cfg.EndpointTech = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.ARIURL == "" {
		return fmt.Errorf("ari-url must not be empty")
	}
	if c.ARIWebsocket == "" {
		return fmt.Errorf("ari-websocket must not be empty")
	}
	if c.ARIApplication == "" {
		return fmt.Errorf("ari-application must not be empty")
	}
	if c.ARIUsername == "" {
		return fmt.Errorf("ari-username must be provided")
	}
	if c.ARIPassword == "" {
		return fmt.Errorf("ari-password must be provided")
	}
	if c.EndpointTech == "" {
		return fmt.Errorf("endpoint-tech must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
