package config

import (
	"log/slog"
	"os"
	"testing"
)

// setCredentials provides the mandatory ARI credentials through the
// environment so tests can exercise the rest of the surface.
func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("SLAD_ARI_USERNAME", "asterisk")
	t.Setenv("SLAD_ARI_PASSWORD", "secret")
}

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"SLAD_DATA_DIR", "SLAD_HTTP_PORT", "SLAD_ARI_URL",
		"SLAD_ARI_WEBSOCKET", "SLAD_ARI_APPLICATION",
		"SLAD_EXTENSIONS_FILE", "SLAD_ENDPOINT_TECH", "SLAD_REDIS_ADDR",
		"SLAD_LOG_LEVEL", "SLAD_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	setCredentials(t)

	os.Args = []string{"slad"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.ARIURL != defaultARIURL {
		t.Errorf("ARIURL = %q, want %q", cfg.ARIURL, defaultARIURL)
	}
	if cfg.ARIApplication != defaultARIApplication {
		t.Errorf("ARIApplication = %q, want %q", cfg.ARIApplication, defaultARIApplication)
	}
	if cfg.EndpointTech != defaultEndpointTech {
		t.Errorf("EndpointTech = %q, want %q", cfg.EndpointTech, defaultEndpointTech)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"slad"}
	setCredentials(t)
	t.Setenv("SLAD_HTTP_PORT", "9090")
	t.Setenv("SLAD_DATA_DIR", "/tmp/slad-test")
	t.Setenv("SLAD_ENDPOINT_TECH", "SIP")
	t.Setenv("SLAD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/slad-test" {
		t.Errorf("DataDir = %q, want /tmp/slad-test", cfg.DataDir)
	}
	if cfg.EndpointTech != "SIP" {
		t.Errorf("EndpointTech = %q, want SIP", cfg.EndpointTech)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = []string{"slad", "--http-port", "3000", "--log-level", "warn"}
	setCredentials(t)
	t.Setenv("SLAD_HTTP_PORT", "9090")
	t.Setenv("SLAD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"slad", "--http-port", "99999"}
	setCredentials(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"slad", "--log-level", "verbose"}
	setCredentials(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	for _, env := range []string{"SLAD_ARI_USERNAME", "SLAD_ARI_PASSWORD"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	os.Args = []string{"slad"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing ARI credentials, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
