package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var phoneEnvKeys = []string{
	"VAI_PHONE_CONFIG",
	"VAI_PHONE_ADDR",
	"VAI_PHONE_BASE_URL",
	"VAI_PHONE_DEEPGRAM_API_KEY",
	"DEEPGRAM_API_KEY",
	"VAI_PHONE_DEEPGRAM_URL",
	"VAI_PHONE_DEFAULT_VOICE",
	"VAI_PHONE_LISTEN_MODEL",
	"VAI_PHONE_THINK_PROVIDER",
	"VAI_PHONE_THINK_MODEL",
	"VAI_PHONE_THINK_TEMPERATURE",
	"VAI_PHONE_BUSINESS_NAME",
	"VAI_PHONE_CONFIG_SETTLE_DELAY",
	"VAI_PHONE_AUDIO_START_DELAY",
	"VAI_PHONE_WS_WRITE_TIMEOUT",
	"VAI_PHONE_WS_PING_INTERVAL",
	"VAI_PHONE_WS_HANDSHAKE_TIMEOUT",
	"VAI_PHONE_PERSIST_TIMEOUT",
	"VAI_PHONE_DATABASE_DRIVER",
	"VAI_PHONE_DATABASE_DSN",
	"DATABASE_URL",
	"VAI_PHONE_AUDIO_DIR",
	"VAI_PHONE_GEMINI_API_KEY",
	"GEMINI_API_KEY",
	"VAI_PHONE_SUMMARY_MODEL",
	"VAI_PHONE_SUMMARY_TIMEOUT",
	"VAI_PHONE_STALE_AFTER",
	"VAI_PHONE_SWEEP_SCHEDULE",
	"VAI_PHONE_LIMIT_RPS",
	"VAI_PHONE_LIMIT_BURST",
	"VAI_PHONE_MAX_CALLS_PER_AGENT",
	"VAI_PHONE_READ_HEADER_TIMEOUT",
	"VAI_PHONE_READ_TIMEOUT",
	"VAI_PHONE_SHUTDOWN_GRACE_PERIOD",
	"VAI_PHONE_LOG_LEVEL",
	"VAI_PHONE_LOG_FORMAT",
}

func clearPhoneEnv(t *testing.T) {
	t.Helper()
	for _, key := range phoneEnvKeys {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vai-phone.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearPhoneEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8090" {
		t.Fatalf("Addr = %q, want :8090", cfg.Addr)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.DatabaseDSN != "calls.db" {
		t.Fatalf("database = %q %q", cfg.DatabaseDriver, cfg.DatabaseDSN)
	}
	if cfg.AudioDir != "store/audio" {
		t.Fatalf("AudioDir = %q", cfg.AudioDir)
	}
	if cfg.ConfigSettleDelay != 500*time.Millisecond {
		t.Fatalf("ConfigSettleDelay = %v, want 500ms", cfg.ConfigSettleDelay)
	}
	if cfg.AudioStartDelay != 200*time.Millisecond {
		t.Fatalf("AudioStartDelay = %v, want 200ms", cfg.AudioStartDelay)
	}
	if cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("WSPingInterval = %v, want 20s", cfg.WSPingInterval)
	}
	if cfg.DefaultVoice != "aura-2-thalia-en" || cfg.ListenModel != "nova-3" {
		t.Fatalf("voice=%q listen=%q", cfg.DefaultVoice, cfg.ListenModel)
	}
	if cfg.ThinkProvider != "open_ai" || cfg.ThinkModel != "gpt-4o-mini" || cfg.ThinkTemperature != 0.4 {
		t.Fatalf("think=%q %q %v", cfg.ThinkProvider, cfg.ThinkModel, cfg.ThinkTemperature)
	}
	if cfg.StaleAfter != time.Hour || cfg.SweepSchedule != "@every 1h" {
		t.Fatalf("sweeper=%v %q", cfg.StaleAfter, cfg.SweepSchedule)
	}
	if cfg.SummaryModel != "gemini-2.0-flash" {
		t.Fatalf("SummaryModel = %q", cfg.SummaryModel)
	}
	if cfg.SummariesEnabled() {
		t.Fatalf("SummariesEnabled() = true without a key")
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_EnvOverrides(t *testing.T) {
	clearPhoneEnv(t)
	t.Setenv("VAI_PHONE_ADDR", ":9000")
	t.Setenv("VAI_PHONE_DATABASE_DRIVER", "Postgres")
	t.Setenv("VAI_PHONE_DATABASE_DSN", "postgres://localhost/calls")
	t.Setenv("VAI_PHONE_THINK_TEMPERATURE", "0.9")
	t.Setenv("VAI_PHONE_CONFIG_SETTLE_DELAY", "0s")
	t.Setenv("VAI_PHONE_STALE_AFTER", "90m")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("VAI_PHONE_LOG_FORMAT", "JSON")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.DatabaseDriver != DriverPostgres || cfg.DatabaseDSN != "postgres://localhost/calls" {
		t.Fatalf("database = %q %q", cfg.DatabaseDriver, cfg.DatabaseDSN)
	}
	if cfg.ThinkTemperature != 0.9 {
		t.Fatalf("ThinkTemperature = %v", cfg.ThinkTemperature)
	}
	if cfg.ConfigSettleDelay != 0 {
		t.Fatalf("ConfigSettleDelay = %v, want 0", cfg.ConfigSettleDelay)
	}
	if cfg.StaleAfter != 90*time.Minute {
		t.Fatalf("StaleAfter = %v", cfg.StaleAfter)
	}
	if !cfg.SummariesEnabled() || cfg.GeminiAPIKey != "g-key" {
		t.Fatalf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoadFromEnv_PrefixedKeyWins(t *testing.T) {
	clearPhoneEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "plain")
	t.Setenv("VAI_PHONE_DEEPGRAM_API_KEY", "prefixed")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.DeepgramAPIKey != "prefixed" {
		t.Fatalf("DeepgramAPIKey = %q, want prefixed", cfg.DeepgramAPIKey)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearPhoneEnv(t)
	path := writeConfigFile(t, `
addr: ":7000"
business_name: "Luigi's Pizzeria"
deepgram:
  voice: aura-2-orion-en
  think_temperature: 0.2
bridge:
  config_settle_delay: 250ms
  ping_interval: 10s
database:
  dsn: file.db
sweeper:
  stale_after: 2h
log:
  level: debug
`)
	t.Setenv("VAI_PHONE_CONFIG", path)
	t.Setenv("VAI_PHONE_DATABASE_DSN", "env.db")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":7000" || cfg.BusinessName != "Luigi's Pizzeria" {
		t.Fatalf("addr=%q business=%q", cfg.Addr, cfg.BusinessName)
	}
	if cfg.DefaultVoice != "aura-2-orion-en" || cfg.ThinkTemperature != 0.2 {
		t.Fatalf("voice=%q temp=%v", cfg.DefaultVoice, cfg.ThinkTemperature)
	}
	if cfg.ConfigSettleDelay != 250*time.Millisecond || cfg.WSPingInterval != 10*time.Second {
		t.Fatalf("settle=%v ping=%v", cfg.ConfigSettleDelay, cfg.WSPingInterval)
	}
	if cfg.DatabaseDSN != "env.db" {
		t.Fatalf("DatabaseDSN = %q, want env override", cfg.DatabaseDSN)
	}
	if cfg.StaleAfter != 2*time.Hour || cfg.LogLevel != "debug" {
		t.Fatalf("stale=%v level=%q", cfg.StaleAfter, cfg.LogLevel)
	}
	// Untouched keys keep their defaults.
	if cfg.AudioStartDelay != 200*time.Millisecond {
		t.Fatalf("AudioStartDelay = %v", cfg.AudioStartDelay)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearPhoneEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	bad := writeConfigFile(t, "bridge:\n  ping_interval: soon\n")
	_, err := Load(bad)
	if err == nil || !strings.Contains(err.Error(), "bridge.ping_interval") {
		t.Fatalf("err = %v, want bridge.ping_interval parse error", err)
	}

	broken := writeConfigFile(t, "addr: [unterminated\n")
	if _, err := Load(broken); err == nil {
		t.Fatalf("expected YAML syntax error")
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"driver", "VAI_PHONE_DATABASE_DRIVER", "mysql", "VAI_PHONE_DATABASE_DRIVER"},
		{"temperature", "VAI_PHONE_THINK_TEMPERATURE", "3", "VAI_PHONE_THINK_TEMPERATURE"},
		{"write timeout", "VAI_PHONE_WS_WRITE_TIMEOUT", "0s", "VAI_PHONE_WS_WRITE_TIMEOUT must be > 0"},
		{"ping interval", "VAI_PHONE_WS_PING_INTERVAL", "-1s", "VAI_PHONE_WS_PING_INTERVAL must be > 0"},
		{"audio delay", "VAI_PHONE_AUDIO_START_DELAY", "-5ms", "VAI_PHONE_AUDIO_START_DELAY must be >= 0"},
		{"stale after", "VAI_PHONE_STALE_AFTER", "0s", "VAI_PHONE_STALE_AFTER must be > 0"},
		{"limit rps", "VAI_PHONE_LIMIT_RPS", "-1", "VAI_PHONE_LIMIT_RPS must be >= 0"},
		{"rps without burst", "VAI_PHONE_LIMIT_RPS", "5", "VAI_PHONE_LIMIT_BURST must be > 0"},
		{"max calls", "VAI_PHONE_MAX_CALLS_PER_AGENT", "-2", "VAI_PHONE_MAX_CALLS_PER_AGENT must be >= 0"},
		{"log level", "VAI_PHONE_LOG_LEVEL", "trace", "VAI_PHONE_LOG_LEVEL"},
		{"log format", "VAI_PHONE_LOG_FORMAT", "xml", "VAI_PHONE_LOG_FORMAT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearPhoneEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromEnv_BadNumbersFallBack(t *testing.T) {
	clearPhoneEnv(t)
	t.Setenv("VAI_PHONE_THINK_TEMPERATURE", "warm")
	t.Setenv("VAI_PHONE_PERSIST_TIMEOUT", "later")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ThinkTemperature != 0.4 || cfg.PersistTimeout != 5*time.Second {
		t.Fatalf("temp=%v persist=%v, want defaults", cfg.ThinkTemperature, cfg.PersistTimeout)
	}
}

func TestLoad_Limits(t *testing.T) {
	clearPhoneEnv(t)
	path := writeConfigFile(t, "limits:\n  rps: 2.5\n  burst: 10\n  max_calls_per_agent: 3\n")
	t.Setenv("VAI_PHONE_MAX_CALLS_PER_AGENT", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LimitRPS != 2.5 || cfg.LimitBurst != 10 {
		t.Fatalf("rps=%v burst=%d", cfg.LimitRPS, cfg.LimitBurst)
	}
	if cfg.MaxCallsPerAgent != 5 {
		t.Fatalf("MaxCallsPerAgent=%d, want env value 5", cfg.MaxCallsPerAgent)
	}
}
