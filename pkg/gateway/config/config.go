package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr    string
	BaseURL string

	// Deepgram voice agent.
	DeepgramAPIKey   string
	DeepgramURL      string
	DefaultVoice     string
	ListenModel      string
	ThinkProvider    string
	ThinkModel       string
	ThinkTemperature float64
	BusinessName     string

	// Timing of the call bridge.
	ConfigSettleDelay  time.Duration
	AudioStartDelay    time.Duration
	WSWriteTimeout     time.Duration
	WSPingInterval     time.Duration
	WSHandshakeTimeout time.Duration
	PersistTimeout     time.Duration

	// Persistence.
	DatabaseDriver string
	DatabaseDSN    string
	AudioDir       string

	// Post-call summaries; disabled when GeminiAPIKey is empty.
	GeminiAPIKey   string
	SummaryModel   string
	SummaryTimeout time.Duration

	// Stale-conversation sweeper.
	StaleAfter    time.Duration
	SweepSchedule string

	// Webhook throttling per client and simultaneous calls per agent; zero
	// disables each.
	LimitRPS         float64
	LimitBurst       int
	MaxCallsPerAgent int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	LogLevel  string
	LogFormat string
}

// fileConfig is the optional YAML overlay. Durations are Go duration strings.
type fileConfig struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`

	Deepgram struct {
		APIKey           string   `yaml:"api_key"`
		URL              string   `yaml:"url"`
		Voice            string   `yaml:"voice"`
		ListenModel      string   `yaml:"listen_model"`
		ThinkProvider    string   `yaml:"think_provider"`
		ThinkModel       string   `yaml:"think_model"`
		ThinkTemperature *float64 `yaml:"think_temperature"`
	} `yaml:"deepgram"`

	BusinessName string `yaml:"business_name"`

	Bridge struct {
		ConfigSettleDelay string `yaml:"config_settle_delay"`
		AudioStartDelay   string `yaml:"audio_start_delay"`
		WriteTimeout      string `yaml:"write_timeout"`
		PingInterval      string `yaml:"ping_interval"`
		HandshakeTimeout  string `yaml:"handshake_timeout"`
		PersistTimeout    string `yaml:"persist_timeout"`
	} `yaml:"bridge"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	AudioDir string `yaml:"audio_dir"`

	Summary struct {
		GeminiAPIKey string `yaml:"gemini_api_key"`
		Model        string `yaml:"model"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"summary"`

	Sweeper struct {
		StaleAfter string `yaml:"stale_after"`
		Schedule   string `yaml:"schedule"`
	} `yaml:"sweeper"`

	Limits struct {
		RPS              *float64 `yaml:"rps"`
		Burst            *int     `yaml:"burst"`
		MaxCallsPerAgent *int     `yaml:"max_calls_per_agent"`
	} `yaml:"limits"`

	Server struct {
		ReadHeaderTimeout   string `yaml:"read_header_timeout"`
		ReadTimeout         string `yaml:"read_timeout"`
		ShutdownGracePeriod string `yaml:"shutdown_grace_period"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() Config {
	return Config{
		Addr:                ":8090",
		DeepgramURL:         "wss://agent.deepgram.com/v1/agent/converse",
		DefaultVoice:        "aura-2-thalia-en",
		ListenModel:         "nova-3",
		ThinkProvider:       "open_ai",
		ThinkModel:          "gpt-4o-mini",
		ThinkTemperature:    0.4,
		BusinessName:        "the business",
		ConfigSettleDelay:   500 * time.Millisecond,
		AudioStartDelay:     200 * time.Millisecond,
		WSWriteTimeout:      5 * time.Second,
		WSPingInterval:      20 * time.Second,
		WSHandshakeTimeout:  10 * time.Second,
		PersistTimeout:      5 * time.Second,
		DatabaseDriver:      DriverSQLite,
		DatabaseDSN:         "calls.db",
		AudioDir:            "store/audio",
		SummaryModel:        "gemini-2.0-flash",
		SummaryTimeout:      30 * time.Second,
		StaleAfter:          time.Hour,
		SweepSchedule:       "@every 1h",
		ReadHeaderTimeout:   10 * time.Second,
		ReadTimeout:         30 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadFromEnv loads the file named by VAI_PHONE_CONFIG, if any, and then
// applies VAI_PHONE_* environment variables on top.
func LoadFromEnv() (Config, error) {
	return Load(strings.TrimSpace(os.Getenv("VAI_PHONE_CONFIG")))
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Addr = envOr("VAI_PHONE_ADDR", cfg.Addr)
	cfg.BaseURL = envOr("VAI_PHONE_BASE_URL", cfg.BaseURL)
	cfg.DeepgramAPIKey = envOr("VAI_PHONE_DEEPGRAM_API_KEY", envOr("DEEPGRAM_API_KEY", cfg.DeepgramAPIKey))
	cfg.DeepgramURL = envOr("VAI_PHONE_DEEPGRAM_URL", cfg.DeepgramURL)
	cfg.DefaultVoice = envOr("VAI_PHONE_DEFAULT_VOICE", cfg.DefaultVoice)
	cfg.ListenModel = envOr("VAI_PHONE_LISTEN_MODEL", cfg.ListenModel)
	cfg.ThinkProvider = envOr("VAI_PHONE_THINK_PROVIDER", cfg.ThinkProvider)
	cfg.ThinkModel = envOr("VAI_PHONE_THINK_MODEL", cfg.ThinkModel)
	cfg.ThinkTemperature = envFloat64Or("VAI_PHONE_THINK_TEMPERATURE", cfg.ThinkTemperature)
	cfg.BusinessName = envOr("VAI_PHONE_BUSINESS_NAME", cfg.BusinessName)
	cfg.ConfigSettleDelay = envDurationOr("VAI_PHONE_CONFIG_SETTLE_DELAY", cfg.ConfigSettleDelay)
	cfg.AudioStartDelay = envDurationOr("VAI_PHONE_AUDIO_START_DELAY", cfg.AudioStartDelay)
	cfg.WSWriteTimeout = envDurationOr("VAI_PHONE_WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	cfg.WSPingInterval = envDurationOr("VAI_PHONE_WS_PING_INTERVAL", cfg.WSPingInterval)
	cfg.WSHandshakeTimeout = envDurationOr("VAI_PHONE_WS_HANDSHAKE_TIMEOUT", cfg.WSHandshakeTimeout)
	cfg.PersistTimeout = envDurationOr("VAI_PHONE_PERSIST_TIMEOUT", cfg.PersistTimeout)
	cfg.DatabaseDriver = strings.ToLower(envOr("VAI_PHONE_DATABASE_DRIVER", cfg.DatabaseDriver))
	cfg.DatabaseDSN = envOr("VAI_PHONE_DATABASE_DSN", envOr("DATABASE_URL", cfg.DatabaseDSN))
	cfg.AudioDir = envOr("VAI_PHONE_AUDIO_DIR", cfg.AudioDir)
	cfg.GeminiAPIKey = envOr("VAI_PHONE_GEMINI_API_KEY", envOr("GEMINI_API_KEY", cfg.GeminiAPIKey))
	cfg.SummaryModel = envOr("VAI_PHONE_SUMMARY_MODEL", cfg.SummaryModel)
	cfg.SummaryTimeout = envDurationOr("VAI_PHONE_SUMMARY_TIMEOUT", cfg.SummaryTimeout)
	cfg.StaleAfter = envDurationOr("VAI_PHONE_STALE_AFTER", cfg.StaleAfter)
	cfg.SweepSchedule = envOr("VAI_PHONE_SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.LimitRPS = envFloat64Or("VAI_PHONE_LIMIT_RPS", cfg.LimitRPS)
	cfg.LimitBurst = envIntOr("VAI_PHONE_LIMIT_BURST", cfg.LimitBurst)
	cfg.MaxCallsPerAgent = envIntOr("VAI_PHONE_MAX_CALLS_PER_AGENT", cfg.MaxCallsPerAgent)
	cfg.ReadHeaderTimeout = envDurationOr("VAI_PHONE_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = envDurationOr("VAI_PHONE_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("VAI_PHONE_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)
	cfg.LogLevel = strings.ToLower(envOr("VAI_PHONE_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOr("VAI_PHONE_LOG_FORMAT", cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("VAI_PHONE_DATABASE_DRIVER must be one of sqlite|postgres")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("VAI_PHONE_DATABASE_DSN must not be empty")
	}
	if strings.TrimSpace(c.DeepgramURL) == "" {
		return fmt.Errorf("VAI_PHONE_DEEPGRAM_URL must not be empty")
	}
	if strings.TrimSpace(c.AudioDir) == "" {
		return fmt.Errorf("VAI_PHONE_AUDIO_DIR must not be empty")
	}
	if c.ThinkTemperature < 0 || c.ThinkTemperature > 2 {
		return fmt.Errorf("VAI_PHONE_THINK_TEMPERATURE must be between 0 and 2")
	}
	if c.ConfigSettleDelay < 0 {
		return fmt.Errorf("VAI_PHONE_CONFIG_SETTLE_DELAY must be >= 0")
	}
	if c.AudioStartDelay < 0 {
		return fmt.Errorf("VAI_PHONE_AUDIO_START_DELAY must be >= 0")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("VAI_PHONE_WS_PING_INTERVAL must be > 0")
	}
	if c.WSHandshakeTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_PERSIST_TIMEOUT must be > 0")
	}
	if c.SummaryTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_SUMMARY_TIMEOUT must be > 0")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("VAI_PHONE_STALE_AFTER must be > 0")
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		return fmt.Errorf("VAI_PHONE_SWEEP_SCHEDULE must not be empty")
	}
	if c.LimitRPS < 0 {
		return fmt.Errorf("VAI_PHONE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("VAI_PHONE_LIMIT_BURST must be >= 0")
	}
	if c.LimitRPS > 0 && c.LimitBurst == 0 {
		return fmt.Errorf("VAI_PHONE_LIMIT_BURST must be > 0 when VAI_PHONE_LIMIT_RPS is set")
	}
	if c.MaxCallsPerAgent < 0 {
		return fmt.Errorf("VAI_PHONE_MAX_CALLS_PER_AGENT must be >= 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("VAI_PHONE_READ_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_PHONE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_PHONE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("VAI_PHONE_LOG_FORMAT must be one of text|json")
	}
	return nil
}

// SummariesEnabled reports whether post-call summaries can run.
func (c Config) SummariesEnabled() bool {
	return strings.TrimSpace(c.GeminiAPIKey) != ""
}

func applyFile(cfg *Config, data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	setString(&cfg.Addr, f.Addr)
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.DeepgramAPIKey, f.Deepgram.APIKey)
	setString(&cfg.DeepgramURL, f.Deepgram.URL)
	setString(&cfg.DefaultVoice, f.Deepgram.Voice)
	setString(&cfg.ListenModel, f.Deepgram.ListenModel)
	setString(&cfg.ThinkProvider, f.Deepgram.ThinkProvider)
	setString(&cfg.ThinkModel, f.Deepgram.ThinkModel)
	if f.Deepgram.ThinkTemperature != nil {
		cfg.ThinkTemperature = *f.Deepgram.ThinkTemperature
	}
	setString(&cfg.BusinessName, f.BusinessName)
	setString(&cfg.DatabaseDriver, f.Database.Driver)
	setString(&cfg.DatabaseDSN, f.Database.DSN)
	setString(&cfg.AudioDir, f.AudioDir)
	setString(&cfg.GeminiAPIKey, f.Summary.GeminiAPIKey)
	setString(&cfg.SummaryModel, f.Summary.Model)
	setString(&cfg.SweepSchedule, f.Sweeper.Schedule)
	if f.Limits.RPS != nil {
		cfg.LimitRPS = *f.Limits.RPS
	}
	if f.Limits.Burst != nil {
		cfg.LimitBurst = *f.Limits.Burst
	}
	if f.Limits.MaxCallsPerAgent != nil {
		cfg.MaxCallsPerAgent = *f.Limits.MaxCallsPerAgent
	}
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bridge.config_settle_delay", f.Bridge.ConfigSettleDelay, &cfg.ConfigSettleDelay},
		{"bridge.audio_start_delay", f.Bridge.AudioStartDelay, &cfg.AudioStartDelay},
		{"bridge.write_timeout", f.Bridge.WriteTimeout, &cfg.WSWriteTimeout},
		{"bridge.ping_interval", f.Bridge.PingInterval, &cfg.WSPingInterval},
		{"bridge.handshake_timeout", f.Bridge.HandshakeTimeout, &cfg.WSHandshakeTimeout},
		{"bridge.persist_timeout", f.Bridge.PersistTimeout, &cfg.PersistTimeout},
		{"summary.timeout", f.Summary.Timeout, &cfg.SummaryTimeout},
		{"sweeper.stale_after", f.Sweeper.StaleAfter, &cfg.StaleAfter},
		{"server.read_header_timeout", f.Server.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"server.read_timeout", f.Server.ReadTimeout, &cfg.ReadTimeout},
		{"server.shutdown_grace_period", f.Server.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(d.raw)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
