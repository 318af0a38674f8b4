package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	EngineName  string          `yaml:"engine_name"`
	Environment string          `yaml:"environment"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	RunStore    RunStoreConfig  `yaml:"run_store"`
	Rewrite     RewriteConfig   `yaml:"rewrite"`
	Speech      SpeechConfig    `yaml:"speech"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type RunStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// RewriteConfig drives the document rewrite pipeline. Window sizes are
// measured in characters to match the transform service's prompt budget.
type RewriteConfig struct {
	MaxWindowChars  int       `yaml:"max_window_chars"`
	MinWindowChars  int       `yaml:"min_window_chars"`
	ContextChars    int       `yaml:"context_chars"`
	MaxRetries      int       `yaml:"max_retries"`
	BaseRetryDelay  int       `yaml:"base_retry_delay_ms"`
	InterCallDelay  int       `yaml:"inter_call_delay_ms"`
	SpokenOptimizer bool      `yaml:"spoken_optimizer"`
	Transform       Transform `yaml:"transform"`
}

type Transform struct {
	Mode        string  `yaml:"mode"` // mock, http, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SpeechConfig drives the speech synthesis pipeline. Window sizes are
// measured in UTF-8 bytes to match the synthesis service's payload ceiling.
type SpeechConfig struct {
	MaxWindowBytes int     `yaml:"max_window_bytes"`
	MinWindowBytes int     `yaml:"min_window_bytes"`
	MaxRetries     int     `yaml:"max_retries"`
	BaseRetryDelay int     `yaml:"base_retry_delay_ms"`
	RequestsPerMin int     `yaml:"requests_per_minute"`
	Normalize      bool    `yaml:"normalize"`
	PricePerMChars float64 `yaml:"price_per_million_chars"`
	Synth          Synth   `yaml:"synth"`
}

type Synth struct {
	Mode            string  `yaml:"mode"` // mock, exec
	Command         string  `yaml:"command"`
	Voice           string  `yaml:"voice"`
	SpeakingRate    float64 `yaml:"speaking_rate"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	MaxPayloadBytes int     `yaml:"max_payload_bytes"`
}

func Default() Config {
	return Config{
		EngineName:  "lector-engine",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		RunStore: RunStoreConfig{
			Path:          "./data/lector-runs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Rewrite: RewriteConfig{
			MaxWindowChars:  25000,
			MinWindowChars:  5000,
			ContextChars:    500,
			MaxRetries:      3,
			BaseRetryDelay:  2000,
			InterCallDelay:  1000,
			SpokenOptimizer: true,
			Transform: Transform{
				Mode:        "mock",
				Endpoint:    "http://localhost:11434",
				Model:       "llama3.2:latest",
				MaxTokens:   65536,
				Temperature: 0.1,
			},
		},
		Speech: SpeechConfig{
			MaxWindowBytes: 4800,
			MinWindowBytes: 500,
			MaxRetries:     3,
			BaseRetryDelay: 1000,
			RequestsPerMin: 200,
			Normalize:      true,
			PricePerMChars: 30.0,
			Synth: Synth{
				Mode:            "mock",
				Voice:           "en-US-Neural2-D",
				SpeakingRate:    0.95,
				SampleRate:      22050,
				Channels:        1,
				MaxPayloadBytes: 5000,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.EngineName, "LECTOR_ENGINE_NAME")
	overrideString(&cfg.Environment, "LECTOR_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "LECTOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LECTOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LECTOR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LECTOR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LECTOR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LECTOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LECTOR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LECTOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LECTOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LECTOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LECTOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LECTOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LECTOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.RunStore.Path, "LECTOR_RUN_STORE_PATH")
	overrideString(&cfg.RunStore.RetentionMode, "LECTOR_RUN_STORE_RETENTION_MODE")
	overrideInt(&cfg.RunStore.RetentionDays, "LECTOR_RUN_STORE_RETENTION_DAYS")
	overrideInt(&cfg.RunStore.MaxRuns, "LECTOR_RUN_STORE_MAX_RUNS")
	overrideBool(&cfg.RunStore.VacuumOnStart, "LECTOR_RUN_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Rewrite.MaxWindowChars, "LECTOR_REWRITE_MAX_WINDOW_CHARS")
	overrideInt(&cfg.Rewrite.MinWindowChars, "LECTOR_REWRITE_MIN_WINDOW_CHARS")
	overrideInt(&cfg.Rewrite.ContextChars, "LECTOR_REWRITE_CONTEXT_CHARS")
	overrideInt(&cfg.Rewrite.MaxRetries, "LECTOR_REWRITE_MAX_RETRIES")
	overrideInt(&cfg.Rewrite.BaseRetryDelay, "LECTOR_REWRITE_BASE_RETRY_DELAY_MS")
	overrideInt(&cfg.Rewrite.InterCallDelay, "LECTOR_REWRITE_INTER_CALL_DELAY_MS")
	overrideBool(&cfg.Rewrite.SpokenOptimizer, "LECTOR_REWRITE_SPOKEN_OPTIMIZER")
	overrideString(&cfg.Rewrite.Transform.Mode, "LECTOR_TRANSFORM_MODE")
	overrideString(&cfg.Rewrite.Transform.Endpoint, "LECTOR_TRANSFORM_ENDPOINT")
	overrideString(&cfg.Rewrite.Transform.Command, "LECTOR_TRANSFORM_COMMAND")
	overrideString(&cfg.Rewrite.Transform.Model, "LECTOR_TRANSFORM_MODEL")
	overrideInt(&cfg.Rewrite.Transform.MaxTokens, "LECTOR_TRANSFORM_MAX_TOKENS")
	overrideFloat(&cfg.Rewrite.Transform.Temperature, "LECTOR_TRANSFORM_TEMPERATURE")
	overrideInt(&cfg.Speech.MaxWindowBytes, "LECTOR_SPEECH_MAX_WINDOW_BYTES")
	overrideInt(&cfg.Speech.MinWindowBytes, "LECTOR_SPEECH_MIN_WINDOW_BYTES")
	overrideInt(&cfg.Speech.MaxRetries, "LECTOR_SPEECH_MAX_RETRIES")
	overrideInt(&cfg.Speech.BaseRetryDelay, "LECTOR_SPEECH_BASE_RETRY_DELAY_MS")
	overrideInt(&cfg.Speech.RequestsPerMin, "LECTOR_SPEECH_REQUESTS_PER_MINUTE")
	overrideBool(&cfg.Speech.Normalize, "LECTOR_SPEECH_NORMALIZE")
	overrideFloat(&cfg.Speech.PricePerMChars, "LECTOR_SPEECH_PRICE_PER_MILLION_CHARS")
	overrideString(&cfg.Speech.Synth.Mode, "LECTOR_SYNTH_MODE")
	overrideString(&cfg.Speech.Synth.Command, "LECTOR_SYNTH_COMMAND")
	overrideString(&cfg.Speech.Synth.Voice, "LECTOR_SYNTH_VOICE")
	overrideFloat(&cfg.Speech.Synth.SpeakingRate, "LECTOR_SYNTH_SPEAKING_RATE")
	overrideInt(&cfg.Speech.Synth.SampleRate, "LECTOR_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Synth.Channels, "LECTOR_SYNTH_CHANNELS")
	overrideInt(&cfg.Speech.Synth.MaxPayloadBytes, "LECTOR_SYNTH_MAX_PAYLOAD_BYTES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.EngineName == "" {
		return errors.New("engine_name must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.RunStore.Path == "" {
		return errors.New("run_store.path must not be empty")
	}
	switch cfg.RunStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("run_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.RunStore.RetentionDays < 0 {
		return errors.New("run_store.retention_days must be >= 0")
	}
	if cfg.Rewrite.MaxWindowChars <= 0 {
		return errors.New("rewrite.max_window_chars must be positive")
	}
	if cfg.Rewrite.MinWindowChars <= 0 || cfg.Rewrite.MinWindowChars > cfg.Rewrite.MaxWindowChars {
		return errors.New("rewrite.min_window_chars must be in (0, max_window_chars]")
	}
	if cfg.Rewrite.ContextChars < 0 {
		return errors.New("rewrite.context_chars must be >= 0")
	}
	if cfg.Rewrite.MaxRetries < 0 {
		return errors.New("rewrite.max_retries must be >= 0")
	}
	switch cfg.Rewrite.Transform.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("rewrite.transform.mode must be one of mock|http|exec")
	}
	if cfg.Rewrite.Transform.Mode == "http" && cfg.Rewrite.Transform.Endpoint == "" {
		return errors.New("rewrite.transform.endpoint must be set when mode=http")
	}
	if cfg.Rewrite.Transform.Mode == "exec" && cfg.Rewrite.Transform.Command == "" {
		return errors.New("rewrite.transform.command must be set when mode=exec")
	}
	if cfg.Speech.MaxWindowBytes <= 0 {
		return errors.New("speech.max_window_bytes must be positive")
	}
	if cfg.Speech.MinWindowBytes <= 0 || cfg.Speech.MinWindowBytes > cfg.Speech.MaxWindowBytes {
		return errors.New("speech.min_window_bytes must be in (0, max_window_bytes]")
	}
	if cfg.Speech.MaxRetries < 0 {
		return errors.New("speech.max_retries must be >= 0")
	}
	if cfg.Speech.RequestsPerMin < 0 {
		return errors.New("speech.requests_per_minute must be >= 0")
	}
	switch cfg.Speech.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("speech.synth.mode must be one of mock|exec")
	}
	if cfg.Speech.Synth.Mode == "exec" && cfg.Speech.Synth.Command == "" {
		return errors.New("speech.synth.command must be set when mode=exec")
	}
	if cfg.Speech.Synth.SampleRate <= 0 {
		return errors.New("speech.synth.sample_rate must be positive")
	}
	if cfg.Speech.Synth.Channels <= 0 {
		return errors.New("speech.synth.channels must be positive")
	}
	if cfg.Speech.Synth.MaxPayloadBytes < 0 {
		return errors.New("speech.synth.max_payload_bytes must be >= 0")
	}
	return nil
}
