package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Backend     BackendConfig    `yaml:"backend"`
	Relay       RelayConfig      `yaml:"relay"`
	Reference   ReferenceConfig  `yaml:"reference"`
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

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// BackendConfig locates the chat service that streams transcripts.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	ChatPath       string `yaml:"chat_path"`
	CancelPath     string `yaml:"cancel_path"`
	ConnectTimeout int    `yaml:"connect_timeout_ms"`
	CancelTimeout  int    `yaml:"cancel_timeout_ms"`
}

// RelayConfig controls publishing of highlight state on the bus.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	StateSubject  string `yaml:"state_subject"`
	StartSubject  string `yaml:"start_subject"`
	CancelSubject string `yaml:"cancel_subject"`
}

// ReferenceConfig configures the bundled backend that speaks the stream
// protocol for demos and end-to-end runs.
type ReferenceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	LLMMode        string `yaml:"llm_mode"` // mock, ollama, exec
	LLMEndpoint    string `yaml:"llm_endpoint"`
	LLMCommand     string `yaml:"llm_command"`
	LLMModel       string `yaml:"llm_model"`
	MaxTokens      int    `yaml:"max_tokens"`
	MarkerMode     string `yaml:"marker_mode"` // mock, exec
	MarkerCommand  string `yaml:"marker_command"`
	Voice          string `yaml:"voice"`
	WordsPerMinute int    `yaml:"words_per_minute"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-highlight",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-highlight.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			ChatPath:       "/chat",
			CancelPath:     "/cancel_tts",
			ConnectTimeout: 10000,
			CancelTimeout:  5000,
		},
		Relay: RelayConfig{
			Enabled:       true,
			StateSubject:  "transcript.highlight.state",
			StartSubject:  "transcript.control.start",
			CancelSubject: "transcript.control.cancel",
		},
		Reference: ReferenceConfig{
			Enabled:        false,
			Bind:           "127.0.0.1",
			Port:           8000,
			LLMMode:        "mock",
			LLMEndpoint:    "http://localhost:11434",
			LLMModel:       "llama3.2:latest",
			MaxTokens:      256,
			MarkerMode:     "mock",
			Voice:          "en-US",
			WordsPerMinute: 180,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Backend.BaseURL, "LOQA_BACKEND_BASE_URL")
	overrideString(&cfg.Backend.ChatPath, "LOQA_BACKEND_CHAT_PATH")
	overrideString(&cfg.Backend.CancelPath, "LOQA_BACKEND_CANCEL_PATH")
	overrideInt(&cfg.Backend.ConnectTimeout, "LOQA_BACKEND_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Backend.CancelTimeout, "LOQA_BACKEND_CANCEL_TIMEOUT_MS")
	overrideBool(&cfg.Relay.Enabled, "LOQA_RELAY_ENABLED")
	overrideString(&cfg.Relay.StateSubject, "LOQA_RELAY_STATE_SUBJECT")
	overrideString(&cfg.Relay.StartSubject, "LOQA_RELAY_START_SUBJECT")
	overrideString(&cfg.Relay.CancelSubject, "LOQA_RELAY_CANCEL_SUBJECT")
	overrideBool(&cfg.Reference.Enabled, "LOQA_REFERENCE_ENABLED")
	overrideString(&cfg.Reference.Bind, "LOQA_REFERENCE_BIND")
	overrideInt(&cfg.Reference.Port, "LOQA_REFERENCE_PORT")
	overrideString(&cfg.Reference.LLMMode, "LOQA_REFERENCE_LLM_MODE")
	overrideString(&cfg.Reference.LLMEndpoint, "LOQA_REFERENCE_LLM_ENDPOINT")
	overrideString(&cfg.Reference.LLMCommand, "LOQA_REFERENCE_LLM_COMMAND")
	overrideString(&cfg.Reference.LLMModel, "LOQA_REFERENCE_LLM_MODEL")
	overrideInt(&cfg.Reference.MaxTokens, "LOQA_REFERENCE_MAX_TOKENS")
	overrideString(&cfg.Reference.MarkerMode, "LOQA_REFERENCE_MARKER_MODE")
	overrideString(&cfg.Reference.MarkerCommand, "LOQA_REFERENCE_MARKER_COMMAND")
	overrideString(&cfg.Reference.Voice, "LOQA_REFERENCE_VOICE")
	overrideInt(&cfg.Reference.WordsPerMinute, "LOQA_REFERENCE_WORDS_PER_MINUTE")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if _, err := url.ParseRequestURI(cfg.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if !strings.HasPrefix(cfg.Backend.ChatPath, "/") || !strings.HasPrefix(cfg.Backend.CancelPath, "/") {
		return errors.New("backend.chat_path and backend.cancel_path must start with /")
	}
	if cfg.Backend.ConnectTimeout < 0 || cfg.Backend.CancelTimeout < 0 {
		return errors.New("backend timeouts must be >= 0")
	}
	if cfg.Bus.Enabled && cfg.Relay.Enabled {
		if cfg.Relay.StateSubject == "" || cfg.Relay.StartSubject == "" || cfg.Relay.CancelSubject == "" {
			return errors.New("relay subjects must not be empty when relay is enabled")
		}
	}
	if cfg.Reference.Enabled {
		if cfg.Reference.Port <= 0 || cfg.Reference.Port > 65535 {
			return errors.New("reference.port must be between 1 and 65535")
		}
		switch cfg.Reference.LLMMode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("reference.llm_mode must be one of mock|ollama|exec")
		}
		if cfg.Reference.LLMMode == "ollama" && cfg.Reference.LLMEndpoint == "" {
			return errors.New("reference.llm_endpoint must be set when llm_mode=ollama")
		}
		if cfg.Reference.LLMMode == "exec" && cfg.Reference.LLMCommand == "" {
			return errors.New("reference.llm_command must be set when llm_mode=exec")
		}
		switch cfg.Reference.MarkerMode {
		case "mock", "exec":
		default:
			return errors.New("reference.marker_mode must be one of mock|exec")
		}
		if cfg.Reference.MarkerMode == "exec" && cfg.Reference.MarkerCommand == "" {
			return errors.New("reference.marker_command must be set when marker_mode=exec")
		}
		if cfg.Reference.WordsPerMinute <= 0 {
			return errors.New("reference.words_per_minute must be positive")
		}
	}
	return nil
}
