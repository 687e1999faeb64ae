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
	Capture     CaptureConfig    `yaml:"capture"`
	STT         STTConfig        `yaml:"stt"`
	NLU         NLUConfig        `yaml:"nlu"`
	TTS         TTSConfig        `yaml:"tts"`
	Voice       VoiceConfig      `yaml:"voice"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Registry    RegistryConfig   `yaml:"registry"`
}

type BusConfig struct {
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

type CaptureConfig struct {
	SampleRate       int      `yaml:"sample_rate"`
	Channels         int      `yaml:"channels"`
	ChunkIntervalMS  int      `yaml:"chunk_interval_ms"`
	PreferredFormats []string `yaml:"preferred_formats"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type NLUConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Mode          string  `yaml:"mode"` // mock, http, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	MinConfidence float64 `yaml:"min_confidence"`
	TimeoutMS     int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	Voice         string `yaml:"voice"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	LoadTimeoutMS int    `yaml:"load_timeout_ms"`
}

type VoiceConfig struct {
	Locale              string `yaml:"locale"`
	ScanIntervalMS      int    `yaml:"scan_interval_ms"`
	HistoryLimit        int    `yaml:"history_limit"`
	RetryThreshold      int    `yaml:"retry_threshold"`
	ContinuousListening bool   `yaml:"continuous_listening"`
	DictationWidget     bool   `yaml:"dictation_widget"`
}

type DispatchConfig struct {
	CooldownMS       int `yaml:"cooldown_ms"`
	NoticeDurationMS int `yaml:"notice_duration_ms"`
}

type RegistryConfig struct {
	NodeID            string `yaml:"node_id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxlist-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxlist-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			SampleRate:       16000,
			Channels:         1,
			ChunkIntervalMS:  250,
			PreferredFormats: []string{"audio/webm;codecs=opus", "audio/webm", "audio/ogg;codecs=opus", "audio/mp4"},
		},
		STT: STTConfig{
			Enabled:        false,
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: true,
		},
		NLU: NLUConfig{
			Enabled:       false,
			Mode:          "mock",
			Endpoint:      "http://localhost:8090/classify",
			MinConfidence: 0.3,
			TimeoutMS:     8000,
		},
		TTS: TTSConfig{
			Enabled:       false,
			Mode:          "mock",
			Voice:         "en-US",
			SampleRate:    22050,
			Channels:      1,
			LoadTimeoutMS: 5000,
		},
		Voice: VoiceConfig{
			Locale:              "en-US",
			ScanIntervalMS:      4000,
			HistoryLimit:        5,
			RetryThreshold:      2,
			ContinuousListening: true,
			DictationWidget:     false,
		},
		Dispatch: DispatchConfig{
			CooldownMS:       2000,
			NoticeDurationMS: 2500,
		},
		Registry: RegistryConfig{
			NodeID:            "voxlist-node-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
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
	overrideString(&cfg.RuntimeName, "VOXLIST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXLIST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXLIST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXLIST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXLIST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXLIST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXLIST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXLIST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXLIST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXLIST_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXLIST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXLIST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXLIST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXLIST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXLIST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXLIST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VOXLIST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOXLIST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOXLIST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOXLIST_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOXLIST_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Capture.SampleRate, "VOXLIST_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "VOXLIST_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.ChunkIntervalMS, "VOXLIST_CAPTURE_CHUNK_INTERVAL_MS")
	overrideStringSlice(&cfg.Capture.PreferredFormats, "VOXLIST_CAPTURE_PREFERRED_FORMATS")
	overrideBool(&cfg.STT.Enabled, "VOXLIST_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "VOXLIST_STT_MODE")
	overrideString(&cfg.STT.Command, "VOXLIST_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOXLIST_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VOXLIST_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "VOXLIST_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "VOXLIST_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "VOXLIST_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "VOXLIST_STT_PUBLISH_INTERIM")
	overrideBool(&cfg.NLU.Enabled, "VOXLIST_NLU_ENABLED")
	overrideString(&cfg.NLU.Mode, "VOXLIST_NLU_MODE")
	overrideString(&cfg.NLU.Endpoint, "VOXLIST_NLU_ENDPOINT")
	overrideString(&cfg.NLU.Command, "VOXLIST_NLU_COMMAND")
	overrideFloat(&cfg.NLU.MinConfidence, "VOXLIST_NLU_MIN_CONFIDENCE")
	overrideInt(&cfg.NLU.TimeoutMS, "VOXLIST_NLU_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "VOXLIST_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "VOXLIST_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOXLIST_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOXLIST_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOXLIST_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOXLIST_TTS_CHANNELS")
	overrideInt(&cfg.TTS.LoadTimeoutMS, "VOXLIST_TTS_LOAD_TIMEOUT_MS")
	overrideString(&cfg.Voice.Locale, "VOXLIST_VOICE_LOCALE")
	overrideInt(&cfg.Voice.ScanIntervalMS, "VOXLIST_VOICE_SCAN_INTERVAL_MS")
	overrideInt(&cfg.Voice.HistoryLimit, "VOXLIST_VOICE_HISTORY_LIMIT")
	overrideInt(&cfg.Voice.RetryThreshold, "VOXLIST_VOICE_RETRY_THRESHOLD")
	overrideBool(&cfg.Voice.ContinuousListening, "VOXLIST_VOICE_CONTINUOUS_LISTENING")
	overrideBool(&cfg.Voice.DictationWidget, "VOXLIST_VOICE_DICTATION_WIDGET")
	overrideInt(&cfg.Dispatch.CooldownMS, "VOXLIST_DISPATCH_COOLDOWN_MS")
	overrideInt(&cfg.Dispatch.NoticeDurationMS, "VOXLIST_DISPATCH_NOTICE_DURATION_MS")
	overrideString(&cfg.Registry.NodeID, "VOXLIST_REGISTRY_NODE_ID")
	overrideInt(&cfg.Registry.HeartbeatInterval, "VOXLIST_REGISTRY_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Registry.HeartbeatTimeout, "VOXLIST_REGISTRY_HEARTBEAT_TIMEOUT_MS")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.ChunkIntervalMS <= 0 {
		return errors.New("capture.chunk_interval_ms must be positive")
	}
	if cfg.STT.Enabled {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.NLU.Enabled {
		switch cfg.NLU.Mode {
		case "mock", "http", "exec":
		default:
			return errors.New("nlu.mode must be one of mock|http|exec")
		}
		if cfg.NLU.Mode == "http" && cfg.NLU.Endpoint == "" {
			return errors.New("nlu.endpoint must be set when mode=http")
		}
		if cfg.NLU.Mode == "exec" && cfg.NLU.Command == "" {
			return errors.New("nlu.command must be set when mode=exec")
		}
		if cfg.NLU.MinConfidence < 0 || cfg.NLU.MinConfidence > 1 {
			return errors.New("nlu.min_confidence must be within [0,1]")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.LoadTimeoutMS <= 0 {
			return errors.New("tts.load_timeout_ms must be positive")
		}
	}
	if cfg.Voice.ScanIntervalMS <= 0 {
		return errors.New("voice.scan_interval_ms must be positive")
	}
	if cfg.Voice.HistoryLimit <= 0 {
		return errors.New("voice.history_limit must be positive")
	}
	if cfg.Voice.RetryThreshold < 0 {
		return errors.New("voice.retry_threshold must be >= 0")
	}
	if cfg.Dispatch.CooldownMS < 0 {
		return errors.New("dispatch.cooldown_ms must be >= 0")
	}
	if cfg.Registry.NodeID == "" {
		return errors.New("registry.node_id must not be empty")
	}
	if cfg.Registry.HeartbeatInterval <= 0 {
		return errors.New("registry.heartbeat_interval_ms must be positive")
	}
	if cfg.Registry.HeartbeatTimeout <= cfg.Registry.HeartbeatInterval {
		return errors.New("registry.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	return nil
}
