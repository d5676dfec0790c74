package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	// TraceExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and stdout otherwise.
	TraceExporter    string  `yaml:"trace_exporter" toml:"trace_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio" toml:"trace_sample_ratio"`
	// PrometheusBind serves /metrics on a separate listener; empty mounts it
	// on the API server.
	PrometheusBind string `yaml:"prometheus_bind" toml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
	Port int    `yaml:"port" toml:"port"`
	// MCP mounts the Model Context Protocol endpoint at /mcp.
	MCP bool `yaml:"mcp" toml:"mcp"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" toml:"runtime_name"`
	Environment string           `yaml:"environment" toml:"environment"`
	HTTP        HTTPConfig       `yaml:"http" toml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Bus         BusConfig        `yaml:"bus" toml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store" toml:"event_store"`
	Audio       AudioConfig      `yaml:"audio" toml:"audio"`
	STT         STTConfig        `yaml:"stt" toml:"stt"`
	LLM         LLMConfig        `yaml:"llm" toml:"llm"`
	Meeting     MeetingConfig    `yaml:"meeting" toml:"meeting"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded" toml:"embedded"`
	Host           string   `yaml:"host" toml:"host"`
	Port           int      `yaml:"port" toml:"port"`
	StoreDir       string   `yaml:"store_dir" toml:"store_dir"`
	JetStream      bool     `yaml:"jetstream" toml:"jetstream"`
	Servers        []string `yaml:"servers" toml:"servers"`
	Username       string   `yaml:"username" toml:"username"`
	Password       string   `yaml:"password" toml:"password"`
	Token          string   `yaml:"token" toml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" toml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	RetentionMode string `yaml:"retention_mode" toml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions" toml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" toml:"vacuum_on_start"`
}

// AudioConfig selects the microphone backend and the framing published to the bus.
type AudioConfig struct {
	Mode          string `yaml:"mode" toml:"mode"` // mock, exec
	Command       string `yaml:"command" toml:"command"`
	SourceID      string `yaml:"source_id" toml:"source_id"`
	SampleRate    int    `yaml:"sample_rate" toml:"sample_rate"`
	Channels      int    `yaml:"channels" toml:"channels"`
	ChunkMS       int    `yaml:"chunk_ms" toml:"chunk_ms"`
	SilenceRMS    int    `yaml:"silence_rms" toml:"silence_rms"`
	SilenceHoldMS int    `yaml:"silence_hold_ms" toml:"silence_hold_ms"`
	RecordingsDir string `yaml:"recordings_dir" toml:"recordings_dir"`
}

type STTConfig struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled"`
	Mode                string `yaml:"mode" toml:"mode"`
	Command             string `yaml:"command" toml:"command"`
	ModelPath           string `yaml:"model_path" toml:"model_path"`
	Language            string `yaml:"language" toml:"language"`
	SampleRate          int    `yaml:"sample_rate" toml:"sample_rate"`
	Channels            int    `yaml:"channels" toml:"channels"`
	PartialEveryMS      int    `yaml:"partial_every_ms" toml:"partial_every_ms"`
	PublishInterim      bool   `yaml:"publish_interim" toml:"publish_interim"`
	StreamIdleTimeoutMS int    `yaml:"stream_idle_timeout_ms" toml:"stream_idle_timeout_ms"`
}

type LLMConfig struct {
	Enabled       bool    `yaml:"enabled" toml:"enabled"`
	Mode          string  `yaml:"mode" toml:"mode"` // mock, ollama, exec
	Endpoint      string  `yaml:"endpoint" toml:"endpoint"`
	Command       string  `yaml:"command" toml:"command"`
	ModelFast     string  `yaml:"model_fast" toml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced" toml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier" toml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64 `yaml:"temperature" toml:"temperature"`
}

type MeetingConfig struct {
	SilenceThresholdMS int      `yaml:"silence_threshold_ms" toml:"silence_threshold_ms"`
	MergeWindowMS      int      `yaml:"merge_window_ms" toml:"merge_window_ms"`
	TickIntervalMS     int      `yaml:"tick_interval_ms" toml:"tick_interval_ms"`
	SpeakerPrefix      string   `yaml:"speaker_prefix" toml:"speaker_prefix"`
	Palette            []string `yaml:"palette" toml:"palette"`
	AutoSummarize      bool     `yaml:"auto_summarize" toml:"auto_summarize"`
	MinutesTimeoutMS   int      `yaml:"minutes_timeout_ms" toml:"minutes_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-minutes",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
			MCP:  true,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			TraceSampleRatio: 1,
			PrometheusBind:   ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/minutes.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			Mode:          "mock",
			SourceID:      "meeting-mic",
			SampleRate:    16000,
			Channels:      1,
			ChunkMS:       100,
			SilenceRMS:    500,
			SilenceHoldMS: 700,
			RecordingsDir: "./data/recordings",
		},
		STT: STTConfig{
			Enabled:             true,
			Mode:                "mock",
			SampleRate:          16000,
			Channels:            1,
			PartialEveryMS:      800,
			PublishInterim:      true,
			StreamIdleTimeoutMS: 10000,
		},
		LLM: LLMConfig{
			Enabled:       true,
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			ModelFast:     "llama3.2:latest",
			ModelBalanced: "llama3.2:latest",
			DefaultTier:   "balanced",
			MaxTokens:     1024,
			Temperature:   0.2,
		},
		Meeting: MeetingConfig{
			SilenceThresholdMS: 2000,
			MergeWindowMS:      5000,
			TickIntervalMS:     1000,
			SpeakerPrefix:      "speaker",
			Palette:            []string{"#3b82f6", "#10b981", "#f59e0b", "#ef4444", "#8b5cf6", "#ec4899"},
			AutoSummarize:      true,
			MinutesTimeoutMS:   120000,
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
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode picks the file format from the extension; YAML is the default.
func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideBool(&cfg.HTTP.MCP, "LOQA_HTTP_MCP")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "LOQA_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideBool(&cfg.Bus.JetStream, "LOQA_BUS_JETSTREAM")
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
	overrideString(&cfg.Audio.Mode, "LOQA_AUDIO_MODE")
	overrideString(&cfg.Audio.Command, "LOQA_AUDIO_COMMAND")
	overrideString(&cfg.Audio.SourceID, "LOQA_AUDIO_SOURCE_ID")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkMS, "LOQA_AUDIO_CHUNK_MS")
	overrideInt(&cfg.Audio.SilenceRMS, "LOQA_AUDIO_SILENCE_RMS")
	overrideInt(&cfg.Audio.SilenceHoldMS, "LOQA_AUDIO_SILENCE_HOLD_MS")
	overrideString(&cfg.Audio.RecordingsDir, "LOQA_AUDIO_RECORDINGS_DIR")
	overrideBool(&cfg.STT.Enabled, "LOQA_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "LOQA_STT_PUBLISH_INTERIM")
	overrideInt(&cfg.STT.StreamIdleTimeoutMS, "LOQA_STT_STREAM_IDLE_TIMEOUT_MS")
	overrideBool(&cfg.LLM.Enabled, "LOQA_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "LOQA_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "LOQA_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "LOQA_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.Meeting.SilenceThresholdMS, "LOQA_MEETING_SILENCE_THRESHOLD_MS")
	overrideInt(&cfg.Meeting.MergeWindowMS, "LOQA_MEETING_MERGE_WINDOW_MS")
	overrideInt(&cfg.Meeting.TickIntervalMS, "LOQA_MEETING_TICK_INTERVAL_MS")
	overrideString(&cfg.Meeting.SpeakerPrefix, "LOQA_MEETING_SPEAKER_PREFIX")
	overrideStringSlice(&cfg.Meeting.Palette, "LOQA_MEETING_PALETTE")
	overrideBool(&cfg.Meeting.AutoSummarize, "LOQA_MEETING_AUTO_SUMMARIZE")
	overrideInt(&cfg.Meeting.MinutesTimeoutMS, "LOQA_MEETING_MINUTES_TIMEOUT_MS")
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
		if cfg.Bus.JetStream && cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must be set when jetstream is enabled")
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
	switch cfg.Telemetry.TraceExporter {
	case "", "otlp", "stdout", "none":
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	if cfg.Telemetry.TraceExporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be within [0, 1]")
	}
	switch cfg.Audio.Mode {
	case "mock", "exec":
	default:
		return errors.New("audio.mode must be one of mock|exec")
	}
	if cfg.Audio.Mode == "exec" && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when mode=exec")
	}
	if cfg.Audio.SourceID == "" {
		return errors.New("audio.source_id must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 || cfg.Audio.Channels <= 0 {
		return errors.New("audio.sample_rate and audio.channels must be positive")
	}
	if cfg.Audio.ChunkMS <= 0 {
		return errors.New("audio.chunk_ms must be positive")
	}
	if cfg.Audio.SilenceRMS < 0 || cfg.Audio.SilenceHoldMS <= 0 {
		return errors.New("audio.silence_rms must be >= 0 and audio.silence_hold_ms positive")
	}
	if cfg.STT.Enabled {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		switch cfg.STT.Mode {
		case "mock", "exec", "whisper":
		default:
			return errors.New("stt.mode must be one of mock|exec|whisper")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.Mode == "whisper" && cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=whisper")
		}
		if cfg.STT.StreamIdleTimeoutMS < 0 {
			return errors.New("stt.stream_idle_timeout_ms must be >= 0")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.Meeting.SilenceThresholdMS < 500 || cfg.Meeting.SilenceThresholdMS > 10000 {
		return errors.New("meeting.silence_threshold_ms must be between 500 and 10000")
	}
	if cfg.Meeting.MergeWindowMS <= 0 {
		return errors.New("meeting.merge_window_ms must be positive")
	}
	if cfg.Meeting.TickIntervalMS <= 0 {
		return errors.New("meeting.tick_interval_ms must be positive")
	}
	if strings.TrimSpace(cfg.Meeting.SpeakerPrefix) == "" {
		return errors.New("meeting.speaker_prefix must not be empty")
	}
	if len(cfg.Meeting.Palette) == 0 {
		return errors.New("meeting.palette must not be empty")
	}
	if cfg.Meeting.MinutesTimeoutMS <= 0 {
		return errors.New("meeting.minutes_timeout_ms must be positive")
	}
	return nil
}
