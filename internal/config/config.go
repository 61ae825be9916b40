package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SampleRate is the capture and recognition sample rate in Hz.
const SampleRate = 16000

const (
	PresetDefault = "default"
	PresetFast    = "fast"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       string `yaml:"traces"` // off, stdout, otlp
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Preset      string           `yaml:"preset"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Audio       AudioConfig      `yaml:"audio"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type AudioConfig struct {
	// DeviceIndex selects an input device by its position in the input device
	// list. -1 means "use DeviceName or the system default".
	DeviceIndex int    `yaml:"device_index"`
	DeviceName  string `yaml:"device_name"`
}

type PipelineConfig struct {
	LengthMS        int     `yaml:"length_ms"`
	VADCheckMS      int     `yaml:"vad_check_ms"`
	VADWindowMS     int     `yaml:"vad_window_ms"`
	VADLastMS       int     `yaml:"vad_last_ms"`
	VADThreshold    float64 `yaml:"vad_threshold"`
	HighpassHz      float64 `yaml:"highpass_hz"`
	EnergyFloor     float64 `yaml:"energy_floor"`
	DedupSimilarity float64 `yaml:"dedup_similarity"`
	DedupMetric     string  `yaml:"dedup_metric"`
	MinSuffixWords  int     `yaml:"min_suffix_words"`

	DiscardAfterSnapshot bool   `yaml:"discard_after_snapshot"`
	LowActivityGuard     bool   `yaml:"low_activity_guard"`
	SuppressFillers      bool   `yaml:"suppress_fillers"`
	LanguageProbeMS      int    `yaml:"language_probe_ms"`
	ArchiveDir           string `yaml:"archive_dir"`
}

type RecognizerConfig struct {
	Mode              string `yaml:"mode"` // whisper, exec, mock
	ModelPath         string `yaml:"model_path"`
	Command           string `yaml:"command"`
	Language          string `yaml:"language"`
	LanguageMode      string `yaml:"language_mode"` // fixed, auto, fallback
	AlternateLanguage string `yaml:"alternate_language"`
	Translate         bool   `yaml:"translate"`
	Threads           int    `yaml:"threads"`
	MaxTokens         int    `yaml:"max_tokens"`
	SingleSegment     bool   `yaml:"single_segment"`
	NoContext         bool   `yaml:"no_context"`
	TimeoutMS         int    `yaml:"timeout_ms"` // exec mode; 0 disables
}

type DispatchConfig struct {
	StartupText string            `yaml:"startup_text"`
	QueueSize   int               `yaml:"queue_size"`
	Streamerbot StreamerbotConfig `yaml:"streamerbot"`
	Publish     bool              `yaml:"publish"`
	Journal     bool              `yaml:"journal"`
}

type StreamerbotConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	Action     string `yaml:"action"`
	ArgKey     string `yaml:"arg_key"`
	Persistent bool   `yaml:"persistent"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	Subject        string   `yaml:"subject"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-subtitler",
		Environment: "development",
		Preset:      PresetDefault,
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			Traces:       "off",
		},
		Audio: AudioConfig{
			DeviceIndex: -1,
		},
		Pipeline: PipelineConfig{
			LengthMS:        30000,
			VADCheckMS:      2000,
			VADWindowMS:     2000,
			VADLastMS:       1000,
			VADThreshold:    0.60,
			HighpassHz:      100,
			EnergyFloor:     0.0005,
			DedupSimilarity: 0.90,
			DedupMetric:     "levenshtein",
			MinSuffixWords:  3,
		},
		Recognizer: RecognizerConfig{
			Mode:              "whisper",
			ModelPath:         "models/ggml-base.bin",
			Language:          "en",
			LanguageMode:      "fallback",
			AlternateLanguage: "fr",
			Threads:           max(1, runtime.NumCPU()-1),
			TimeoutMS:         60000,
		},
		Dispatch: DispatchConfig{
			QueueSize: 16,
			Streamerbot: StreamerbotConfig{
				Enabled:   true,
				URL:       "ws://127.0.0.1:8080/",
				Action:    "AI Subtitler",
				ArgKey:    "AiText",
				TimeoutMS: 5000,
			},
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			Subject:        "subtitler.transcript.accepted",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/subtitler-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
	}
}

// ApplyPreset overlays a named preset bundle. It is applied once, before
// explicit file and environment values.
func (c *Config) ApplyPreset(name string) error {
	switch name {
	case "", PresetDefault:
		c.Preset = PresetDefault
	case PresetFast:
		c.Preset = PresetFast
		c.Pipeline.LengthMS = 3500
		c.Pipeline.VADCheckMS = 100
		c.Pipeline.VADWindowMS = 800
		c.Pipeline.VADLastMS = 350
		c.Pipeline.DedupSimilarity = 0.80
		c.Pipeline.DiscardAfterSnapshot = true
		c.Pipeline.LowActivityGuard = true
		c.Pipeline.SuppressFillers = true
		c.Pipeline.LanguageProbeMS = 1500
		c.Recognizer.MaxTokens = 32
		c.Recognizer.SingleSegment = true
		c.Recognizer.NoContext = true
		c.Recognizer.Threads = runtime.NumCPU()
	default:
		return fmt.Errorf("unknown preset %q", name)
	}
	return nil
}

// Load reads the configuration file at path (optional) using the preset named
// in the file or in LOQA_PRESET.
func Load(path string) (Config, error) {
	return LoadWithPreset(path, "")
}

// LoadWithPreset is Load with a preset forced by the caller (e.g. a CLI flag).
func LoadWithPreset(path, preset string) (Config, error) {
	cfg := Default()

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = raw
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if preset == "" {
		var probe struct {
			Preset string `yaml:"preset"`
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &probe); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
		preset = probe.Preset
		overrideString(&preset, "LOQA_PRESET")
	}
	if err := cfg.ApplyPreset(preset); err != nil {
		return cfg, err
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.Preset = preset
		if cfg.Preset == "" {
			cfg.Preset = PresetDefault
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Normalize()
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize clamps pipeline timing and threshold values into their usable
// ranges. It is idempotent.
func (c *Config) Normalize() {
	p := &c.Pipeline
	p.VADCheckMS = max(p.VADCheckMS, 50)
	p.VADWindowMS = max(p.VADWindowMS, 200)
	p.VADLastMS = max(p.VADLastMS, 50)
	p.VADWindowMS = max(p.VADWindowMS, p.VADLastMS)
	p.DedupSimilarity = min(max(p.DedupSimilarity, 0), 1)
	p.MinSuffixWords = max(p.MinSuffixWords, 1)
	if p.LanguageProbeMS > 0 {
		p.LanguageProbeMS = min(1500, max(500, min(p.LanguageProbeMS, p.LengthMS)))
	}
	c.Recognizer.MaxTokens = max(c.Recognizer.MaxTokens, 0)
	c.Recognizer.Threads = max(c.Recognizer.Threads, 1)
	c.Recognizer.Language = strings.ToLower(strings.TrimSpace(c.Recognizer.Language))
	c.Recognizer.AlternateLanguage = strings.ToLower(strings.TrimSpace(c.Recognizer.AlternateLanguage))
	if c.Recognizer.Language == "auto" {
		c.Recognizer.LanguageMode = "auto"
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideInt(&cfg.Audio.DeviceIndex, "LOQA_AUDIO_DEVICE_INDEX")
	overrideString(&cfg.Audio.DeviceName, "LOQA_AUDIO_DEVICE_NAME")
	overrideInt(&cfg.Pipeline.LengthMS, "LOQA_PIPELINE_LENGTH_MS")
	overrideInt(&cfg.Pipeline.VADCheckMS, "LOQA_PIPELINE_VAD_CHECK_MS")
	overrideInt(&cfg.Pipeline.VADWindowMS, "LOQA_PIPELINE_VAD_WINDOW_MS")
	overrideInt(&cfg.Pipeline.VADLastMS, "LOQA_PIPELINE_VAD_LAST_MS")
	overrideFloat(&cfg.Pipeline.VADThreshold, "LOQA_PIPELINE_VAD_THRESHOLD")
	overrideFloat(&cfg.Pipeline.HighpassHz, "LOQA_PIPELINE_HIGHPASS_HZ")
	overrideFloat(&cfg.Pipeline.EnergyFloor, "LOQA_PIPELINE_ENERGY_FLOOR")
	overrideFloat(&cfg.Pipeline.DedupSimilarity, "LOQA_PIPELINE_DEDUP_SIMILARITY")
	overrideString(&cfg.Pipeline.DedupMetric, "LOQA_PIPELINE_DEDUP_METRIC")
	overrideInt(&cfg.Pipeline.MinSuffixWords, "LOQA_PIPELINE_MIN_SUFFIX_WORDS")
	overrideString(&cfg.Pipeline.ArchiveDir, "LOQA_PIPELINE_ARCHIVE_DIR")
	overrideString(&cfg.Recognizer.Mode, "LOQA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.ModelPath, "LOQA_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Recognizer.Command, "LOQA_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.Language, "LOQA_RECOGNIZER_LANGUAGE")
	overrideString(&cfg.Recognizer.LanguageMode, "LOQA_RECOGNIZER_LANGUAGE_MODE")
	overrideString(&cfg.Recognizer.AlternateLanguage, "LOQA_RECOGNIZER_ALTERNATE_LANGUAGE")
	overrideBool(&cfg.Recognizer.Translate, "LOQA_RECOGNIZER_TRANSLATE")
	overrideInt(&cfg.Recognizer.Threads, "LOQA_RECOGNIZER_THREADS")
	overrideInt(&cfg.Recognizer.MaxTokens, "LOQA_RECOGNIZER_MAX_TOKENS")
	overrideString(&cfg.Dispatch.StartupText, "LOQA_DISPATCH_STARTUP_TEXT")
	overrideBool(&cfg.Dispatch.Streamerbot.Enabled, "LOQA_STREAMERBOT_ENABLED")
	overrideString(&cfg.Dispatch.Streamerbot.URL, "LOQA_STREAMERBOT_URL")
	overrideString(&cfg.Dispatch.Streamerbot.Password, "LOQA_STREAMERBOT_PASSWORD")
	overrideString(&cfg.Dispatch.Streamerbot.Action, "LOQA_STREAMERBOT_ACTION")
	overrideString(&cfg.Dispatch.Streamerbot.ArgKey, "LOQA_STREAMERBOT_ARG_KEY")
	overrideBool(&cfg.Dispatch.Streamerbot.Persistent, "LOQA_STREAMERBOT_PERSISTENT")
	overrideBool(&cfg.Dispatch.Publish, "LOQA_DISPATCH_PUBLISH")
	overrideBool(&cfg.Dispatch.Journal, "LOQA_DISPATCH_JOURNAL")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.Subject, "LOQA_BUS_SUBJECT")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
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

// Validate checks a configuration that was modified after Load, e.g. by
// command-line flags.
func (c Config) Validate() error {
	return validate(c)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.Traces {
	case "off", "stdout", "otlp":
	default:
		return errors.New("telemetry.traces must be one of off|stdout|otlp")
	}
	if cfg.Telemetry.Traces == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint must be set when traces=otlp")
	}
	if cfg.Pipeline.LengthMS < 500 {
		return errors.New("pipeline.length_ms must be at least 500")
	}
	if cfg.Pipeline.VADThreshold <= 0 {
		return errors.New("pipeline.vad_threshold must be positive")
	}
	if cfg.Pipeline.HighpassHz < 0 {
		return errors.New("pipeline.highpass_hz must be >= 0")
	}
	switch cfg.Pipeline.DedupMetric {
	case "levenshtein", "ratcliff", "jaro-winkler":
	default:
		return errors.New("pipeline.dedup_metric must be one of levenshtein|ratcliff|jaro-winkler")
	}
	switch cfg.Recognizer.Mode {
	case "whisper", "exec", "mock":
	default:
		return errors.New("recognizer.mode must be one of whisper|exec|mock")
	}
	if cfg.Recognizer.Mode == "whisper" && cfg.Recognizer.ModelPath == "" {
		return errors.New("recognizer.model_path must be set when mode=whisper")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Language == "" {
		return errors.New("recognizer.language must not be empty")
	}
	switch cfg.Recognizer.LanguageMode {
	case "fixed", "auto":
	case "fallback":
		if cfg.Recognizer.AlternateLanguage == "" {
			return errors.New("recognizer.alternate_language must be set when language_mode=fallback")
		}
	default:
		return errors.New("recognizer.language_mode must be one of fixed|auto|fallback")
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.queue_size must be positive")
	}
	if cfg.Dispatch.Streamerbot.Enabled {
		if cfg.Dispatch.Streamerbot.URL == "" {
			return errors.New("dispatch.streamerbot.url must not be empty")
		}
		if cfg.Dispatch.Streamerbot.Action == "" {
			return errors.New("dispatch.streamerbot.action must not be empty")
		}
		if cfg.Dispatch.Streamerbot.ArgKey == "" {
			return errors.New("dispatch.streamerbot.arg_key must not be empty")
		}
	}
	if cfg.Dispatch.Publish && !cfg.Bus.Enabled {
		return errors.New("dispatch.publish requires bus.enabled")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
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
	return nil
}
