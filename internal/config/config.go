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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	SegmentMS  int     `yaml:"segment_ms"`
	SilenceRMS float64 `yaml:"silence_rms"`
	DebugWAV   bool    `yaml:"debug_wav"`
	DebugWAVS  int     `yaml:"debug_wav_seconds"`
	DebugDir   string  `yaml:"debug_dir"`
}

// QualityConfig tunes the noise score. The combination of RMS and
// zero-crossing rate is deliberately a tunable, not a contract.
type QualityConfig struct {
	ZCRWeight float64 `yaml:"zcr_weight"`
	RMSRef    float64 `yaml:"rms_ref"`
}

type RoutingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	NoiseThreshold      float64 `yaml:"noise_threshold"`
}

type EdgeConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type CloudConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Mode             string `yaml:"mode"` // mock, google
	Language         string `yaml:"language"`
	CredentialsFile  string `yaml:"credentials_file"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	RetryTimeoutMS   int    `yaml:"retry_timeout_ms"`
	FailureThreshold int    `yaml:"failure_threshold"`
	CooldownMS       int    `yaml:"cooldown_ms"`
}

type MergerConfig struct {
	HistorySize          int `yaml:"history_size"`
	CorrectionWaitCycles int `yaml:"correction_wait_cycles"`
}

type PersistenceConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	QueueSize     int    `yaml:"queue_size"`
	Workers       int    `yaml:"workers"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExportConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Quality     QualityConfig     `yaml:"quality"`
	Routing     RoutingConfig     `yaml:"routing"`
	Edge        EdgeConfig        `yaml:"edge"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Merger      MergerConfig      `yaml:"merger"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Export      ExportConfig      `yaml:"export"`
}

func Default() Config {
	return Config{
		RuntimeName: "livespeak-runtime",
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
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			SampleRate: 16000,
			Channels:   1,
			SegmentMS:  200,
			SilenceRMS: 0.01,
			DebugWAVS:  10,
			DebugDir:   "./data/debug",
		},
		Quality: QualityConfig{
			ZCRWeight: 0.65,
			RMSRef:    0.15,
		},
		Routing: RoutingConfig{
			ConfidenceThreshold: 0.75,
			NoiseThreshold:      0.6,
		},
		Edge: EdgeConfig{
			Mode:      "mock",
			TimeoutMS: 200,
		},
		Cloud: CloudConfig{
			Enabled:          false,
			Mode:             "mock",
			Language:         "en-US",
			TimeoutMS:        4000,
			RetryTimeoutMS:   1500,
			FailureThreshold: 3,
			CooldownMS:       10000,
		},
		Merger: MergerConfig{
			HistorySize:          100,
			CorrectionWaitCycles: 1,
		},
		Persistence: PersistenceConfig{
			Path:          "./data/livespeak.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
			QueueSize:     256,
			Workers:       2,
		},
		Export: ExportConfig{
			Enabled: false,
			Topic:   "captions.final",
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
	overrideString(&cfg.RuntimeName, "LIVESPEAK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LIVESPEAK_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LIVESPEAK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LIVESPEAK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LIVESPEAK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LIVESPEAK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LIVESPEAK_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "LIVESPEAK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LIVESPEAK_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LIVESPEAK_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LIVESPEAK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LIVESPEAK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LIVESPEAK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LIVESPEAK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LIVESPEAK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LIVESPEAK_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.SampleRate, "LIVESPEAK_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LIVESPEAK_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.SegmentMS, "LIVESPEAK_CAPTURE_SEGMENT_MS")
	overrideFloat(&cfg.Capture.SilenceRMS, "LIVESPEAK_CAPTURE_SILENCE_RMS")
	overrideBool(&cfg.Capture.DebugWAV, "LIVESPEAK_CAPTURE_DEBUG_WAV")
	overrideInt(&cfg.Capture.DebugWAVS, "LIVESPEAK_CAPTURE_DEBUG_WAV_SECONDS")
	overrideString(&cfg.Capture.DebugDir, "LIVESPEAK_CAPTURE_DEBUG_DIR")
	overrideFloat(&cfg.Quality.ZCRWeight, "LIVESPEAK_QUALITY_ZCR_WEIGHT")
	overrideFloat(&cfg.Quality.RMSRef, "LIVESPEAK_QUALITY_RMS_REF")
	overrideFloat(&cfg.Routing.ConfidenceThreshold, "LIVESPEAK_ROUTING_CONFIDENCE_THRESHOLD")
	overrideFloat(&cfg.Routing.NoiseThreshold, "LIVESPEAK_ROUTING_NOISE_THRESHOLD")
	overrideString(&cfg.Edge.Mode, "LIVESPEAK_EDGE_MODE")
	overrideString(&cfg.Edge.Command, "LIVESPEAK_EDGE_COMMAND")
	overrideString(&cfg.Edge.ModelPath, "LIVESPEAK_EDGE_MODEL_PATH")
	overrideString(&cfg.Edge.Language, "LIVESPEAK_EDGE_LANGUAGE")
	overrideInt(&cfg.Edge.TimeoutMS, "LIVESPEAK_EDGE_TIMEOUT_MS")
	overrideBool(&cfg.Cloud.Enabled, "LIVESPEAK_CLOUD_ENABLED")
	overrideString(&cfg.Cloud.Mode, "LIVESPEAK_CLOUD_MODE")
	overrideString(&cfg.Cloud.Language, "LIVESPEAK_CLOUD_LANGUAGE")
	overrideString(&cfg.Cloud.CredentialsFile, "LIVESPEAK_CLOUD_CREDENTIALS_FILE")
	overrideInt(&cfg.Cloud.TimeoutMS, "LIVESPEAK_CLOUD_TIMEOUT_MS")
	overrideInt(&cfg.Cloud.RetryTimeoutMS, "LIVESPEAK_CLOUD_RETRY_TIMEOUT_MS")
	overrideInt(&cfg.Cloud.FailureThreshold, "LIVESPEAK_CLOUD_FAILURE_THRESHOLD")
	overrideInt(&cfg.Cloud.CooldownMS, "LIVESPEAK_CLOUD_COOLDOWN_MS")
	overrideInt(&cfg.Merger.HistorySize, "LIVESPEAK_MERGER_HISTORY_SIZE")
	overrideInt(&cfg.Merger.CorrectionWaitCycles, "LIVESPEAK_MERGER_CORRECTION_WAIT_CYCLES")
	overrideString(&cfg.Persistence.Path, "LIVESPEAK_PERSISTENCE_PATH")
	overrideString(&cfg.Persistence.RetentionMode, "LIVESPEAK_PERSISTENCE_RETENTION_MODE")
	overrideInt(&cfg.Persistence.RetentionDays, "LIVESPEAK_PERSISTENCE_RETENTION_DAYS")
	overrideInt(&cfg.Persistence.MaxSessions, "LIVESPEAK_PERSISTENCE_MAX_SESSIONS")
	overrideInt(&cfg.Persistence.QueueSize, "LIVESPEAK_PERSISTENCE_QUEUE_SIZE")
	overrideInt(&cfg.Persistence.Workers, "LIVESPEAK_PERSISTENCE_WORKERS")
	overrideBool(&cfg.Persistence.VacuumOnStart, "LIVESPEAK_PERSISTENCE_VACUUM_ON_START")
	overrideBool(&cfg.Export.Enabled, "LIVESPEAK_EXPORT_ENABLED")
	overrideStringSlice(&cfg.Export.Brokers, "LIVESPEAK_EXPORT_BROKERS")
	overrideString(&cfg.Export.Topic, "LIVESPEAK_EXPORT_TOPIC")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1 (mono)")
	}
	if cfg.Capture.SegmentMS <= 0 {
		return errors.New("capture.segment_ms must be positive")
	}
	if cfg.Capture.SilenceRMS < 0 || cfg.Capture.SilenceRMS > 1 {
		return errors.New("capture.silence_rms must be within [0,1]")
	}
	if cfg.Quality.ZCRWeight < 0 || cfg.Quality.ZCRWeight > 1 {
		return errors.New("quality.zcr_weight must be within [0,1]")
	}
	if cfg.Quality.RMSRef <= 0 {
		return errors.New("quality.rms_ref must be positive")
	}
	if cfg.Routing.ConfidenceThreshold < 0 || cfg.Routing.ConfidenceThreshold > 1 {
		return errors.New("routing.confidence_threshold must be within [0,1]")
	}
	if cfg.Routing.NoiseThreshold < 0 || cfg.Routing.NoiseThreshold > 1 {
		return errors.New("routing.noise_threshold must be within [0,1]")
	}
	switch cfg.Edge.Mode {
	case "mock", "exec":
	default:
		return errors.New("edge.mode must be one of mock|exec")
	}
	if cfg.Edge.Mode == "exec" && cfg.Edge.Command == "" {
		return errors.New("edge.command must be set when mode=exec")
	}
	if cfg.Cloud.Enabled {
		switch cfg.Cloud.Mode {
		case "mock", "google":
		default:
			return errors.New("cloud.mode must be one of mock|google")
		}
		if cfg.Cloud.TimeoutMS <= 0 {
			return errors.New("cloud.timeout_ms must be positive")
		}
		if cfg.Cloud.RetryTimeoutMS <= 0 || cfg.Cloud.RetryTimeoutMS >= cfg.Cloud.TimeoutMS {
			return errors.New("cloud.retry_timeout_ms must be positive and strictly less than cloud.timeout_ms")
		}
		if cfg.Cloud.FailureThreshold <= 0 {
			return errors.New("cloud.failure_threshold must be >= 1")
		}
	}
	if cfg.Merger.HistorySize <= 0 {
		return errors.New("merger.history_size must be >= 1")
	}
	if cfg.Merger.CorrectionWaitCycles < 0 {
		return errors.New("merger.correction_wait_cycles must be >= 0")
	}
	if cfg.Persistence.Path == "" {
		return errors.New("persistence.path must not be empty")
	}
	switch cfg.Persistence.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("persistence.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Persistence.RetentionDays < 0 {
		return errors.New("persistence.retention_days must be >= 0")
	}
	if cfg.Persistence.QueueSize <= 0 {
		return errors.New("persistence.queue_size must be >= 1")
	}
	if cfg.Persistence.Workers <= 0 {
		return errors.New("persistence.workers must be >= 1")
	}
	if cfg.Export.Enabled {
		if len(cfg.Export.Brokers) == 0 {
			return errors.New("export.brokers must not be empty when export is enabled")
		}
		if cfg.Export.Topic == "" {
			return errors.New("export.topic must not be empty when export is enabled")
		}
	}
	return nil
}
