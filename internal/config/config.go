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
	DaemonName  string            `yaml:"daemon_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Store       StoreConfig       `yaml:"store"`
	Export      ExportConfig      `yaml:"export"`
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

type CaptureConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	SliceDurationMS  int     `yaml:"slice_duration_ms"`
	TickIntervalMS   int     `yaml:"tick_interval_ms"`
	MeterIntervalMS  int     `yaml:"meter_interval_ms"`
	LevelReference   float64 `yaml:"level_reference"`
	EchoCancellation bool    `yaml:"echo_cancellation"`
	NoiseSuppression bool    `yaml:"noise_suppression"`
	AutoGain         bool    `yaml:"auto_gain"`
}

type RecognitionConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	Locale         string `yaml:"locale"`
	InterimResults bool   `yaml:"interim_results"`
	RestartDelayMS int    `yaml:"restart_delay_ms"`
	ResumeDelayMS  int    `yaml:"resume_delay_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	AudioDir      string `yaml:"audio_dir"`
	MaxRecordings int    `yaml:"max_recordings"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ExportConfig struct {
	Directory string `yaml:"directory"`
}

func Default() Config {
	return Config{
		DaemonName:  "voxnote-daemon",
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
		Capture: CaptureConfig{
			Mode:             "mock",
			SampleRate:       16000,
			Channels:         1,
			SliceDurationMS:  100,
			TickIntervalMS:   100,
			MeterIntervalMS:  16,
			LevelReference:   256,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
		},
		Recognition: RecognitionConfig{
			Enabled:        true,
			Mode:           "mock",
			Locale:         "en-US",
			InterimResults: true,
			RestartDelayMS: 1000,
			ResumeDelayMS:  100,
		},
		Store: StoreConfig{
			Path:          "./data/voxnote.db",
			AudioDir:      "./data/audio",
			MaxRecordings: 0,
			RetentionDays: 0,
		},
		Export: ExportConfig{
			Directory: "./exports",
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
	overrideString(&cfg.DaemonName, "VOX_DAEMON_NAME")
	overrideString(&cfg.Environment, "VOX_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "VOX_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "VOX_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "VOX_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "VOX_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.SliceDurationMS, "VOX_CAPTURE_SLICE_DURATION_MS")
	overrideInt(&cfg.Capture.TickIntervalMS, "VOX_CAPTURE_TICK_INTERVAL_MS")
	overrideInt(&cfg.Capture.MeterIntervalMS, "VOX_CAPTURE_METER_INTERVAL_MS")
	overrideFloat(&cfg.Capture.LevelReference, "VOX_CAPTURE_LEVEL_REFERENCE")
	overrideBool(&cfg.Capture.EchoCancellation, "VOX_CAPTURE_ECHO_CANCELLATION")
	overrideBool(&cfg.Capture.NoiseSuppression, "VOX_CAPTURE_NOISE_SUPPRESSION")
	overrideBool(&cfg.Capture.AutoGain, "VOX_CAPTURE_AUTO_GAIN")
	overrideBool(&cfg.Recognition.Enabled, "VOX_RECOGNITION_ENABLED")
	overrideString(&cfg.Recognition.Mode, "VOX_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "VOX_RECOGNITION_COMMAND")
	overrideString(&cfg.Recognition.Locale, "VOX_RECOGNITION_LOCALE")
	overrideBool(&cfg.Recognition.InterimResults, "VOX_RECOGNITION_INTERIM_RESULTS")
	overrideInt(&cfg.Recognition.RestartDelayMS, "VOX_RECOGNITION_RESTART_DELAY_MS")
	overrideInt(&cfg.Recognition.ResumeDelayMS, "VOX_RECOGNITION_RESUME_DELAY_MS")
	overrideString(&cfg.Store.Path, "VOX_STORE_PATH")
	overrideString(&cfg.Store.AudioDir, "VOX_STORE_AUDIO_DIR")
	overrideInt(&cfg.Store.MaxRecordings, "VOX_STORE_MAX_RECORDINGS")
	overrideInt(&cfg.Store.RetentionDays, "VOX_STORE_RETENTION_DAYS")
	overrideBool(&cfg.Store.VacuumOnStart, "VOX_STORE_VACUUM_ON_START")
	overrideString(&cfg.Export.Directory, "VOX_EXPORT_DIRECTORY")
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
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.SliceDurationMS <= 0 {
		return errors.New("capture.slice_duration_ms must be positive")
	}
	if cfg.Capture.TickIntervalMS <= 0 {
		return errors.New("capture.tick_interval_ms must be positive")
	}
	if cfg.Capture.MeterIntervalMS <= 0 {
		return errors.New("capture.meter_interval_ms must be positive")
	}
	if cfg.Capture.LevelReference <= 0 {
		return errors.New("capture.level_reference must be positive")
	}
	if cfg.Recognition.Enabled {
		switch cfg.Recognition.Mode {
		case "mock", "exec":
		default:
			return errors.New("recognition.mode must be one of mock|exec")
		}
		if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
			return errors.New("recognition.command must be set when mode=exec")
		}
		if cfg.Recognition.Locale == "" {
			return errors.New("recognition.locale must not be empty")
		}
		if cfg.Recognition.RestartDelayMS < 0 {
			return errors.New("recognition.restart_delay_ms must be >= 0")
		}
		if cfg.Recognition.ResumeDelayMS < 0 {
			return errors.New("recognition.resume_delay_ms must be >= 0")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.AudioDir == "" {
		return errors.New("store.audio_dir must not be empty")
	}
	if cfg.Store.MaxRecordings < 0 {
		return errors.New("store.max_recordings must be >= 0")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Export.Directory == "" {
		return errors.New("export.directory must not be empty")
	}
	return nil
}
