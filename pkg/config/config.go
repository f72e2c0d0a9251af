package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig drives the remotehub server binary.
type ServerConfig struct {
	Listen     string         `yaml:"listen"`
	DBPath     string         `yaml:"db_path"`
	AdminToken string         `yaml:"admin_token"`
	Rotation   RotationConfig `yaml:"rotation"`
	Liveness   LivenessConfig `yaml:"liveness"`
	Logging    LoggingConfig  `yaml:"logging"`
	Tracing    TracingConfig  `yaml:"tracing"`
}

// RotationConfig controls the credential-rotation schedule.
type RotationConfig struct {
	PeriodMinutes int `yaml:"period_minutes"`
}

// LivenessConfig controls heartbeat classification and the dead-client sweep.
type LivenessConfig struct {
	OnlineWindowSeconds  int  `yaml:"online_window_s"`
	DeadWindowMinutes    int  `yaml:"dead_window_m"`
	SweepIntervalMinutes int  `yaml:"sweep_interval_m"`
	SweepEnabled         bool `yaml:"sweep_enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// AgentConfig drives the remote-client binary.
type AgentConfig struct {
	ServerURL        string        `yaml:"server_url"`
	ClientID         string        `yaml:"client_id"`
	StatePath        string        `yaml:"state_path"`
	PollIntervalS    int           `yaml:"poll_interval_s"`
	PollJitterS      int           `yaml:"poll_jitter_s"`
	RequestTimeoutS  int           `yaml:"request_timeout_s"`
	RetryInitialMs   int           `yaml:"retry_initial_ms"`
	RetryMaxMs       int           `yaml:"retry_max_ms"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	Logging          LoggingConfig `yaml:"logging"`
}

// DefaultServerConfig returns the documented defaults: 4 hour rotation
// period, 45 second online window, 30 minute dead window, 3 minute sweep.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen: ":8080",
		DBPath: "remotehub.db",
		Rotation: RotationConfig{
			PeriodMinutes: 240,
		},
		Liveness: LivenessConfig{
			OnlineWindowSeconds:  45,
			DeadWindowMinutes:    30,
			SweepIntervalMinutes: 3,
			SweepEnabled:         true,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		ServerURL:        "http://localhost:8080",
		StatePath:        "/var/lib/remotehub/agent_state",
		PollIntervalS:    15,
		PollJitterS:      5,
		RequestTimeoutS:  10,
		RetryInitialMs:   500,
		RetryMaxMs:       5000,
		RetryMaxAttempts: 5,
		Logging:          LoggingConfig{Level: "info"},
	}
}

// LoadServer reads config from a YAML file (missing file is fine) and then
// applies REMOTEHUB_* environment overrides.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyString("REMOTEHUB_LISTEN", &cfg.Listen)
	applyString("REMOTEHUB_DB_PATH", &cfg.DBPath)
	applyString("REMOTEHUB_ADMIN_TOKEN", &cfg.AdminToken)
	applyInt("REMOTEHUB_ROTATION_PERIOD_M", &cfg.Rotation.PeriodMinutes)
	applyBool("REMOTEHUB_SWEEP_ENABLED", &cfg.Liveness.SweepEnabled)
	applyString("REMOTEHUB_LOG_LEVEL", &cfg.Logging.Level)
	applyString("REMOTEHUB_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	return cfg, nil
}

func LoadAgent(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	applyString("REMOTEHUB_SERVER_URL", &cfg.ServerURL)
	applyString("REMOTEHUB_CLIENT_ID", &cfg.ClientID)
	applyString("REMOTEHUB_STATE_PATH", &cfg.StatePath)
	applyString("REMOTEHUB_LOG_LEVEL", &cfg.Logging.Level)

	return cfg, nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate clamps out-of-range values back to documented floors. The
// rotation period floor of one minute protects against a misconfiguration
// that would keep every client in a permanent rotation loop.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.Rotation.PeriodMinutes < 1 {
		c.Rotation.PeriodMinutes = 1
	}
	if c.Liveness.OnlineWindowSeconds <= 0 {
		c.Liveness.OnlineWindowSeconds = 45
	}
	if c.Liveness.DeadWindowMinutes <= 0 {
		c.Liveness.DeadWindowMinutes = 30
	}
	if c.Liveness.SweepIntervalMinutes <= 0 {
		c.Liveness.SweepIntervalMinutes = 3
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return ErrMissingServerURL
	}
	if c.ClientID == "" {
		return ErrMissingClientID
	}
	if c.PollIntervalS < 5 {
		c.PollIntervalS = 5
	}
	if c.PollJitterS < 0 {
		c.PollJitterS = 0
	}
	if c.RequestTimeoutS <= 0 {
		c.RequestTimeoutS = 10
	}
	if c.RetryInitialMs <= 0 {
		c.RetryInitialMs = 500
	}
	if c.RetryMaxMs < c.RetryInitialMs {
		c.RetryMaxMs = c.RetryInitialMs
	}
	if c.RetryMaxAttempts < 0 {
		c.RetryMaxAttempts = 5
	}
	return nil
}

var (
	ErrMissingListen    = &Error{"listen address is required"}
	ErrMissingDBPath    = &Error{"database path is required"}
	ErrMissingServerURL = &Error{"server URL is required"}
	ErrMissingClientID  = &Error{"client ID is required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
