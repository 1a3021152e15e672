package config

import "time"

// Executor modes.
const (
	ModePipe    = "pipe"
	ModeProcess = "process"
)

// Queue overflow policies, applied only when Queue.MaxDepth > 0.
const (
	OverflowDropNewest = "drop-newest"
	OverflowDropOldest = "drop-oldest"
)

// Config represents the complete zika configuration.
type Config struct {
	Debug    bool                     `yaml:"debug"`
	Include  []string                 `yaml:"include,omitempty"`
	Service  ServiceConfig            `yaml:"service"`
	Broker   BrokerConfig             `yaml:"broker"`
	API      APIConfig                `yaml:"api"`
	HA       *HAConfig                `yaml:"ha,omitempty"`
	Executor ExecutorConfig           `yaml:"executor"`
	Queue    QueueConfig              `yaml:"queue"`
	History  HistoryConfig            `yaml:"history"`
	Commands map[string]CommandConfig `yaml:"commands"`

	// SourceFiles lists every file that contributed to this config (absolute paths).
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// BrokerConfig defines the pub/sub connection. Topics use MQTT-style
// separators and are mapped to NATS subjects by the broker package.
type BrokerConfig struct {
	URL                  string        `yaml:"url"`
	User                 string        `yaml:"user,omitempty"`
	Password             string        `yaml:"password,omitempty"`
	ClientID             string        `yaml:"client_id,omitempty"`
	CommandTopic         string        `yaml:"command_topic"`
	AvailabilityTopic    string        `yaml:"availability_topic"`
	AvailabilityInterval time.Duration `yaml:"availability_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectWait        time.Duration `yaml:"reconnect_wait"`
}

// APIConfig defines the HTTP ops server.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Address string        `yaml:"address"`
	Port    int           `yaml:"port,omitempty"`
	TLS     TLSConfig     `yaml:"tls"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// TLSConfig enables HTTPS for the ops server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CertFile string `yaml:"cert_file,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// HAConfig enables Home Assistant discovery announcements.
type HAConfig struct {
	DeviceIdentifier string `yaml:"device_identifier"`
	DiscoveryTopic   string `yaml:"discovery_topic"`
}

// ExecutorConfig selects and tunes the action executor.
type ExecutorConfig struct {
	Mode           string        `yaml:"mode"`
	FIFOPath       string        `yaml:"fifo_path"`
	HostToolsPath  string        `yaml:"host_tools_path,omitempty"`
	Shell          string        `yaml:"shell"`
	Timeout        time.Duration `yaml:"timeout,omitempty"` // 0 = no timeout
	KillGrace      time.Duration `yaml:"kill_grace"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// QueueConfig bounds the command queue. MaxDepth 0 means unbounded.
type QueueConfig struct {
	MaxDepth int    `yaml:"max_depth"`
	Overflow string `yaml:"overflow"`
}

// HistoryConfig controls the SQLite execution log.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// CommandConfig maps an alias to a host action.
type CommandConfig struct {
	Command string        `yaml:"command"`
	HA      *HAButtonConf `yaml:"ha,omitempty"`
}

// HAButtonConf is the Home Assistant button presentation for a command.
type HAButtonConf struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "zika",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/zika.pid",
		},
		Broker: BrokerConfig{
			CommandTopic:         "zika/command",
			AvailabilityTopic:    "zika/availability",
			AvailabilityInterval: 60 * time.Second,
			ConnectTimeout:       4 * time.Second,
			ReconnectWait:        1 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Address: "127.0.0.1",
		},
		Executor: ExecutorConfig{
			Mode:           ModePipe,
			FIFOPath:       "/run/zika/zika-command.fifo",
			Shell:          "/bin/sh",
			KillGrace:      5 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		Queue: QueueConfig{
			Overflow: OverflowDropNewest,
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		Commands: make(map[string]CommandConfig),
	}
}

// ListenPort returns the configured port, falling back to 443/80.
func (a APIConfig) ListenPort() int {
	if a.Port > 0 {
		return a.Port
	}
	if a.TLS.Enabled {
		return 443
	}
	return 80
}

// LogLevel returns the effective log level; debug mode forces DEBUG.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Service.LogLevel
}
