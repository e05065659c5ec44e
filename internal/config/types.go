package config

// Config is the root configuration for loom.
type Config struct {
	Registry RegistryConfig `yaml:"registry,omitempty"`
	Workflow WorkflowConfig `yaml:"workflow,omitempty"`
	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// RegistryConfig selects and tunes the defined-agent registry backend.
type RegistryConfig struct {
	Backend string `yaml:"backend,omitempty"` // "json" | "sqlite"
}

// WorkflowConfig sets workflow execution defaults.
type WorkflowConfig struct {
	DefaultModel       string `yaml:"defaultModel,omitempty"`
	StepTimeoutSeconds int    `yaml:"stepTimeoutSeconds,omitempty"`
}

// DispatchConfig configures the external agent runner command.
type DispatchConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Mode           string           `yaml:"mode,omitempty"` // "local" | "remote"
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleLevel string `yaml:"consoleLevel,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
