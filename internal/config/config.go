package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			Backend: "json",
		},
		Workflow: WorkflowConfig{
			DefaultModel:       "claude-sonnet-4-20250514",
			StepTimeoutSeconds: 300,
		},
		Dispatch: DispatchConfig{
			Command: "loom-agent",
		},
		Gateway: GatewayConfig{
			Port: 18990,
			Mode: "local",
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleLevel: "info",
			ConsoleStyle: "pretty",
		},
	}
}
