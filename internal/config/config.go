package config

// ServerConfig holds configuration for the control-plane server.
type ServerConfig struct {
	Addr         string // Listen address (default ":8080")
	LogLevel     string // Log level: debug, info, warn, error
	LogFormat    string // Log format: text, json
	TopologyPath string // Fleet topology YAML (empty for the built-in standalone fleet)
	Subarrays    int    // Number of subarrays hosted by the process
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Subarrays: 3,
	}
}
