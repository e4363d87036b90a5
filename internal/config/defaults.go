package config

const (
	// DefaultHost is the bind address used when none is configured.
	DefaultHost = "localhost"
	// DefaultPort is the HTTP API port used when none is configured.
	DefaultPort = 8080
	// DefaultTransport is the transport for the hub's own MCP endpoint.
	DefaultTransport = "streamable-http"
	// DefaultGroupName is the group used when a request names none.
	DefaultGroupName = "default"
)

// GetDefaultConfig returns the default configuration for mcphub.
func GetDefaultConfig() HubConfig {
	return HubConfig{
		Hub: HubSettings{
			Host:      DefaultHost,
			Port:      DefaultPort,
			Transport: DefaultTransport,
		},
	}
}

// applyDefaults fills in zero values after unmarshalling.
func applyDefaults(cfg *HubConfig) {
	if cfg.Hub.Host == "" {
		cfg.Hub.Host = DefaultHost
	}
	if cfg.Hub.Port == 0 {
		cfg.Hub.Port = DefaultPort
	}
	if cfg.Hub.Transport == "" {
		cfg.Hub.Transport = DefaultTransport
	}
	for i := range cfg.Groups {
		if cfg.Groups[i].DisplayName == "" {
			cfg.Groups[i].DisplayName = cfg.Groups[i].Name
		}
	}
}
