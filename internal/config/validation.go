package config

import (
	"fmt"
	"strings"
)

// Validate checks structural consistency of the configuration.
// Configuration errors are fatal at startup.
func Validate(cfg *HubConfig) error {
	serverNames := make(map[string]struct{}, len(cfg.Servers))

	for i, srv := range cfg.Servers {
		if strings.TrimSpace(srv.Name) == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if _, exists := serverNames[srv.Name]; exists {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, srv.Name)
		}
		serverNames[srv.Name] = struct{}{}

		switch srv.Transport {
		case TransportStdio:
			if strings.TrimSpace(srv.Command) == "" {
				return fmt.Errorf("servers[%d] (%s): stdio transport requires a command", i, srv.Name)
			}
		case TransportSSE, TransportStreamableHTTP:
			if strings.TrimSpace(srv.URL) == "" {
				return fmt.Errorf("servers[%d] (%s): %s transport requires a url", i, srv.Name, srv.Transport)
			}
		case "":
			return fmt.Errorf("servers[%d] (%s): transport is required", i, srv.Name)
		default:
			return fmt.Errorf("servers[%d] (%s): unknown transport %q", i, srv.Name, srv.Transport)
		}
	}

	groupNames := make(map[string]struct{}, len(cfg.Groups))
	for i, grp := range cfg.Groups {
		if strings.TrimSpace(grp.Name) == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		if _, exists := groupNames[grp.Name]; exists {
			return fmt.Errorf("groups[%d]: duplicate group name %q", i, grp.Name)
		}
		groupNames[grp.Name] = struct{}{}

		// Cross-reference: a group's servers must be configured servers.
		for _, srvName := range grp.Servers {
			if _, exists := serverNames[srvName]; !exists {
				return fmt.Errorf("groups[%d] (%s): references unknown server %q", i, grp.Name, srvName)
			}
		}
	}

	return nil
}
