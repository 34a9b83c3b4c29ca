package mcp

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadConfigFile reads a JSON server-configuration document of the shape
//
//	{"servers": [{"id": "...", "transport": "stdio", "command": "...", ...}]}
//
// A missing file is not an error: MCP is simply disabled. Invalid server
// entries fail the whole load so a typo never silently drops a server.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{Enabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	for _, server := range cfg.Servers {
		if server.Transport == "" {
			if server.URL != "" {
				server.Transport = TransportHTTP
			} else {
				server.Transport = TransportStdio
			}
		}
		if err := server.Validate(); err != nil {
			return nil, fmt.Errorf("mcp config %s: %w", path, err)
		}
	}
	cfg.Enabled = len(cfg.Servers) > 0
	return &cfg, nil
}
