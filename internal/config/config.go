package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP:      DefaultHTTPConfig,
		Verify:    DefaultVerifyConfig,
		Sync:      DefaultSyncConfig,
		Logging:   DefaultLoggingConfig,
		Discovery: DefaultDiscoveryConfig,
		DevNode:   DefaultDevNodeConfig,
	}
}

// LoadConfig reads path (optional), applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type raw Config
	r := raw(*Default())

	if err := value.Decode(&r); err != nil {
		return err
	}

	*c = Config(r)

	return nil
}

// applyEnv overrides fields from the environment. PEERSYNC_NODES replaces
// the node list and takes the form name=url,name=url.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvNodes); ok && v != "" {
		nodes, err := ParseNodes(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvNodes, err)
		}
		c.Nodes = nodes
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := lookup(EnvHTTPTimeout); ok && v != "" {
		c.HTTP.Timeout = v
	}
	if v, ok := lookup(EnvEtcd); ok && v != "" {
		c.Discovery.Endpoints = splitList(v)
	}
	return nil
}

// ParseNodes parses name=url pairs separated by commas.
func ParseNodes(s string) ([]NodeConfig, error) {
	var nodes []NodeConfig
	for _, pair := range splitList(s) {
		name, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid node %q, want name=url", pair)
		}
		nodes = append(nodes, NodeConfig{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return nodes, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Node returns the node called name.
func (c *Config) Node(name string) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeConfig{}, false
}
