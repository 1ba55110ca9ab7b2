package mcpclient

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ServerConfig describes one MCP server the bridge can talk to: either a
// command to spawn (stdio) or an HTTP endpoint.
type ServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// RetryMethods overrides the bridge's default set of methods eligible
	// for retry-on-echo.
	RetryMethods []string `json:"retryMethods,omitempty"`
	// ReadyKeywords overrides the default readiness phrases scanned for in
	// the server's startup output.
	ReadyKeywords []string `json:"readyKeywords,omitempty"`
}

func (c *ServerConfig) IsHTTP() bool { return c.URL != "" }

// Validate checks the config names exactly one transport.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server config missing name")
	}
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("server %q: either command or url is required", c.Name)
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("server %q: command and url are mutually exclusive", c.Name)
	}
	return nil
}

// File is the on-disk YAML config listing the known servers.
type File struct {
	Servers []*ServerConfig `json:"servers"`
}

// LoadFile reads and validates a YAML server config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for _, srv := range f.Servers {
		if err := srv.Validate(); err != nil {
			return nil, err
		}
		if seen[srv.Name] {
			return nil, fmt.Errorf("duplicate server name %q", srv.Name)
		}
		seen[srv.Name] = true
	}

	return &f, nil
}

// Get returns the named server config.
func (f *File) Get(name string) (*ServerConfig, bool) {
	for _, srv := range f.Servers {
		if srv.Name == name {
			return srv, true
		}
	}
	return nil, false
}
