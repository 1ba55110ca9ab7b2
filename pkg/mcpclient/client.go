// Package mcpclient connects to configured MCP servers through the official
// SDK. The bridge transport has its own wire layer; this client exists so
// the CLI can verify a server behaves correctly against the reference
// implementation, independent of the bridge.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpbridge/mcpbridge/pkg/process"
)

type Client struct {
	*mcp.ClientSession
	cfg *ServerConfig
}

// Connect establishes a session with the configured server, spawning it for
// stdio configs or dialing it for HTTP ones.
func Connect(ctx context.Context, cfg *ServerConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var transport mcp.Transport
	if cfg.IsHTTP() {
		client := &http.Client{
			Transport: newHeaderRoundTripper(cfg.Headers, nil),
		}

		transport = &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: client,
		}
	} else {
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = process.BuildEnv(cfg.Env)
		transport = &mcp.CommandTransport{Command: cmd}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcpbridge-check",
		Version: "0.1.0",
	}, nil)

	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Name, err)
	}

	return &Client{
		ClientSession: cs,
		cfg:           cfg,
	}, nil
}

// ListTools returns every tool the server advertises. A conformance check
// wants the full surface, so nothing is filtered.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	for t, err := range c.Tools(ctx, &mcp.ListToolsParams{}) {
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", c.cfg.Name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}

// newHeaderRoundTripper injects the configured headers into every request.
func newHeaderRoundTripper(headers map[string]string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &headerRoundTripper{headers: headers, base: base}
}

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}
	return h.base.RoundTrip(clone)
}
