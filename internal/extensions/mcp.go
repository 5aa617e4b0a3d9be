package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/pigforge/gopig/internal/tools"
)

// ServerManifest declares one external MCP tool server, loaded from
// .agents/extensions/<name>.json.
type ServerManifest struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPLoader connects manifest-declared servers over stdio and registers
// their tools into the shared registry.
type MCPLoader struct {
	api     *API
	clients []*mcpclient.Client
	timeout time.Duration
}

func NewMCPLoader(api *API) *MCPLoader {
	return &MCPLoader{api: api, timeout: 60 * time.Second}
}

// LoadDir reads every *.json manifest under dir in lexicographic order and
// connects each server. A failing manifest is logged and skipped.
func (l *MCPLoader) LoadDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cannot read extensions dir", "dir", dir, "error", err)
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		manifest, err := readManifest(path)
		if err != nil {
			slog.Warn("invalid extension manifest, skipping", "path", path, "error", err)
			continue
		}
		if err := l.connect(ctx, manifest); err != nil {
			slog.Warn("extension server failed, skipping", "server", manifest.Name, "error", err)
			continue
		}
		slog.Info("extension server connected", "server", manifest.Name)
	}
}

func readManifest(path string) (*ServerManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m ServerManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" || m.Command == "" {
		return nil, fmt.Errorf("manifest requires name and command")
	}
	return &m, nil
}

func (l *MCPLoader) connect(ctx context.Context, m *ServerManifest) error {
	env := make([]string, 0, len(m.Env))
	for k, v := range m.Env {
		env = append(env, k+"="+v)
	}

	client, err := mcpclient.NewStdioMCPClient(m.Command, env, m.Args...)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "gopig", Version: "1.0.0"}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	for _, mcpTool := range toolsResult.Tools {
		d := l.bridgeDescriptor(client, m.Name, mcpTool)
		if err := l.api.RegisterTool(d); err != nil {
			slog.Warn("cannot register extension tool", "server", m.Name, "tool", mcpTool.Name, "error", err)
		}
	}

	l.clients = append(l.clients, client)
	return nil
}

// bridgeDescriptor wraps a remote MCP tool as a registry descriptor under
// the ext__<server>__<tool> namespace.
func (l *MCPLoader) bridgeDescriptor(client *mcpclient.Client, server string, t mcpgo.Tool) tools.Descriptor {
	remoteName := t.Name
	return tools.Descriptor{
		Name:        fmt.Sprintf("ext__%s__%s", server, remoteName),
		Description: t.Description,
		Params:      schemaParams(t.InputSchema),
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, l.timeout)
			defer cancel()

			req := mcpgo.CallToolRequest{}
			req.Params.Name = remoteName
			req.Params.Arguments = args

			resp, err := client.CallTool(callCtx, req)
			if err != nil {
				return nil, fmt.Errorf("call %s on %s: %w", remoteName, server, err)
			}

			text := collectText(resp)
			if resp.IsError {
				return tools.ErrorResult(text), nil
			}
			return tools.SilentResult(text), nil
		},
	}
}

func collectText(resp *mcpgo.CallToolResult) string {
	var parts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "(no text content)"
	}
	return strings.Join(parts, "\n")
}

// schemaParams flattens a remote JSON schema into parameter descriptors.
func schemaParams(schema mcpgo.ToolInputSchema) []tools.Param {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.Param, 0, len(names))
	for _, name := range names {
		p := tools.Param{Name: name, Type: "string", Required: required[name]}
		if prop, ok := schema.Properties[name].(map[string]interface{}); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = t
			}
			if desc, ok := prop["description"].(string); ok {
				p.Description = desc
			}
		}
		params = append(params, p)
	}
	return params
}

// Close shuts down all connected servers.
func (l *MCPLoader) Close() {
	for _, c := range l.clients {
		_ = c.Close()
	}
	l.clients = nil
}
