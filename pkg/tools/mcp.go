package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/scribadev/scriba/pkg/httpclient"
)

// defaultSSETimeout bounds how long a mount waits for an SSE-framed
// response before giving up on the call.
const defaultSSETimeout = 5 * time.Minute

// MountConfig describes one external MCP server whose tools are offered to
// the analysis model alongside the built-in set. Mounted tools are assumed
// read-only; the operator vouches for that when configuring the mount.
type MountConfig struct {
	// Name identifies the mount in logs.
	Name string

	// URL is the server endpoint for HTTP transports.
	URL string

	// Transport is "streamable-http" (default), "sse" or "stdio".
	Transport string

	// Command, Args and Env launch the server for the stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// Filter limits which of the server's tools are exposed.
	Filter []string

	// MaxRetries for HTTP requests (default 3).
	MaxRetries int

	// SSETimeout for SSE response reading (default 5m).
	SSETimeout time.Duration
}

// Mount is a lazily-connected MCP server. The connection is established on
// the first Tools call so a down server does not block startup.
type Mount struct {
	cfg MountConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	tools      []Tool
	connected  bool
	filterSet  map[string]bool

	sessionMu sync.RWMutex
	sessionID string
}

// NewMount validates the config and returns an unconnected mount.
func NewMount(cfg MountConfig) (*Mount, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp mount %q: either url or command is required", cfg.Name)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = defaultSSETimeout
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &Mount{cfg: cfg, filterSet: filterSet}, nil
}

// Name returns the mount name.
func (m *Mount) Name() string {
	return m.cfg.Name
}

// Tools returns the server's tools, connecting on first use.
func (m *Mount) Tools(ctx context.Context) ([]Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		if err := m.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcp mount %q: %w", m.cfg.Name, err)
		}
	}
	return m.tools, nil
}

// Close shuts the connection down. A closed mount reconnects on the next
// Tools call.
func (m *Mount) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.stdio != nil {
		err = m.stdio.Close()
		m.stdio = nil
	}
	m.httpClient = nil
	m.connected = false
	m.tools = nil
	return err
}

func (m *Mount) connect(ctx context.Context) error {
	if m.cfg.Command != "" || m.cfg.Transport == "stdio" {
		return m.connectStdio(ctx)
	}
	return m.connectHTTP(ctx)
}

// connectStdio launches the server as a subprocess via the mcp-go client.
func (m *Mount) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(m.cfg.Command, envSlice(m.cfg.Env), m.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "scriba", Version: "1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var tools []Tool
	for _, remote := range listResp.Tools {
		if m.filterSet != nil && !m.filterSet[remote.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			mount:    m,
			name:     remote.Name,
			desc:     remote.Description,
			schema:   schemaToMap(remote.InputSchema),
			useStdio: true,
		})
	}

	m.stdio = mcpClient
	m.tools = tools
	m.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"mount", m.cfg.Name, "command", m.cfg.Command, "tools", len(tools))
	return nil
}

// connectHTTP speaks JSON-RPC over the retrying HTTP client for the sse
// and streamable-http transports.
func (m *Mount) connectHTTP(ctx context.Context) error {
	m.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(m.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := m.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "scriba", "version": "1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize: %s", initResp.Error.Message)
	}

	listResp, err := m.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("list tools: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		if m.filterSet != nil && !m.filterSet[name] {
			continue
		}
		schema, _ := toolMap["inputSchema"].(map[string]any)
		tools = append(tools, &mcpTool{
			mount:  m,
			name:   name,
			desc:   desc,
			schema: schema,
		})
	}

	m.tools = tools
	m.connected = true

	slog.Info("Connected to MCP server (HTTP)",
		"mount", m.cfg.Name, "url", m.cfg.URL, "transport", m.cfg.Transport, "tools", len(tools))
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpc sends one JSON-RPC request over HTTP and decodes the response, which
// may arrive as plain JSON or framed as an SSE event.
func (m *Mount) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	// The streamable-http transport threads a session id through headers.
	m.sessionMu.RLock()
	sessionID := m.sessionID
	m.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := m.httpClient.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response received")
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if newSessionID := resp.Header.Get("mcp-session-id"); newSessionID != "" {
		m.sessionMu.Lock()
		m.sessionID = newSessionID
		m.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return m.readSSEResponse(resp)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &rpcResp, nil
}

// readSSEResponse reads the first complete JSON-RPC response from an SSE
// stream.
func (m *Mount) readSSEResponse(resp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var data strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			text := strings.TrimSpace(string(line))

			// A blank line ends the event.
			if text == "" {
				if data.Len() > 0 {
					var rpcResp jsonRPCResponse
					if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
						resultChan <- result{response: &rpcResp}
						return
					}
					data.Reset()
				}
				continue
			}
			if strings.HasPrefix(text, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(text, "data:")))
			}
		}

		if data.Len() > 0 {
			var rpcResp jsonRPCResponse
			if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
				resultChan <- result{response: &rpcResp}
				return
			}
		}
		resultChan <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(m.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", m.cfg.SSETimeout)
	}
}

// mcpTool adapts one remote tool to the Tool interface.
type mcpTool struct {
	mount    *Mount
	name     string
	desc     string
	schema   map[string]any
	useStdio bool
}

func (t *mcpTool) Name() string        { return t.name }
func (t *mcpTool) Description() string { return t.desc }

func (t *mcpTool) Parameters() map[string]any {
	if t.schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.schema
}

func (t *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.useStdio {
		return t.callStdio(ctx, args)
	}
	return t.callHTTP(ctx, args)
}

func (t *mcpTool) callStdio(ctx context.Context, args map[string]any) (string, error) {
	t.mount.mu.Lock()
	mcpClient := t.mount.stdio
	t.mount.mu.Unlock()

	if mcpClient == nil {
		return "", fmt.Errorf("mcp mount %q: not connected", t.mount.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.name, err)
	}

	text := joinTextContent(resp.Content)
	if resp.IsError {
		msg := text
		if msg == "" {
			msg = "remote tool reported an error"
		}
		return "", &ToolError{Tool: t.name, Msg: msg}
	}
	return text, nil
}

func (t *mcpTool) callHTTP(ctx context.Context, args map[string]any) (string, error) {
	resp, err := t.mount.rpc(ctx, "tools/call", map[string]any{
		"name":      t.name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.name, err)
	}
	if resp.Error != nil {
		return "", &ToolError{Tool: t.name, Msg: resp.Error.Message}
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", resp.Result), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			item, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := item["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	text := strings.TrimSpace(strings.Join(texts, "\n"))

	if isError, _ := resultMap["isError"].(bool); isError {
		msg := text
		if msg == "" {
			msg = "remote tool reported an error"
		}
		return "", &ToolError{Tool: t.name, Msg: msg}
	}
	return text, nil
}

func joinTextContent(content []mcp.Content) string {
	var texts []string
	for _, c := range content {
		if textContent, ok := c.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// schemaToMap converts the mcp-go schema struct into a plain JSON schema
// object via a marshal round trip.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
