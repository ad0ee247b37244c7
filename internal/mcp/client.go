package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voicegate-lab/internal/intent"
	"github.com/voicegate-lab/internal/logging"
)

// Client connects the gateway to an external MCP tool server over websocket
// and exposes its tools through the intent tool registry, so a voice
// function call can land on an MCP tool the same way it lands on a local
// handler.
type Client struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

func NewClient(name, version string) *Client {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &Client{client: sdk.NewClient(impl, nil)}
}

// Connect dials the MCP server websocket endpoint and opens a session.
// http(s) schemes are rewritten to ws(s).
func (c *Client) Connect(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("mcp: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("mcp: dial %s: %w", u.String(), err)
	}
	sess, err := c.client.Connect(ctx, newWebSocketTransport(conn), nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mcp: connect: %w", err)
	}
	c.session = sess
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(context.Background(), nil)
			}
		}
	}()
	logging.Infow("mcp: connected", "url", u.String())
	return nil
}

// RegisterTools lists the server's tools and registers a dispatcher for
// each in reg. Tool output is flattened to text for synthesis.
func (c *Client) RegisterTools(ctx context.Context, reg *intent.ToolRegistry) error {
	if c.session == nil {
		return fmt.Errorf("mcp: not connected")
	}
	res, err := c.session.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("mcp: list tools: %w", err)
	}
	for _, tool := range res.Tools {
		name := tool.Name
		reg.Register(name, func(ctx context.Context, args json.RawMessage) (intent.ToolResult, error) {
			return c.call(ctx, name, args)
		})
		logging.Debugw("mcp: tool registered", "name", name)
	}
	logging.Infow("mcp: tools registered", "count", len(res.Tools))
	return nil
}

func (c *Client) call(ctx context.Context, name string, args json.RawMessage) (intent.ToolResult, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return intent.ToolResult{}, fmt.Errorf("mcp: bad arguments for %s: %w", name, err)
		}
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return intent.ToolResult{}, fmt.Errorf("mcp: call %s: %w", name, err)
	}
	text := flattenContent(res.Content)
	if res.IsError {
		return intent.ToolResult{Action: intent.ActionError, Payload: text}, nil
	}
	return intent.ToolResult{Action: intent.ActionRespond, Payload: text}, nil
}

func flattenContent(content []sdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*sdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, " ")
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

type wsTransport struct{ conn *websocket.Conn }

func newWebSocketTransport(conn *websocket.Conn) sdk.Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Connect(ctx context.Context) (sdk.Connection, error) {
	return &wsConnection{conn: t.conn}, nil
}

type wsConnection struct{ conn *websocket.Conn }

func (w *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
		defer w.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (w *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConnection) Close() error      { return w.conn.Close() }
func (w *wsConnection) SessionID() string { return "" }
