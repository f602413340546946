package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// stdioSession is the production rpcSession: a tool-server child process
// spoken to over line-delimited JSON-RPC on stdio via the mcp-go client.
type stdioSession struct {
	cli *sdk_client.Client

	stderrMu  sync.Mutex
	stderrBuf bytes.Buffer
}

// newStdioSession spawns the child process and wires stderr capture plus
// the notification callback. The handshake happens in Initialize.
func newStdioSession(opts Options) (rpcSession, error) {
	cli, err := sdk_client.NewStdioMCPClient(opts.Command, opts.Env, opts.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", opts.Command, err)
	}

	s := &stdioSession{cli: cli}

	// Keep the child's stderr for error reports; a crashing tool server
	// usually explains itself there.
	if stderr, ok := sdk_client.GetStderr(cli); ok {
		go s.drainStderr(stderr)
	}

	if opts.OnNotification != nil {
		handler := opts.OnNotification
		cli.OnNotification(func(n sdk_mcp.JSONRPCNotification) {
			handler(n.Method, n.Params.AdditionalFields)
		})
	}

	return s, nil
}

// drainStderr runs on its own goroutine, retaining a bounded tail.
func (s *stdioSession) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.stderrMu.Lock()
			s.stderrBuf.Write(buf[:n])
			// Keep only the most recent output; old noise does not help
			// diagnose a crash.
			if s.stderrBuf.Len() > 16384 {
				tail := s.stderrBuf.Bytes()[s.stderrBuf.Len()-8192:]
				var trimmed bytes.Buffer
				trimmed.Write(tail)
				s.stderrBuf = trimmed
			}
			s.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *stdioSession) Initialize(ctx context.Context) error {
	_, err := s.cli.Initialize(ctx, sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    "agentcore",
				Version: "0.3.0",
			},
		},
	})
	return err
}

func (s *stdioSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := s.cli.ListTools(ctx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(sdk_mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), result.IsError, nil
}

func (s *stdioSession) Close() error {
	return s.cli.Close()
}

func (s *stdioSession) Stderr() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return s.stderrBuf.String()
}
