// Package transport launches and supervises a tool-server child process,
// speaking JSON-RPC 2.0 over its stdio. One Transport owns one child; calls
// are serialized per child and failure of the process fails pending calls
// with the captured stderr.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ToolInfo captures the metadata of a single tool exposed by the server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// NotificationHandler receives server-initiated notifications (no id), e.g.
// notifications/tool_progress. It is invoked on the background reader
// goroutine and must only enqueue events, never call back into the
// orchestrator.
type NotificationHandler func(method string, params map[string]any)

// Options configures a Transport.
type Options struct {
	Name           string // label used in errors and logs
	Command        string // tool-server executable
	Args           []string
	Env            []string // extra KEY=VALUE entries for the child
	OnNotification NotificationHandler
}

// rpcSession is the JSON-RPC session underneath a Transport. The production
// implementation wraps the mcp-go stdio client; tests substitute fakes.
type rpcSession interface {
	// Initialize performs the initialize handshake followed by the
	// initialized notification, blocking until the server acknowledges.
	Initialize(ctx context.Context) error

	// ListTools returns the server's tool catalog.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes one tool. isError reports a tool-level failure (the
	// tool ran and said so); err reports a transport-level failure.
	CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error)

	// Close terminates the child process. Idempotent.
	Close() error

	// Stderr returns the child's captured stderr so far.
	Stderr() string
}

// Transport supervises one tool-server child process.
//
// The underlying session allocates monotonic request ids and pairs each
// response to its waiting caller; the Transport adds a mutex so one child
// never sees interleaved calls, plus fail-fast semantics once the child is
// gone. A stopped Transport cannot be restarted in place.
type Transport struct {
	opts Options

	mu      sync.Mutex
	session rpcSession
	tools   map[string]ToolInfo
	order   []string
	started bool
	dead    bool

	// newSession builds the rpc session on Start. Swappable in tests.
	newSession func(Options) (rpcSession, error)
}

// New creates an unstarted Transport for the given child command.
func New(opts Options) *Transport {
	return &Transport{
		opts:       opts,
		tools:      make(map[string]ToolInfo),
		newSession: newStdioSession,
	}
}

// Start launches the child and completes the initialize handshake, then
// caches the tool catalog.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return fmt.Errorf("transport %q: transport closed", t.opts.Name)
	}
	if t.started {
		return fmt.Errorf("transport %q: already started", t.opts.Name)
	}

	session, err := t.newSession(t.opts)
	if err != nil {
		return fmt.Errorf("transport %q: start child: %w", t.opts.Name, err)
	}
	if err := session.Initialize(ctx); err != nil {
		_ = session.Close()
		return fmt.Errorf("transport %q: initialize: %w", t.opts.Name, err)
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("transport %q: list tools: %w", t.opts.Name, err)
	}
	for _, info := range tools {
		t.tools[info.Name] = info
		t.order = append(t.order, info.Name)
	}

	t.session = session
	t.started = true
	log.Printf("[Transport] %s: started, %d tool(s)", t.opts.Name, len(tools))
	return nil
}

// ListTools returns the cached tool catalog in server order.
func (t *Transport) ListTools() []ToolInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolInfo, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.tools[name])
	}
	return out
}

// Has reports whether the server exposes a tool with this name.
func (t *Transport) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tools[name]
	return ok
}

// CallTool invokes the named tool and returns its text output. Tool-level
// failures come back as an error the model can react to; transport-level
// failures mark the Transport dead so subsequent calls fail fast.
func (t *Transport) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return "", fmt.Errorf("transport %q: transport closed", t.opts.Name)
	}
	if !t.started {
		return "", fmt.Errorf("transport %q: not started", t.opts.Name)
	}

	text, isError, err := t.session.CallTool(ctx, name, args)
	if err != nil {
		// Child broken or stream unusable: fail this call with whatever the
		// child wrote to stderr, and refuse further calls.
		t.dead = true
		_ = t.session.Close()
		stderr := strings.TrimSpace(t.session.Stderr())
		if stderr != "" {
			return "", fmt.Errorf("transport %q: call %q: %w (stderr: %s)", t.opts.Name, name, err, stderr)
		}
		return "", fmt.Errorf("transport %q: call %q: %w", t.opts.Name, name, err)
	}
	if isError {
		return "", fmt.Errorf("tool %q failed: %s", name, text)
	}
	return text, nil
}

// Stop signals the child to terminate. Idempotent; a stopped Transport
// cannot be restarted.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dead {
		return nil
	}
	t.dead = true
	if t.session == nil {
		return nil
	}
	err := t.session.Close()
	t.session = nil
	if err != nil {
		return fmt.Errorf("transport %q: stop: %w", t.opts.Name, err)
	}
	return nil
}
