package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgecore/agentcore/internal/llm"
)

// fakeClient is a scriptable llm.LLMProvider for gateway tests.
type fakeClient struct {
	response     llm.Message
	err          error
	chunks       []string
	gotHistory   []llm.Message
	gotTools     []llm.ToolDefinition
	toolsCalled  bool
	streamCalled bool
}

func (f *fakeClient) CallLLM(_ context.Context, messages []llm.Message) (llm.Message, error) {
	f.gotHistory = messages
	return f.response, f.err
}

func (f *fakeClient) CallLLMStream(_ context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	f.streamCalled = true
	f.gotHistory = messages
	if f.err != nil {
		return llm.Message{}, f.err
	}
	var sb strings.Builder
	for _, c := range f.chunks {
		sb.WriteString(c)
		if onChunk != nil {
			onChunk(c)
		}
	}
	return llm.Message{Role: llm.RoleAssistant, Content: sb.String()}, nil
}

func (f *fakeClient) CallLLMWithTools(_ context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	f.toolsCalled = true
	f.gotHistory = messages
	f.gotTools = tools
	return f.response, f.err
}

func (f *fakeClient) IsToolCallingEnabled() bool { return true }
func (f *fakeClient) GetName() string            { return "fake" }

func nativeGateway(fake *fakeClient) *Gateway {
	g := NewGateway(Config{Name: "primary", Family: "openai", ToolMode: "native", DefaultModel: "gpt-4o"})
	g.RegisterClient("primary", "gpt-4o", fake)
	return g
}

func fallbackGateway(fake *fakeClient) *Gateway {
	g := NewGateway(Config{Name: "local", Family: "ollama", ToolMode: "auto", DefaultModel: "llama3"})
	g.RegisterClient("local", "llama3", fake)
	return g
}

func testTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "read_file", Description: "Read a file"}}
}

func TestChatCompleteNativeUsesFunctionCalling(t *testing.T) {
	fake := &fakeClient{response: llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a"}`)},
		},
	}}
	g := nativeGateway(fake)

	msg, usage, err := g.ChatComplete(context.Background(), "primary", "gpt-4o", []llm.Message{{Role: llm.RoleUser, Content: "go"}}, testTools(), nil)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if !fake.toolsCalled {
		t.Error("native strategy must use the function-calling path")
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls = %+v", msg.ToolCalls)
	}
	if usage.Total() <= 0 {
		t.Error("usage estimate missing")
	}
}

func TestChatCompleteFallbackSanitizesHistory(t *testing.T) {
	fake := &fakeClient{response: llm.Message{
		Role:    llm.RoleAssistant,
		Content: `<tool_code>{"name":"read_file","arguments":{"path":"x"}}</tool_code>`,
	}}
	g := fallbackGateway(fake)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "go"},
		{Role: llm.RoleTool, Content: "prior output", ToolCallID: "c0", Name: "glob"},
	}
	msg, _, err := g.ChatComplete(context.Background(), "local", "llama3", history, testTools(), nil)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}

	for i, m := range fake.gotHistory {
		if m.Role == llm.RoleTool {
			t.Errorf("transmitted message %d still has role tool", i)
		}
	}
	last := fake.gotHistory[len(fake.gotHistory)-1]
	if last.Role != llm.RoleSystem || !strings.Contains(last.Content, "read_file") {
		t.Error("fallback transmit missing protocol appendix")
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "read_file" {
		t.Errorf("extracted tool calls = %+v", msg.ToolCalls)
	}
}

func TestChatCompleteUnknownProvider(t *testing.T) {
	g := NewGateway()
	_, _, err := g.ChatComplete(context.Background(), "nope", "m", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestStreamFiltersToolCodeSpans(t *testing.T) {
	fake := &fakeClient{chunks: []string{
		"Working on it. <tool_c",
		`ode>{"name":"read_file","arguments":{"path":"a"}}</tool_c`,
		"ode> Done.",
	}}
	g := fallbackGateway(fake)

	var streamed strings.Builder
	msg, _, err := g.ChatCompleteStream(context.Background(), "local", "llama3",
		[]llm.Message{{Role: llm.RoleUser, Content: "go"}}, testTools(), nil,
		func(chunk string) { streamed.WriteString(chunk) })
	if err != nil {
		t.Fatalf("ChatCompleteStream: %v", err)
	}

	if strings.Contains(streamed.String(), "tool_code") {
		t.Errorf("chunks leak protocol syntax: %q", streamed.String())
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "read_file" {
		t.Errorf("done payload missing extracted call: %+v", msg.ToolCalls)
	}
	// Concatenated chunks equal the final content modulo surrounding space.
	if strings.TrimSpace(streamed.String()) != strings.TrimSpace(msg.Content) {
		t.Errorf("chunks %q != content %q", streamed.String(), msg.Content)
	}
}

func TestStreamNativeWithToolsDeliversSingleChunk(t *testing.T) {
	fake := &fakeClient{response: llm.Message{Role: llm.RoleAssistant, Content: "plan ready"}}
	g := nativeGateway(fake)

	var chunks []string
	msg, _, err := g.ChatCompleteStream(context.Background(), "primary", "gpt-4o",
		[]llm.Message{{Role: llm.RoleUser, Content: "go"}}, testTools(), nil,
		func(chunk string) { chunks = append(chunks, chunk) })
	if err != nil {
		t.Fatalf("ChatCompleteStream: %v", err)
	}
	if fake.streamCalled {
		t.Error("native strategy with tools must not use the streaming path")
	}
	if len(chunks) != 1 || chunks[0] != "plan ready" || msg.Content != "plan ready" {
		t.Errorf("chunks = %v, content = %q", chunks, msg.Content)
	}
}

func TestNamesPreservesRegistrationOrder(t *testing.T) {
	g := NewGateway(
		Config{Name: "a", Family: "openai"},
		Config{Name: "b", Family: "anthropic"},
		Config{Name: "c", Family: "ollama"},
	)
	got := g.Names()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	doc := `providers:
  - name: primary
    family: openai
    credential_env: OPENAI_API_KEY
    tool_mode: auto
    default_model: gpt-4o
  - name: local
    family: ollama
    base_url: http://localhost:11434/v1
    default_model: llama3
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	configs, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if len(configs) != 2 || configs[0].Name != "primary" || configs[1].BaseURL != "http://localhost:11434/v1" {
		t.Errorf("configs = %+v", configs)
	}
}

func TestLoadConfigFileRejectsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  - family: openai\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for entry without a name")
	}
}
