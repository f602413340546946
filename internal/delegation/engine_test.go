package delegation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/provider"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/transport"
)

// scriptedGateway replays canned responses. Streaming calls serve the
// developer; non-streaming calls serve the reviewer.
type scriptedGateway struct {
	developer []llm.Message
	reviewer  []string
	devCalls  int
	revCalls  int
}

func (g *scriptedGateway) ChatComplete(_ context.Context, _, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ *float32) (llm.Message, provider.Usage, error) {
	idx := g.revCalls
	g.revCalls++
	if idx >= len(g.reviewer) {
		idx = len(g.reviewer) - 1
	}
	return llm.Message{Role: llm.RoleAssistant, Content: g.reviewer[idx]}, provider.Usage{}, nil
}

func (g *scriptedGateway) ChatCompleteStream(_ context.Context, _, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ *float32, onChunk func(string)) (llm.Message, provider.Usage, error) {
	idx := g.devCalls
	g.devCalls++
	if idx >= len(g.developer) {
		idx = len(g.developer) - 1
	}
	msg := g.developer[idx]
	if onChunk != nil && msg.Content != "" {
		onChunk(msg.Content)
	}
	return msg, provider.Usage{}, nil
}

// fakeRunner is an in-memory tool server.
type fakeRunner struct {
	files map[string]string
	calls []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{files: make(map[string]string)}
}

func (r *fakeRunner) Has(name string) bool {
	switch name {
	case "read_file", "write_file", "run_shell_command":
		return true
	}
	return false
}

func (r *fakeRunner) ListTools() []transport.ToolInfo {
	return []transport.ToolInfo{
		{Name: "read_file", Description: "Read a file"},
		{Name: "write_file", Description: "Write a file"},
		{Name: "run_shell_command", Description: "Run a command"},
	}
}

func (r *fakeRunner) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	r.calls = append(r.calls, name)
	switch name {
	case "write_file":
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		r.files[path] = content
		return "Wrote " + path, nil
	case "read_file":
		path, _ := args["path"].(string)
		if content, ok := r.files[path]; ok {
			return content, nil
		}
		return "", context.Canceled // treated as error string by the engine
	case "run_shell_command":
		return "Exit Code: 0\nSTDOUT:\nall tests pass\nSTDERR:\n", nil
	}
	return "", nil
}

func testRoles() map[string]role.Role {
	return map[string]role.Role{
		role.Developer: {Name: role.Developer, Provider: "p", Model: "m", SystemPrompt: "dev"},
		role.Reviewer:  {Name: role.Reviewer, Provider: "p", Model: "m", SystemPrompt: "rev"},
	}
}

func toolCallMsg(name string, args string) llm.Message {
	return llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: name, Arguments: json.RawMessage(args)},
		},
	}
}

func TestRunDelegationApproved(t *testing.T) {
	gw := &scriptedGateway{
		developer: []llm.Message{
			toolCallMsg("run_shell_command", `{"command":"go test ./..."}`),
			{Role: llm.RoleAssistant, Content: "Done, all tests pass."},
		},
		reviewer: []string{"APPROVED — verification steps all satisfied."},
	}
	e := NewEngine(gw, []ToolRunner{newFakeRunner()}, testRoles(), event.NopSink)

	spec := NewTaskSpec("run the tests", nil, nil, []string{"tests pass"})
	result := e.RunDelegation(context.Background(), role.Developer, spec)

	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, summary = %s", result.Status, result.Summary)
	}
	if !strings.HasPrefix(result.VerificationText, "APPROVED") {
		t.Errorf("verification text = %q", result.VerificationText)
	}
	if gw.revCalls != 1 {
		t.Errorf("reviewer consulted %d times, want 1", gw.revCalls)
	}
	// Output priority: no result file, so the shell stdout wins.
	if result.Summary != "all tests pass" {
		t.Errorf("summary = %q, want shell stdout", result.Summary)
	}
}

func TestRunDelegationFeedbackThenApproved(t *testing.T) {
	gw := &scriptedGateway{
		developer: []llm.Message{
			{Role: llm.RoleAssistant, Content: "first try"},
			{Role: llm.RoleAssistant, Content: "second try, fixed"},
		},
		reviewer: []string{"Missing error handling in main.go.", "APPROVED"},
	}
	e := NewEngine(gw, []ToolRunner{newFakeRunner()}, testRoles(), event.NopSink)

	result := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("fix it", nil, nil, nil))
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, summary = %s", result.Status, result.Summary)
	}
	if gw.devCalls != 2 || gw.revCalls != 2 {
		t.Errorf("devCalls = %d revCalls = %d, want 2 and 2", gw.devCalls, gw.revCalls)
	}
}

func TestRunDelegationExhausted(t *testing.T) {
	gw := &scriptedGateway{
		developer: []llm.Message{{Role: llm.RoleAssistant, Content: "attempt"}},
		reviewer:  []string{"Still wrong."},
	}
	e := NewEngine(gw, []ToolRunner{newFakeRunner()}, testRoles(), event.NopSink)

	result := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("impossible", nil, nil, nil))
	if result.Status != StatusFailure {
		t.Fatalf("status = %s", result.Status)
	}
	if !strings.Contains(result.Summary, "Retries exhausted") {
		t.Errorf("summary = %q", result.Summary)
	}
	if gw.devCalls != DefaultMaxRetries {
		t.Errorf("developer attempts = %d, want %d", gw.devCalls, DefaultMaxRetries)
	}
}

func TestPlaceholderRejectionForcesRetry(t *testing.T) {
	runner := newFakeRunner()
	gw := &scriptedGateway{
		developer: []llm.Message{
			// Attempt 1: write a stub, read it back, declare done.
			toolCallMsg("write_file", `{"path":"index.html","content":"Hello World"}`),
			toolCallMsg("read_file", `{"path":"index.html"}`),
			{Role: llm.RoleAssistant, Content: "done"},
			// Attempts 2..n never produce real content either.
			toolCallMsg("read_file", `{"path":"index.html"}`),
			{Role: llm.RoleAssistant, Content: "done again"},
			toolCallMsg("read_file", `{"path":"index.html"}`),
			{Role: llm.RoleAssistant, Content: "done once more"},
		},
		reviewer: []string{"APPROVED"}, // must never be reached
	}
	e := NewEngine(gw, []ToolRunner{runner}, testRoles(), event.NopSink)

	result := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("write a landing page", nil, nil, nil))
	if result.Status == StatusSuccess {
		t.Fatal("placeholder content must not be reported as success")
	}
	if !strings.Contains(strings.ToLower(result.Summary), "placeholder") {
		t.Errorf("summary missing rejection marker: %q", result.Summary)
	}
	if gw.revCalls != 0 {
		t.Errorf("reviewer consulted %d times despite placeholder rejection", gw.revCalls)
	}
}

func TestDelegationQuota(t *testing.T) {
	gw := &scriptedGateway{
		developer: []llm.Message{{Role: llm.RoleAssistant, Content: "done"}},
		reviewer:  []string{"APPROVED"},
	}
	e := NewEngine(gw, []ToolRunner{newFakeRunner()}, testRoles(), event.NopSink)

	for i := 0; i < DefaultMaxPerRole; i++ {
		if r := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("task", nil, nil, nil)); r.Status != StatusSuccess {
			t.Fatalf("delegation %d unexpectedly failed: %s", i+1, r.Summary)
		}
	}

	revBefore := gw.revCalls
	fourth := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("one too many", nil, nil, nil))
	if fourth.Status != StatusFailure {
		t.Fatal("fourth delegation must fail")
	}
	if !strings.Contains(fourth.Summary, "Exceeded maximum delegations") {
		t.Errorf("summary = %q", fourth.Summary)
	}
	if gw.revCalls != revBefore {
		t.Error("quota failure must not invoke the reviewer")
	}

	// A new turn resets the quota.
	e.ResetTurn()
	if r := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("next turn", nil, nil, nil)); r.Status != StatusSuccess {
		t.Errorf("post-reset delegation failed: %s", r.Summary)
	}
}

func TestResultFileHasHighestPriority(t *testing.T) {
	runner := newFakeRunner()
	runner.files[DefaultResultFile] = "Report: implemented and verified."
	gw := &scriptedGateway{
		developer: []llm.Message{{Role: llm.RoleAssistant, Content: "see the report"}},
		reviewer:  []string{"APPROVED"},
	}
	e := NewEngine(gw, []ToolRunner{runner}, testRoles(), event.NopSink)

	result := e.RunDelegation(context.Background(), role.Developer, NewTaskSpec("work", nil, nil, nil))
	if result.Summary != "Report: implemented and verified." {
		t.Errorf("summary = %q, want result-file content", result.Summary)
	}
}

func TestSubToolsExcludeDelegationAndQuestionTools(t *testing.T) {
	e := NewEngine(&scriptedGateway{}, []ToolRunner{newFakeRunner()}, testRoles(), event.NopSink)
	defs := e.subTools(role.Role{Name: role.Developer})
	for _, d := range defs {
		if d.Name == "delegate_task" || d.Name == "ask_user" {
			t.Errorf("sub-conversation tool set leaks %s", d.Name)
		}
	}
	if len(defs) != 3 {
		t.Errorf("tool defs = %d, want 3", len(defs))
	}
}

func TestExtractStdout(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Exit Code: 0\nSTDOUT:\nhello\nSTDERR:\n", "hello"},
		{"Exit Code: 1\nSTDOUT:\n\nSTDERR:\nboom", ""},
		{"no sections", ""},
	}
	for _, tt := range tests {
		if got := extractStdout(tt.in); got != tt.want {
			t.Errorf("extractStdout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
