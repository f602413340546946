package adapter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/forgecore/agentcore/internal/llm"
)

func toolDefs() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: "read_file", Description: "Read a file", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "run_shell_command", Description: "Run a command"},
	}
}

func TestForMode(t *testing.T) {
	tests := []struct {
		mode, family string
		want         string
	}{
		{"native", "ollama", ModeNative},
		{"xml_fallback", "openai", ModeXMLFallback},
		{"auto", "openai", ModeNative},
		{"auto", "anthropic", ModeNative},
		{"auto", "deepseek", ModeNative},
		{"auto", "ollama", ModeXMLFallback},
		{"auto", "llamacpp", ModeXMLFallback},
	}
	for _, tt := range tests {
		if got := ForMode(tt.mode, tt.family).Kind(); got != tt.want {
			t.Errorf("ForMode(%q, %q) = %s, want %s", tt.mode, tt.family, got, tt.want)
		}
	}
}

func TestNativePassThrough(t *testing.T) {
	history := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	prepared := Native{}.PrepareMessages(history, toolDefs())
	if len(prepared) != 1 || prepared[0].Content != "hi" {
		t.Error("native prepare must be a no-op")
	}

	calls := []llm.ToolCall{{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a"}`)}}
	parsed := Native{}.ParseResponse("working", calls)
	if parsed.Content != "working" || len(parsed.ToolCalls) != 1 {
		t.Error("native parse must wrap structured calls unchanged")
	}
}

func TestFallbackPrepareInjectsProtocolAppendix(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "go"},
		{Role: llm.RoleTool, Content: "out", ToolCallID: "c1", Name: "glob"},
	}
	prepared := XMLFallback{}.PrepareMessages(history, toolDefs())

	last := prepared[len(prepared)-1]
	if last.Role != llm.RoleSystem || !strings.Contains(last.Content, "read_file") {
		t.Errorf("missing tool-catalog appendix: %+v", last)
	}
	for i, m := range prepared {
		if m.Role == llm.RoleTool {
			t.Errorf("message %d still has role tool after prepare", i)
		}
	}
	// The original history must not be mutated.
	if history[1].Role != llm.RoleTool {
		t.Error("prepare mutated the caller's history")
	}
}

func TestExtractFromToolCodeBlock(t *testing.T) {
	raw := "Let me check.\n<tool_code>{\"name\": \"read_file\", \"arguments\": {\"path\": \"main.go\"}}</tool_code>\nDone."
	calls, remainder := ExtractToolCalls(raw)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Name != "read_file" {
		t.Errorf("name = %q", calls[0].Name)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil || args["path"] != "main.go" {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
	if strings.Contains(remainder, "tool_code") {
		t.Errorf("remainder leaks protocol syntax: %q", remainder)
	}
	if !strings.Contains(remainder, "Let me check.") {
		t.Errorf("remainder lost surrounding text: %q", remainder)
	}
}

func TestExtractBareJSONObject(t *testing.T) {
	raw := `I will call {"name": "run_shell_command", "arguments": {"command": "ls -la"}} now`
	calls, _ := ExtractToolCalls(raw)
	if len(calls) != 1 || calls[0].Name != "run_shell_command" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestExtractRegexFallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		key  string
		val  string
	}{
		{"read", `I'll use read_file("cmd/main.go") to inspect it`, "read_file", "path", "cmd/main.go"},
		{"read kwarg", `read_file(path='notes.txt')`, "read_file", "path", "notes.txt"},
		{"list", `list_directory(".")`, "list_directory", "path", "."},
		{"shell", `run_shell_command("go vet ./...")`, "run_shell_command", "command", "go vet ./..."},
		{"write triple", "write_file(\"a.txt\", \"\"\"first\nsecond\"\"\")", "write_file", "content", "first\nsecond"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, _ := ExtractToolCalls(tt.raw)
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			if calls[0].Name != tt.want {
				t.Errorf("name = %q, want %q", calls[0].Name, tt.want)
			}
			var args map[string]string
			if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
				t.Fatalf("arguments: %v", err)
			}
			if args[tt.key] != tt.val {
				t.Errorf("%s = %q, want %q", tt.key, args[tt.key], tt.val)
			}
		})
	}
}

func TestExtractNoToolCalls(t *testing.T) {
	raw := "The project looks healthy. Nothing else to do."
	calls, remainder := ExtractToolCalls(raw)
	if calls != nil {
		t.Errorf("calls = %+v, want none", calls)
	}
	if remainder != raw {
		t.Errorf("remainder = %q, want original text", remainder)
	}
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"trailing comma in object",
			`{"name": "glob", "arguments": {"pattern": "*.go",},}`,
			`{"name": "glob", "arguments": {"pattern": "*.go"}}`,
		},
		{
			"comma inside string survives",
			`{"a": "x,}", "b": 1}`,
			`{"a": "x,}", "b": 1}`,
		},
		{
			"code fence",
			"```json\n{\"name\": \"glob\"}\n```",
			`{"name": "glob"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeJSON(tt.in); got != tt.want {
				t.Errorf("SanitizeJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeJSONTripleQuoted(t *testing.T) {
	in := `{"name": "write_file", "arguments": {"path": "a.txt", "content": """line1
line2"""}}`
	cleaned := SanitizeJSON(in)
	var parsed struct {
		Arguments struct {
			Content string `json:"content"`
		} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		t.Fatalf("sanitized JSON does not parse: %v\n%s", err, cleaned)
	}
	if parsed.Arguments.Content != "line1\nline2" {
		t.Errorf("content = %q", parsed.Arguments.Content)
	}
}

func TestFallbackParseResponse(t *testing.T) {
	raw := "Checking.\n<tool_code>{\"name\": \"glob\", \"arguments\": {\"pattern\": \"*.md\"}}</tool_code>"
	parsed := XMLFallback{}.ParseResponse(raw, nil)
	if len(parsed.ToolCalls) != 1 || parsed.ToolCalls[0].Name != "glob" {
		t.Fatalf("tool calls = %+v", parsed.ToolCalls)
	}
	if strings.Contains(parsed.Content, "tool_code") {
		t.Errorf("content leaks protocol syntax: %q", parsed.Content)
	}
}

func TestToolCodeFilterAcrossChunks(t *testing.T) {
	full := "Hello <tool_code>{\"name\":\"glob\",\"arguments\":{}}</tool_code> world"
	// Split at every possible boundary pair to catch tag-splitting bugs.
	for cut := 1; cut < len(full)-1; cut++ {
		f := NewToolCodeFilter()
		got := f.Feed(full[:cut]) + f.Feed(full[cut:]) + f.Flush()
		if got != "Hello  world" {
			t.Fatalf("cut %d: visible = %q", cut, got)
		}
	}
}

func TestToolCodeFilterPlainText(t *testing.T) {
	f := NewToolCodeFilter()
	got := f.Feed("no tags ") + f.Feed("here") + f.Flush()
	if got != "no tags here" {
		t.Errorf("visible = %q", got)
	}
}

func TestToolCodeFilterUnterminatedSpanStaysHidden(t *testing.T) {
	f := NewToolCodeFilter()
	visible := f.Feed("ok <tool_code>{\"name\":") + f.Flush()
	if visible != "ok " {
		t.Errorf("visible = %q, want %q", visible, "ok ")
	}
}
