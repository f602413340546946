package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/forgecore/agentcore/internal/delegation"
	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/provider"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/session"
)

// staticGateway always answers with one final text message.
type staticGateway struct {
	text string
}

func (g *staticGateway) ChatComplete(context.Context, string, string, []llm.Message, []llm.ToolDefinition, *float32) (llm.Message, provider.Usage, error) {
	return llm.Message{Role: llm.RoleAssistant, Content: g.text}, provider.Usage{}, nil
}

func (g *staticGateway) ChatCompleteStream(_ context.Context, _, _ string, _ []llm.Message, _ []llm.ToolDefinition, _ *float32, onChunk func(string)) (llm.Message, provider.Usage, error) {
	if onChunk != nil {
		onChunk(g.text)
	}
	return llm.Message{Role: llm.RoleAssistant, Content: g.text}, provider.Usage{}, nil
}

func (g *staticGateway) Names() []string { return []string{"primary"} }

type noopEngine struct{}

func (noopEngine) RunDelegation(context.Context, string, delegation.TaskSpec) delegation.TaskResult {
	return delegation.TaskResult{Status: delegation.StatusSuccess, Summary: "ok"}
}
func (noopEngine) ResetTurn() {}

func testServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	roles := map[string]role.Role{
		role.Architect: {Name: role.Architect, Provider: "primary", Model: "m", SystemPrompt: "sys"},
	}
	store := session.NewStore(time.Minute, func(id string) *orchestrator.Session {
		return orchestrator.NewSession(id, role.Architect, "primary", "m")
	})
	t.Cleanup(store.Close)

	driver := func(sink event.Sink) *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Config{
			Roles:   roles,
			Gateway: &staticGateway{text: "final answer"},
			Engine:  noopEngine{},
			Emit:    sink,
		})
	}
	return NewServer(NewTurnHandler(driver, store), HealthInfo{
		Providers:    []string{"primary"},
		DefaultModel: "m",
		SessionCount: store.Count,
	}), store
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("health response is not JSON: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestTurnEndpointStreamsDone(t *testing.T) {
	srv, _ := testServer(t)
	form := url.Values{"message": {"hello"}, "session_id": {"tab1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: done") {
		t.Errorf("missing done event: %q", body)
	}
	if !strings.Contains(body, "final answer") {
		t.Errorf("missing final text: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestTurnEndpointValidation(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"missing message", url.Values{"session_id": {"s"}}, http.StatusBadRequest},
		{"missing session", url.Values{"message": {"hi"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/turn", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
}

func TestAbortEndpoint(t *testing.T) {
	srv, store := testServer(t)
	store.GetOrCreate("tab1")

	form := url.Values{"session_id": {"tab1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/turn/abort", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}

	sess, _ := store.Get("tab1")
	if !sess.Aborted() {
		t.Error("abort flag not set")
	}

	// Unknown sessions are a 404.
	form = url.Values{"session_id": {"nope"}}
	req = httptest.NewRequest(http.MethodPost, "/api/turn/abort", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
