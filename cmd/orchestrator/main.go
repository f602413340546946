// Command orchestrator is the process entrypoint: it loads configuration,
// builds the provider gateway, launches the tool-server transport, wires
// roles and the delegation engine into the session orchestrator, and serves
// turns over HTTP/SSE.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/forgecore/agentcore/internal/config"
	"github.com/forgecore/agentcore/internal/delegation"
	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/prompt"
	"github.com/forgecore/agentcore/internal/provider"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/session"
	"github.com/forgecore/agentcore/internal/transport"
	"github.com/forgecore/agentcore/internal/web"
)

func main() {
	config.LoadEnv()

	fmt.Println("agentcore — multi-role agent orchestration core")

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}
	fmt.Printf("Workspace: %s\n", workspaceDir)

	// Providers: providers.yaml when present, env-driven default otherwise.
	gateway, providerConfigs := buildGateway(workspaceDir)
	fmt.Printf("Providers: %v\n", gateway.Names())

	// Role prompts: embedded defaults, overridable from <workspace>/prompts,
	// with user rules appended from <workspace>/rules.md.
	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	loader := prompt.NewPromptLoader(promptsDir, rulesPath)

	roles := buildRoles(workspaceDir, loader, providerConfigs)
	fmt.Printf("Roles: %d configured\n", len(roles))

	// Persisted state: append-only JSONL session log + trajectory JSON.
	logDir := filepath.Join(workspaceDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Cannot create log directory %q: %v", logDir, err)
	}
	recorder, err := event.NewRecorder(filepath.Join(logDir, "session.jsonl"))
	if err != nil {
		log.Fatalf("Session log: %v", err)
	}
	defer recorder.Close()
	trajectory := event.NewTrajectory(filepath.Join(logDir, "trajectory.json"))
	fmt.Printf("Logs: %s\n", logDir)

	// Tool transport: one tool-server child per process, plus any extra
	// sub-servers named by role configurations. Tool-progress notifications
	// arrive on the transport reader goroutine; they are only enqueued into
	// the session log, never dispatched back into the orchestrator.
	transports := startTransports(roles, func(method string, params map[string]any) {
		if method != "notifications/tool_progress" {
			return
		}
		output, _ := params["output"].(string)
		recorder.Record(event.Event{
			Kind:     event.KindStreaming,
			Content:  output,
			Metadata: map[string]string{"source": "tool_progress"},
		})
	})
	defer func() {
		for _, tr := range transports {
			if err := tr.Stop(); err != nil {
				log.Printf("Transport stop: %v", err)
			}
		}
	}()
	toolCount := 0
	for _, tr := range transports {
		toolCount += len(tr.ListTools())
	}
	fmt.Printf("Tools: %d exposed over %d transport(s)\n", toolCount, len(transports))

	// Sessions start as the architect in PLAN mode.
	architect := roles[role.Architect]
	store := session.NewStore(sessionTTL(), func(id string) *orchestrator.Session {
		return orchestrator.NewSession(id, role.Architect, architect.Provider, architect.Model)
	})
	defer store.Close()

	runners := make([]delegation.ToolRunner, len(transports))
	for i, tr := range transports {
		runners[i] = tr
	}

	// Each HTTP request gets a driver bound to its SSE stream; every event
	// also lands in the session log.
	driver := func(sink event.Sink) *orchestrator.Orchestrator {
		emit := event.Multi(sink, recorder.Sink())
		engine := delegation.NewEngine(gateway, runners, roles, emit)
		return orchestrator.New(orchestrator.Config{
			Roles:      roles,
			Gateway:    gateway,
			Engine:     engine,
			Runners:    runners,
			Emit:       emit,
			Trajectory: trajectory,
		})
	}

	server := web.NewServer(web.NewTurnHandler(driver, store), web.HealthInfo{
		Providers:      gateway.Names(),
		DefaultModel:   architect.Model,
		ToolCount:      toolCount,
		TransportCount: len(transports),
		SessionCount:   store.Count,
	})
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildGateway loads providers.yaml when present; otherwise a single
// OpenAI-compatible provider is configured from LLM_* env vars, plus an
// Anthropic one when ANTHROPIC_API_KEY is set.
func buildGateway(workspaceDir string) (*provider.Gateway, []provider.Config) {
	path := os.Getenv("PROVIDERS_CONFIG")
	if path == "" {
		path = filepath.Join(workspaceDir, "providers.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		configs, err := provider.LoadConfigFile(path)
		if err != nil {
			log.Fatalf("Provider config: %v", err)
		}
		return provider.NewGateway(configs...), configs
	}

	configs := []provider.Config{{
		Name:          "primary",
		Family:        envOr("LLM_FAMILY", "openai"),
		BaseURL:       os.Getenv("LLM_BASE_URL"),
		CredentialEnv: "LLM_API_KEY",
		ToolMode:      "auto",
		DefaultModel:  envOr("LLM_MODEL", "gpt-4o"),
	}}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		configs = append(configs, provider.Config{
			Name:          "anthropic",
			Family:        "anthropic",
			CredentialEnv: "ANTHROPIC_API_KEY",
			ToolMode:      "native",
			DefaultModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		})
	}
	return provider.NewGateway(configs...), configs
}

// buildRoles loads roles.yaml when present, falling back to the built-in
// architect/developer/reviewer trio on the first provider.
func buildRoles(workspaceDir string, loader *prompt.PromptLoader, providers []provider.Config) map[string]role.Role {
	path := os.Getenv("ROLES_CONFIG")
	if path == "" {
		path = filepath.Join(workspaceDir, "roles.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		roles, err := role.LoadConfigFile(path, loader)
		if err != nil {
			log.Fatalf("Role config: %v", err)
		}
		if _, ok := roles[role.Architect]; !ok {
			log.Fatalf("Role config %q must define an architect role", path)
		}
		return roles
	}

	primary := providers[0]
	return role.Defaults(primary.Name, primary.DefaultModel, loader)
}

// startTransports launches the reference tool server plus any distinct
// sub-server commands named by role configurations.
func startTransports(roles map[string]role.Role, onNotification transport.NotificationHandler) []*transport.Transport {
	commands := []string{envOr("TOOLSERVER_CMD", defaultToolserverCmd())}
	seen := map[string]bool{commands[0]: true}
	for _, r := range roles {
		for _, sub := range r.SubServers {
			if !seen[sub] {
				seen[sub] = true
				commands = append(commands, sub)
			}
		}
	}

	var transports []*transport.Transport
	for i, command := range commands {
		tr := transport.New(transport.Options{
			Name:           fmt.Sprintf("tools-%d", i),
			Command:        command,
			Env:            os.Environ(),
			OnNotification: onNotification,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := tr.Start(ctx)
		cancel()
		if err != nil {
			if i == 0 {
				log.Fatalf("Tool server: %v", err)
			}
			log.Printf("Sub-server %q failed to start: %v", command, err)
			continue
		}
		transports = append(transports, tr)
	}
	return transports
}

// defaultToolserverCmd locates the toolserver binary next to this one.
func defaultToolserverCmd() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "toolserver")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(candidate + ".exe"); err == nil {
			return candidate + ".exe"
		}
	}
	return "toolserver"
}

func sessionTTL() time.Duration {
	ttl := 30 * time.Minute
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Minute
		} else {
			log.Printf("Invalid SESSION_TTL_MINUTES=%q, using default 30m", v)
		}
	}
	return ttl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
