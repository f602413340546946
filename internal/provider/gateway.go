// Package provider exposes a uniform chat/stream API over heterogeneous
// model providers. The gateway resolves a tool-mode strategy per call,
// routes native requests straight through and sanitizes transcripts for
// fallback providers, and reports failures upward so the orchestrator can
// decide on failover.
package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/forgecore/agentcore/internal/adapter"
	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/llm/anthropic"
	"github.com/forgecore/agentcore/internal/llm/openai"
)

// Config describes one configured provider.
type Config struct {
	Name          string `yaml:"name"`
	Family        string `yaml:"family"`         // openai | anthropic | ollama | deepseek | …
	BaseURL       string `yaml:"base_url"`       // optional
	CredentialEnv string `yaml:"credential_env"` // env var holding the API key
	ToolMode      string `yaml:"tool_mode"`      // native | xml_fallback | auto
	DefaultModel  string `yaml:"default_model"`
}

// Usage reports estimated token consumption for one call. It is always
// estimated from character counts; usage figures returned by a provider are
// not read.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Gateway is the uniform entry point for chat completion across providers.
// Clients are constructed lazily per provider/model pair so a missing
// credential surfaces as a per-call error rather than a startup failure.
type Gateway struct {
	mu      sync.Mutex
	configs map[string]Config
	order   []string
	clients map[string]llm.LLMProvider
}

// NewGateway creates a gateway over the given provider configurations.
// Registration order is preserved for failover iteration.
func NewGateway(configs ...Config) *Gateway {
	g := &Gateway{
		configs: make(map[string]Config, len(configs)),
		clients: make(map[string]llm.LLMProvider),
	}
	for _, cfg := range configs {
		if cfg.ToolMode == "" {
			cfg.ToolMode = adapter.ModeAuto
		}
		if _, dup := g.configs[cfg.Name]; dup {
			log.Printf("[Gateway] WARNING: overwriting provider config %q", cfg.Name)
		} else {
			g.order = append(g.order, cfg.Name)
		}
		g.configs[cfg.Name] = cfg
	}
	return g
}

// Names returns provider names in registration order. The orchestrator walks
// this list when selecting a failover target.
func (g *Gateway) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ConfigFor returns the configuration of a registered provider.
func (g *Gateway) ConfigFor(name string) (Config, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, ok := g.configs[name]
	return cfg, ok
}

// RegisterClient installs a pre-built client for a provider/model pair.
// Used by tests to substitute fakes without HTTP.
func (g *Gateway) RegisterClient(providerName, model string, client llm.LLMProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[clientKey(providerName, model)] = client
}

func clientKey(providerName, model string) string {
	return providerName + "|" + model
}

// client returns (building if needed) the client for a provider/model pair.
func (g *Gateway) client(providerName, model string, temperature *float32) (llm.LLMProvider, Config, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, ok := g.configs[providerName]
	if !ok {
		return nil, Config{}, fmt.Errorf("gateway: unknown provider %q", providerName)
	}
	if model == "" {
		model = cfg.DefaultModel
	}

	key := clientKey(providerName, model)
	if cli, ok := g.clients[key]; ok {
		return cli, cfg, nil
	}

	cli, err := buildClient(cfg, model, temperature)
	if err != nil {
		return nil, cfg, err
	}
	g.clients[key] = cli
	return cli, cfg, nil
}

// buildClient constructs the family-appropriate client. The credential is
// read from the configured env var at build time.
func buildClient(cfg Config, model string, temperature *float32) (llm.LLMProvider, error) {
	apiKey := ""
	if cfg.CredentialEnv != "" {
		apiKey = os.Getenv(cfg.CredentialEnv)
	}

	switch strings.ToLower(cfg.Family) {
	case "anthropic":
		c, err := anthropic.NewClient(&anthropic.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			Temperature: temperature,
			MaxRetries:  1,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: provider %q: %w", cfg.Name, err)
		}
		return c, nil

	default:
		// openai, deepseek, ollama and any other OpenAI-compatible endpoint.
		if apiKey == "" && strings.ToLower(cfg.Family) == "ollama" {
			// Local endpoints accept any token; the client requires one.
			apiKey = "ollama"
		}
		c, err := openai.NewClient(&openai.Config{
			APIKey:          apiKey,
			BaseURL:         cfg.BaseURL,
			Model:           model,
			Temperature:     temperature,
			MaxRetries:      1,
			HTTPTimeout:     300,
			ThinkingMode:    "auto",
			ToolCallMode:    "auto",
			ReasoningEffort: "medium",
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: provider %q: %w", cfg.Name, err)
		}
		return c, nil
	}
}

// ChatComplete requests the next assistant message.
//
// For native strategies the tool definitions ride the provider's function
// calling API. For fallback strategies the transcript is sanitized, the
// textual protocol appendix is injected, and tool calls are extracted from
// the response text.
func (g *Gateway) ChatComplete(
	ctx context.Context,
	providerName, model string,
	history []llm.Message,
	tools []llm.ToolDefinition,
	temperature *float32,
) (llm.Message, Usage, error) {
	cli, cfg, err := g.client(providerName, model, temperature)
	if err != nil {
		return llm.Message{}, Usage{}, err
	}
	strat := adapter.ForMode(cfg.ToolMode, cfg.Family)
	prepared := strat.PrepareMessages(history, tools)

	var raw llm.Message
	if strat.Kind() == adapter.ModeNative && len(tools) > 0 {
		raw, err = cli.CallLLMWithTools(ctx, prepared, tools)
	} else {
		raw, err = cli.CallLLM(ctx, prepared)
	}
	if err != nil {
		return llm.Message{}, Usage{}, fmt.Errorf("gateway: provider %q: %w", providerName, err)
	}

	parsed := strat.ParseResponse(raw.Content, raw.ToolCalls)
	out := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          parsed.Content,
		ReasoningContent: raw.ReasoningContent,
		ToolCalls:        parsed.ToolCalls,
	}
	return out, estimateUsage(prepared, out), nil
}

// ChatCompleteStream requests the next assistant message, delivering visible
// text incrementally through onChunk. Tool-call protocol spans are filtered
// from chunk deliveries and surface only in the returned message, so the
// concatenated chunks equal the final content apart from leading and
// trailing whitespace, which the final content drops.
//
// Native providers do not stream while tool definitions are attached (the
// caller needs the complete set of structured calls before dispatching), so
// the full text arrives as a single chunk in that case.
func (g *Gateway) ChatCompleteStream(
	ctx context.Context,
	providerName, model string,
	history []llm.Message,
	tools []llm.ToolDefinition,
	temperature *float32,
	onChunk func(string),
) (llm.Message, Usage, error) {
	cli, cfg, err := g.client(providerName, model, temperature)
	if err != nil {
		return llm.Message{}, Usage{}, err
	}
	strat := adapter.ForMode(cfg.ToolMode, cfg.Family)
	prepared := strat.PrepareMessages(history, tools)

	if strat.Kind() == adapter.ModeNative && len(tools) > 0 {
		raw, err := cli.CallLLMWithTools(ctx, prepared, tools)
		if err != nil {
			return llm.Message{}, Usage{}, fmt.Errorf("gateway: provider %q: %w", providerName, err)
		}
		if onChunk != nil && raw.Content != "" {
			onChunk(raw.Content)
		}
		out := llm.Message{
			Role:             llm.RoleAssistant,
			Content:          raw.Content,
			ReasoningContent: raw.ReasoningContent,
			ToolCalls:        raw.ToolCalls,
		}
		return out, estimateUsage(prepared, out), nil
	}

	// Fallback: stream with tool-code filtering between chunk boundaries.
	filter := adapter.NewToolCodeFilter()
	var streamErr error
	raw, err := cli.CallLLMStream(ctx, prepared, func(chunk string) {
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			return
		}
		if onChunk == nil {
			return
		}
		if visible := filter.Feed(chunk); visible != "" {
			onChunk(visible)
		}
	})
	if err != nil {
		return llm.Message{}, Usage{}, fmt.Errorf("gateway: provider %q: %w", providerName, err)
	}
	if streamErr != nil {
		return llm.Message{}, Usage{}, fmt.Errorf("gateway: provider %q: %w", providerName, streamErr)
	}
	if onChunk != nil {
		if tail := filter.Flush(); tail != "" {
			onChunk(tail)
		}
	}

	parsed := strat.ParseResponse(raw.Content, raw.ToolCalls)
	out := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          parsed.Content,
		ReasoningContent: raw.ReasoningContent,
		ToolCalls:        parsed.ToolCalls,
	}
	return out, estimateUsage(prepared, out), nil
}

// estimateUsage approximates token consumption from character counts.
// CJK Unified Ideographs average ~2 chars/token, everything else ~4.
func estimateUsage(prompt []llm.Message, completion llm.Message) Usage {
	var promptChars strings.Builder
	for _, m := range prompt {
		promptChars.WriteString(m.Content)
	}
	return Usage{
		PromptTokens:     estimateTokens(promptChars.String()),
		CompletionTokens: estimateTokens(completion.Content),
	}
}

func estimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other++
		}
	}
	return cjk/2 + other/4 + 1
}
