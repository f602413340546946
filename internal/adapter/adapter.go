// Package adapter translates between provider wire formats and the canonical
// message/tool-call shape. Providers with native function calling pass
// through unchanged; text-protocol providers get a protocol appendix on the
// way in and tool-call extraction on the way out.
package adapter

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/message"
)

// Tool-mode strategy names. "auto" resolves per provider family.
const (
	ModeNative      = "native"
	ModeXMLFallback = "xml_fallback"
	ModeAuto        = "auto"
)

// ParsedResponse is the uniform result of parsing one assistant response.
type ParsedResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
}

// Strategy converts between canonical history and a provider's transport
// shape. Implementations are stateless and safe for concurrent use.
type Strategy interface {
	// Kind returns ModeNative or ModeXMLFallback.
	Kind() string

	// PrepareMessages returns the transport-ready history for this strategy.
	// Native providers receive the history unchanged; text-protocol
	// providers receive a sanitized copy plus a system appendix describing
	// the tool catalog and the textual tool-call protocol.
	PrepareMessages(history []llm.Message, tools []llm.ToolDefinition) []llm.Message

	// ParseResponse extracts the uniform content/tool-call pair from a raw
	// response. nativeCalls carries structured calls when the provider
	// returned them.
	ParseResponse(rawContent string, nativeCalls []llm.ToolCall) ParsedResponse
}

// ForMode resolves the strategy for a provider's tool_mode and family tag.
// With "auto", native is chosen for families with reliable function calling
// (openai, anthropic, deepseek); local/ollama-like families fall back to the
// text protocol.
func ForMode(toolMode, family string) Strategy {
	switch toolMode {
	case ModeNative:
		return Native{}
	case ModeXMLFallback:
		return XMLFallback{}
	default:
		switch strings.ToLower(family) {
		case "openai", "anthropic", "deepseek":
			return Native{}
		default:
			return XMLFallback{}
		}
	}
}

// ── Native strategy ──

// Native is the pass-through strategy for providers with structured tool
// calling.
type Native struct{}

func (Native) Kind() string { return ModeNative }

func (Native) PrepareMessages(history []llm.Message, _ []llm.ToolDefinition) []llm.Message {
	return history
}

func (Native) ParseResponse(rawContent string, nativeCalls []llm.ToolCall) ParsedResponse {
	return ParsedResponse{Content: rawContent, ToolCalls: nativeCalls}
}

// ── XML fallback strategy ──

// XMLFallback carries tool calls as tagged text for providers that cannot be
// trusted with native function calling.
type XMLFallback struct{}

func (XMLFallback) Kind() string { return ModeXMLFallback }

func (XMLFallback) PrepareMessages(history []llm.Message, tools []llm.ToolDefinition) []llm.Message {
	prepared := message.Clone(history)
	message.SanitizeForFallback(prepared)
	if appendix := buildProtocolAppendix(tools); appendix != "" {
		prepared = append(prepared, llm.Message{Role: llm.RoleSystem, Content: appendix})
	}
	return prepared
}

func (XMLFallback) ParseResponse(rawContent string, nativeCalls []llm.ToolCall) ParsedResponse {
	// A fallback provider occasionally still returns structured calls;
	// honor them rather than discarding work.
	if len(nativeCalls) > 0 {
		return ParsedResponse{Content: rawContent, ToolCalls: nativeCalls}
	}

	calls, remainder := ExtractToolCalls(rawContent)
	return ParsedResponse{Content: remainder, ToolCalls: calls}
}

// buildProtocolAppendix describes the tool catalog and the exact textual
// protocol the model must use to call a tool.
func buildProtocolAppendix(tools []llm.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tool Calling Protocol\n\n")
	sb.WriteString("You cannot call functions natively. To use a tool, reply with exactly one block of the form:\n\n")
	sb.WriteString(message.ToolCodeOpen)
	sb.WriteString(`{"name": "<tool name>", "arguments": {<JSON arguments>}}`)
	sb.WriteString(message.ToolCodeClose)
	sb.WriteString("\n\nEmit the block on its own line with no Markdown fences around it. ")
	sb.WriteString("When you have the final answer, reply with plain text and no block.\n\n")
	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		sb.WriteString(fmt.Sprintf("\n### %s\n%s\n", t.Name, t.Description))
		if len(t.Parameters) > 0 {
			sb.WriteString(fmt.Sprintf("Parameters schema: %s\n", string(t.Parameters)))
		}
	}
	return sb.String()
}

// newCallID mints an id for a tool call recovered from text, which arrives
// without one. Ids only need to pair the call with its result message.
func newCallID() string {
	return "call_" + uuid.NewString()
}
