// Package message provides the canonical conversation-message helpers shared
// by the provider gateway and the delegation engine: conversion from foreign
// shapes, dictionary serialization, and the fallback sanitization applied
// before a transcript is sent to a provider without native tool calling.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/forgecore/agentcore/internal/llm"
)

// Tool-call text protocol markers used in fallback mode. Assistant tool calls
// are serialized as <tool_code>{"name":…,"arguments":…}</tool_code> blocks
// inside the message content.
const (
	ToolCodeOpen  = "<tool_code>"
	ToolCodeClose = "</tool_code>"
)

// FromAny converts a foreign message value into the canonical llm.Message.
// Accepted inputs: llm.Message, *llm.Message, map[string]any (dictionary
// shape), json.RawMessage, and []byte containing a JSON object.
func FromAny(v any) (llm.Message, error) {
	switch m := v.(type) {
	case llm.Message:
		return m, nil
	case *llm.Message:
		if m == nil {
			return llm.Message{}, fmt.Errorf("message: nil *llm.Message")
		}
		return *m, nil
	case map[string]any:
		data, err := json.Marshal(m)
		if err != nil {
			return llm.Message{}, fmt.Errorf("message: marshal dictionary: %w", err)
		}
		return fromJSON(data)
	case json.RawMessage:
		return fromJSON(m)
	case []byte:
		return fromJSON(m)
	default:
		return llm.Message{}, fmt.Errorf("message: unsupported input type %T", v)
	}
}

func fromJSON(data []byte) (llm.Message, error) {
	var msg llm.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return llm.Message{}, fmt.Errorf("message: parse: %w", err)
	}
	if msg.Role == "" {
		return llm.Message{}, fmt.Errorf("message: missing role")
	}
	return msg, nil
}

// ToDict serializes a canonical message into the dictionary shape used by the
// session log. Zero-valued optional fields are omitted, matching the JSON
// tags on llm.Message.
func ToDict(m llm.Message) map[string]any {
	out := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]map[string]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = map[string]any{
				"id":        tc.ID,
				"name":      tc.Name,
				"arguments": string(tc.Arguments),
			}
		}
		out["tool_calls"] = calls
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.ReasoningContent != "" {
		out["reasoning_content"] = m.ReasoningContent
	}
	return out
}

// Clone returns a deep copy of the history slice. Sanitization mutates
// messages in place, so callers that need to keep the canonical transcript
// intact clone first.
func Clone(history []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	copy(out, history)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			calls := make([]llm.ToolCall, len(out[i].ToolCalls))
			copy(calls, out[i].ToolCalls)
			for j := range calls {
				args := make(json.RawMessage, len(calls[j].Arguments))
				copy(args, calls[j].Arguments)
				calls[j].Arguments = args
			}
			out[i].ToolCalls = calls
		}
	}
	return out
}

// SanitizeForFallback rewrites the history in place so that it carries no
// structured tool fields:
//
//   - assistant messages: each structured tool call is serialized into a
//     <tool_code>{"name":…,"arguments":…}</tool_code> block appended to the
//     content, and the structured field is cleared;
//   - tool-result messages: the role is rewritten to "user", the content is
//     prefixed with "[Tool Result: <name>]", and the tool-call id and name
//     are cleared.
//
// Local models that do not honor native tool calling receive the same
// information as tagged text spans instead.
func SanitizeForFallback(history []llm.Message) {
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				continue
			}
			for _, tc := range msg.ToolCalls {
				msg.Content += "\n" + ToolCodeOpen + encodeToolCall(tc) + ToolCodeClose
			}
			msg.ToolCalls = nil
		case llm.RoleTool:
			name := msg.Name
			if name == "" {
				name = "unknown"
			}
			msg.Role = llm.RoleUser
			msg.Content = fmt.Sprintf("[Tool Result: %s]\n%s", name, msg.Content)
			msg.ToolCallID = ""
			msg.Name = ""
		}
	}
}

// encodeToolCall serializes one tool call into the wire form used between
// the tags. Arguments are embedded as raw JSON so the exact bytes the model
// produced round-trip unchanged.
func encodeToolCall(tc llm.ToolCall) string {
	args := tc.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	payload := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: tc.Name, Arguments: args}
	data, err := json.Marshal(payload)
	if err != nil {
		// Arguments were not valid JSON; fall back to a quoted string so the
		// block still parses.
		quoted, _ := json.Marshal(string(tc.Arguments))
		return fmt.Sprintf(`{"name":%q,"arguments":%s}`, tc.Name, quoted)
	}
	return string(data)
}
