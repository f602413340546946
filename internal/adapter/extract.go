package adapter

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/message"
)

// textToolCall is the wire shape carried between tool_code tags.
type textToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractToolCalls recovers tool calls from a text-protocol response.
// Extraction rules, first match wins:
//
//  1. <tool_code>…</tool_code> blocks: the tightest {…} span inside each
//     block is parsed;
//  2. otherwise, the first JSON object containing both a "name" and an
//     "arguments" key anywhere in the text;
//  3. otherwise, name-specific regex fallbacks for the canonical toolset.
//
// The returned remainder is the visible text with extracted spans removed.
func ExtractToolCalls(raw string) ([]llm.ToolCall, string) {
	if calls, remainder, ok := extractFromToolCodeBlocks(raw); ok {
		return calls, remainder
	}
	if call, remainder, ok := extractFirstJSONObject(raw); ok {
		return []llm.ToolCall{call}, remainder
	}
	if call, remainder, ok := extractByRegex(raw); ok {
		return []llm.ToolCall{call}, remainder
	}
	return nil, raw
}

// ── rule 1: tagged blocks ──

func extractFromToolCodeBlocks(raw string) ([]llm.ToolCall, string, bool) {
	var calls []llm.ToolCall
	var visible strings.Builder
	rest := raw
	found := false

	for {
		start := strings.Index(rest, message.ToolCodeOpen)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], message.ToolCodeClose)
		if end < 0 {
			// Unterminated block: drop everything from the open tag so raw
			// protocol syntax never reaches the user.
			rest = rest[:start]
			break
		}
		end += start

		inner := rest[start+len(message.ToolCodeOpen) : end]
		visible.WriteString(rest[:start])
		rest = rest[end+len(message.ToolCodeClose):]

		body := tightestObject(inner)
		if body == "" {
			continue
		}
		if tc, ok := parseTextToolCall(body); ok {
			calls = append(calls, tc)
			found = true
		} else if rc, _, ok := extractByRegex(inner); ok {
			// The block did not parse as JSON; the regex fallbacks run on
			// the original block text.
			calls = append(calls, rc)
			found = true
		}
	}

	if !found {
		return nil, raw, false
	}
	visible.WriteString(rest)
	return calls, strings.TrimSpace(visible.String()), true
}

// tightestObject returns the first complete {…} span: from the first '{'
// to its balanced closing brace.
func tightestObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	end := balancedObjectEnd(s, start)
	if end < 0 {
		return ""
	}
	return s[start : end+1]
}

// balancedObjectEnd returns the index of the brace closing the object that
// opens at start, skipping braces inside string literals. Returns -1 when
// the object never closes.
func balancedObjectEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ── rule 2: bare JSON object ──

func extractFirstJSONObject(raw string) (llm.ToolCall, string, bool) {
	for offset := 0; offset < len(raw); {
		start := strings.IndexByte(raw[offset:], '{')
		if start < 0 {
			break
		}
		start += offset
		end := balancedObjectEnd(raw, start)
		if end < 0 {
			break
		}
		body := raw[start : end+1]
		if strings.Contains(body, `"name"`) && strings.Contains(body, `"arguments"`) {
			if tc, ok := parseTextToolCall(body); ok {
				remainder := strings.TrimSpace(raw[:start] + raw[end+1:])
				return tc, remainder, true
			}
		}
		offset = start + 1
	}
	return llm.ToolCall{}, "", false
}

// parseTextToolCall sanitizes and parses one candidate object.
func parseTextToolCall(body string) (llm.ToolCall, bool) {
	var parsed textToolCall
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		cleaned := SanitizeJSON(body)
		if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
			return llm.ToolCall{}, false
		}
	}
	if parsed.Name == "" {
		return llm.ToolCall{}, false
	}
	args := parsed.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return llm.ToolCall{ID: newCallID(), Name: parsed.Name, Arguments: args}, true
}

// ── rule 3: regex fallbacks ──

// Fallback patterns for the canonical toolset. Models occasionally emit
// pseudo-code call syntax instead of the JSON protocol; these recover the
// common cases rather than discarding the round.
var (
	writeFileTripleRe = regexp.MustCompile(`(?is)write_file\s*\(\s*(?:path\s*=\s*)?["']([^"']+)["']\s*,\s*(?:content\s*=\s*)?(?:"""|''')(.*?)(?:"""|''')`)
	writeFileRe       = regexp.MustCompile(`(?is)write_file\s*\(\s*(?:path\s*=\s*)?["']([^"']+)["']\s*,\s*(?:content\s*=\s*)?["'](.*?)["']\s*\)`)
	readFileRe        = regexp.MustCompile(`(?i)read_file\s*\(\s*(?:path\s*=\s*)?["']([^"']+)["']\s*\)`)
	listDirectoryRe   = regexp.MustCompile(`(?i)list_directory\s*\(\s*(?:path\s*=\s*)?["']([^"']+)["']\s*\)`)
	globRe            = regexp.MustCompile(`(?i)\bglob\s*\(\s*(?:pattern\s*=\s*)?["']([^"']+)["']\s*\)`)
	searchContentRe   = regexp.MustCompile(`(?i)search_file_content\s*\(\s*(?:pattern\s*=\s*)?["']([^"']+)["']`)
	shellCommandRe    = regexp.MustCompile(`(?i)run_shell_command\s*\(\s*(?:command\s*=\s*)?["'](.+?)["']\s*[,)]`)
)

func extractByRegex(raw string) (llm.ToolCall, string, bool) {
	type fallback struct {
		re   *regexp.Regexp
		name string
		args func(m []string) map[string]string
	}
	fallbacks := []fallback{
		{writeFileTripleRe, "write_file", func(m []string) map[string]string {
			return map[string]string{"path": m[1], "content": m[2]}
		}},
		{writeFileRe, "write_file", func(m []string) map[string]string {
			return map[string]string{"path": m[1], "content": m[2]}
		}},
		{readFileRe, "read_file", func(m []string) map[string]string {
			return map[string]string{"path": m[1]}
		}},
		{listDirectoryRe, "list_directory", func(m []string) map[string]string {
			return map[string]string{"path": m[1]}
		}},
		{globRe, "glob", func(m []string) map[string]string {
			return map[string]string{"pattern": m[1]}
		}},
		{searchContentRe, "search_file_content", func(m []string) map[string]string {
			return map[string]string{"pattern": m[1]}
		}},
		{shellCommandRe, "run_shell_command", func(m []string) map[string]string {
			return map[string]string{"command": m[1]}
		}},
	}

	for _, fb := range fallbacks {
		loc := fb.re.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		m := fb.re.FindStringSubmatch(raw)
		args, err := json.Marshal(fb.args(m))
		if err != nil {
			continue
		}
		remainder := strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
		return llm.ToolCall{ID: newCallID(), Name: fb.name, Arguments: args}, remainder, true
	}
	return llm.ToolCall{}, "", false
}

// ── sanitization ──

// SanitizeJSON repairs the JSON damage models most often inflict on the
// tool-call protocol: Markdown code fences around the object, Python-style
// triple-quoted strings, and trailing commas inside objects/arrays.
func SanitizeJSON(s string) string {
	s = stripCodeFences(s)
	s = convertTripleQuoted(s)
	s = stripTrailingCommas(s)
	return strings.TrimSpace(s)
}

// stripCodeFences removes a wrapping ```…``` fence (with or without a
// language tag) when the whole value is fenced.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		// Drop a language tag on the fence line (```json).
		first := strings.TrimSpace(trimmed[:nl])
		if first == "" || !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[nl+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// convertTripleQuoted rewrites """…""" and '''…''' literals into properly
// escaped JSON strings.
func convertTripleQuoted(s string) string {
	for _, delim := range []string{`"""`, `'''`} {
		for {
			start := strings.Index(s, delim)
			if start < 0 {
				break
			}
			end := strings.Index(s[start+len(delim):], delim)
			if end < 0 {
				break
			}
			end += start + len(delim)
			inner := s[start+len(delim) : end]
			quoted, err := json.Marshal(inner)
			if err != nil {
				break
			}
			s = s[:start] + string(quoted) + s[end+len(delim):]
		}
	}
	return s
}

// stripTrailingCommas drops commas that directly precede a closing brace or
// bracket. String literals are skipped so embedded ",}" sequences survive.
func stripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			sb.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
