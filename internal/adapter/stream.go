package adapter

import (
	"strings"

	"github.com/forgecore/agentcore/internal/message"
)

// ToolCodeFilter suppresses <tool_code>…</tool_code> spans from a chunked
// text stream so raw protocol syntax never reaches the UI. Chunks may split
// a tag at any byte boundary; the filter buffers a potential tag prefix
// across Feed calls and never reorders text.
type ToolCodeFilter struct {
	pending strings.Builder // unflushed tail that may begin a tag
	inTool  bool            // currently inside a tool_code span
}

// NewToolCodeFilter returns a filter ready for the first chunk.
func NewToolCodeFilter() *ToolCodeFilter {
	return &ToolCodeFilter{}
}

// Feed consumes one raw chunk and returns the visible text it releases.
func (f *ToolCodeFilter) Feed(chunk string) string {
	f.pending.WriteString(chunk)
	buf := f.pending.String()
	f.pending.Reset()

	var out strings.Builder
	for buf != "" {
		if f.inTool {
			idx := strings.Index(buf, message.ToolCodeClose)
			if idx < 0 {
				// Keep a possible partial close tag; drop the rest.
				f.pending.WriteString(tailOverlap(buf, message.ToolCodeClose))
				return out.String()
			}
			buf = buf[idx+len(message.ToolCodeClose):]
			f.inTool = false
			continue
		}

		idx := strings.Index(buf, message.ToolCodeOpen)
		if idx < 0 {
			// Release everything except a possible partial open tag.
			keep := tailOverlap(buf, message.ToolCodeOpen)
			out.WriteString(buf[:len(buf)-len(keep)])
			f.pending.WriteString(keep)
			return out.String()
		}
		out.WriteString(buf[:idx])
		buf = buf[idx+len(message.ToolCodeOpen):]
		f.inTool = true
	}
	return out.String()
}

// Flush releases any buffered text once the stream ends. Text inside an
// unterminated tool_code span stays suppressed.
func (f *ToolCodeFilter) Flush() string {
	buf := f.pending.String()
	f.pending.Reset()
	if f.inTool {
		return ""
	}
	return buf
}

// tailOverlap returns the longest suffix of s that is a proper prefix of
// tag — the bytes that might complete into the tag with the next chunk.
func tailOverlap(s, tag string) string {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
