// Package history prunes conversation transcripts so they fit a context
// budget without losing the messages the model needs verbatim.
package history

import (
	"fmt"

	"github.com/forgecore/agentcore/internal/llm"
)

const (
	// DefaultKeepLastN is the number of trailing non-system messages kept
	// verbatim on every prune.
	DefaultKeepLastN = 6

	// truncateThreshold is the content length above which an old tool
	// result is replaced by a head-and-tail excerpt.
	truncateThreshold = 500

	headLen = 200
	tailLen = 200
)

// Prune returns a pruned copy of history. Rules:
//
//  1. system messages are always kept, in their original positions;
//  2. the last keepLastN non-system messages are kept verbatim;
//  3. older tool-result messages whose content exceeds 500 characters are
//     replaced by a head-and-tail excerpt recording the original length;
//  4. older non-tool messages are kept intact.
//
// Messages are never reordered or coalesced, and Prune is idempotent:
// an already-truncated excerpt is short enough to pass rule 3 unchanged.
func Prune(history []llm.Message, keepLastN int) []llm.Message {
	if keepLastN <= 0 {
		keepLastN = DefaultKeepLastN
	}

	// Find the index of the first non-system message inside the verbatim
	// window: walk backwards counting non-system messages.
	verbatimFrom := len(history)
	remaining := keepLastN
	for i := len(history) - 1; i >= 0 && remaining > 0; i-- {
		if history[i].Role != llm.RoleSystem {
			remaining--
			verbatimFrom = i
		}
	}

	out := make([]llm.Message, len(history))
	copy(out, history)
	for i := range out {
		if i >= verbatimFrom || out[i].Role != llm.RoleTool {
			continue
		}
		// Rune count, not byte length: multi-byte content must not oscillate
		// between truncated and re-truncated forms across prunes.
		if len([]rune(out[i].Content)) > truncateThreshold {
			out[i].Content = truncateMiddle(out[i].Content)
		}
	}
	return out
}

// truncateMiddle keeps the head and tail of a long tool result and records
// how much was dropped. The excerpt stays below truncateThreshold so a
// second prune leaves it untouched.
func truncateMiddle(s string) string {
	runes := []rune(s)
	total := len(runes)
	head := string(runes[:headLen])
	tail := string(runes[total-tailLen:])
	return fmt.Sprintf("%s\n[... truncated, %d chars total ...]\n%s", head, total, tail)
}
