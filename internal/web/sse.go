package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/forgecore/agentcore/internal/event"
)

// ── SSE Writer ──

// sseWriter wraps an http.ResponseWriter with SSE event writing and client
// disconnect detection.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

// newSSEWriter prepares SSE headers and returns a writer.
// Returns nil if streaming is not supported.
func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher, ctx: r.Context()}
}

// Send writes one SSE event. Returns false if the client has disconnected.
func (s *sseWriter) Send(eventName string, data any) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] JSON marshal error: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventName, string(jsonBytes)); err != nil {
		log.Printf("[SSE] Write error (client disconnected?): %v", err)
		return false
	}
	s.flusher.Flush()
	return true
}

// SendEvent forwards one pipeline event; the SSE event name is the kind.
func (s *sseWriter) SendEvent(e event.Event) bool {
	return s.Send(string(e.Kind), e)
}

// ── SSE terminal payloads ──

// sseDoneEvent closes a turn that produced a final answer.
type sseDoneEvent struct {
	Solution string     `json:"solution"`
	Mode     string     `json:"mode"`
	Stats    *turnStats `json:"stats,omitempty"`
}

// sseSuspendedEvent closes a turn waiting on a user answer.
type sseSuspendedEvent struct {
	Question string `json:"question"`
	Reason   string `json:"reason"`
	Mode     string `json:"mode"`
}

// turnStats holds execution statistics returned in the done event.
type turnStats struct {
	ElapsedMs  int64          `json:"elapsed_ms"`
	TokensUsed map[string]int `json:"tokens_used,omitempty"`
}
