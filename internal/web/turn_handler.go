package web

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/session"
)

const (
	maxRequestBody  = 1 << 20 // 1MB max request body
	maxMessageRunes = 8000    // max user message length in runes
	turnTimeout     = 10 * time.Minute
)

// Driver builds a turn driver bound to a per-request event sink. The web
// layer gets a fresh orchestrator per request so its events land in this
// request's SSE stream; gateway, transports, and roles are shared behind it.
type Driver func(sink event.Sink) *orchestrator.Orchestrator

// TurnHandler drives orchestrator turns over SSE.
//
//	POST /api/turn       — message=<text>&session_id=<id>: run one turn
//	POST /api/turn/abort — session_id=<id>: abort the session's running turn
type TurnHandler struct {
	driver Driver
	store  *session.Store
}

// NewTurnHandler creates a turn handler over the driver factory and store.
func NewTurnHandler(driver Driver, store *session.Store) *TurnHandler {
	return &TurnHandler{driver: driver, store: store}
}

// HandleTurn processes one user input, streaming pipeline events back as
// SSE until the turn completes or suspends on a question. The user answers
// a suspended turn by POSTing the answer as the next message.
func (h *TurnHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	userMsg := strings.TrimSpace(r.FormValue("message"))
	if userMsg == "" {
		http.Error(w, "Empty message", http.StatusBadRequest)
		return
	}
	if len([]rune(userMsg)) > maxMessageRunes {
		http.Error(w, "Message too long", http.StatusRequestEntityTooLarge)
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}

	sess := h.store.GetOrCreate(sessionID)
	log.Printf("[Web] Turn start: session=%s mode=%s", sessionID, sess.Mode)
	startTime := time.Now()

	// The turn runs on its own goroutine and emits into a stream; this
	// goroutine drains it into SSE, so SSE writes stay single-threaded.
	// Transport notifications do not enter this stream; they go to the
	// session recorder only.
	stream := event.NewStream(128)
	orch := h.driver(stream.Emit)

	var result orchestrator.TurnResult
	turnDone := make(chan struct{})
	go func() {
		defer close(turnDone)
		defer stream.Close()
		ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
		defer cancel()
		result = orch.RunTurn(ctx, sess, userMsg)
	}()

	clientGone := false
	for e := range stream.Events() {
		if clientGone {
			continue // keep draining so the producer never blocks
		}
		if !sse.SendEvent(e) {
			clientGone = true
			sess.Abort()
		}
	}
	<-turnDone

	if clientGone {
		log.Printf("[Web] Turn dropped: session=%s client disconnected", sessionID)
		return
	}

	switch {
	case result.Suspended:
		sse.Send("suspended", sseSuspendedEvent{
			Question: result.Question.Question,
			Reason:   result.Question.Reason,
			Mode:     string(sess.Mode),
		})
	case result.Err != nil:
		sse.Send("done", sseDoneEvent{
			Solution: "The turn failed: " + result.Err.Error(),
			Mode:     string(sess.Mode),
		})
	default:
		sse.Send("done", sseDoneEvent{
			Solution: result.FinalText,
			Mode:     string(sess.Mode),
			Stats: &turnStats{
				ElapsedMs:  time.Since(startTime).Milliseconds(),
				TokensUsed: sess.TokensByModel,
			},
		})
	}
	log.Printf("[Web] Turn end: session=%s mode=%s elapsed=%v", sessionID, sess.Mode, time.Since(startTime))
}

// HandleAbort flags the session's running turn for cancellation.
func (h *TurnHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}
	sess, ok := h.store.Get(sessionID)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	sess.Abort()
	w.WriteHeader(http.StatusAccepted)
}
