// Package orchestrator owns the conversation turn: the PLAN/EXECUTE/REVIEW
// mode state machine, the per-phase tool filter, question gating, and the
// dispatch of tool calls to transports and the delegation engine.
package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/forgecore/agentcore/internal/llm"
)

// Mode is the workflow phase gating tool availability.
type Mode string

const (
	ModePlan    Mode = "PLAN"
	ModeExecute Mode = "EXECUTE"

	// ModeReview is defined with its own tool filter but no code path
	// transitions into it yet; it is reserved for the engine's post-review
	// step.
	ModeReview Mode = "REVIEW"
)

// PendingQuestion remembers a turn suspended on ask_user.
type PendingQuestion struct {
	ToolCallID string
	Reason     string
	Question   string
}

// Session is the state of one conversation, owned by the turn driver. All
// counters and flags live here; there is no module-level mutable state.
// A Session is not safe for concurrent turns; the store serializes access.
type Session struct {
	ID             string
	Mode           Mode
	ActiveRole     string
	ActiveProvider string
	ActiveModel    string

	// History holds user/assistant/tool messages plus injected system
	// correctives. Role prompts and mode banners are attached per round at
	// transmit time, never stored.
	History []llm.Message

	TokensByModel       map[string]int
	QuestionCount       int // plan_approval questions asked this turn
	Pending             *PendingQuestion
	PendingTextQuestion bool // a PLAN-mode answer phrased the question in text
	AdminGranted        bool
	TurnMemory          []string // delegation summaries recorded this turn

	// turnMu serializes turns: exactly one user turn is active per session.
	turnMu sync.Mutex

	abortOnce sync.Once
	abortCh   chan struct{}
	aborted   atomic.Bool
}

// LockTurn claims the session for one turn; UnlockTurn releases it.
func (s *Session) LockTurn()   { s.turnMu.Lock() }
func (s *Session) UnlockTurn() { s.turnMu.Unlock() }

// NewSession creates a session starting in PLAN mode under the given role.
func NewSession(id, activeRole, providerName, model string) *Session {
	return &Session{
		ID:             id,
		Mode:           ModePlan,
		ActiveRole:     activeRole,
		ActiveProvider: providerName,
		ActiveModel:    model,
		TokensByModel:  make(map[string]int),
		abortCh:        make(chan struct{}),
	}
}

// Abort requests cancellation of the current turn. Checked between reasoning
// rounds, streaming chunks, tool dispatches, and delegation sub-iterations;
// an in-flight tool call is not preempted, its result is discarded.
func (s *Session) Abort() {
	s.aborted.Store(true)
	s.abortOnce.Do(func() { close(s.abortCh) })
}

// Aborted reports whether Abort was called since the last reset.
func (s *Session) Aborted() bool {
	return s.aborted.Load()
}

// AbortC returns a channel closed on Abort, for wiring into contexts.
func (s *Session) AbortC() <-chan struct{} {
	return s.abortCh
}

// ResetAbort rearms the abort flag at the start of a new turn.
func (s *Session) ResetAbort() {
	if s.aborted.Load() {
		s.aborted.Store(false)
		s.abortOnce = sync.Once{}
		s.abortCh = make(chan struct{})
	}
}

// AddTokens records estimated token usage for a model.
func (s *Session) AddTokens(model string, tokens int) {
	if s.TokensByModel == nil {
		s.TokensByModel = make(map[string]int)
	}
	s.TokensByModel[model] += tokens
}
