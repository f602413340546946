package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/forgecore/agentcore/internal/core"
	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/provider"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/transport"
	"github.com/forgecore/agentcore/internal/util"
)

const (
	// DefaultMaxRetries bounds developer attempts per delegation.
	DefaultMaxRetries = 3

	// DefaultInnerIterations bounds assistant/tool rounds inside one
	// developer attempt.
	DefaultInnerIterations = 5

	// DefaultMaxPerRole bounds delegations per target role per user turn.
	DefaultMaxPerRole = 3

	// DefaultResultFile is the conventional report path the developer is
	// instructed to write.
	DefaultResultFile = "TASK_RESULT.md"
)

// approvedToken opens a reviewer response that closes the loop with success.
const approvedToken = "APPROVED"

// ChatGateway is the slice of the provider gateway the engine needs.
// *provider.Gateway satisfies it.
type ChatGateway interface {
	ChatComplete(ctx context.Context, providerName, model string, history []llm.Message, tools []llm.ToolDefinition, temperature *float32) (llm.Message, provider.Usage, error)
	ChatCompleteStream(ctx context.Context, providerName, model string, history []llm.Message, tools []llm.ToolDefinition, temperature *float32, onChunk func(string)) (llm.Message, provider.Usage, error)
}

// ToolRunner is the slice of a tool transport the engine needs.
// *transport.Transport satisfies it.
type ToolRunner interface {
	Has(name string) bool
	ListTools() []transport.ToolInfo
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Engine drives delegations. One Engine serves one session; the per-turn
// delegation counters are reset by ResetTurn at the top of each user turn.
type Engine struct {
	gateway    ChatGateway
	runners    []ToolRunner
	roles      map[string]role.Role
	emit       event.Sink
	resultFile string

	maxRetries      int
	innerIterations int
	maxPerRole      int

	mu     sync.Mutex
	counts map[string]int
}

// NewEngine creates a delegation engine over the given gateway, tool
// runners, and role table.
func NewEngine(gateway ChatGateway, runners []ToolRunner, roles map[string]role.Role, emit event.Sink) *Engine {
	if emit == nil {
		emit = event.NopSink
	}
	return &Engine{
		gateway:         gateway,
		runners:         runners,
		roles:           roles,
		emit:            emit,
		resultFile:      DefaultResultFile,
		maxRetries:      DefaultMaxRetries,
		innerIterations: DefaultInnerIterations,
		maxPerRole:      DefaultMaxPerRole,
		counts:          make(map[string]int),
	}
}

// SetLimits overrides the retry/iteration bounds. Zero values keep defaults.
func (e *Engine) SetLimits(maxRetries, innerIterations, maxPerRole int) {
	if maxRetries > 0 {
		e.maxRetries = maxRetries
	}
	if innerIterations > 0 {
		e.innerIterations = innerIterations
	}
	if maxPerRole > 0 {
		e.maxPerRole = maxPerRole
	}
}

// ResetTurn clears the per-turn delegation counters.
func (e *Engine) ResetTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts = make(map[string]int)
}

// delegationState is the shared state of one delegation flow.
type delegationState struct {
	engine *Engine
	target role.Role
	spec   TaskSpec

	conv    []llm.Message // developer conversation, isolated from the architect turn
	tools   []llm.ToolDefinition
	attempt int

	output  string // collected developer output of the last attempt
	flagged string // placeholder phrase detected this attempt, "" if clean

	result TaskResult
	done   bool
}

// Flow routing actions for the delegation state machine:
// developing -> reviewing -> (approved | feedback -> developing | exhausted).
const (
	actionDevelop core.Action = "develop"
	actionReview  core.Action = "review"
)

// RunDelegation executes one delegation against the target role and returns
// its TaskResult. The developer works in a fresh conversation containing
// only the role's system prompt and the serialized spec; no history from
// the calling turn is carried in.
func (e *Engine) RunDelegation(ctx context.Context, targetRole string, spec TaskSpec) TaskResult {
	e.mu.Lock()
	e.counts[targetRole]++
	count := e.counts[targetRole]
	e.mu.Unlock()

	if count > e.maxPerRole {
		summary := fmt.Sprintf("Exceeded maximum delegations for role %q (%d per turn). Consolidate the remaining work into the tasks already delegated.", targetRole, e.maxPerRole)
		e.emit(event.Event{Kind: event.KindError, Content: summary, Metadata: map[string]string{"task": spec.ID}})
		return TaskResult{Status: StatusFailure, Summary: summary}
	}

	target, ok := e.roles[targetRole]
	if !ok {
		summary := fmt.Sprintf("Unknown delegation target role %q.", targetRole)
		e.emit(event.Event{Kind: event.KindError, Content: summary, Metadata: map[string]string{"task": spec.ID}})
		return TaskResult{Status: StatusFailure, Summary: summary}
	}

	e.emit(event.Event{
		Kind:     event.KindTodoAdd,
		Content:  spec.Goal,
		Metadata: map[string]string{"task": spec.ID, "role": targetRole},
	})

	state := &delegationState{
		engine:  e,
		target:  target,
		spec:    spec,
		conv:    e.freshConversation(target, spec),
		tools:   e.subTools(target),
		attempt: 1,
	}

	develop := core.NewNode[delegationState, developPrep, developOutcome](&developNode{}, 0)
	review := core.NewNode[delegationState, reviewPrep, reviewOutcome](&reviewNode{}, 0)
	develop.AddSuccessor(review, actionReview)
	develop.AddSuccessor(develop, actionDevelop)
	review.AddSuccessor(develop, actionDevelop)

	flow := core.NewFlow[delegationState](develop)
	flow.Run(ctx, state)

	if !state.done {
		// Flow aborted (context cancelled or iteration cap).
		state.result = TaskResult{Status: StatusFailure, Summary: "Delegation aborted before completion."}
	}

	e.emit(event.Event{
		Kind:     event.KindTodoUpdate,
		Content:  state.result.Summary,
		Metadata: map[string]string{"task": spec.ID, "status": state.result.Status},
	})
	return state.result
}

// freshConversation builds the isolated developer conversation.
func (e *Engine) freshConversation(target role.Role, spec TaskSpec) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: target.SystemPrompt},
		{Role: llm.RoleUser, Content: spec.Describe(e.resultFile)},
	}
}

// subTools builds the tool catalog for a delegated sub-conversation. The
// delegation and question tools are never offered to child roles, so a
// developer cannot re-delegate or stall the loop on a question.
func (e *Engine) subTools(target role.Role) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, runner := range e.runners {
		for _, info := range runner.ListTools() {
			if info.Name == "delegate_task" || info.Name == "ask_user" {
				continue
			}
			if !target.Allows(info.Name) {
				continue
			}
			defs = append(defs, llm.ToolDefinition{
				Name:        info.Name,
				Description: info.Description,
				Parameters:  info.InputSchema,
			})
		}
	}
	return defs
}

// callTool dispatches one tool call to the first runner exposing the name.
func (e *Engine) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	for _, runner := range e.runners {
		if runner.Has(name) {
			return runner.CallTool(ctx, name, args)
		}
	}
	return "", fmt.Errorf("no tool server exposes %q", name)
}

// ── develop node ──

type developPrep struct {
	state *delegationState
}

type developOutcome struct {
	conv    []llm.Message
	output  string
	flagged string
	err     error
}

// developNode runs one developer attempt: up to innerIterations rounds of
// assistant message + tool execution, then output collection.
type developNode struct{}

func (n *developNode) Prep(state *delegationState) []developPrep {
	return []developPrep{{state: state}}
}

func (n *developNode) Exec(ctx context.Context, prep developPrep) (developOutcome, error) {
	s := prep.state
	e := s.engine
	conv := s.conv
	flagged := ""
	lastShell := ""
	lastAssistant := ""

	e.emit(event.Event{
		Kind:     event.KindStatus,
		Content:  fmt.Sprintf("Developer attempt %d/%d", s.attempt, e.maxRetries),
		Metadata: map[string]string{"task": s.spec.ID, "state": "DEVELOPING"},
	})

	for iter := 0; iter < e.innerIterations; iter++ {
		if ctx.Err() != nil {
			return developOutcome{conv: conv}, ctx.Err()
		}

		msg, _, err := e.gateway.ChatCompleteStream(ctx, s.target.Provider, s.target.Model, conv, s.tools, s.target.Temperature,
			func(chunk string) {
				e.emit(event.Event{Kind: event.KindStreaming, Content: chunk, Metadata: map[string]string{"task": s.spec.ID}})
			})
		if err != nil {
			return developOutcome{conv: conv}, fmt.Errorf("developer call failed: %w", err)
		}
		conv = append(conv, msg)
		if msg.Content != "" {
			lastAssistant = msg.Content
		}

		if len(msg.ToolCalls) == 0 {
			break
		}

		// Execute every requested tool in listed order; results are
		// appended to the conversation in that order.
		for _, tc := range msg.ToolCalls {
			if ctx.Err() != nil {
				return developOutcome{conv: conv}, ctx.Err()
			}
			e.emit(event.Event{Kind: event.KindToolCall, Content: tc.Name, Metadata: map[string]string{"task": s.spec.ID, "id": tc.ID}})

			var args map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = nil
				}
			}

			result, err := e.callTool(ctx, tc.Name, args)
			if err != nil {
				result = fmt.Sprintf("Error: %v", err)
			}

			if tc.Name == "run_shell_command" {
				lastShell = result
			}
			if tc.Name == "read_file" && flagged == "" {
				if phrase, hit := ContainsPlaceholder(result); hit {
					flagged = phrase
					conv = append(conv, llm.Message{
						Role:    llm.RoleSystem,
						Content: fmt.Sprintf("Placeholder content detected (%q) in a file you produced. This attempt cannot be reported as complete. Replace the stub with real content before finishing.", phrase),
					})
					e.emit(event.Event{Kind: event.KindLog, Content: fmt.Sprintf("placeholder detected: %q", phrase), Metadata: map[string]string{"task": s.spec.ID}})
				}
			}

			conv = append(conv, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
			e.emit(event.Event{Kind: event.KindToolResult, Content: util.TruncateRunes(result, 400), Metadata: map[string]string{"task": s.spec.ID, "id": tc.ID}})
		}
	}

	output := e.collectOutput(ctx, lastShell, lastAssistant)
	return developOutcome{conv: conv, output: output, flagged: flagged}, nil
}

func (n *developNode) Post(state *delegationState, _ []developPrep, results ...developOutcome) core.Action {
	if len(results) == 0 {
		state.finish(TaskResult{Status: StatusFailure, Summary: "Developer attempt produced no outcome."})
		return core.ActionFailure
	}
	outcome := results[0]
	state.conv = outcome.conv
	state.output = outcome.output
	state.flagged = outcome.flagged

	if outcome.err != nil {
		state.finish(TaskResult{Status: StatusFailure, Summary: fmt.Sprintf("Developer attempt failed: %v", outcome.err)})
		return core.ActionFailure
	}

	if outcome.flagged != "" {
		// The attempt may not report success; force a retry without
		// consulting the reviewer.
		if state.attempt >= state.engine.maxRetries {
			state.finish(TaskResult{
				Status:  StatusFailure,
				Summary: fmt.Sprintf("Rejected: placeholder content (%q) still present after %d attempts.", outcome.flagged, state.attempt),
			})
			return core.ActionFailure
		}
		state.attempt++
		state.conv = append(state.conv, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("The previous attempt was rejected: placeholder content (%q) was found. Produce the real content and finish the task.", outcome.flagged),
		})
		return actionDevelop
	}

	return actionReview
}

func (n *developNode) ExecFallback(err error) developOutcome {
	log.Printf("[Delegation] Develop fallback: %v", err)
	return developOutcome{err: err}
}

// collectOutput gathers the developer's result, in priority order: the
// conventional result file, the stdout of the last shell command, the last
// assistant text.
func (e *Engine) collectOutput(ctx context.Context, lastShell, lastAssistant string) string {
	for _, runner := range e.runners {
		if !runner.Has("read_file") {
			continue
		}
		if content, err := runner.CallTool(ctx, "read_file", map[string]any{"path": e.resultFile}); err == nil {
			if trimmed := strings.TrimSpace(content); trimmed != "" {
				return trimmed
			}
		}
		break
	}
	if stdout := extractStdout(lastShell); stdout != "" {
		return stdout
	}
	return strings.TrimSpace(lastAssistant)
}

// extractStdout pulls the STDOUT section out of a run_shell_command result.
func extractStdout(result string) string {
	idx := strings.Index(result, "STDOUT:")
	if idx < 0 {
		return ""
	}
	rest := result[idx+len("STDOUT:"):]
	if end := strings.Index(rest, "STDERR:"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ── review node ──

type reviewPrep struct {
	state *delegationState
}

type reviewOutcome struct {
	response string
	err      error
}

// reviewNode asks the reviewer role to verify the developer's output
// against the original spec.
type reviewNode struct{}

func (n *reviewNode) Prep(state *delegationState) []reviewPrep {
	return []reviewPrep{{state: state}}
}

func (n *reviewNode) Exec(ctx context.Context, prep reviewPrep) (reviewOutcome, error) {
	s := prep.state
	e := s.engine

	reviewer, ok := e.roles[role.Reviewer]
	if !ok {
		return reviewOutcome{}, fmt.Errorf("no reviewer role configured")
	}

	e.emit(event.Event{
		Kind:     event.KindStatus,
		Content:  "Reviewing developer output",
		Metadata: map[string]string{"task": s.spec.ID, "state": "REVIEWING"},
	})

	conv := []llm.Message{
		{Role: llm.RoleSystem, Content: reviewer.SystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"%s\nDeveloper output:\n---\n%s\n---\n\nVerify the task. Reply starting with %s if every verification step is satisfied; otherwise give concrete feedback.",
			s.spec.Describe(""), s.output, approvedToken)},
	}

	resp, _, err := e.gateway.ChatComplete(ctx, reviewer.Provider, reviewer.Model, conv, nil, reviewer.Temperature)
	if err != nil {
		return reviewOutcome{}, fmt.Errorf("reviewer call failed: %w", err)
	}
	return reviewOutcome{response: strings.TrimSpace(resp.Content)}, nil
}

func (n *reviewNode) Post(state *delegationState, _ []reviewPrep, results ...reviewOutcome) core.Action {
	if len(results) == 0 {
		state.finish(TaskResult{Status: StatusFailure, Summary: "Review produced no outcome."})
		return core.ActionFailure
	}
	outcome := results[0]
	if outcome.err != nil {
		state.finish(TaskResult{Status: StatusFailure, Summary: fmt.Sprintf("Review failed: %v", outcome.err)})
		return core.ActionFailure
	}

	if strings.HasPrefix(outcome.response, approvedToken) {
		state.finish(TaskResult{
			Status:           StatusSuccess,
			Summary:          util.TruncateRunes(state.output, 2000),
			VerificationText: outcome.response,
		})
		return core.ActionSuccess
	}

	// Any other response is feedback.
	if state.attempt >= state.engine.maxRetries {
		state.finish(TaskResult{
			Status:           StatusFailure,
			Summary:          fmt.Sprintf("Retries exhausted after %d attempts. Last feedback: %s", state.attempt, util.TruncateRunes(outcome.response, 500)),
			VerificationText: outcome.response,
		})
		return core.ActionFailure
	}
	state.attempt++
	state.conv = append(state.conv, llm.Message{
		Role:    llm.RoleUser,
		Content: "Reviewer feedback on your work:\n" + outcome.response + "\n\nAddress the feedback and complete the task.",
	})
	state.engine.emit(event.Event{
		Kind:     event.KindStatus,
		Content:  "Reviewer requested changes",
		Metadata: map[string]string{"task": state.spec.ID, "state": "FEEDBACK"},
	})
	return actionDevelop
}

func (n *reviewNode) ExecFallback(err error) reviewOutcome {
	log.Printf("[Delegation] Review fallback: %v", err)
	return reviewOutcome{err: err}
}

// finish records the terminal result.
func (s *delegationState) finish(result TaskResult) {
	s.result = result
	s.done = true
}
