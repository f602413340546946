package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/forgecore/agentcore/internal/core"
	"github.com/forgecore/agentcore/internal/delegation"
	"github.com/forgecore/agentcore/internal/event"
	"github.com/forgecore/agentcore/internal/history"
	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/provider"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/util"
)

// DefaultMaxRounds bounds top-level reasoning rounds per turn.
const DefaultMaxRounds = 15

// Gateway is the slice of the provider gateway the turn driver needs.
// *provider.Gateway satisfies it.
type Gateway interface {
	ChatComplete(ctx context.Context, providerName, model string, history []llm.Message, tools []llm.ToolDefinition, temperature *float32) (llm.Message, provider.Usage, error)
	ChatCompleteStream(ctx context.Context, providerName, model string, history []llm.Message, tools []llm.ToolDefinition, temperature *float32, onChunk func(string)) (llm.Message, provider.Usage, error)
	Names() []string
}

// TaskRunner is the slice of the delegation engine the turn driver needs.
// *delegation.Engine satisfies it.
type TaskRunner interface {
	RunDelegation(ctx context.Context, targetRole string, spec delegation.TaskSpec) delegation.TaskResult
	ResetTurn()
}

// Config assembles an Orchestrator.
type Config struct {
	Roles      map[string]role.Role
	Gateway    Gateway
	Engine     TaskRunner
	Runners    []delegation.ToolRunner
	Emit       event.Sink
	Trajectory *event.Trajectory
	MaxRounds  int
	KeepLastN  int // history pruning window; 0 = default
}

// Orchestrator drives conversation turns for sessions.
type Orchestrator struct {
	roles      map[string]role.Role
	gateway    Gateway
	engine     TaskRunner
	runners    []delegation.ToolRunner
	emit       event.Sink
	trajectory *event.Trajectory
	maxRounds  int
	keepLastN  int
}

// New creates an Orchestrator from the config.
func New(cfg Config) *Orchestrator {
	emit := cfg.Emit
	if emit == nil {
		emit = event.NopSink
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Orchestrator{
		roles:      cfg.Roles,
		gateway:    cfg.Gateway,
		engine:     cfg.Engine,
		runners:    cfg.Runners,
		emit:       emit,
		trajectory: cfg.Trajectory,
		maxRounds:  maxRounds,
		keepLastN:  cfg.KeepLastN,
	}
}

// TurnResult is the outcome of one RunTurn call.
type TurnResult struct {
	FinalText string
	Suspended bool             // waiting on a user answer
	Question  *PendingQuestion // set when Suspended
	Err       error
}

// Flow routing actions for the turn driver.
const (
	actionReason   core.Action = "reason"
	actionDispatch core.Action = "dispatch"
	actionSuspend  core.Action = "suspend"
)

// turnState is the per-turn driver state threaded through the flow.
type turnState struct {
	o    *Orchestrator
	sess *Session

	round     int
	tried     map[string]bool // providers already tried this round
	lastCalls []llm.ToolCall

	finalText string
	suspended bool
	err       error
}

// RunTurn processes one user input: either the answer to a pending question
// or a fresh instruction. It returns when the turn completes, suspends on a
// question, or fails.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *Session, userInput string) TurnResult {
	sess.LockTurn()
	defer sess.UnlockTurn()

	sess.ResetAbort()
	sess.QuestionCount = 0
	sess.TurnMemory = nil
	o.engine.ResetTurn()

	// Abort is level-triggered: cancel the turn context when the flag trips
	// so delegation sub-iterations and provider calls unwind too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.AbortC():
			cancel()
		case <-ctx.Done():
		}
	}()

	o.admitUserInput(sess, userInput)

	state := &turnState{o: o, sess: sess}

	reason := core.NewNode[turnState, reasonPrep, reasonOutcome](&reasonNode{}, 0)
	dispatch := core.NewNode[turnState, dispatchPrep, dispatchOutcome](&dispatchNode{}, 0)
	reason.AddSuccessor(dispatch, actionDispatch)
	reason.AddSuccessor(reason, actionReason)
	dispatch.AddSuccessor(reason, actionReason)

	flow := core.NewFlow[turnState](reason)
	flow.Run(ctx, state)

	// The flow may have been cut short by context cancellation before a node
	// recorded the reason; normalize an abort into a visible error.
	if sess.Aborted() && state.err == nil && !state.suspended {
		state.err = fmt.Errorf("turn cancelled")
	}

	o.finishTurn(sess, state)

	if state.suspended {
		return TurnResult{Suspended: true, Question: sess.Pending}
	}
	return TurnResult{FinalText: state.finalText, Err: state.err}
}

// admitUserInput folds the user's message into the session, resolving any
// pending question and the PLAN -> EXECUTE transition.
func (o *Orchestrator) admitUserInput(sess *Session, userInput string) {
	if sess.Pending != nil {
		pending := sess.Pending
		sess.Pending = nil

		if pending.Reason == ReasonPlanApproval && IsApproval(userInput) {
			o.enterExecute(sess)
			sess.History = append(sess.History, llm.Message{
				Role:       llm.RoleTool,
				Content:    "User approved the plan. EXECUTE mode is active: carry the plan out now.",
				ToolCallID: pending.ToolCallID,
				Name:       ToolAskUser,
			})
			return
		}

		sess.History = append(sess.History, llm.Message{
			Role:       llm.RoleTool,
			Content:    fmt.Sprintf("User answered: %s", userInput),
			ToolCallID: pending.ToolCallID,
			Name:       ToolAskUser,
		})
		if pending.Reason == ReasonPlanApproval {
			sess.History = append(sess.History, llm.Message{
				Role:    llm.RoleSystem,
				Content: "The plan was not approved. Revise the plan according to the user's answer and ask for approval again.",
			})
		}
		return
	}

	if sess.PendingTextQuestion {
		sess.PendingTextQuestion = false
		if sess.Mode == ModePlan && IsApproval(userInput) {
			o.enterExecute(sess)
			sess.History = append(sess.History, llm.Message{
				Role:    llm.RoleUser,
				Content: userInput,
			})
			return
		}
	}

	sess.History = append(sess.History, llm.Message{Role: llm.RoleUser, Content: userInput})
}

// enterExecute performs the PLAN -> EXECUTE transition.
func (o *Orchestrator) enterExecute(sess *Session) {
	sess.Mode = ModeExecute
	o.emit(event.Event{
		Kind:     event.KindStatus,
		Content:  "Plan approved — entering EXECUTE mode",
		Metadata: map[string]string{"mode": string(ModeExecute)},
	})
	o.trajectory.Add("mode_transition", "PLAN -> EXECUTE")
}

// finishTurn emits the closing events and persists trajectory metadata.
func (o *Orchestrator) finishTurn(sess *Session, state *turnState) {
	if state.err != nil {
		o.emit(event.Event{Kind: event.KindError, Content: state.err.Error()})
	} else if state.finalText != "" && !state.suspended {
		o.emit(event.Event{Kind: event.KindText, Content: state.finalText})
	}

	stats, _ := json.Marshal(sess.TokensByModel)
	o.emit(event.Event{
		Kind:     event.KindStats,
		Content:  string(stats),
		Metadata: map[string]string{"rounds": fmt.Sprintf("%d", state.round), "mode": string(sess.Mode)},
	})
	if err := o.trajectory.Flush(); err != nil {
		log.Printf("[Orchestrator] Trajectory flush failed: %v", err)
	}
}

// activeRole resolves the session's current role configuration.
func (o *Orchestrator) activeRole(sess *Session) role.Role {
	if r, ok := o.roles[sess.ActiveRole]; ok {
		return r
	}
	return role.Role{Name: sess.ActiveRole, Provider: sess.ActiveProvider, Model: sess.ActiveModel}
}

// ── reason node ──

type reasonPrep struct {
	state *turnState
}

type reasonOutcome struct {
	msg llm.Message
	err error
}

// reasonNode prunes history, attaches the role prompt and mode banner,
// applies the mode filter, and asks the gateway for the next assistant
// message with failover across untried providers.
type reasonNode struct{}

func (n *reasonNode) Prep(state *turnState) []reasonPrep {
	state.tried = make(map[string]bool)
	return []reasonPrep{{state: state}}
}

func (n *reasonNode) Exec(ctx context.Context, prep reasonPrep) (reasonOutcome, error) {
	s := prep.state
	o := s.o
	sess := s.sess
	r := o.activeRole(sess)

	if sess.Aborted() {
		return reasonOutcome{err: fmt.Errorf("turn cancelled")}, nil
	}

	pruned := history.Prune(sess.History, o.keepLastN)
	transmit := make([]llm.Message, 0, len(pruned)+2)
	if r.SystemPrompt != "" {
		transmit = append(transmit, llm.Message{Role: llm.RoleSystem, Content: r.SystemPrompt})
	}
	transmit = append(transmit, pruned...)
	transmit = append(transmit, llm.Message{Role: llm.RoleSystem, Content: modeBanner(sess.Mode, r.Name)})

	tools := o.buildToolDefs(sess, r)

	providerName := sess.ActiveProvider
	for {
		msg, usage, err := o.gateway.ChatCompleteStream(ctx, providerName, sess.ActiveModel, transmit, tools, r.Temperature,
			func(chunk string) {
				o.emit(event.Event{Kind: event.KindStreaming, Content: chunk})
			})
		if err == nil {
			sess.ActiveProvider = providerName
			sess.AddTokens(sess.ActiveModel, usage.Total())
			if msg.ReasoningContent != "" {
				o.emit(event.Event{Kind: event.KindReasoning, Content: msg.ReasoningContent})
			}
			return reasonOutcome{msg: msg}, nil
		}

		s.tried[providerName] = true
		o.emit(event.Event{Kind: event.KindError, Content: fmt.Sprintf("provider %s failed: %v", providerName, err)})

		next := ""
		for _, name := range o.gateway.Names() {
			if !s.tried[name] {
				next = name
				break
			}
		}
		if next == "" {
			return reasonOutcome{err: fmt.Errorf("all providers exhausted for model %s: %w", sess.ActiveModel, err)}, nil
		}
		// The model id travels with the role, not the provider: the same
		// model is requested from the next provider.
		o.emit(event.Event{
			Kind:     event.KindLog,
			Content:  fmt.Sprintf("failover: %s -> %s (model %s)", providerName, next, sess.ActiveModel),
			Metadata: map[string]string{"from": providerName, "to": next},
		})
		o.trajectory.Add("failover", fmt.Sprintf("%s -> %s (model %s)", providerName, next, sess.ActiveModel))
		providerName = next
	}
}

func (n *reasonNode) Post(state *turnState, _ []reasonPrep, results ...reasonOutcome) core.Action {
	if len(results) == 0 {
		state.err = fmt.Errorf("reasoning produced no outcome")
		return core.ActionFailure
	}
	outcome := results[0]
	if outcome.err != nil {
		state.err = outcome.err
		return core.ActionFailure
	}

	sess := state.sess
	msg := outcome.msg
	sess.History = append(sess.History, msg)
	state.round++

	if len(msg.ToolCalls) == 0 && DetectTextQuestion(msg.Content) {
		switch sess.Mode {
		case ModePlan:
			// The next user input may serve as plan approval.
			sess.PendingTextQuestion = true
			state.finalText = msg.Content
			return core.ActionEnd
		case ModeExecute:
			sess.History = append(sess.History, llm.Message{
				Role:    llm.RoleSystem,
				Content: "Do not ask for permission in EXECUTE mode. The plan is already approved; proceed with the tools immediately.",
			})
			state.o.emit(event.Event{Kind: event.KindLog, Content: "text question rebuked in EXECUTE mode"})
			if state.round >= state.o.maxRounds {
				state.finalText = msg.Content
				return core.ActionEnd
			}
			return actionReason
		}
	}

	if state.round >= state.o.maxRounds && len(msg.ToolCalls) > 0 {
		log.Printf("[Orchestrator] Round cap (%d) reached, ending turn", state.o.maxRounds)
		state.finalText = msg.Content
		return core.ActionEnd
	}

	if len(msg.ToolCalls) > 0 {
		state.lastCalls = msg.ToolCalls
		return actionDispatch
	}

	state.finalText = msg.Content
	return core.ActionEnd
}

func (n *reasonNode) ExecFallback(err error) reasonOutcome {
	return reasonOutcome{err: err}
}

// ── dispatch node ──

type dispatchPrep struct {
	state *turnState
	calls []llm.ToolCall
}

type dispatchOutcome struct {
	results   []llm.Message
	suspended bool
	err       error
}

// dispatchNode executes the tool calls of the last assistant message in
// listed order: ask_user gating first, then admin elevation, then
// delegation, then transport dispatch.
type dispatchNode struct{}

func (n *dispatchNode) Prep(state *turnState) []dispatchPrep {
	return []dispatchPrep{{state: state, calls: state.lastCalls}}
}

func (n *dispatchNode) Exec(ctx context.Context, prep dispatchPrep) (dispatchOutcome, error) {
	s := prep.state
	o := s.o
	sess := s.sess
	r := o.activeRole(sess)

	var outcome dispatchOutcome
	for i, tc := range prep.calls {
		if sess.Aborted() {
			outcome.err = fmt.Errorf("turn cancelled")
			return outcome, nil
		}

		o.emit(event.Event{
			Kind:     event.KindToolCall,
			Content:  tc.Name,
			Metadata: map[string]string{"id": tc.ID, "role": r.Name, "args": util.TruncateRunes(string(tc.Arguments), 300)},
		})
		o.trajectory.Add("tool_selection", tc.Name)

		var resultContent string
		switch tc.Name {
		case ToolAskUser:
			verdict, pending := o.handleAskUser(sess, r, tc)
			if pending != nil {
				sess.Pending = pending
				outcome.suspended = true
				// Remaining calls are not executed; synthesize skip results
				// so every call id still gets a tool message.
				for _, skipped := range prep.calls[i+1:] {
					outcome.results = append(outcome.results, llm.Message{
						Role:       llm.RoleTool,
						Content:    "Skipped: the turn is suspended on a user question.",
						ToolCallID: skipped.ID,
						Name:       skipped.Name,
					})
				}
				return outcome, nil
			}
			resultContent = verdict

		case ToolAdmin:
			if sess.Mode != ModeExecute || r.Name == role.Architect {
				resultContent = "Policy: administrative privileges are not available in this mode."
			} else {
				sess.AdminGranted = true
				resultContent = "Administrative privileges granted; sudo tools are now part of the active tool set."
				o.trajectory.Add("privilege_elevation", r.Name)
			}

		case ToolDelegate:
			resultContent = o.handleDelegate(ctx, sess, r, tc)

		default:
			resultContent = o.dispatchToTransport(ctx, sess, r, tc)
		}

		// An abort that arrived while the call was in flight discards its result.
		if sess.Aborted() {
			outcome.err = fmt.Errorf("turn cancelled")
			return outcome, nil
		}

		resultMsg := llm.Message{
			Role:       llm.RoleTool,
			Content:    resultContent,
			ToolCallID: tc.ID,
			Name:       tc.Name,
		}
		outcome.results = append(outcome.results, resultMsg)
		o.emit(event.Event{
			Kind:     event.KindToolResult,
			Content:  util.TruncateRunes(resultContent, 400),
			Metadata: map[string]string{"id": tc.ID, "name": tc.Name},
		})
	}
	return outcome, nil
}

func (n *dispatchNode) Post(state *turnState, _ []dispatchPrep, results ...dispatchOutcome) core.Action {
	if len(results) == 0 {
		state.err = fmt.Errorf("dispatch produced no outcome")
		return core.ActionFailure
	}
	outcome := results[0]
	state.sess.History = append(state.sess.History, outcome.results...)
	state.lastCalls = nil

	if outcome.err != nil {
		state.err = outcome.err
		return core.ActionFailure
	}
	if outcome.suspended {
		state.suspended = true
		q := state.sess.Pending
		state.o.emit(event.Event{
			Kind:     event.KindQuestion,
			Content:  q.Question,
			Metadata: map[string]string{"reason": q.Reason, "id": q.ToolCallID},
		})
		return actionSuspend
	}
	return actionReason
}

func (n *dispatchNode) ExecFallback(err error) dispatchOutcome {
	return dispatchOutcome{err: err}
}

// handleAskUser gates one ask_user call. When the question is admitted it
// returns a PendingQuestion; otherwise it returns the synthesized result.
func (o *Orchestrator) handleAskUser(sess *Session, r role.Role, tc llm.ToolCall) (string, *PendingQuestion) {
	var args struct {
		Question string `json:"question"`
		Reason   string `json:"reason"`
	}
	if len(tc.Arguments) > 0 {
		_ = json.Unmarshal(tc.Arguments, &args)
	}

	verdict := gateQuestion(sess.Mode, args.Reason, r.Autonomy == role.AutonomyAutonomous, sess.QuestionCount)
	if verdict.autoReply != "" {
		return verdict.autoReply, nil
	}
	if !verdict.allow {
		o.emit(event.Event{Kind: event.KindLog, Content: "ask_user rejected: " + verdict.rejection})
		return verdict.rejection, nil
	}

	sess.QuestionCount++
	return "", &PendingQuestion{
		ToolCallID: tc.ID,
		Reason:     args.Reason,
		Question:   args.Question,
	}
}

// handleDelegate builds the TaskSpec and runs the delegation engine.
func (o *Orchestrator) handleDelegate(ctx context.Context, sess *Session, r role.Role, tc llm.ToolCall) string {
	if !o.toolAllowed(sess, r, ToolDelegate) {
		return "Policy: delegate_task is not available in " + string(sess.Mode) + " mode."
	}

	var args struct {
		TargetRole        string   `json:"target_role"`
		Goal              string   `json:"goal"`
		Constraints       []string `json:"constraints"`
		FocusFiles        []string `json:"focus_files"`
		VerificationSteps []string `json:"verification_steps"`
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return fmt.Sprintf("Error: invalid delegate_task arguments: %v", err)
	}
	if args.Goal == "" {
		return "Error: delegate_task requires a goal."
	}
	if args.TargetRole == "" {
		args.TargetRole = role.Developer
	}

	spec := delegation.NewTaskSpec(args.Goal, args.Constraints, args.FocusFiles, args.VerificationSteps)
	result := o.engine.RunDelegation(ctx, args.TargetRole, spec)

	sess.TurnMemory = append(sess.TurnMemory, fmt.Sprintf("[%s] %s: %s", result.Status, args.Goal, result.Summary))

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Delegation finished with status %s: %s", result.Status, result.Summary)
	}
	return string(data)
}

// dispatchToTransport routes a tool call to the first runner exposing it,
// applying the mode filter first.
func (o *Orchestrator) dispatchToTransport(ctx context.Context, sess *Session, r role.Role, tc llm.ToolCall) string {
	if !o.toolAllowed(sess, r, tc.Name) {
		o.emit(event.Event{Kind: event.KindLog, Content: fmt.Sprintf("policy violation: %s blocked in %s mode for role %s", tc.Name, sess.Mode, r.Name)})
		return fmt.Sprintf("Policy: tool %q is not available in %s mode for role %s. Use the permitted tools instead.", tc.Name, sess.Mode, r.Name)
	}

	var args map[string]any
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", tc.Name, err)
		}
	}

	for _, runner := range o.runners {
		if runner.Has(tc.Name) {
			result, err := runner.CallTool(ctx, tc.Name, args)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			return result
		}
	}
	return fmt.Sprintf("Error: no tool server exposes %q.", tc.Name)
}

