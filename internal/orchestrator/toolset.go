package orchestrator

import (
	"strings"

	"github.com/forgecore/agentcore/internal/llm"
	"github.com/forgecore/agentcore/internal/role"
	"github.com/forgecore/agentcore/internal/tool"
)

// Built-in tool names handled by the orchestrator itself rather than a
// transport.
const (
	ToolAskUser    = "ask_user"
	ToolDelegate   = "delegate_task"
	ToolAdmin      = "request_admin_privileges"
	sudoToolPrefix = "sudo_"
)

// readOnlyTools is the inspection subset available in every mode.
var readOnlyTools = map[string]bool{
	"read_file":           true,
	"list_directory":      true,
	"glob":                true,
	"search_file_content": true,
}

// askUserDef is the question tool offered in PLAN mode.
var askUserDef = llm.ToolDefinition{
	Name:        ToolAskUser,
	Description: "Ask the user a question and suspend the turn until they answer. Use reason \"plan_approval\" to request approval of a drafted plan.",
	Parameters: tool.BuildSchema(
		tool.SchemaParam{Name: "question", Type: "string", Description: "The question to show the user", Required: true},
		tool.SchemaParam{Name: "reason", Type: "string", Description: "Why the question is needed", Required: true, Enum: []string{ReasonPlanApproval, "clarification", "other"}},
	),
}

// delegateDef is the delegation envelope tool offered to the architect in
// EXECUTE mode. Only the structured form exists; there is no role+instruction
// variant.
var delegateDef = llm.ToolDefinition{
	Name:        ToolDelegate,
	Description: "Delegate one task to a subordinate role. The work is verified by a reviewer before the result comes back.",
	Parameters: tool.BuildSchema(
		tool.SchemaParam{Name: "target_role", Type: "string", Description: "Role to delegate to (default developer)", Enum: []string{role.Developer}},
		tool.SchemaParam{Name: "goal", Type: "string", Description: "What must be accomplished", Required: true},
		tool.SchemaParam{Name: "constraints", Type: "array", Description: "Hard constraints the work must honor"},
		tool.SchemaParam{Name: "focus_files", Type: "array", Description: "Files the work should concentrate on"},
		tool.SchemaParam{Name: "verification_steps", Type: "array", Description: "Checks the reviewer will run"},
	),
}

// adminDef unlocks sudo-prefixed tools for the rest of the session.
var adminDef = llm.ToolDefinition{
	Name:        ToolAdmin,
	Description: "Request administrative privileges; on success, sudo tools join the active tool set.",
	Parameters:  tool.BuildSchema(),
}

// toolAllowed reports whether the mode filter permits the named tool for
// the role. Built-in names are resolved here; transport names must
// additionally exist on some runner.
func (o *Orchestrator) toolAllowed(sess *Session, r role.Role, name string) bool {
	if !r.Allows(name) && !isBuiltin(name) {
		return false
	}
	switch sess.Mode {
	case ModePlan:
		return readOnlyTools[name] || name == ToolAskUser
	case ModeExecute:
		if r.Name == role.Architect {
			// The architect plans and delegates; it never writes directly.
			return readOnlyTools[name] || name == ToolDelegate
		}
		if name == ToolAskUser {
			return false
		}
		if strings.HasPrefix(name, sudoToolPrefix) && !sess.AdminGranted {
			return false
		}
		return true
	case ModeReview:
		return readOnlyTools[name]
	default:
		return false
	}
}

func isBuiltin(name string) bool {
	return name == ToolAskUser || name == ToolDelegate || name == ToolAdmin
}

// buildToolDefs computes the mode-filtered tool definitions transmitted to
// the model this round.
func (o *Orchestrator) buildToolDefs(sess *Session, r role.Role) []llm.ToolDefinition {
	var defs []llm.ToolDefinition

	for _, runner := range o.runners {
		for _, info := range runner.ListTools() {
			if !o.toolAllowed(sess, r, info.Name) {
				continue
			}
			defs = append(defs, llm.ToolDefinition{
				Name:        info.Name,
				Description: info.Description,
				Parameters:  info.InputSchema,
			})
		}
	}

	if o.toolAllowed(sess, r, ToolAskUser) {
		defs = append(defs, askUserDef)
	}
	if o.toolAllowed(sess, r, ToolDelegate) {
		defs = append(defs, delegateDef)
	}
	if sess.Mode == ModeExecute && r.Name != role.Architect && !sess.AdminGranted {
		defs = append(defs, adminDef)
	}
	return defs
}

// modeBanner is the per-round system message stating the active mode and
// its rules. Attached at transmit time, never stored in the history.
func modeBanner(mode Mode, roleName string) string {
	switch mode {
	case ModePlan:
		return "Current mode: PLAN. Inspect the workspace with read-only tools, draft a plan, then request approval with ask_user (reason plan_approval). No modifications are possible in this mode."
	case ModeExecute:
		if roleName == role.Architect {
			return "Current mode: EXECUTE. The plan is approved. Delegate each task with delegate_task; you cannot modify files or run commands yourself. Do not ask the user questions."
		}
		return "Current mode: EXECUTE. Carry out the approved plan with the available tools. Do not ask the user questions."
	case ModeReview:
		return "Current mode: REVIEW. Verify the completed work using read-only tools only."
	default:
		return "Current mode: " + string(mode) + "."
	}
}
