package orchestrator

import "strings"

// ReasonPlanApproval is the ask_user reason that may open a question in
// PLAN mode and, once approved, transitions the session to EXECUTE.
const ReasonPlanApproval = "plan_approval"

// maxQuestionsPerTurn bounds plan_approval questions per user turn.
const maxQuestionsPerTurn = 2

// approvalWords is the conservative set of answers accepted as plan
// approval. Regional variants beyond these are not guaranteed.
var approvalWords = map[string]bool{
	"yes": true, "ok": true, "proceed": true, "go": true, "start": true,
	"approve": true, "approved": true, "y": true, "tak": true, "sure": true,
}

// IsApproval reports whether a user answer approves an open plan question.
// Matching is case-insensitive and ignores trailing punctuation.
func IsApproval(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.TrimRight(normalized, ".!?,;:")
	return approvalWords[normalized]
}

// textQuestionPhrases are interrogative formulas models use instead of the
// ask_user tool. Checked case-insensitively by substring.
var textQuestionPhrases = []string{
	"would you like to proceed",
	"would you like me to proceed",
	"shall i proceed",
	"shall i continue",
	"should i continue",
	"should i proceed",
	"do you want me to continue",
	"do you want me to proceed",
	"czy mogę kontynuować",
	"czy kontynuować",
}

// DetectTextQuestion reports whether assistant content asks the user for
// permission in prose.
func DetectTextQuestion(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range textQuestionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// questionVerdict is the outcome of gating one ask_user call.
type questionVerdict struct {
	allow     bool
	rejection string // synthesized tool result when allow is false
	autoReply string // synthesized answer for autonomous roles
}

// gateQuestion applies the ask_user gating matrix.
//
//	PLAN:    plan_approval allowed (2 per turn); other reasons rejected
//	EXECUTE: rejected (tool disabled)
//	REVIEW:  rejected
//
// Autonomous roles never get to ask: every call is auto-answered.
func gateQuestion(mode Mode, reason string, autonomous bool, questionsAsked int) questionVerdict {
	if autonomous {
		return questionVerdict{autoReply: "Proceeding autonomously; continue without waiting for user input."}
	}
	switch mode {
	case ModePlan:
		if reason != ReasonPlanApproval {
			return questionVerdict{rejection: "Question rejected: in PLAN mode use the inspection tools to resolve uncertainty yourself; ask_user is reserved for plan approval."}
		}
		if questionsAsked >= maxQuestionsPerTurn {
			return questionVerdict{rejection: "Question rejected: the plan-approval question limit for this turn is reached. Present your best plan and wait for the user's next message."}
		}
		return questionVerdict{allow: true}
	case ModeExecute:
		return questionVerdict{rejection: "Question rejected: ask_user is disabled in EXECUTE mode. Act on the approved plan using the available tools."}
	default: // ModeReview and anything unknown
		return questionVerdict{rejection: "Question rejected: ask_user is not available in this mode."}
	}
}
