// Package delegation runs the developer/reviewer loop: a task envelope is
// handed to a developer role in an isolated conversation, the result is
// verified by a reviewer role, and feedback cycles back until approval or
// the retry bound.
package delegation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TaskSpec is the delegation envelope. Immutable once created.
type TaskSpec struct {
	ID                string   `json:"id"`
	Goal              string   `json:"goal"`
	Constraints       []string `json:"constraints,omitempty"`
	FocusFiles        []string `json:"focus_files,omitempty"`
	VerificationSteps []string `json:"verification_steps,omitempty"`
}

// NewTaskSpec mints a TaskSpec with a fresh id.
func NewTaskSpec(goal string, constraints, focusFiles, verificationSteps []string) TaskSpec {
	return TaskSpec{
		ID:                uuid.NewString(),
		Goal:              goal,
		Constraints:       constraints,
		FocusFiles:        focusFiles,
		VerificationSteps: verificationSteps,
	}
}

// Task result statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// TaskResult is the outcome of one delegation.
type TaskResult struct {
	Status           string `json:"status"`
	Summary          string `json:"summary"`
	VerificationText string `json:"verification_text,omitempty"`
}

// Describe serializes the spec into the user message opening a developer
// conversation. resultFile names the report file the developer must write.
func (s TaskSpec) Describe(resultFile string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Delegated Task %s\n\n", s.ID)
	fmt.Fprintf(&sb, "Goal: %s\n", s.Goal)
	writeList(&sb, "Constraints", s.Constraints)
	writeList(&sb, "Focus files", s.FocusFiles)
	writeList(&sb, "Verification steps", s.VerificationSteps)
	if resultFile != "" {
		fmt.Fprintf(&sb, "\nWhen the task is complete, write a short report of what you did to %s.\n", resultFile)
	}
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}
