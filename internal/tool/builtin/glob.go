package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecore/agentcore/internal/tool"
)

// maxGlobResults caps the paths returned by one glob call.
const maxGlobResults = 100

// GlobTool finds workspace paths matching a glob pattern. Patterns without
// glob metacharacters degrade to a case-insensitive substring match on the
// base name, which is what models usually mean.
type GlobTool struct {
	workspaceDir string
}

func NewGlobTool(workspaceDir string) *GlobTool {
	return &GlobTool{workspaceDir: workspaceDir}
}

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Find files and directories matching a glob pattern (e.g. *.go), searched recursively from the workspace root."
}

func (t *GlobTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "Glob pattern matched against base names, or a plain substring", Required: true},
	)
}

func (t *GlobTool) Init(_ context.Context) error { return nil }
func (t *GlobTool) Close() error                 { return nil }

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	pattern := strings.TrimSpace(cleanPath(a.Pattern))
	if pattern == "" {
		return tool.ToolResult{Error: "pattern must not be empty"}, nil
	}
	if t.workspaceDir == "" {
		return tool.ToolResult{Error: "workspace directory is not configured"}, nil
	}

	lowerPattern := strings.ToLower(pattern)
	isGlob := strings.ContainsAny(pattern, "*?[")

	var results []string
	// Walk errors only signal early termination; unreadable entries are
	// skipped inside the callback.
	_ = filepath.WalkDir(t.workspaceDir, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}

		name := strings.ToLower(d.Name())
		matched := false
		if isGlob {
			matched, _ = filepath.Match(lowerPattern, name)
		} else {
			matched = strings.Contains(name, lowerPattern)
		}
		if matched {
			rel, relErr := filepath.Rel(t.workspaceDir, path)
			if relErr != nil {
				rel = path
			}
			results = append(results, rel)
			if len(results) >= maxGlobResults {
				return fmt.Errorf("limit reached")
			}
		}
		return nil
	})

	if len(results) == 0 {
		return tool.ToolResult{Output: fmt.Sprintf("no matches for %q", pattern)}, nil
	}

	out := strings.Join(results, "\n")
	if len(results) >= maxGlobResults {
		out += fmt.Sprintf("\n... (capped at %d results)", maxGlobResults)
	}
	return tool.ToolResult{Output: out}, nil
}
