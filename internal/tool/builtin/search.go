package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/forgecore/agentcore/internal/tool"
)

const (
	searchTimeout    = 15 * time.Second
	maxSearchFiles   = 20  // files reported per search
	searchMaxLineLen = 200 // long lines are trimmed to keep output tidy
	maxSearchFileSz  = 10 << 20
)

// SearchFileContentTool finds files whose content matches a regex pattern.
// Results are grouped per file with the first matching lines shown.
type SearchFileContentTool struct {
	workspaceDir string
}

func NewSearchFileContentTool(workspaceDir string) *SearchFileContentTool {
	return &SearchFileContentTool{workspaceDir: workspaceDir}
}

func (t *SearchFileContentTool) Name() string { return "search_file_content" }
func (t *SearchFileContentTool) Description() string {
	return "Search file contents by regular expression; returns the files containing matches with line numbers."
}

func (t *SearchFileContentTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "pattern", Type: "string", Description: "Regular expression (case-insensitive by default)", Required: true},
		tool.SchemaParam{Name: "path", Type: "string", Description: "Directory or file to search; defaults to the workspace root"},
	)
}

func (t *SearchFileContentTool) Init(_ context.Context) error { return nil }
func (t *SearchFileContentTool) Close() error                 { return nil }

type searchArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

type fileMatches struct {
	file  string
	lines []string // "line N: text"
	count int
}

func (t *SearchFileContentTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return tool.ToolResult{Error: "pattern must not be empty"}, nil
	}

	// RE2 guarantees linear-time matching, so untrusted patterns are safe.
	re, err := regexp.Compile("(?i)" + a.Pattern)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid regular expression: %v", err)}, nil
	}

	searchRoot := t.workspaceDir
	if a.Path != "" {
		resolved, err := safeResolvePath(a.Path, t.workspaceDir)
		if err != nil {
			return tool.ToolResult{Error: err.Error()}, nil
		}
		searchRoot = resolved
	}
	if _, err := os.Stat(searchRoot); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("search path not found: %s", searchRoot)}, nil
	}

	walkCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var results []fileMatches
	capped := false
	_ = filepath.WalkDir(searchRoot, func(path string, d os.DirEntry, err error) error {
		select {
		case <-walkCtx.Done():
			return walkCtx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		fm, err := searchInFile(walkCtx, path, re)
		if err != nil || fm.count == 0 {
			return nil
		}
		if rel, relErr := filepath.Rel(t.workspaceDir, path); relErr == nil {
			fm.file = rel
		} else {
			fm.file = path
		}
		results = append(results, fm)
		if len(results) >= maxSearchFiles {
			capped = true
			return fmt.Errorf("limit reached")
		}
		return nil
	})

	if len(results) == 0 {
		return tool.ToolResult{Output: "no matches found"}, nil
	}

	var sb strings.Builder
	total := 0
	for _, fm := range results {
		fmt.Fprintf(&sb, "%s (%d match(es))\n", fm.file, fm.count)
		for _, line := range fm.lines {
			sb.WriteString("  " + line + "\n")
		}
		total += fm.count
	}
	fmt.Fprintf(&sb, "---\n%d file(s), %d match(es)", len(results), total)
	if capped {
		fmt.Fprintf(&sb, " (capped at %d files)", maxSearchFiles)
	}
	return tool.ToolResult{Output: sb.String()}, nil
}

// searchInFile scans one file, returning its match count and up to three
// annotated match lines. Binary and oversized files are skipped silently.
func searchInFile(ctx context.Context, path string, re *regexp.Regexp) (fileMatches, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileMatches{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileMatches{}, err
	}
	if info.Size() > maxSearchFileSz {
		return fileMatches{}, nil
	}

	sample := make([]byte, 512)
	n, err := f.Read(sample)
	if err != nil && n == 0 {
		return fileMatches{}, err
	}
	if isBinary(sample[:n]) {
		return fileMatches{}, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fileMatches{}, err
	}

	var fm fileMatches
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return fileMatches{}, ctx.Err()
		default:
		}
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		fm.count++
		if len(fm.lines) < 3 {
			fm.lines = append(fm.lines, fmt.Sprintf("line %d: %s", lineNum, trimLine(line, searchMaxLineLen)))
		}
	}
	if err := scanner.Err(); err != nil {
		return fileMatches{}, err
	}
	return fm, nil
}

// isBinary reports whether the byte sample looks like binary content.
func isBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if utf8.Valid(data) {
		return false
	}
	nonPrintable := 0
	for _, b := range data {
		if b < 0x08 || (b >= 0x0E && b < 0x20 && b != 0x1B) {
			nonPrintable++
		}
	}
	return len(data) > 0 && nonPrintable*10 > len(data)
}

// trimLine truncates a line to maxLen runes, appending "..." if trimmed.
func trimLine(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
