package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgecore/agentcore/internal/tool"
)

const (
	maxFileSize  = 1 << 20 // 1MB read limit
	maxWriteSize = 1 << 20 // reject oversized content before filesystem access

	// similarDirDepth bounds the substring search run when list_directory
	// misses, so the hint stays cheap.
	similarDirDepth = 2
	maxSimilarDirs  = 5
)

// ── read_file ──

type ReadFileTool struct {
	workspaceDir string
}

func NewReadFileTool(workspaceDir string) *ReadFileTool {
	return &ReadFileTool{workspaceDir: workspaceDir}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file." }

func (t *ReadFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path, relative to the workspace or absolute", Required: true},
	)
}

func (t *ReadFileTool) Init(_ context.Context) error { return nil }
func (t *ReadFileTool) Close() error                 { return nil }

type filePathArgs struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a filePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	// Open first, then stat: eliminates the race where the file is replaced
	// between a stat and the read.
	f, err := os.Open(path)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("file not found: %s. Check the path or pass an absolute one.", path)}, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("cannot stat file: %v", err)}, nil
	}
	if info.IsDir() {
		return tool.ToolResult{Error: "path is a directory; use list_directory"}, nil
	}
	if info.Size() > maxFileSize {
		return tool.ToolResult{Error: fmt.Sprintf("file too large (%d bytes), limit is %d bytes", info.Size(), maxFileSize)}, nil
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize))
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("read failed: %v", err)}, nil
	}

	return tool.ToolResult{Output: string(data)}, nil
}

// ── write_file ──

type WriteFileTool struct {
	workspaceDir string
}

func NewWriteFileTool(workspaceDir string) *WriteFileTool {
	return &WriteFileTool{workspaceDir: workspaceDir}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file (created or overwritten). Parent directories are created; the result includes a diff against the prior content."
}

func (t *WriteFileTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "File path, relative to the workspace or absolute", Required: true},
		tool.SchemaParam{Name: "content", Type: "string", Description: "Complete new file content", Required: true},
	)
}

func (t *WriteFileTool) Init(_ context.Context) error { return nil }
func (t *WriteFileTool) Close() error                 { return nil }

type fileWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a fileWriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	// Reject oversized content before touching the filesystem.
	if len(a.Content) > maxWriteSize {
		return tool.ToolResult{Error: fmt.Sprintf("content too large (%d bytes), limit is %d bytes", len(a.Content), maxWriteSize)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	if msg := checkProtectedFile(path, t.workspaceDir); msg != "" {
		return tool.ToolResult{Error: msg}, nil
	}

	// Capture prior content for the diff; a missing file diffs from empty.
	before := ""
	if data, err := os.ReadFile(path); err == nil {
		before = string(data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("cannot create parent directory: %v", err)}, nil
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("write failed: %v", err)}, nil
	}

	out := fmt.Sprintf("Wrote %s (%d bytes)", path, len(a.Content))
	if diff := unifiedDiff(relOrSelf(path, t.workspaceDir), before, a.Content); diff != "" {
		out += "\n" + diff
	}
	return tool.ToolResult{Output: out}, nil
}

// ── list_directory ──

type ListDirectoryTool struct {
	workspaceDir string
}

func NewListDirectoryTool(workspaceDir string) *ListDirectoryTool {
	return &ListDirectoryTool{workspaceDir: workspaceDir}
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "List the entries of a directory. On a miss, similar directory names are suggested."
}

func (t *ListDirectoryTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{Name: "path", Type: "string", Description: "Directory path; \".\" is the workspace root", Required: true},
	)
}

func (t *ListDirectoryTool) Init(_ context.Context) error { return nil }
func (t *ListDirectoryTool) Close() error                 { return nil }

func (t *ListDirectoryTool) Execute(_ context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a filePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	path, err := safeResolvePath(a.Path, t.workspaceDir)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		msg := fmt.Sprintf("directory not found: %s", path)
		if hints := t.similarDirectories(cleanPath(a.Path)); len(hints) > 0 {
			msg += fmt.Sprintf("\nSimilar directories: %s", strings.Join(hints, ", "))
		}
		return tool.ToolResult{Error: msg}, nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(os.PathSeparator)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return tool.ToolResult{Output: "(empty directory)"}, nil
	}
	return tool.ToolResult{Output: strings.Join(names, "\n")}, nil
}

// similarDirectories searches the workspace for directory names containing
// the missed path's base name, up to similarDirDepth levels deep.
func (t *ListDirectoryTool) similarDirectories(missed string) []string {
	if t.workspaceDir == "" || missed == "" {
		return nil
	}
	needle := strings.ToLower(filepath.Base(filepath.Clean(missed)))
	if needle == "" || needle == "." {
		return nil
	}

	var hits []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > similarDirDepth || len(hits) >= maxSimilarDirs {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || skipDirs[entry.Name()] {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			if strings.Contains(strings.ToLower(entry.Name()), needle) {
				if rel, err := filepath.Rel(t.workspaceDir, full); err == nil {
					hits = append(hits, rel)
				}
				if len(hits) >= maxSimilarDirs {
					return
				}
			}
			walk(full, depth+1)
		}
	}
	walk(t.workspaceDir, 1)
	sort.Strings(hits)
	return hits
}

// relOrSelf returns path relative to base when possible.
func relOrSelf(path, base string) string {
	if base == "" {
		return path
	}
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
