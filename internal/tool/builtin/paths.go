package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// cleanPath strips surrounding quotes and whitespace from a model-supplied
// path argument. Models regularly echo paths with the quotes from their own
// prompt; those are never part of the filename.
func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	for len(path) >= 2 {
		first, last := path[0], path[len(path)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			path = path[1 : len(path)-1]
			continue
		}
		break
	}
	return strings.TrimSpace(path)
}

// safeResolvePath cleans a file path, resolves it against the workspace, and
// validates it stays inside. Prevents path traversal (../../etc/passwd),
// prefix collisions (workspace "/proj" vs "/proj-evil"), and symlink escapes
// where a link inside the workspace points outside it.
func safeResolvePath(path, workspaceDir string) (string, error) {
	path = cleanPath(path)

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else if workspaceDir != "" {
		resolved = filepath.Clean(filepath.Join(workspaceDir, path))
	} else {
		resolved = filepath.Clean(path)
	}

	if workspaceDir != "" {
		absWorkspace, err := filepath.Abs(workspaceDir)
		if err != nil {
			return "", fmt.Errorf("cannot resolve workspace directory: %w", err)
		}
		// Resolve symlinks on the workspace root itself so a workspace that
		// is a symlink is correctly bounded.
		realWorkspace, err := filepath.EvalSymlinks(absWorkspace)
		if err != nil {
			realWorkspace = absWorkspace
		}

		absResolved, err := filepath.Abs(resolved)
		if err != nil {
			return "", fmt.Errorf("cannot resolve target path: %w", err)
		}
		realResolved, _ := resolveExisting(absResolved)

		// Windows paths compare case-insensitively.
		if runtime.GOOS == "windows" {
			realWorkspace = strings.ToLower(realWorkspace)
			realResolved = strings.ToLower(realResolved)
		}

		if realResolved != realWorkspace &&
			!strings.HasPrefix(realResolved, realWorkspace+string(os.PathSeparator)) {
			return "", fmt.Errorf("path %q is outside the workspace %q; file tools only operate inside the workspace", path, workspaceDir)
		}
	}

	return resolved, nil
}

// resolveExisting resolves symlinks for an existing path, or for its parent
// directory when the path itself does not exist yet (a new file about to be
// written).
func resolveExisting(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	if real, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(real, filepath.Base(path)), nil
	}
	return path, nil
}

// protectedFiles are workspace-root files that generic file tools must not
// modify; corrupting them bricks the process configuration.
var protectedFiles = map[string]bool{
	".env":           true,
	"providers.yaml": true,
	"roles.yaml":     true,
}

// checkProtectedFile returns a non-empty message when resolvedPath points to
// a protected workspace-root file.
func checkProtectedFile(resolvedPath, workspaceDir string) string {
	if workspaceDir == "" {
		return ""
	}
	base := filepath.Base(resolvedPath)
	dir := filepath.Dir(resolvedPath)
	absWorkspace, _ := filepath.Abs(workspaceDir)

	if runtime.GOOS == "windows" {
		dir = strings.ToLower(dir)
		absWorkspace = strings.ToLower(absWorkspace)
		base = strings.ToLower(base)
	}

	if dir != absWorkspace {
		return "" // only files at the workspace root are protected
	}
	if protectedFiles[base] {
		return fmt.Sprintf("writing %s is blocked: it configures this process and must be edited by the operator", base)
	}
	return ""
}

// skipDirs are directory names skipped during recursive walks.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".idea": true, ".vscode": true,
	"vendor": true, "__pycache__": true, ".cache": true,
}
