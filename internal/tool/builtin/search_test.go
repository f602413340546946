package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, ws string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(ws, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSearchFileContent(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"a.go":     "package main\nfunc HandleRequest() {}\n",
		"b.go":     "package main\n// nothing here\n",
		"sub/c.go": "func HandleRequest2() {}\n",
	})
	tl := NewSearchFileContentTool(ws)

	res, err := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"handlerequest"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if !strings.Contains(res.Output, "a.go") || !strings.Contains(res.Output, filepath.Join("sub", "c.go")) {
		t.Errorf("matching files missing: %q", res.Output)
	}
	if strings.Contains(res.Output, "b.go") {
		t.Errorf("non-matching file listed: %q", res.Output)
	}
	if !strings.Contains(res.Output, "line 2") {
		t.Errorf("line numbers missing: %q", res.Output)
	}
}

func TestSearchFileContentScopedPath(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"top.txt":      "needle",
		"sub/deep.txt": "needle",
	})
	tl := NewSearchFileContentTool(ws)

	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"needle","path":"sub"}`))
	if strings.Contains(res.Output, "top.txt") {
		t.Errorf("search escaped the scoped path: %q", res.Output)
	}
	if !strings.Contains(res.Output, "deep.txt") {
		t.Errorf("scoped match missing: %q", res.Output)
	}
}

func TestSearchFileContentFileCap(t *testing.T) {
	ws := t.TempDir()
	files := make(map[string]string)
	for i := 0; i < maxSearchFiles+10; i++ {
		files[fmt.Sprintf("f%03d.txt", i)] = "needle"
	}
	writeFiles(t, ws, files)
	tl := NewSearchFileContentTool(ws)

	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"needle"}`))
	if !strings.Contains(res.Output, fmt.Sprintf("capped at %d files", maxSearchFiles)) {
		t.Errorf("cap marker missing: %q", res.Output)
	}
	if got := strings.Count(res.Output, "match(es))"); got != maxSearchFiles {
		t.Errorf("files listed = %d, want %d", got, maxSearchFiles)
	}
}

func TestSearchFileContentInvalidRegex(t *testing.T) {
	tl := NewSearchFileContentTool(t.TempDir())
	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"["}`))
	if res.Error == "" {
		t.Error("invalid regex should report an error")
	}
}

func TestGlobTool(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"main.go":      "",
		"util.go":      "",
		"README.md":    "",
		"sub/extra.go": "",
	})
	tl := NewGlobTool(ws)

	res, err := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"*.go"}`))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"main.go", "util.go", filepath.Join("sub", "extra.go")} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("missing %s in %q", want, res.Output)
		}
	}
	if strings.Contains(res.Output, "README.md") {
		t.Errorf("non-matching file listed: %q", res.Output)
	}
}

func TestGlobToolSubstringFallback(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{"config.yaml": ""})
	tl := NewGlobTool(ws)

	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"config"}`))
	if !strings.Contains(res.Output, "config.yaml") {
		t.Errorf("substring fallback failed: %q", res.Output)
	}
}

func TestGlobToolCap(t *testing.T) {
	ws := t.TempDir()
	files := make(map[string]string)
	for i := 0; i < maxGlobResults+20; i++ {
		files[fmt.Sprintf("g%03d.txt", i)] = ""
	}
	writeFiles(t, ws, files)
	tl := NewGlobTool(ws)

	res, _ := tl.Execute(context.Background(), json.RawMessage(`{"pattern":"*.txt"}`))
	if !strings.Contains(res.Output, fmt.Sprintf("capped at %d", maxGlobResults)) {
		t.Errorf("cap marker missing: %q", res.Output[:80])
	}
}
