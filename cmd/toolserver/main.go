// Command toolserver is the reference tool server: it exposes the
// filesystem and shell toolset over MCP stdio (JSON-RPC 2.0, line-delimited)
// for the orchestrator's tool transport to drive as a child process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/forgecore/agentcore/internal/config"
	"github.com/forgecore/agentcore/internal/tool"
	"github.com/forgecore/agentcore/internal/tool/builtin"
)

const version = "0.3.0"

func main() {
	// Logs must go to stderr: stdout carries the JSON-RPC stream.
	log.SetOutput(os.Stderr)

	config.LoadEnv()

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		log.Fatalf("[ToolServer] WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}

	registry := tool.NewRegistry()
	registry.Register(builtin.NewReadFileTool(workspaceDir))
	registry.Register(builtin.NewWriteFileTool(workspaceDir))
	registry.Register(builtin.NewListDirectoryTool(workspaceDir))
	registry.Register(builtin.NewGlobTool(workspaceDir))
	registry.Register(builtin.NewSearchFileContentTool(workspaceDir))

	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewRunShellCommandTool(workspaceDir, shellEnabled))

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatalf("[ToolServer] Tool init failed: %v", err)
	}
	defer registry.CloseAll()

	srv := server.NewMCPServer("agentcore-toolserver", version)
	for _, t := range registry.List() {
		srv.AddTool(
			sdk_mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.InputSchema()),
			handlerFor(registry, t.Name()),
		)
	}

	log.Printf("[ToolServer] Serving %d tool(s) on stdio, workspace %s", len(registry.List()), workspaceDir)
	if err := server.ServeStdio(srv); err != nil {
		log.Fatalf("[ToolServer] Serve error: %v", err)
	}
}

// handlerFor adapts a registered tool into an MCP tool handler. The tool is
// resolved by name per call; tool-level failures are reported via isError so
// the client can distinguish them from transport failures.
func handlerFor(registry *tool.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req sdk_mcp.CallToolRequest) (*sdk_mcp.CallToolResult, error) {
		t, ok := registry.Get(name)
		if !ok {
			return sdk_mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", name)), nil
		}

		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return sdk_mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result, err := t.Execute(ctx, args)
		if err != nil {
			return nil, err // transport-level failure
		}
		if result.Error != "" {
			return sdk_mcp.NewToolResultError(result.Error), nil
		}
		return sdk_mcp.NewToolResultText(result.Output), nil
	}
}
