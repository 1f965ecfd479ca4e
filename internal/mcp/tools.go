package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"methodlift/pkg/extract"
	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// AddExtractFunctionTool registers the extract_function tool. Composable:
// callers combine it with other registrations on one MCP server.
func AddExtractFunctionTool(s *server.MCPServer, orch *extract.Orchestrator) {
	tool := mcp.NewTool(
		"extract_function",
		mcp.WithDescription("Extract a range of lines from a Go function into a new function or method. Infers parameters and return values from data flow, rewrites early exits, and replaces the selection with a call. Use mode 'preview' to inspect the generated code without changing the file."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Path to the Go source file, relative to the workspace root")),
		mcp.WithNumber("start_line",
			mcp.Required(),
			mcp.Description("First line of the selection (1-based, inclusive)")),
		mcp.WithNumber("end_line",
			mcp.Required(),
			mcp.Description("Last line of the selection (1-based, inclusive)")),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name for the extracted function")),
		mcp.WithString("mode",
			mcp.Description("'preview' (default) returns the generated code; 'apply' writes the file")),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, errResult := parseArguments(request)
		if errResult != nil {
			return errResult, nil
		}

		req := types.Request{Mode: types.Preview}
		var ok bool
		if req.Path, ok = args["file"].(string); !ok || req.Path == "" {
			return mcp.NewToolResultError("file parameter is required"), nil
		}
		if req.StartLine, ok = intArg(args, "start_line"); !ok {
			return mcp.NewToolResultError("start_line parameter is required"), nil
		}
		if req.EndLine, ok = intArg(args, "end_line"); !ok {
			return mcp.NewToolResultError("end_line parameter is required"), nil
		}
		if req.Name, ok = args["name"].(string); !ok || req.Name == "" {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		switch mode, _ := args["mode"].(string); mode {
		case "", "preview":
		case "apply":
			req.Mode = types.Apply
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q, want 'preview' or 'apply'", mode)), nil
		}

		resp := orch.Extract(ctx, req)
		return jsonResult(extractResponse(resp))
	})
}

// AddDocumentTools registers the document lifecycle tools used by editors
// that keep unsaved buffers: open_document pushes buffer content into the
// store, document_version reads the current optimistic-concurrency token.
func AddDocumentTools(s *server.MCPServer, store *source.DocumentStore) {
	open := mcp.NewTool(
		"open_document",
		mcp.WithDescription("Register the current in-memory content of a file, so extractions run against the editor buffer instead of the saved file. Returns the new document version."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Path to the Go source file, relative to the workspace root")),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full file content")),
	)
	s.AddTool(open, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, errResult := parseArguments(request)
		if errResult != nil {
			return errResult, nil
		}
		file, _ := args["file"].(string)
		content, okContent := args["content"].(string)
		if file == "" || !okContent {
			return mcp.NewToolResultError("file and content parameters are required"), nil
		}
		version := store.Open(file, []byte(content))
		return jsonResult(map[string]any{"file": file, "version": version})
	})

	ver := mcp.NewTool(
		"document_version",
		mcp.WithDescription("Return the current version of a tracked document. Versions change whenever the file is edited or applied to."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Path to the Go source file, relative to the workspace root")),
	)
	s.AddTool(ver, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, errResult := parseArguments(request)
		if errResult != nil {
			return errResult, nil
		}
		file, _ := args["file"].(string)
		if file == "" {
			return mcp.NewToolResultError("file parameter is required"), nil
		}
		return jsonResult(map[string]any{"file": file, "version": store.Version(file)})
	})
}
