package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"methodlift/pkg/types"
)

// extractResponseJSON is the wire shape returned by extract_function.
type extractResponseJSON struct {
	Success             bool     `json:"success"`
	GeneratedMethod     string   `json:"generated_method,omitempty"`
	CallSiteReplacement string   `json:"call_site_replacement,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	ErrorCode           string   `json:"error_code,omitempty"`
	ErrorDetail         string   `json:"error_detail,omitempty"`
	NewVersion          int64    `json:"new_version,omitempty"`
}

func extractResponse(resp *types.Response) extractResponseJSON {
	return extractResponseJSON{
		Success:             resp.Success,
		GeneratedMethod:     resp.GeneratedMethod,
		CallSiteReplacement: resp.CallSiteReplacement,
		Warnings:            resp.Warnings,
		ErrorCode:           resp.ErrorCode,
		ErrorDetail:         resp.ErrorDetail,
		NewVersion:          resp.NewVersion,
	}
}

// jsonResult marshals v as the tool result text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// parseArguments validates and extracts the arguments map from a tool
// request.
func parseArguments(request mcp.CallToolRequest) (map[string]any, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, mcp.NewToolResultError("invalid arguments format")
	}
	return args, nil
}

// intArg reads a numeric argument; MCP clients send numbers as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
