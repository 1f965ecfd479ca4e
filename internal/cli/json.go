package cli

import (
	"encoding/json"
	"os"

	"methodlift/pkg/types"
)

type jsonOutput struct {
	Success             bool     `json:"success"`
	GeneratedMethod     string   `json:"generated_method,omitempty"`
	CallSiteReplacement string   `json:"call_site_replacement,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	ErrorCode           string   `json:"error_code,omitempty"`
	ErrorDetail         string   `json:"error_detail,omitempty"`
	NewVersion          int64    `json:"new_version,omitempty"`
}

func printJSON(resp *types.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonOutput{
		Success:             resp.Success,
		GeneratedMethod:     resp.GeneratedMethod,
		CallSiteReplacement: resp.CallSiteReplacement,
		Warnings:            resp.Warnings,
		ErrorCode:           resp.ErrorCode,
		ErrorDetail:         resp.ErrorDetail,
		NewVersion:          resp.NewVersion,
	})
}
