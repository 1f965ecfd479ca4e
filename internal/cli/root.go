package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"methodlift/pkg/extract"
	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

var (
	applyFlag     bool
	formatFlag    string
	workspaceFlag string
	verboseFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "methodlift <file> <start-line> <end-line> <name>",
	Short: "Extract a range of Go statements into a new function",
	Long: `methodlift lifts a contiguous range of lines out of a Go function into a
new function or method. Parameters and return values are inferred from data
flow, early exits are preserved, and the selection is replaced with a call.

Examples:
  methodlift handler.go 42 57 parseHeaders            # preview the extraction
  methodlift --apply handler.go 42 57 parseHeaders    # rewrite the file
  methodlift --format=json handler.go 42 57 parseHeaders`,
	Args: cobra.ExactArgs(4),
	RunE: runExtract,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&applyFlag, "apply", false, "Write the result to the file instead of previewing")
	rootCmd.Flags().StringVarP(&formatFlag, "format", "f", "console", "Output format (console, json)")
	rootCmd.Flags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace root (defaults to the file's directory)")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func runExtract(cmd *cobra.Command, args []string) error {
	file := args[0]
	startLine, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("start-line must be a number, got %q", args[1])
	}
	endLine, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("end-line must be a number, got %q", args[2])
	}
	name := args[3]

	root := workspaceFlag
	if root == "" {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		root = filepath.Dir(abs)
		file = filepath.Base(abs)
	}

	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	policy, err := extract.LoadPolicy(root)
	if err != nil {
		logger.Warn("config unreadable, using defaults", "err", err)
	}

	store := source.NewDocumentStore(root, logger)
	orch := extract.NewOrchestrator(store, policy, logger)

	mode := types.Preview
	if applyFlag {
		mode = types.Apply
	}
	resp := orch.Extract(context.Background(), types.Request{
		Path:      file,
		StartLine: startLine,
		EndLine:   endLine,
		Name:      name,
		Mode:      mode,
	})

	if formatFlag == "json" {
		return printJSON(resp)
	}
	printConsole(resp, applyFlag, filepath.Join(root, file))
	if !resp.Success {
		return fmt.Errorf("%s", resp.ErrorCode)
	}
	return nil
}

func printConsole(resp *types.Response, applied bool, path string) {
	if !resp.Success {
		color.Red("extraction failed: %s", resp.ErrorCode)
		fmt.Println(resp.ErrorDetail)
		return
	}
	for _, w := range resp.Warnings {
		color.Yellow("warning: %s", w)
	}
	if applied {
		color.Green("applied to %s (version %d)", path, resp.NewVersion)
		return
	}
	color.Green("generated function:")
	fmt.Println(resp.GeneratedMethod)
	fmt.Println()
	color.Green("call site:")
	fmt.Println(resp.CallSiteReplacement)
}
